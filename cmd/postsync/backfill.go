package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBackfillCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Attaches media to stored posts that have none",
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			summary, err := appInstance.Backfill(cmd.Context(), limit)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d attached=%d skipped=%d failed=%d\n",
				summary.Scanned, summary.Attached, summary.Skipped, summary.Failed)
			if err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum posts to process (0 for all)")
	return cmd
}
