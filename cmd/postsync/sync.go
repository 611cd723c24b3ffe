package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Runs one sync and exits",
		Long: `Crawls every enabled source, enriches the posts and commits the batch.
The run report is printed to stdout as JSON.`,
		RunE: withApp(runSyncCommand),
	}
}

func runSyncCommand(cmd *cobra.Command, appInstance App) error {
	report, runErr := appInstance.RunOnce(cmd.Context())

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(out)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if runErr != nil {
		return runErr
	}
	appInstance.Logger().Info("sync command finished", zap.String("run_id", report.RunID))
	return nil
}
