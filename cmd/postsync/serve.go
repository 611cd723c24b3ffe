package main

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP API and runs syncs on a schedule",
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			return appInstance.Serve(cmd.Context())
		}),
	}
}
