package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kilianp07/crimecast/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the hotspot API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(*cobra.Command, []string) error {
	return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
		return rt.Serve(ctx)
	})
}
