package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP trigger surface and the run worker pool",
		Long: `Starts the API (POST /v1/sources/{name}/runs, GET /v1/runs/{run_id},
health checks and /metrics) and the workers that execute queued runs.
Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), func(rt Runtime, logger *zap.Logger) error {
				if err := rt.Serve(cmd.Context()); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				logger.Info("serve command finished")
				return nil
			})
		},
	}
}
