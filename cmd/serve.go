package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/clip-harvester/internal/api"
	"github.com/JakeFAU/clip-harvester/internal/clock/system"
)

const requestTimeout = 30 * time.Second

// newServeCmd creates the 'serve' subcommand. Harvests are started over HTTP.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves harvest status and lookups over HTTP",
		Long: `Starts the HTTP server. POST /v1/runs starts a harvest in the background,
GET /v1/status reports on it and /metrics exposes Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Prepare(cmd.Context()); err != nil {
				return fmt.Errorf("prepare server: %w", err)
			}
			return serve(cmd.Context(), appInstance)
		},
	}
}

// serve blocks until ctx is canceled or the listener fails.
func serve(ctx context.Context, appInstance App) error {
	cfg := appInstance.Config()
	srv := api.NewServer(ctx, appInstance.Harvester(), appInstance.Directory(), system.New(), api.Config{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: requestTimeout,
	}, appInstance.Logger())
	return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
}
