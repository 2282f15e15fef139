package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/config"
)

// newHarvestCmd creates the 'harvest' subcommand, which runs one harvest to completion.
func newHarvestCmd() *cobra.Command {
	var phases []string

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs a harvest against CLIP",
		Long: `Runs the selected harvest phases (all of them by default) in dependency
order and prints the run report as JSON. When server.enabled is set the status
server is available while the harvest runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			selected, err := config.ParsePhases(phases)
			if err != nil {
				return err
			}
			if len(selected) == 0 {
				if selected, err = appInstance.Config().Harvest.ParsedPhases(); err != nil {
					return err
				}
			}

			if err := appInstance.Prepare(ctx); err != nil {
				return fmt.Errorf("prepare harvest: %w", err)
			}

			if appInstance.Config().Server.Enabled {
				go func() {
					if err := serve(ctx, appInstance); err != nil {
						logger.Error("status server failed", zap.Error(err))
					}
				}()
			}

			report, runErr := appInstance.Harvester().Run(ctx, selected...)
			logger.Info("harvest finished",
				zap.String("run_id", report.RunID),
				zap.Int("items", report.Items()),
				zap.Int("failed", report.Failed()),
				zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			if runErr != nil {
				return fmt.Errorf("run harvest: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&phases, "phases", nil, "phases to run, comma separated (default: harvest.phases or all)")
	return cmd
}
