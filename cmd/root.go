// Package cmd defines and implements the CLI commands for the clip-harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/api"
	"github.com/JakeFAU/clip-harvester/internal/app"
	"github.com/JakeFAU/clip-harvester/internal/config"
	"github.com/JakeFAU/clip-harvester/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the service container the commands use. It is an interface so
// tests can inject a fake.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Harvester() app.Runner
	Directory() api.Directory
	Migrate(ctx context.Context) error
	Prepare(ctx context.Context) error
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "clip-harvester",
		Short: "Harvests academic records from CLIP into a relational store.",
		Long: `clip-harvester crawls the CLIP academic portal (institutions, departments,
courses, classes, admissions, enrollments and turns) and keeps an up to date
relational copy of it. Harvests run in phases and can be repeated safely.`,
		SilenceUsage: true,

		// Builds the application once the config is known and before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and HARVESTER_* env vars otherwise)")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newServeCmd())

	// Services are closed after every subcommand, including failed ones,
	// which PersistentPostRun would skip.
	for _, sub := range cmd.Commands() {
		run := sub.RunE
		sub.RunE = func(cmd *cobra.Command, args []string) error {
			defer closeApp(cmd.Context())
			return run(cmd, args)
		}
	}

	return cmd
}

func closeApp(ctx context.Context) {
	if appInstance, ok := ctx.Value(appKey).(App); ok && appInstance != nil {
		appInstance.Close()
	}
}

// resolveApp pulls the App stored by PersistentPreRunE.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application is not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
