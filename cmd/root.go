// Package cmd defines the CLI commands for the policywatch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/app"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/config"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/logging"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/pipeline"
)

// contextKey is the key type for values the root command stores.
type contextKey string

const (
	configKey contextKey = "config"
	loggerKey contextKey = "logger"
)

// Runtime is what the serve and ingest commands need from the application.
// Tests swap in a fake through newRuntime.
type Runtime interface {
	Serve(ctx context.Context) error
	Ingest(ctx context.Context, names []string, params ingest.RunParams) ([]pipeline.SourceResult, error)
	Close()
}

// newRuntime is the application factory.
var newRuntime = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runtime, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	var envFile string

	cmd := &cobra.Command{
		Use:   "policywatch",
		Short: "Ingests government notices into a canonical, deduplicated record store.",
		Long: `policywatch crawls configured government sources (HTML listings, AJAX
fragments, PDF indexes, feeds and JSON APIs), normalizes what it finds into
canonical records and commits only what is new.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load env file: %w", err)
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			ctx = context.WithValue(ctx, loggerKey, logger)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment uses the POLICYWATCH_ prefix")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSourcesCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func resolveConfig(ctx context.Context) (config.Config, *zap.Logger, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, nil, errors.New("configuration not loaded")
	}
	logger, _ := ctx.Value(loggerKey).(*zap.Logger)
	return cfg, logging.OrNop(logger), nil
}

func withRuntime(ctx context.Context, fn func(Runtime, *zap.Logger) error) error {
	cfg, logger, err := resolveConfig(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// Sync fails on terminals; nothing useful can be done about it.
		_ = logger.Sync()
	}()
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer rt.Close()
	return fn(rt, logger)
}
