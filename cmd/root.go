// Package cmd defines the harvester CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/logging"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs once flags are parsed.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

type rootOptions struct {
	cfgFile  string
	logLevel string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resumable harvester for document catalogs.",
		Long: `harvester walks a paginated document catalog in bounded browser sessions,
downloads each entry's artifact, and persists its position so an interrupted
or restarted run continues where the last one stopped.`,
		SilenceUsage: true,

		// Loads configuration and the logger before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := cfg.Logging.Level
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			logger, err := logging.New(cfg.Logging.Development, level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
