package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/config"
)

type runOptions struct {
	source       string
	statusAddr   string
	headful      bool
	conservative bool
}

// newRunCmd creates the 'run' subcommand.
func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest the catalog from the stored checkpoint to its end",
		Long: `Opens catalog sessions one after another, downloading artifacts until
the listing is exhausted. Each session is bounded by a download count, a wall
time and a streak of failed downloads; the next session resumes from the saved
checkpoint. SIGINT or SIGTERM saves the position and exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			applyRunFlags(cmd, opts, &e.cfg)
			if err := e.cfg.Validate(); err != nil {
				return err
			}
			return runHarvest(cmd.Context(), e)
		},
	}
	cmd.Flags().StringVar(&opts.source, "source", "", "catalog source: headless or static")
	cmd.Flags().StringVar(&opts.statusAddr, "status-addr", "", "serve status and metrics on this address")
	cmd.Flags().BoolVar(&opts.headful, "headful", false, "show the browser window")
	cmd.Flags().BoolVar(&opts.conservative, "conservative", false, "skip entries without an advertised size when a copy is held")
	return cmd
}

func applyRunFlags(cmd *cobra.Command, opts *runOptions, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.Source.Kind = opts.source
	}
	if flags.Changed("status-addr") {
		cfg.Status.Addr = opts.statusAddr
	}
	if flags.Changed("headful") {
		cfg.Source.Headful = opts.headful
	}
	if flags.Changed("conservative") {
		cfg.Policy.Conservative = opts.conservative
	}
}

func runHarvest(parent context.Context, e *env) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, e.cfg, e.logger, app.Options{})
	if err != nil {
		return fmt.Errorf("initialize harvester: %w", err)
	}
	defer func() {
		if cerr := a.Close(parent); cerr != nil {
			e.logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	report, err := a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		e.logger.Info("harvest interrupted, position saved",
			zap.Int("checkpoint", report.Checkpoint.LastCompletedIndex),
			zap.Int("sessions", report.Sessions),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	return nil
}
