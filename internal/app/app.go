// Package app builds the long-lived harvest services from configuration and
// owns their shutdown. It is the dependency container used by the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/api"
	"github.com/JakeFAU/catalog-harvester/internal/artifact"
	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/catalog/headless"
	"github.com/JakeFAU/catalog-harvester/internal/catalog/static"
	"github.com/JakeFAU/catalog-harvester/internal/clock/system"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
	"github.com/JakeFAU/catalog-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-harvester/internal/progress"
	"github.com/JakeFAU/catalog-harvester/internal/progress/sinks"
	"github.com/JakeFAU/catalog-harvester/internal/state"
	"github.com/JakeFAU/catalog-harvester/internal/storage/gcs"
	"github.com/JakeFAU/catalog-harvester/internal/storage/local"
)

const closeTimeout = 10 * time.Second

// State groups the persistent stores.
type State struct {
	Artifacts   *artifact.Store
	Checkpoints *state.CheckpointFile
	Totals      *state.TotalsFile
	Ledger      *state.Ledger
	Results     *state.Results
}

// OpenState opens every store named by cfg.Storage.
func OpenState(cfg config.Config) (*State, error) {
	store, err := artifact.New(artifact.Config{
		BaseDir:   cfg.Storage.ArtifactDir,
		Extension: cfg.Extract.Extension,
	})
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	ledger, err := state.OpenLedger(cfg.Storage.LedgerFile)
	if err != nil {
		return nil, err
	}
	results, err := state.OpenResults(cfg.Storage.ResultsFile)
	if err != nil {
		return nil, err
	}
	return &State{
		Artifacts:   store,
		Checkpoints: state.NewCheckpointFile(cfg.Storage.CheckpointFile),
		Totals:      state.NewTotalsFile(cfg.Storage.TotalsFile),
		Ledger:      ledger,
		Results:     results,
	}, nil
}

// StatusSource exposes the stores to the status server.
func (s *State) StatusSource(live *sinks.SnapshotSink) api.StateStatus {
	return api.StateStatus{
		Checkpoints: s.Checkpoints,
		Totals:      s.Totals,
		Ledger:      s.Ledger,
		Results:     s.Results,
		Artifacts:   s.Artifacts,
		Live:        live,
	}
}

// App holds the wired services for one process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	state      *State
	source     catalog.Source
	supervisor *harvest.Supervisor
	hub        *progress.Hub
	snapshot   *sinks.SnapshotSink
	registry   *prometheus.Registry
	status     *api.Server
	gcsClient  *storage.Client
}

// Options overrides collaborators, mainly for tests.
type Options struct {
	// Source replaces the catalog source built from cfg.Source.
	Source catalog.Source
	// Clock replaces the wall clock used for timing and pacing.
	Clock interface {
		harvest.Clock
		harvest.Sleeper
	}
}

// New wires every service described by cfg.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		snapshot: sinks.NewSnapshotSink(),
		registry: prometheus.NewRegistry(),
	}
	if err := a.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	st, err := OpenState(cfg)
	if err != nil {
		return nil, err
	}
	a.state = st

	a.source = opts.Source
	if a.source == nil {
		if a.source, err = buildSource(cfg, logger.Named("source")); err != nil {
			return nil, err
		}
	}
	if cfg.Fetch.MaxRPS > 0 {
		limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Fetch.MaxRPS, Burst: cfg.Fetch.Burst})
		a.source = ratelimit.Source(a.source, limiter, logger.Named("ratelimit"))
	}

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, err
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
		a.snapshot,
	)

	mirrors, err := a.buildMirrors(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	extractor, err := harvest.NewExtractor(harvest.ExtractConfig(cfg.Extract))
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	var clock interface {
		harvest.Clock
		harvest.Sleeper
	} = system.New()
	if opts.Clock != nil {
		clock = opts.Clock
	}

	controller, err := harvest.NewController(sessionConfig(cfg), harvest.Dependencies{
		Extractor:   extractor,
		Artifacts:   st.Artifacts,
		Results:     st.Results,
		Ledger:      st.Ledger,
		Checkpoints: st.Checkpoints,
		Clock:       clock,
		Pacer:       harvest.NewRandomPacer(clock),
		Mirrors:     mirrors,
		Events:      a.hub,
		Logger:      logger.Named("session"),
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.supervisor, err = harvest.NewSupervisor(harvest.SupervisorConfig{
		RestartPause: cfg.Session.RestartPause,
		StallLimit:   cfg.Session.StallLimit,
	}, a.source, controller, st.Totals, clock)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	if cfg.Status.Addr != "" {
		a.status, err = api.NewServer(st.StatusSource(a.snapshot), api.Options{
			Registry: a.registry,
			Logger:   logger.Named("api"),
		})
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}
	return a, nil
}

func sessionConfig(cfg config.Config) harvest.SessionConfig {
	return harvest.SessionConfig{
		MaxDownloads:     cfg.Session.MaxDownloads,
		MaxDuration:      cfg.Session.MaxDuration,
		TimeoutStreak:    cfg.Session.TimeoutStreak,
		CheckpointEvery:  cfg.Checkpoint.Every,
		FetchTimeout:     cfg.Fetch.Timeout,
		Conservative:     cfg.Policy.Conservative,
		ItemDelayMin:     cfg.Pacing.ItemMin,
		ItemDelayMax:     cfg.Pacing.ItemMax,
		DownloadDelayMin: cfg.Pacing.DownloadMin,
		DownloadDelayMax: cfg.Pacing.DownloadMax,
	}
}

func selectors(cfg config.Config) catalog.Selectors {
	return catalog.Selectors{
		Container:   cfg.Selectors.Container,
		Record:      cfg.Selectors.Record,
		SummaryLink: cfg.Selectors.SummaryLink,
		DetailRow:   cfg.Selectors.DetailRow,
	}
}

func buildSource(cfg config.Config, logger *zap.Logger) (catalog.Source, error) {
	switch cfg.Source.Kind {
	case config.SourceStatic:
		src, err := static.New(static.Config{
			ListingURL: cfg.Source.ListingURL,
			UserAgent:  cfg.Source.UserAgent,
			Timeout:    cfg.Source.RenderTimeout,
			Selectors:  selectors(cfg),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init static source: %w", err)
		}
		return src, nil
	case config.SourceHeadless:
		steps := make([]headless.Step, 0, len(cfg.Source.Steps))
		for _, s := range cfg.Source.Steps {
			steps = append(steps, headless.Step{Action: s.Action, Selector: s.Selector, Wait: s.Wait})
		}
		src, err := headless.New(headless.Config{
			ListingURL:    cfg.Source.ListingURL,
			UserAgent:     cfg.Source.UserAgent,
			RenderTimeout: cfg.Source.RenderTimeout,
			SettleWait:    cfg.Source.SettleWait,
			Headful:       cfg.Source.Headful,
			Steps:         steps,
			Selectors:     selectors(cfg),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init headless source: %w", err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

func (a *App) buildMirrors(ctx context.Context) ([]harvest.Mirror, error) {
	var mirrors []harvest.Mirror
	if a.cfg.Mirror.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = client
		m, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Mirror.GCSBucket, Prefix: a.cfg.Mirror.Prefix})
		if err != nil {
			return nil, err
		}
		a.logger.Info("mirroring artifacts to gcs", zap.String("bucket", a.cfg.Mirror.GCSBucket))
		mirrors = append(mirrors, m)
	}
	if a.cfg.Mirror.LocalDir != "" {
		m, err := local.New(local.Config{BaseDir: a.cfg.Mirror.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local mirror: %w", err)
		}
		a.logger.Info("mirroring artifacts locally", zap.String("dir", a.cfg.Mirror.LocalDir))
		mirrors = append(mirrors, m)
	}
	return mirrors, nil
}

// State returns the persistent stores.
func (a *App) State() *State { return a.state }

// Registry returns the Prometheus registry the services report to.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Snapshot returns the live progress view.
func (a *App) Snapshot() sinks.Snapshot { return a.snapshot.Snapshot() }

// Run serves status, if configured, and harvests until the catalog is
// exhausted or ctx is canceled.
func (a *App) Run(ctx context.Context) (harvest.Report, error) {
	statusErr := make(chan error, 1)
	statusCtx, stopStatus := context.WithCancel(ctx)
	defer stopStatus()
	if a.status != nil {
		go func() {
			statusErr <- a.status.ListenAndServe(statusCtx, a.cfg.Status.Addr)
		}()
	} else {
		statusErr <- nil
	}

	report, err := a.supervisor.Run(ctx)
	stopStatus()
	if serr := <-statusErr; serr != nil {
		a.logger.Warn("status server stopped with error", zap.Error(serr))
	}
	return report, err
}

// Close flushes progress events and releases clients.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	return errors.Join(errs...)
}
