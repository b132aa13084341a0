package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/progress"
	"github.com/JakeFAU/catalog-harvester/internal/state"
)

const sessionCloseTimeout = 30 * time.Second

// SupervisorConfig controls the session loop.
type SupervisorConfig struct {
	// RestartPause is the wait between a finished session and the next one.
	RestartPause time.Duration
	// StallLimit is how many consecutive streak restarts without progress are
	// tolerated before the failing items are accepted and passed. Zero
	// disables the guard.
	StallLimit int
}

// Report summarizes a finished run.
type Report struct {
	RunID      uuid.UUID
	Sessions   int
	Total      int
	Failures   int
	Percentage float64
	Checkpoint state.Checkpoint
	Elapsed    time.Duration
}

// Supervisor runs sessions until the catalog is exhausted.
type Supervisor struct {
	cfg        SupervisorConfig
	source     catalog.Source
	controller *Controller
	totals     TotalsStore
	sleeper    Sleeper
}

// NewSupervisor wires a supervisor around controller. The controller's
// checkpoint store, ledger, clock, events and logger are shared.
func NewSupervisor(cfg SupervisorConfig, source catalog.Source, controller *Controller, totals TotalsStore, sleeper Sleeper) (*Supervisor, error) {
	switch {
	case source == nil:
		return nil, errors.New("catalog source is required")
	case controller == nil:
		return nil, errors.New("session controller is required")
	case totals == nil:
		return nil, errors.New("totals store is required")
	case sleeper == nil:
		return nil, errors.New("sleeper is required")
	case cfg.RestartPause < 0:
		return nil, errors.New("restart pause must not be negative")
	case cfg.StallLimit < 0:
		return nil, errors.New("stall limit must not be negative")
	}
	return &Supervisor{
		cfg:        cfg,
		source:     source,
		controller: controller,
		totals:     totals,
		sleeper:    sleeper,
	}, nil
}

// Run harvests the catalog from the stored checkpoint to its end. Failing to
// open a session aborts the run with ErrSourceUnavailable.
func (s *Supervisor) Run(ctx context.Context) (Report, error) {
	c := s.controller
	runID := uuid.New()
	logger := c.logger.With(zap.Stringer("run_id", runID))
	started := c.clock.Now()
	report := Report{RunID: runID}

	cp, err := c.checkpoints.Load()
	if err != nil {
		return report, fmt.Errorf("load checkpoint: %w", err)
	}
	report.Checkpoint = cp
	logger.Info("harvest run started", zap.Int("checkpoint", cp.LastCompletedIndex))
	s.emit(runID, progress.Event{Stage: progress.StageRunStart, Index: cp.LastCompletedIndex})

	captured := false
	stalled := 0
	for n := 1; ; n++ {
		report.Sessions = n
		sess, err := s.source.Open(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.finalize(report, started), ctxErr
			}
			return s.finalize(report, started), fmt.Errorf("%w: session %d: %w", ErrSourceUnavailable, n, err)
		}
		if !captured {
			report.Total = len(sess.Entries())
			if err := s.totals.Save(report.Total); err != nil {
				logger.Warn("failed to cache total count", zap.Error(err))
			}
			captured = true
		}

		before := cp.LastCompletedIndex
		res, runErr := c.Run(ctx, sess, cp, SessionMeta{RunID: progress.UUIDToBytes(runID), Number: n})
		s.closeSession(ctx, sess, logger)
		if runErr != nil {
			report.Checkpoint = res.Checkpoint
			return s.finalize(report, started), runErr
		}
		cp = res.Checkpoint
		if res.Outcome == OutcomeExhausted {
			break
		}

		if res.Reason == ReasonTimeoutStreak && cp.LastCompletedIndex <= before {
			stalled++
		} else {
			stalled = 0
		}
		if s.cfg.StallLimit > 0 && stalled >= s.cfg.StallLimit {
			logger.Warn("no progress across sessions, accepting failed items",
				zap.Int("stalled_sessions", stalled),
				zap.Int("from", cp.LastCompletedIndex),
				zap.Int("to", res.PastStreak.LastCompletedIndex),
			)
			cp = res.PastStreak
			if err := c.checkpoints.Save(cp); err != nil {
				return s.finalize(report, started), fmt.Errorf("save checkpoint: %w", err)
			}
			stalled = 0
		}
		report.Checkpoint = cp

		logger.Info("restarting session",
			zap.String("reason", string(res.Reason)),
			zap.Int("checkpoint", cp.LastCompletedIndex),
			zap.Duration("pause", s.cfg.RestartPause),
		)
		if err := s.sleeper.Sleep(ctx, s.cfg.RestartPause); err != nil {
			return s.finalize(report, started), err
		}
	}

	report.Checkpoint = cp
	report = s.finalize(report, started)
	logger.Info("harvest run complete",
		zap.Int("sessions", report.Sessions),
		zap.Int("total", report.Total),
		zap.Int("failures", report.Failures),
		zap.Float64("failure_percentage", report.Percentage),
		zap.Duration("elapsed", report.Elapsed),
	)
	s.emit(runID, progress.Event{
		Stage: progress.StageRunDone,
		Index: cp.LastCompletedIndex,
		Dur:   report.Elapsed,
		Note:  fmt.Sprintf("%d failures", report.Failures),
	})
	return report, nil
}

func (s *Supervisor) finalize(report Report, started time.Time) Report {
	c := s.controller
	report.Failures = c.ledger.Len()
	if report.Total > 0 {
		report.Percentage = float64(report.Failures) / float64(report.Total) * 100
	}
	report.Elapsed = max(c.clock.Now().Sub(started), 0)
	return report
}

// closeSession releases session resources. Failures are logged only.
func (s *Supervisor) closeSession(ctx context.Context, sess catalog.Session, logger *zap.Logger) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionCloseTimeout)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		logger.Warn("session cleanup failed", zap.Error(err))
	}
}

func (s *Supervisor) emit(runID uuid.UUID, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(runID)
	evt.TS = s.controller.clock.Now()
	s.controller.events.Emit(evt)
}
