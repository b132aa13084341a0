package api

import (
	"context"
	"fmt"

	"github.com/JakeFAU/catalog-harvester/internal/progress/sinks"
	"github.com/JakeFAU/catalog-harvester/internal/state"
)

// Status is the payload of GET /v1/progress.
type Status struct {
	Checkpoint state.Checkpoint `json:"checkpoint"`
	// Total is the catalog size cached by the last run; nil before any run
	// has captured it.
	Total             *int           `json:"total_reports"`
	Failures          int            `json:"failures"`
	FailurePercentage float64        `json:"failure_percentage"`
	Results           int            `json:"results"`
	Artifacts         int            `json:"artifacts"`
	Live              sinks.Snapshot `json:"live"`
}

// StatusSource assembles a Status.
type StatusSource interface {
	Status(ctx context.Context) (Status, error)
	Failures(ctx context.Context) ([]state.Failure, error)
}

// Counter reports how many items a store holds.
type Counter interface {
	Len() int
}

// StateStatus reads the persisted harvest state.
type StateStatus struct {
	Checkpoints *state.CheckpointFile
	Totals      *state.TotalsFile
	Ledger      *state.Ledger
	Results     Counter
	Artifacts   Counter
	Live        *sinks.SnapshotSink
}

// Status implements StatusSource.
func (s StateStatus) Status(_ context.Context) (Status, error) {
	var out Status
	cp, err := s.Checkpoints.Load()
	if err != nil {
		return Status{}, fmt.Errorf("load checkpoint: %w", err)
	}
	out.Checkpoint = cp
	total, ok, err := s.Totals.Load()
	if err != nil {
		return Status{}, fmt.Errorf("load totals: %w", err)
	}
	if ok {
		out.Total = &total
	}
	out.Failures = s.Ledger.Len()
	if ok && total > 0 {
		out.FailurePercentage = float64(out.Failures) / float64(total) * 100
	}
	if s.Results != nil {
		out.Results = s.Results.Len()
	}
	if s.Artifacts != nil {
		out.Artifacts = s.Artifacts.Len()
	}
	if s.Live != nil {
		out.Live = s.Live.Snapshot()
	}
	return out, nil
}

// Failures implements StatusSource.
func (s StateStatus) Failures(_ context.Context) ([]state.Failure, error) {
	entries := s.Ledger.Entries()
	if entries == nil {
		entries = []state.Failure{}
	}
	return entries, nil
}
