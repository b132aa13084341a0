package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/catalog-harvester/internal/progress"
)

// Snapshot is the live view of the current run kept by SnapshotSink.
type Snapshot struct {
	RunID     string    `json:"run_id,omitempty"`
	Running   bool      `json:"running"`
	Session   int       `json:"session"`
	Saved     int       `json:"saved"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Bytes     int64     `json:"bytes"`
	LastIndex int       `json:"last_index"`
	LastSlug  string    `json:"last_slug,omitempty"`
	LastEvent time.Time `json:"last_event,omitempty"`
	// LastOutcome is the outcome of the most recently finished session.
	LastOutcome string `json:"last_outcome,omitempty"`
}

// SnapshotSink folds events into a Snapshot for the status endpoint.
type SnapshotSink struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewSnapshotSink returns an empty sink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{snap: Snapshot{LastIndex: -1}}
}

// Consume applies batch in order.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *SnapshotSink) apply(evt progress.Event) {
	if evt.Stage == progress.StageRunStart {
		s.snap = Snapshot{
			RunID:     uuid.UUID(evt.RunID).String(),
			Running:   true,
			LastIndex: -1,
		}
	}
	s.snap.LastEvent = evt.TS
	switch evt.Stage {
	case progress.StageRunDone:
		s.snap.Running = false
	case progress.StageSessionStart:
		s.snap.Session = evt.Session
	case progress.StageSessionEnd:
		s.snap.LastOutcome = evt.Outcome
	case progress.StageItemSaved:
		s.snap.Saved++
		s.snap.Bytes += evt.Bytes
		s.item(evt)
	case progress.StageItemSkipped:
		s.snap.Skipped++
		s.item(evt)
	case progress.StageItemFailed:
		s.snap.Failed++
		s.item(evt)
	}
}

func (s *SnapshotSink) item(evt progress.Event) {
	s.snap.LastIndex = evt.Index
	s.snap.LastSlug = evt.Slug
}

// Snapshot returns a copy of the current view.
func (s *SnapshotSink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Close is a no-op.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
