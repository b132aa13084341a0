package harvest

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/catalog-harvester/internal/artifact"
	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/state"
)

// Record is the normalized view of one catalog entry.
type Record struct {
	Identifier string
	Date       string
	Language   string
	Title      string
	Slug       string
	SourceURL  string
	Filename   string
	// RemoteSize is the advertised artifact size in bytes, valid when
	// RemoteSizeKnown is set.
	RemoteSize      int64
	RemoteSizeKnown bool
	// Trigger is the link that starts the download; nil when the entry has none.
	Trigger *catalog.Link
	// Raw is the entry's detail fields followed by url, id, slug and filename.
	Raw catalog.Fields
}

// Key returns the artifact identity of the record.
func (r Record) Key() artifact.Key {
	return artifact.KeyFor(r.Identifier, r.Language, r.Filename)
}

// DownloadURL returns the trigger's href, or "" without a trigger.
func (r Record) DownloadURL() string {
	if r.Trigger == nil {
		return ""
	}
	return r.Trigger.Href
}

// Decision is the policy verdict for one record.
type Decision int

// Policy verdicts.
const (
	DecisionSkip Decision = iota
	DecisionDownloadNew
	DecisionDownloadReplace
)

func (d Decision) String() string {
	switch d {
	case DecisionSkip:
		return "SKIP"
	case DecisionDownloadNew:
		return "DOWNLOAD_NEW"
	case DecisionDownloadReplace:
		return "DOWNLOAD_REPLACE"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the state a session step or a whole session ends in.
type Outcome string

// Session outcomes.
const (
	OutcomeContinue        Outcome = "CONTINUE"
	OutcomeRestartRequired Outcome = "RESTART_REQUIRED"
	OutcomeExhausted       Outcome = "SESSION_EXHAUSTED"
)

// RestartReason explains a RESTART_REQUIRED outcome.
type RestartReason string

// Restart reasons.
const (
	ReasonNone           RestartReason = ""
	ReasonDownloadBudget RestartReason = "download_budget"
	ReasonTimeBudget     RestartReason = "time_budget"
	ReasonTimeoutStreak  RestartReason = "timeout_streak"
)

// SessionResult summarizes one finished session.
type SessionResult struct {
	Outcome Outcome
	Reason  RestartReason
	// Checkpoint is the position persisted when the session ended.
	Checkpoint state.Checkpoint
	// PastStreak is the position just after the failing streak, set for
	// timeout-streak restarts so a stalled run can move on.
	PastStreak state.Checkpoint
	Entries    int
	Downloads  int
	Skipped    int
	Failures   int
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Pacer inserts randomized delays between requests.
type Pacer interface {
	Pause(ctx context.Context, minDelay, maxDelay time.Duration) error
}

// Artifacts is the artifact store as seen by a session.
type Artifacts interface {
	Refresh() error
	Lookup(key artifact.Key) (artifact.Artifact, bool)
	Matches(key artifact.Key) []artifact.Artifact
	Stage(name string) (string, error)
	Commit(staged, name string) (artifact.Artifact, error)
	Remove(name string) error
	Discard(staged string) error
	Cleanup() error
	Open(name string) (io.ReadCloser, error)
}

// ResultCatalog records metadata of harvested artifacts by filename.
type ResultCatalog interface {
	Upsert(name string, meta catalog.Fields) (bool, error)
	Remove(names ...string) (int, error)
}

// FailureLedger records items that could not be harvested.
type FailureLedger interface {
	Append(f state.Failure) error
	Len() int
}

// CheckpointStore persists the resume position.
type CheckpointStore interface {
	Load() (state.Checkpoint, error)
	Save(cp state.Checkpoint) error
}

// TotalsStore records the catalog size observed at the start of a run.
type TotalsStore interface {
	Save(total int) error
}

// Mirror copies a committed artifact to secondary storage and returns its URI.
// DeleteObject drops a superseded copy; a missing object is not an error.
type Mirror interface {
	PutObject(ctx context.Context, name, contentType string, data io.Reader) (string, error)
	DeleteObject(ctx context.Context, name string) error
}
