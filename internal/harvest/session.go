package harvest

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/artifact"
	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/progress"
	"github.com/JakeFAU/catalog-harvester/internal/state"
)

// SessionConfig bounds a single session.
type SessionConfig struct {
	// MaxDownloads ends the session once this many fetches succeeded.
	MaxDownloads int
	// MaxDuration ends the session once this much time has passed.
	MaxDuration time.Duration
	// TimeoutStreak ends the session after this many consecutive failed fetches.
	TimeoutStreak int
	// CheckpointEvery saves the position after every n successful fetches.
	CheckpointEvery int
	// FetchTimeout bounds the wait for a single artifact.
	FetchTimeout time.Duration
	// Conservative skips entries without an advertised size when an artifact
	// for the same document is already held.
	Conservative bool

	ItemDelayMin     time.Duration
	ItemDelayMax     time.Duration
	DownloadDelayMin time.Duration
	DownloadDelayMax time.Duration
}

// Validate checks that the limits are usable.
func (c SessionConfig) Validate() error {
	var errs []error
	if c.MaxDownloads <= 0 {
		errs = append(errs, errors.New("max downloads must be positive"))
	}
	if c.MaxDuration <= 0 {
		errs = append(errs, errors.New("max duration must be positive"))
	}
	if c.TimeoutStreak <= 0 {
		errs = append(errs, errors.New("timeout streak must be positive"))
	}
	if c.CheckpointEvery <= 0 {
		errs = append(errs, errors.New("checkpoint interval must be positive"))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch timeout must be positive"))
	}
	if c.ItemDelayMin < 0 || c.ItemDelayMax < c.ItemDelayMin {
		errs = append(errs, errors.New("item delay range is invalid"))
	}
	if c.DownloadDelayMin < 0 || c.DownloadDelayMax < c.DownloadDelayMin {
		errs = append(errs, errors.New("download delay range is invalid"))
	}
	return errors.Join(errs...)
}

// SessionState holds the counters of a running session. Steps return an
// updated copy instead of mutating it.
type SessionState struct {
	Started   time.Time
	Downloads int
	Skipped   int
	Failures  int
	// Streak counts consecutive failed fetches; StreakStart is the catalog
	// index of the first of them.
	Streak      int
	StreakStart int
}

func (s SessionState) afterDownload() SessionState {
	s.Downloads++
	s.Streak = 0
	return s
}

func (s SessionState) afterFetchFailure(index int) SessionState {
	if s.Streak == 0 {
		s.StreakStart = index
	}
	s.Streak++
	s.Failures++
	return s
}

func (s SessionState) afterMissingLink() SessionState {
	s.Failures++
	return s
}

func (s SessionState) afterSkip() SessionState {
	s.Skipped++
	return s
}

func (s SessionState) budgetReason(now time.Time, cfg SessionConfig) RestartReason {
	if s.Downloads >= cfg.MaxDownloads {
		return ReasonDownloadBudget
	}
	if now.Sub(s.Started) >= cfg.MaxDuration {
		return ReasonTimeBudget
	}
	return ReasonNone
}

// SessionMeta identifies a session within a run.
type SessionMeta struct {
	RunID  [16]byte
	Number int
}

// Dependencies are the collaborators of a Controller. Mirror, Events and
// Logger are optional.
type Dependencies struct {
	Extractor   *Extractor
	Artifacts   Artifacts
	Results     ResultCatalog
	Ledger      FailureLedger
	Checkpoints CheckpointStore
	Clock       Clock
	Pacer       Pacer
	Mirrors     []Mirror
	Events      progress.Emitter
	Logger      *zap.Logger
}

// Controller walks the listing of one session at a time.
type Controller struct {
	cfg         SessionConfig
	extractor   *Extractor
	artifacts   Artifacts
	results     ResultCatalog
	ledger      FailureLedger
	checkpoints CheckpointStore
	clock       Clock
	pacer       Pacer
	mirrors     []Mirror
	events      progress.Emitter
	logger      *zap.Logger
}

// NewController validates cfg and wires deps.
func NewController(cfg SessionConfig, deps Dependencies) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	switch {
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Artifacts == nil:
		return nil, errors.New("artifact store is required")
	case deps.Results == nil:
		return nil, errors.New("result catalog is required")
	case deps.Ledger == nil:
		return nil, errors.New("failure ledger is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("checkpoint store is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.Pacer == nil:
		return nil, errors.New("pacer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = noopEmitter{}
	}
	return &Controller{
		cfg:         cfg,
		extractor:   deps.Extractor,
		artifacts:   deps.Artifacts,
		results:     deps.Results,
		ledger:      deps.Ledger,
		checkpoints: deps.Checkpoints,
		clock:       deps.Clock,
		pacer:       deps.Pacer,
		mirrors:     deps.Mirrors,
		events:      events,
		logger:      logger,
	}, nil
}

// Run processes sess starting after the position in from. It returns when the
// listing is exhausted, a restart is required, or processing cannot continue.
// In every case the position reached is persisted before returning, except
// when the checkpoint itself cannot be written.
func (c *Controller) Run(ctx context.Context, sess catalog.Session, from state.Checkpoint, meta SessionMeta) (SessionResult, error) {
	logger := c.logger.With(zap.Int("session", meta.Number))
	entries := sess.Entries()
	if err := c.artifacts.Refresh(); err != nil {
		return SessionResult{}, fmt.Errorf("index artifacts: %w", err)
	}
	r := &sessionRun{
		Controller: c,
		ctx:        ctx,
		sess:       sess,
		meta:       meta,
		entries:    entries,
		logger:     logger,
	}
	start := r.resumeIndex(from)
	st := SessionState{Started: c.clock.Now()}
	logger.Info("session started",
		zap.Int("entries", len(entries)),
		zap.Int("resume_index", start),
	)
	r.emit(progress.Event{Stage: progress.StageSessionStart, Index: start})

	for i := start; i < len(entries); i++ {
		if reason := st.budgetReason(c.clock.Now(), c.cfg); reason != ReasonNone {
			return r.finish(st, OutcomeRestartRequired, reason, i-1, nil)
		}
		if st.Streak >= c.cfg.TimeoutStreak {
			return r.streakRestart(st, i)
		}
		if err := c.pacer.Pause(ctx, c.cfg.ItemDelayMin, c.cfg.ItemDelayMax); err != nil {
			return r.finish(st, OutcomeRestartRequired, ReasonNone, i-1, err)
		}
		next, err := r.step(i, st)
		if err != nil {
			return r.finish(st, OutcomeRestartRequired, ReasonNone, i-1, err)
		}
		st = next
	}
	if st.Streak >= c.cfg.TimeoutStreak {
		return r.streakRestart(st, len(entries))
	}
	return r.finish(st, OutcomeExhausted, ReasonNone, len(entries)-1, nil)
}

// sessionRun carries the per-session values shared by the step helpers.
type sessionRun struct {
	*Controller
	ctx     context.Context
	sess    catalog.Session
	meta    SessionMeta
	entries []catalog.Entry
	logger  *zap.Logger
}

// resumeIndex returns the first index to process. When the checkpoint's slug
// no longer sits at its index the slug is looked up in the live listing.
func (r *sessionRun) resumeIndex(from state.Checkpoint) int {
	idx := from.LastCompletedIndex
	if idx < 0 {
		return 0
	}
	slug := from.LastCompletedSlug
	if slug == "" || (idx < len(r.entries) && r.entries[idx].Slug == slug) {
		return idx + 1
	}
	for j, entry := range r.entries {
		if entry.Slug == slug {
			r.logger.Warn("listing shifted, resuming after relocated entry",
				zap.String("slug", slug),
				zap.Int("checkpoint_index", idx),
				zap.Int("relocated_index", j),
			)
			return j + 1
		}
	}
	r.logger.Warn("checkpoint slug not in listing, resuming by position",
		zap.String("slug", slug),
		zap.Int("checkpoint_index", idx),
	)
	return idx + 1
}

func (r *sessionRun) step(i int, st SessionState) (SessionState, error) {
	entry := r.entries[i]
	logger := r.logger.With(zap.Int("index", i), zap.String("slug", entry.Slug))

	rec, err := r.extractor.Extract(entry)
	if errors.Is(err, ErrMissingLink) {
		logger.Warn("no download link", zap.String("filename", rec.Filename))
		if err := r.recordFailure(rec, causeMissingLink); err != nil {
			return st, err
		}
		r.emitItem(progress.StageItemFailed, i, rec, 0, 0, causeMissingLink)
		return st.afterMissingLink(), nil
	}
	if err != nil {
		return st, fmt.Errorf("extract entry %d: %w", i, err)
	}
	logger = logger.With(zap.String("filename", rec.Filename))

	existing, found := r.artifacts.Lookup(rec.Key())
	decision := Decide(rec, existing, found, r.cfg.Conservative)
	if decision == DecisionSkip {
		logger.Info("artifact already held",
			zap.String("existing", existing.Name),
			zap.Int64("existing_size", existing.Size),
			zap.Int64("remote_size", rec.RemoteSize),
		)
		r.emitItem(progress.StageItemSkipped, i, rec, 0, 0, decision.String())
		return st.afterSkip(), nil
	}

	if err := r.pacer.Pause(r.ctx, r.cfg.DownloadDelayMin, r.cfg.DownloadDelayMax); err != nil {
		return st, err
	}
	staged, err := r.artifacts.Stage(rec.Filename)
	if err != nil {
		return st, fmt.Errorf("stage %s: %w", rec.Filename, err)
	}
	started := r.clock.Now()
	fetchCtx, cancel := context.WithTimeout(r.ctx, r.cfg.FetchTimeout)
	n, err := r.sess.Fetch(fetchCtx, *rec.Trigger, staged)
	cancel()
	elapsed := r.clock.Now().Sub(started)
	if elapsed < 0 {
		elapsed = 0
	}
	if err != nil {
		r.discard(staged)
		if ctxErr := r.ctx.Err(); ctxErr != nil {
			return st, ctxErr
		}
		cause := failureCause(err)
		logger.Warn("fetch failed",
			zap.String("decision", decision.String()),
			zap.String("url", rec.DownloadURL()),
			zap.Int("streak", st.Streak+1),
			zap.Error(err),
		)
		if err := r.recordFailure(rec, cause); err != nil {
			return st, err
		}
		r.emitItem(progress.StageItemFailed, i, rec, 0, elapsed, cause)
		return st.afterFetchFailure(i), nil
	}

	saved, kept, err := r.store(rec, staged, n, existing, found)
	if err != nil {
		return st, err
	}
	st = st.afterDownload()
	if kept {
		logger.Info("artifact saved",
			zap.String("decision", decision.String()),
			zap.Int64("bytes", saved.Size),
			zap.Duration("elapsed", elapsed),
		)
		r.emitItem(progress.StageItemSaved, i, rec, saved.Size, elapsed, decision.String())
	} else {
		logger.Info("downloaded artifact not larger than existing, kept existing",
			zap.String("existing", existing.Name),
			zap.Int64("existing_size", existing.Size),
			zap.Int64("bytes", n),
		)
		r.emitItem(progress.StageItemSkipped, i, rec, 0, elapsed, "KEPT_EXISTING")
	}
	if st.Downloads%r.cfg.CheckpointEvery == 0 {
		if err := r.saveCheckpoint(i); err != nil {
			return st, err
		}
	}
	return st, nil
}

// store commits a finished download and applies supersession. It reports
// false when the download was discarded in favor of an equal or larger
// artifact already held.
func (r *sessionRun) store(rec Record, staged string, fetched int64, existing artifact.Artifact, found bool) (artifact.Artifact, bool, error) {
	if found && !rec.RemoteSizeKnown && fetched <= existing.Size {
		r.discard(staged)
		return artifact.Artifact{}, false, nil
	}
	saved, err := r.artifacts.Commit(staged, rec.Filename)
	if err != nil {
		r.discard(staged)
		return artifact.Artifact{}, false, fmt.Errorf("commit %s: %w", rec.Filename, err)
	}
	if found {
		if err := r.supersede(rec, saved); err != nil {
			return saved, true, err
		}
	}
	if _, err := r.results.Upsert(rec.Filename, rec.Raw); err != nil {
		return saved, true, fmt.Errorf("record %s: %w", rec.Filename, err)
	}
	r.mirrorArtifact(saved)
	return saved, true, nil
}

// supersede removes every other artifact of the record's identity and purges
// the result entries of the removed names and of the replaced name.
func (r *sessionRun) supersede(rec Record, saved artifact.Artifact) error {
	purge := []string{saved.Name}
	for _, old := range r.artifacts.Matches(rec.Key()) {
		if old.Name == saved.Name {
			continue
		}
		if err := r.artifacts.Remove(old.Name); err != nil && !errors.Is(err, artifact.ErrNotFound) {
			r.logger.Warn("failed to remove superseded artifact", zap.String("artifact", old.Name), zap.Error(err))
			continue
		}
		r.logger.Info("superseded artifact removed",
			zap.String("artifact", old.Name),
			zap.String("replacement", saved.Name),
		)
		purge = append(purge, old.Name)
		r.unmirror(old.Name)
	}
	if _, err := r.results.Remove(purge...); err != nil {
		return fmt.Errorf("purge superseded results: %w", err)
	}
	return nil
}

func (r *sessionRun) unmirror(name string) {
	for _, m := range r.mirrors {
		if err := m.DeleteObject(r.ctx, name); err != nil {
			r.logger.Warn("mirror delete failed", zap.String("artifact", name), zap.Error(err))
		}
	}
}

func (r *sessionRun) mirrorArtifact(a artifact.Artifact) {
	contentType := mime.TypeByExtension(filepath.Ext(a.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	for _, m := range r.mirrors {
		r.mirrorTo(m, a, contentType)
	}
}

func (r *sessionRun) mirrorTo(m Mirror, a artifact.Artifact, contentType string) {
	rc, err := r.artifacts.Open(a.Name)
	if err != nil {
		r.logger.Warn("mirror skipped", zap.String("artifact", a.Name), zap.Error(err))
		return
	}
	defer rc.Close()
	uri, err := m.PutObject(r.ctx, a.Name, contentType, rc)
	if err != nil {
		r.logger.Warn("mirror upload failed", zap.String("artifact", a.Name), zap.Error(err))
		return
	}
	r.logger.Debug("artifact mirrored", zap.String("artifact", a.Name), zap.String("uri", uri))
}

func (r *sessionRun) streakRestart(st SessionState, i int) (SessionResult, error) {
	r.logger.Warn("consecutive fetch failures, restarting session",
		zap.Int("streak", st.Streak),
		zap.Int("streak_start", st.StreakStart),
		zap.Int("index", i),
	)
	res, err := r.finish(st, OutcomeRestartRequired, ReasonTimeoutStreak, st.StreakStart-1, nil)
	res.PastStreak = r.checkpointAt(i - 1)
	return res, err
}

// finish persists the checkpoint at idx and builds the session result. cause
// is returned unchanged when set.
func (r *sessionRun) finish(st SessionState, outcome Outcome, reason RestartReason, idx int, cause error) (SessionResult, error) {
	res := SessionResult{
		Outcome:    outcome,
		Reason:     reason,
		Checkpoint: r.checkpointAt(idx),
		Entries:    len(r.entries),
		Downloads:  st.Downloads,
		Skipped:    st.Skipped,
		Failures:   st.Failures,
	}
	if err := r.checkpoints.Save(res.Checkpoint); err != nil {
		return res, errors.Join(cause, fmt.Errorf("save checkpoint: %w", err))
	}
	if err := r.artifacts.Cleanup(); err != nil {
		r.logger.Warn("staging cleanup failed", zap.Error(err))
	}
	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.Int("checkpoint", idx),
		zap.Int("downloads", st.Downloads),
		zap.Int("skipped", st.Skipped),
		zap.Int("failures", st.Failures),
		zap.Duration("elapsed", r.clock.Now().Sub(st.Started)),
	}
	if reason != ReasonNone {
		fields = append(fields, zap.String("reason", string(reason)))
	}
	if cause != nil {
		fields = append(fields, zap.NamedError("cause", cause))
	}
	r.logger.Info("session ended", fields...)
	r.emit(progress.Event{
		Stage:   progress.StageSessionEnd,
		Index:   idx,
		Outcome: string(outcome),
		Note:    string(reason),
		Dur:     max(r.clock.Now().Sub(st.Started), 0),
	})
	return res, cause
}

func (r *sessionRun) saveCheckpoint(idx int) error {
	if err := r.checkpoints.Save(r.checkpointAt(idx)); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (r *sessionRun) checkpointAt(idx int) state.Checkpoint {
	if idx < -1 {
		idx = -1
	}
	cp := state.Checkpoint{LastCompletedIndex: idx, Timestamp: r.clock.Now()}
	if idx >= 0 && idx < len(r.entries) {
		cp.LastCompletedSlug = r.entries[idx].Slug
	}
	return cp
}

func (r *sessionRun) recordFailure(rec Record, cause string) error {
	err := r.ledger.Append(state.Failure{
		Identifier:  rec.Identifier,
		Filename:    rec.Filename,
		Slug:        rec.Slug,
		Title:       rec.Title,
		Date:        rec.Date,
		SourceURL:   rec.SourceURL,
		DownloadURL: rec.DownloadURL(),
		Error:       cause,
		RecordedAt:  r.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func (r *sessionRun) discard(staged string) {
	if err := r.artifacts.Discard(staged); err != nil {
		r.logger.Warn("failed to discard staged download", zap.String("path", staged), zap.Error(err))
	}
}

func (r *sessionRun) emitItem(stage progress.Stage, i int, rec Record, size int64, dur time.Duration, note string) {
	r.emit(progress.Event{
		Stage:    stage,
		Index:    i,
		Slug:     rec.Slug,
		Filename: rec.Filename,
		Bytes:    size,
		Dur:      dur,
		Outcome:  note,
	})
}

func (r *sessionRun) emit(evt progress.Event) {
	evt.RunID = r.meta.RunID
	evt.Session = r.meta.Number
	evt.TS = r.clock.Now()
	r.events.Emit(evt)
}

func failureCause(err error) string {
	if errors.Is(err, catalog.ErrFetchTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return causeTimeout
	}
	return fmt.Sprintf(causeFailedFmt, err)
}

type noopEmitter struct{}

func (noopEmitter) Emit(progress.Event) {}
