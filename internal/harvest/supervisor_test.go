package harvest_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
	"github.com/JakeFAU/catalog-harvester/internal/state"
)

// fakeSource hands out a fresh fakeSession over the same listing per Open.
type fakeSource struct {
	entries []catalog.Entry
	fail    map[string]error
	openErr error

	mu       sync.Mutex
	sessions []*fakeSession
}

func (s *fakeSource) Open(context.Context) (catalog.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	sess := &fakeSession{entries: s.entries, fail: s.fail}
	s.sessions = append(s.sessions, sess)
	return sess, nil
}

func (s *fakeSource) allFetched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, sess := range s.sessions {
		out = append(out, sess.Fetched()...)
	}
	return out
}

func newSupervisor(t *testing.T, f *fixture, src catalog.Source, cfg harvest.SupervisorConfig) (*harvest.Supervisor, *fakeSleeper) {
	t.Helper()
	sleeper := &fakeSleeper{}
	sup, err := harvest.NewSupervisor(cfg, src, f.controller, f.totals, sleeper)
	require.NoError(t, err)
	return sup, sleeper
}

func TestSupervisorRestartsUntilExhausted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *harvest.SessionConfig) {
		cfg.MaxDownloads = 3
	})
	src := &fakeSource{entries: numberedEntries(8)}
	src.entries[4] = docEntry("doc-4", "10.4", "2021", "de", -1)
	sup, sleeper := newSupervisor(t, f, src, harvest.SupervisorConfig{RestartPause: 30 * time.Second, StallLimit: 3})

	report, err := sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Sessions)
	assert.Equal(t, 8, report.Total)
	assert.Equal(t, 1, report.Failures)
	assert.InDelta(t, 12.5, report.Percentage, 1e-9)
	assert.Equal(t, 7, report.Checkpoint.LastCompletedIndex)
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, sleeper.pauses)

	var want []string
	for i := 0; i < 8; i++ {
		if i != 4 {
			want = append(want, docHref(fmt.Sprintf("doc-%d", i)))
		}
	}
	assert.Equal(t, want, src.allFetched(), "every item fetched exactly once")
	for _, sess := range src.sessions {
		assert.True(t, sess.closed)
	}

	total, found, err := f.totals.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 8, total)
	assert.Equal(t, 7, f.savedCheckpoint(t))
	assert.Equal(t, 7, f.results.Len())
}

func TestSupervisorResumesFromStoredCheckpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.checkpoints.Save(state.Checkpoint{LastCompletedIndex: 5, LastCompletedSlug: "doc-5"}))
	src := &fakeSource{entries: numberedEntries(8)}
	sup, _ := newSupervisor(t, f, src, harvest.SupervisorConfig{})

	report, err := sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sessions)
	assert.Equal(t, []string{docHref("doc-6"), docHref("doc-7")}, src.allFetched())
}

func TestSupervisorLedgerOnlyGrowsAcrossRuns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	entries := numberedEntries(3)
	entries[1] = docEntry("doc-1", "10.1", "2021", "de", -1)
	src := &fakeSource{entries: entries}

	sup, _ := newSupervisor(t, f, src, harvest.SupervisorConfig{})
	_, err := sup.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, f.ledger.Len())

	require.NoError(t, f.checkpoints.Save(state.InitialCheckpoint()))
	report, err := sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.ledger.Len())
	assert.Equal(t, 2, report.Failures)
	assert.Len(t, src.allFetched(), 2, "held artifacts are skipped on the second run")
}

func TestSupervisorOpenFailureIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	src := &fakeSource{openErr: errors.New("browser crashed")}
	sup, _ := newSupervisor(t, f, src, harvest.SupervisorConfig{})

	_, err := sup.Run(context.Background())
	require.ErrorIs(t, err, harvest.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "browser crashed")
}

func TestSupervisorMovesPastStalledStreaks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *harvest.SessionConfig) {
		cfg.TimeoutStreak = 2
	})
	entries := numberedEntries(8)
	fail := map[string]error{}
	for _, e := range entries {
		fail[docHref(e.Slug)] = catalog.ErrFetchTimeout
	}
	src := &fakeSource{entries: entries, fail: fail}
	sup, _ := newSupervisor(t, f, src, harvest.SupervisorConfig{StallLimit: 2})

	report, err := sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, report.Sessions)
	assert.Equal(t, 16, f.ledger.Len())
	assert.Equal(t, 7, report.Checkpoint.LastCompletedIndex)
	assert.InDelta(t, 200.0, report.Percentage, 1e-9)
}

func TestSupervisorStopsOnCancellation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *harvest.SessionConfig) {
		cfg.MaxDownloads = 1
	})
	src := &fakeSource{entries: numberedEntries(4)}
	sup, _ := newSupervisor(t, f, src, harvest.SupervisorConfig{RestartPause: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sup.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, -1, f.savedCheckpoint(t))
}

// savedTotals records every total the supervisor captures.
type savedTotals struct{ totals []int }

func (s *savedTotals) Save(total int) error {
	s.totals = append(s.totals, total)
	return nil
}

func TestSupervisorCapturesTotalOncePerRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *harvest.SessionConfig) {
		cfg.MaxDownloads = 2
	})
	src := &fakeSource{entries: numberedEntries(5)}
	totals := &savedTotals{}
	sup, err := harvest.NewSupervisor(harvest.SupervisorConfig{StallLimit: 3}, src, f.controller, totals, &fakeSleeper{})
	require.NoError(t, err)

	report, err := sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Sessions)
	assert.Equal(t, []int{5}, totals.totals)
}

func TestNewSupervisorValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := harvest.NewSupervisor(harvest.SupervisorConfig{}, nil, f.controller, f.totals, &fakeSleeper{})
	require.Error(t, err)
	_, err = harvest.NewSupervisor(harvest.SupervisorConfig{StallLimit: -1}, &fakeSource{}, f.controller, f.totals, &fakeSleeper{})
	require.Error(t, err)
}
