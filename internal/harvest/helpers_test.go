package harvest_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/artifact"
	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
	"github.com/JakeFAU/catalog-harvester/internal/state"
)

func extractConfig() harvest.ExtractConfig {
	return harvest.ExtractConfig{
		IdentifierField:   "Weitere Nummern",
		IdentifierPattern: `Projektnummer: ((\d|\.)+)`,
		DateField:         "Erscheinungsdatum",
		LanguageField:     "Sprache",
		TitleField:        "Titel",
		Extension:         "pdf",
	}
}

func newExtractor(t *testing.T) *harvest.Extractor {
	t.Helper()
	x, err := harvest.NewExtractor(extractConfig())
	require.NoError(t, err)
	return x
}

func sessionConfig() harvest.SessionConfig {
	return harvest.SessionConfig{
		MaxDownloads:    50,
		MaxDuration:     45 * time.Minute,
		TimeoutStreak:   5,
		CheckpointEvery: 5,
		FetchTimeout:    30 * time.Second,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakePacer advances the fake clock instead of sleeping.
type fakePacer struct {
	clock *fakeClock
	step  time.Duration
	calls int
}

func (p *fakePacer) Pause(ctx context.Context, _, _ time.Duration) error {
	p.calls++
	p.clock.Advance(p.step)
	return ctx.Err()
}

type fakeSleeper struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.pauses = append(s.pauses, d)
	s.mu.Unlock()
	return ctx.Err()
}

// fakeSession serves a fixed listing and writes zero-filled artifacts.
type fakeSession struct {
	entries []catalog.Entry
	// sizes maps an href to the number of bytes written; 1024 otherwise.
	sizes map[string]int64
	// fail maps an href to the error its fetch returns.
	fail map[string]error
	// onFetch runs before every fetch.
	onFetch func(ctx context.Context, link catalog.Link)

	mu      sync.Mutex
	fetched []string
	closed  bool
}

func (s *fakeSession) Entries() []catalog.Entry { return s.entries }

func (s *fakeSession) Fetch(ctx context.Context, link catalog.Link, dst string) (int64, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, link.Href)
	s.mu.Unlock()
	if s.onFetch != nil {
		s.onFetch(ctx, link)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.fail[link.Href]; err != nil {
		return 0, err
	}
	size, ok := s.sizes[link.Href]
	if !ok {
		size = 1024
	}
	if err := os.WriteFile(dst, make([]byte, size), 0o600); err != nil {
		return 0, err
	}
	return size, nil
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) Fetched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

type fixture struct {
	dir         string
	store       *artifact.Store
	results     *state.Results
	ledger      *state.Ledger
	checkpoints *state.CheckpointFile
	totals      *state.TotalsFile
	clock       *fakeClock
	pacer       *fakePacer
	controller  *harvest.Controller
}

func newFixture(t *testing.T, mutate func(*harvest.SessionConfig)) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{dir: dir, clock: newFakeClock()}
	f.pacer = &fakePacer{clock: f.clock}

	var err error
	f.store, err = artifact.New(artifact.Config{BaseDir: filepath.Join(dir, "pdfs"), Extension: "pdf"})
	require.NoError(t, err)
	f.results, err = state.OpenResults(filepath.Join(dir, "results.json"))
	require.NoError(t, err)
	f.ledger, err = state.OpenLedger(filepath.Join(dir, "failed_downloads.json"))
	require.NoError(t, err)
	f.checkpoints = state.NewCheckpointFile(filepath.Join(dir, "checkpoint.json"))
	f.totals = state.NewTotalsFile(filepath.Join(dir, "total_reports.json"))

	cfg := sessionConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	f.controller, err = harvest.NewController(cfg, harvest.Dependencies{
		Extractor:   newExtractor(t),
		Artifacts:   f.store,
		Results:     f.results,
		Ledger:      f.ledger,
		Checkpoints: f.checkpoints,
		Clock:       f.clock,
		Pacer:       f.pacer,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) writeArtifact(t *testing.T, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "pdfs", name), make([]byte, size), 0o600))
}

func (f *fixture) artifactSize(t *testing.T, name string) int64 {
	t.Helper()
	info, err := os.Stat(filepath.Join(f.dir, "pdfs", name))
	require.NoError(t, err)
	return info.Size()
}

func (f *fixture) savedCheckpoint(t *testing.T) int {
	t.Helper()
	cp, err := f.checkpoints.Load()
	require.NoError(t, err)
	return cp.LastCompletedIndex
}

// docEntry builds a listing entry. kb < 0 omits the download link, kb == 0
// gives a link without an advertised size.
func docEntry(slug, id, date, lang string, kb int) catalog.Entry {
	details := catalog.Fields{}.
		Set("Titel", "Report "+slug).
		Set("Erscheinungsdatum", date).
		Set("Sprache", lang)
	if id != "" {
		details = details.Set("Weitere Nummern", "Projektnummer: "+id)
	}
	entry := catalog.Entry{
		Slug:      slug,
		SourceURL: "https://catalog.example/record/" + slug,
		Details:   details,
		Links:     []catalog.Link{{Href: "https://catalog.example/record/" + slug, Text: "landing"}},
	}
	if kb >= 0 {
		text := "Download"
		if kb > 0 {
			text = fmt.Sprintf("Download (PDF, %d KB)", kb)
		}
		entry.Links = append(entry.Links, catalog.Link{Href: docHref(slug), Text: text})
	}
	return entry
}

func docHref(slug string) string {
	return "https://catalog.example/files/" + slug + ".pdf"
}

// numberedEntries returns n distinct documents doc-0 .. doc-(n-1).
func numberedEntries(n int) []catalog.Entry {
	entries := make([]catalog.Entry, n)
	for i := range entries {
		entries[i] = docEntry(fmt.Sprintf("doc-%d", i), fmt.Sprintf("10.%d", i), "2021", "de", 1)
	}
	return entries
}

type recordingMirror struct {
	names   []string
	sizes   []int
	deleted []string
}

func (m *recordingMirror) PutObject(_ context.Context, name, _ string, data io.Reader) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	m.names = append(m.names, name)
	m.sizes = append(m.sizes, len(body))
	return "mem://" + name, nil
}

func (m *recordingMirror) DeleteObject(_ context.Context, name string) error {
	m.deleted = append(m.deleted, name)
	return nil
}
