package headless

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

func validConfig() Config {
	return Config{
		ListingURL: "https://catalog.example/search",
		Selectors:  catalog.Selectors{Record: "li.record"},
		Steps: []Step{
			{Action: ActionClick, Selector: "//button[contains(., 'Search')]", Wait: time.Second},
			{Action: ActionWaitVisible, Selector: "#results"},
			{Action: ActionSleep, Wait: time.Millisecond},
		},
	}
}

func TestNewDefaultsRenderTimeout(t *testing.T) {
	src, err := New(validConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, src.cfg.RenderTimeout)
	assert.Equal(t, "catalog.example", src.base.Host)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"missing url":      func(c *Config) { c.ListingURL = " " },
		"bad url":          func(c *Config) { c.ListingURL = "http://[::1" },
		"missing selector": func(c *Config) { c.Selectors.Record = "" },
		"unknown action":   func(c *Config) { c.Steps = []Step{{Action: "hover", Selector: "a"}} },
		"click no target":  func(c *Config) { c.Steps = []Step{{Action: ActionClick}} },
		"wait no target":   func(c *Config) { c.Steps = []Step{{Action: ActionWaitVisible}} },
		"sleep no wait":    func(c *Config) { c.Steps = []Step{{Action: ActionSleep}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			_, err := New(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestFetchErrMapsDeadline(t *testing.T) {
	s := &session{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	err := s.fetchErr(ctx, ctx.Err())
	assert.ErrorIs(t, err, catalog.ErrFetchTimeout)

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	err = s.fetchErr(canceled, canceled.Err())
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, catalog.ErrFetchTimeout)
}

func TestForwardCancel(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()
	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child context was not canceled")
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "guid-1234")
	dst := filepath.Join(dir, "out.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.7"), 0o600))

	n, err := moveFile(src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.NoFileExists(t, src)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	_, err = moveFile(filepath.Join(dir, "missing"), dst)
	assert.Error(t, err)
}
