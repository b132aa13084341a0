// Package headless opens catalog sessions in a fresh headless Chrome per
// session. The listing is rendered by replaying scripted clicks, and artifacts
// are downloaded through the browser into a per-session working directory.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

// Config controls listing rendering and downloads.
type Config struct {
	ListingURL string
	UserAgent  string
	// RenderTimeout bounds navigation, all steps and the listing snapshot.
	RenderTimeout time.Duration
	// SettleWait is slept after the page is ready and before the first step.
	SettleWait time.Duration
	// Headful shows the browser window.
	Headful   bool
	Steps     []Step
	Selectors catalog.Selectors
	// WorkDir is the parent of per-session working directories; empty means
	// the system temp dir.
	WorkDir string
}

// Source implements catalog.Source with chromedp.
type Source struct {
	cfg    Config
	base   *url.URL
	logger *zap.Logger
}

// New validates cfg and returns a Source.
func New(cfg Config, logger *zap.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.ListingURL) == "" {
		return nil, errors.New("listing url is required")
	}
	base, err := url.Parse(cfg.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 5 * time.Minute
	}
	if cfg.Selectors.Record == "" {
		return nil, errors.New("record selector is required")
	}
	for i, step := range cfg.Steps {
		if _, err := step.action(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, base: base, logger: logger}, nil
}

// Open starts a new browser, renders the listing and snapshots its entries.
func (s *Source) Open(ctx context.Context) (catalog.Session, error) {
	workDir, err := os.MkdirTemp(s.cfg.WorkDir, "harvester-session-*")
	if err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	downloadDir := filepath.Join(workDir, "downloads")
	if err := os.MkdirAll(downloadDir, 0o750); err != nil {
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.UserDataDir(filepath.Join(workDir, "profile")),
	)
	if s.cfg.Headful {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	sess := &session{
		source:        s,
		workDir:       workDir,
		downloadDir:   downloadDir,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        s.logger.With(zap.String("work_dir", workDir)),
	}
	entries, err := sess.render(ctx)
	if err != nil {
		if closeErr := sess.Close(ctx); closeErr != nil {
			s.logger.Warn("session cleanup failed", zap.Error(closeErr))
		}
		return nil, err
	}
	sess.entries = entries
	sess.logger.Info("listing rendered", zap.Int("entries", len(entries)))
	return sess, nil
}

func (s *session) render(ctx context.Context) ([]catalog.Entry, error) {
	cfg := s.source.cfg
	renderCtx, cancel := context.WithTimeout(s.browserCtx, cfg.RenderTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var (
		html     string
		location string
	)
	actions := []chromedp.Action{
		s.source.networkSetupAction(),
		chromedp.Navigate(cfg.ListingURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(cfg.SettleWait),
	}
	for _, step := range cfg.Steps {
		action, err := step.action()
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	actions = append(actions,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(renderCtx, actions...); err != nil {
		return nil, fmt.Errorf("render listing: %w", err)
	}

	base := s.source.base
	if parsed, err := url.Parse(location); err == nil && parsed.IsAbs() {
		base = parsed
	}
	entries, err := catalog.ParseListing(strings.NewReader(html), cfg.Selectors, base)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Source) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// forwardCancel calls cancel when parent is done and returns a func that stops
// watching. chromedp contexts cannot derive from the caller's context because
// the browser must outlive a single call.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
