package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

type session struct {
	source      *Source
	workDir     string
	downloadDir string
	entries     []catalog.Entry

	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	logger        *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *session) Entries() []catalog.Entry {
	return s.entries
}

type downloadResult struct {
	guid     string
	canceled bool
}

// Fetch triggers the download in a new tab and waits for the browser to
// report completion.
func (s *session) Fetch(ctx context.Context, link catalog.Link, dst string) (int64, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	defer tabCancel()
	stop := forwardCancel(ctx, tabCancel)
	defer stop()

	done := make(chan downloadResult, 1)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		progress, ok := ev.(*browser.EventDownloadProgress)
		if !ok {
			return
		}
		switch progress.State {
		case browser.DownloadProgressStateCompleted:
			select {
			case done <- downloadResult{guid: progress.GUID}:
			default:
			}
		case browser.DownloadProgressStateCanceled:
			select {
			case done <- downloadResult{guid: progress.GUID, canceled: true}:
			default:
			}
		}
	})

	// Navigating straight to an attachment aborts the navigation, so the
	// download is started from script.
	target, err := json.Marshal(link.Href)
	if err != nil {
		return 0, fmt.Errorf("encode link: %w", err)
	}
	err = chromedp.Run(tabCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(s.downloadDir).
			WithEventsEnabled(true),
		chromedp.Evaluate(fmt.Sprintf("window.location.href = %s", target), nil),
	)
	if err != nil {
		return 0, s.fetchErr(ctx, fmt.Errorf("start download: %w", err))
	}

	select {
	case res := <-done:
		if res.canceled {
			return 0, fmt.Errorf("download %s canceled by browser", link.Href)
		}
		return moveFile(filepath.Join(s.downloadDir, res.guid), dst)
	case <-ctx.Done():
		return 0, s.fetchErr(ctx, ctx.Err())
	}
}

func (s *session) fetchErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", catalog.ErrFetchTimeout, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close shuts the browser down and removes the session's working directory.
func (s *session) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("browser cancel", zap.Error(err))
		}
		s.browserCancel()
		s.allocCancel()
		if err := os.RemoveAll(s.workDir); err != nil {
			s.closeErr = fmt.Errorf("remove session dir: %w", err)
		}
	})
	return s.closeErr
}

// moveFile renames src onto dst, copying when they live on different
// filesystems.
func moveFile(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat download: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return info.Size(), nil
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open download: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("open destination: %w", err)
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("copy download: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return n, fmt.Errorf("remove download: %w", err)
	}
	return n, nil
}
