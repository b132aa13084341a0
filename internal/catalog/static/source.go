// Package static opens catalog sessions over plain HTTP with colly. It serves
// catalogs whose listing is present in the initial HTML and whose artifacts
// are direct links.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

const defaultTimeout = time.Minute

// Config controls the collector.
type Config struct {
	ListingURL string
	UserAgent  string
	// Timeout bounds the listing request and any fetch without a deadline.
	Timeout   time.Duration
	Selectors catalog.Selectors
}

// Source implements catalog.Source with colly.
type Source struct {
	cfg           Config
	base          *url.URL
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New validates cfg and builds a Source.
func New(cfg Config, logger *zap.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.ListingURL) == "" {
		return nil, errors.New("listing url is required")
	}
	base, err := url.Parse(cfg.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	if cfg.Selectors.Record == "" {
		return nil, errors.New("record selector is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(0),
	)
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Source{cfg: cfg, base: base, baseCollector: c, logger: logger}, nil
}

// Open downloads and parses the listing.
func (s *Source) Open(ctx context.Context) (catalog.Session, error) {
	var body []byte
	collector := s.collector(s.cfg.Timeout)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	if err := visit(ctx, collector, s.cfg.ListingURL); err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}
	entries, err := catalog.ParseListing(bytes.NewReader(body), s.cfg.Selectors, s.base)
	if err != nil {
		return nil, err
	}
	s.logger.Info("listing loaded", zap.String("url", s.cfg.ListingURL), zap.Int("entries", len(entries)))
	return &session{source: s, entries: entries}, nil
}

func (s *Source) collector(timeout time.Duration) *colly.Collector {
	c := s.baseCollector.Clone()
	c.SetRequestTimeout(timeout)
	return c
}

type session struct {
	source  *Source
	entries []catalog.Entry
}

func (s *session) Entries() []catalog.Entry {
	return s.entries
}

// Fetch writes the response body of link to dst.
func (s *session) Fetch(ctx context.Context, link catalog.Link, dst string) (int64, error) {
	timeout := s.source.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return 0, catalog.ErrFetchTimeout
		}
	}
	var (
		size    int64
		saveErr error
	)
	collector := s.source.collector(timeout)
	collector.OnResponse(func(r *colly.Response) {
		size = int64(len(r.Body))
		saveErr = r.Save(dst)
	})
	if err := visit(ctx, collector, link.Href); err != nil {
		return 0, err
	}
	if saveErr != nil {
		return 0, fmt.Errorf("save %s: %w", dst, saveErr)
	}
	return size, nil
}

func (s *session) Close(context.Context) error {
	return nil
}

// visit runs a blocking Visit and maps deadline expiry, whether reported by
// ctx or by the transport, to catalog.ErrFetchTimeout.
func visit(ctx context.Context, collector *colly.Collector, target string) error {
	var respErr error
	collector.OnError(func(_ *colly.Response, err error) {
		respErr = err
	})
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", catalog.ErrFetchTimeout, target)
		}
		return ctx.Err()
	case err := <-done:
		if err == nil {
			err = respErr
		}
		if err == nil {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %w", catalog.ErrFetchTimeout, err)
		}
		return fmt.Errorf("visit %s: %w", target, err)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
