package catalog

import (
	"context"
	"errors"
)

// ErrFetchTimeout reports that an artifact fetch did not complete before its
// bounded wait expired.
var ErrFetchTimeout = errors.New("fetch timed out")

// Link is one outbound link of an entry together with its visible text.
type Link struct {
	Href string
	Text string
}

// Entry is a single listed document as rendered by the catalog.
type Entry struct {
	// Slug is the catalog's stable short identifier for the entry, when present.
	Slug string
	// SourceURL points at the entry's landing page.
	SourceURL string
	// Details holds the label/value pairs of the entry's detail panel in order.
	Details Fields
	// Links lists every outbound link of the entry in document order.
	Links []Link
	// Text is the entry's visible text with whitespace collapsed.
	Text string
}

// Source opens catalog sessions. Each call renders a fresh listing in a fresh
// browsing context.
type Source interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one opened listing. Entries are in the catalog's own order, which
// is reproducible across sessions.
type Session interface {
	Entries() []Entry
	// Fetch downloads the artifact behind link into dst and returns its size.
	// A ctx deadline that expires first is reported as ErrFetchTimeout.
	Fetch(ctx context.Context, link Link, dst string) (int64, error)
	Close(ctx context.Context) error
}
