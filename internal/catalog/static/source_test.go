package static

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

const listingHTML = `<html><body><ul id="results">
<li class="record">
  <a class="summary" alt="doc-1 Annual report" href="#">Annual report</a>
  <div class="row"><div>Link</div><div><a href="/entry/1">entry</a></div></div>
  <div class="row"><div>Date</div><div>2021-03-04</div></div>
  <a href="/files/en-EVAL-1.pdf">PDF (2 KB)</a>
</li>
<li class="record">
  <a class="summary" alt="doc-2 Review" href="#">Review</a>
  <a href="/files/de-EVAL-2.pdf">PDF</a>
</li>
</ul></body></html>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, listingHTML)
	})
	mux.HandleFunc("/files/en-EVAL-1.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-first"))
	})
	mux.HandleFunc("/files/slow.pdf", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newSource(t *testing.T, srv *httptest.Server) *Source {
	t.Helper()
	src, err := New(Config{
		ListingURL: srv.URL + "/search",
		UserAgent:  "harvester-test",
		Timeout:    5 * time.Second,
		Selectors: catalog.Selectors{
			Container:   "#results",
			Record:      "li.record",
			SummaryLink: "a.summary",
			DetailRow:   "div.row",
		},
	}, nil)
	require.NoError(t, err)
	return src
}

func TestOpenParsesListing(t *testing.T) {
	srv := newServer(t)
	sess, err := newSource(t, srv).Open(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.Close(context.Background())) }()

	entries := sess.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "doc-1", entries[0].Slug)
	assert.Equal(t, srv.URL+"/entry/1", entries[0].SourceURL)
	date, ok := entries[0].Details.Get("Date")
	assert.True(t, ok)
	assert.Equal(t, "2021-03-04", date)
	assert.Equal(t, "doc-2", entries[1].Slug)
	assert.Equal(t, srv.URL+"/files/de-EVAL-2.pdf", entries[1].Links[0].Href)
}

func TestFetchSavesBody(t *testing.T) {
	srv := newServer(t)
	sess, err := newSource(t, srv).Open(context.Background())
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "out.part")
	n, err := sess.Fetch(context.Background(), catalog.Link{Href: srv.URL + "/files/en-EVAL-1.pdf"}, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(len("%PDF-first")), n)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-first", string(data))
}

func TestFetchMissingArtifact(t *testing.T) {
	srv := newServer(t)
	sess, err := newSource(t, srv).Open(context.Background())
	require.NoError(t, err)

	_, err = sess.Fetch(context.Background(), catalog.Link{Href: srv.URL + "/files/none.pdf"}, filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, catalog.ErrFetchTimeout)
}

func TestFetchTimeout(t *testing.T) {
	srv := newServer(t)
	sess, err := newSource(t, srv).Open(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = sess.Fetch(ctx, catalog.Link{Href: srv.URL + "/files/slow.pdf"}, filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, catalog.ErrFetchTimeout)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Selectors: catalog.Selectors{Record: "li"}}, nil)
	assert.Error(t, err)
	_, err = New(Config{ListingURL: "http://catalog.example"}, nil)
	assert.Error(t, err)

	src, err := New(Config{ListingURL: "http://catalog.example", Selectors: catalog.Selectors{Record: "li"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, src.cfg.Timeout)
}
