package gcs

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{Bucket: "  "})
	assert.Error(t, err)
}

func TestObjectName(t *testing.T) {
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	m, err := New(client, Config{Bucket: "reports", Prefix: "/evaluations/"})
	require.NoError(t, err)
	assert.Equal(t, "evaluations/en-eval-1.pdf", m.ObjectName("en-eval-1.pdf"))

	bare, err := New(client, Config{Bucket: "reports"})
	require.NoError(t, err)
	assert.Equal(t, "en-eval-1.pdf", bare.ObjectName("en-eval-1.pdf"))

	_, err = bare.PutObject(context.Background(), " ", "", nil)
	assert.Error(t, err)
	assert.Error(t, bare.DeleteObject(context.Background(), ""))
}

// ctxWriter finalizes on Close only while its context is live, like a GCS
// object writer.
type ctxWriter struct {
	ctx       context.Context
	buf       strings.Builder
	committed bool
}

func (w *ctxWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *ctxWriter) Close() error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.committed = true
	return nil
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestUploadAbandonsPartialObject(t *testing.T) {
	errRead := errors.New("disk read failed")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &ctxWriter{ctx: ctx}

	err := upload(w, cancel, io.MultiReader(strings.NewReader("partial"), failingReader{err: errRead}))
	require.ErrorIs(t, err, errRead)
	assert.False(t, w.committed)
	assert.Equal(t, "partial", w.buf.String())
}

func TestUploadCommitsCompleteObject(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &ctxWriter{ctx: ctx}

	require.NoError(t, upload(w, cancel, strings.NewReader("%PDF")))
	assert.True(t, w.committed)
	assert.Equal(t, "%PDF", w.buf.String())
}
