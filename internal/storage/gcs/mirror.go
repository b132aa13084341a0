// Package gcs mirrors committed artifacts into a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// Mirror writes artifacts to a configured GCS bucket.
type Mirror struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed mirror.
func New(client *storage.Client, cfg Config) (*Mirror, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object name an artifact is stored under.
func (m *Mirror) ObjectName(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// PutObject uploads data and returns a gs:// URI. A failed copy cancels the
// upload so no partial object is committed.
func (m *Mirror) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("name is required")
	}
	object := m.ObjectName(name)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer := m.client.Bucket(m.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if err := upload(writer, cancel, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", m.bucket, object), nil
}

// DeleteObject removes the object stored for name. A missing object is not an
// error.
func (m *Mirror) DeleteObject(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	err := m.client.Bucket(m.bucket).Object(m.ObjectName(name)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// upload copies r into w. On a copy error the writer's context is cancelled
// before Close so the upload is abandoned instead of finalized.
func upload(w io.WriteCloser, cancel context.CancelFunc, r io.Reader) error {
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("copy object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
