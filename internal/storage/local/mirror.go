// Package local mirrors committed artifacts into a second directory, such as
// a network share or a backup volume.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local mirror.
type Config struct {
	// BaseDir is the root directory artifacts are copied into.
	BaseDir string `mapstructure:"base_dir"`
}

// Mirror copies artifacts onto the local filesystem.
type Mirror struct {
	baseDir string
}

// New creates the mirror, creating BaseDir when missing and checking that it
// is writable.
func New(cfg Config) (*Mirror, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}
	return &Mirror{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// DeleteObject removes the copy stored for name. A missing file is not an
// error.
func (m *Mirror) DeleteObject(_ context.Context, name string) error {
	fullPath, err := m.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

func (m *Mirror) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("name is required")
	}
	fullPath := filepath.Clean(filepath.Join(m.baseDir, name))
	if !strings.HasPrefix(fullPath, m.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

// PutObject copies data to name below the base directory and returns a
// file:// URI. The copy is written beside the target and renamed into place.
func (m *Mirror) PutObject(_ context.Context, name string, _ string, data io.Reader) (string, error) {
	fullPath, err := m.resolve(name)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(fullPath)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to copy data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}
