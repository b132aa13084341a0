package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const stagingDirName = ".staging"

// Config captures the parameters of the artifact store.
type Config struct {
	// BaseDir is the directory holding finished artifacts.
	BaseDir string `mapstructure:"artifact_dir"`
	// Extension is the artifact file extension without the dot.
	Extension string `mapstructure:"extension"`
}

// Store keeps finished artifacts in a flat directory and stages in-flight
// downloads in a hidden subdirectory so a partial file never carries a final name.
type Store struct {
	baseDir    string
	stagingDir string
	ext        string

	mu    sync.RWMutex
	index *Index
}

// New validates that the base directory exists or can be created and is
// writable, then indexes its content.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if strings.TrimSpace(cfg.Extension) == "" {
		return nil, fmt.Errorf("extension is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
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

	s := &Store{
		baseDir:    cfg.BaseDir,
		stagingDir: filepath.Join(cfg.BaseDir, stagingDirName),
		ext:        strings.TrimPrefix(cfg.Extension, "."),
	}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.baseDir }

// Refresh rebuilds the index from the directory content.
func (s *Store) Refresh() error {
	idx, err := Scan(s.baseDir, s.ext)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()
	return nil
}

// Lookup returns the largest artifact held for key.
func (s *Store) Lookup(key Key) (Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Lookup(key)
}

// Matches returns every artifact held for key.
func (s *Store) Matches(key Key) []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Matches(key)
}

// Len returns the number of indexed artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// Stage reserves a staging path for an in-flight download of name.
func (s *Store) Stage(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.stagingDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	f, err := os.CreateTemp(s.stagingDir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to reserve staging file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}
	return path, nil
}

// Commit moves a staged download into place under name, replacing any file of
// that name, and records it in the index.
func (s *Store) Commit(staged, name string) (Artifact, error) {
	if err := validName(name); err != nil {
		return Artifact{}, err
	}
	if err := syncFile(staged); err != nil {
		return Artifact{}, fmt.Errorf("failed to sync staged file: %w", err)
	}
	dest := filepath.Join(s.baseDir, name)
	if err := os.Rename(staged, dest); err != nil {
		return Artifact{}, fmt.Errorf("failed to move artifact into place: %w", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to stat artifact: %w", err)
	}
	a := Artifact{Name: name, Path: dest, Size: info.Size()}
	s.mu.Lock()
	s.index.Put(a)
	s.mu.Unlock()
	return a, nil
}

// Remove deletes the named artifact.
func (s *Store) Remove(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.baseDir, name))
	if errors.Is(err, os.ErrNotExist) {
		s.forget(name)
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	s.forget(name)
	return nil
}

func (s *Store) forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.Delete(name)
}

// Discard deletes a staged download.
func (s *Store) Discard(staged string) error {
	if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to discard staged file: %w", err)
	}
	return nil
}

// Cleanup removes the staging directory and anything left in it.
func (s *Store) Cleanup() error {
	if err := os.RemoveAll(s.stagingDir); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	return nil
}

// Open returns a reader for the named artifact.
func (s *Store) Open(name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.baseDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, nil
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("artifact name is required")
	}
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
