package state

import (
	"fmt"
	"time"
)

// Checkpoint records the last catalog position whose processing is complete.
type Checkpoint struct {
	LastCompletedIndex int `json:"last_completed_index"`
	// LastCompletedSlug is the slug of the entry at LastCompletedIndex, used to
	// relocate the position when the listing shifted between sessions.
	LastCompletedSlug string    `json:"last_completed_slug,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// InitialCheckpoint is the position before the first catalog entry.
func InitialCheckpoint() Checkpoint {
	return Checkpoint{LastCompletedIndex: -1}
}

// CheckpointFile stores a single checkpoint as JSON.
type CheckpointFile struct {
	path string
}

// NewCheckpointFile returns a store backed by path.
func NewCheckpointFile(path string) *CheckpointFile {
	return &CheckpointFile{path: path}
}

// Path returns the backing file.
func (f *CheckpointFile) Path() string { return f.path }

// Load reads the stored checkpoint. A missing file yields InitialCheckpoint.
func (f *CheckpointFile) Load() (Checkpoint, error) {
	var cp Checkpoint
	found, err := readJSON(f.path, &cp)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if !found {
		return InitialCheckpoint(), nil
	}
	if cp.LastCompletedIndex < -1 {
		cp.LastCompletedIndex = -1
	}
	return cp, nil
}

// Save overwrites the stored checkpoint. A zero timestamp is filled with the
// current UTC time.
func (f *CheckpointFile) Save(cp Checkpoint) error {
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	if err := writeJSON(f.path, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
