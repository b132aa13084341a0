package state

import (
	"fmt"
	"sync"
	"time"
)

// Failure is one ledger entry describing an item that was not harvested.
type Failure struct {
	Identifier  string    `json:"identifier"`
	Filename    string    `json:"filename"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Date        string    `json:"date"`
	SourceURL   string    `json:"source_url"`
	DownloadURL string    `json:"download_url"`
	Error       string    `json:"error"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Ledger is the append-only failure ledger. The whole array is rewritten after
// every append.
type Ledger struct {
	path string

	mu      sync.Mutex
	entries []Failure
}

// OpenLedger loads the ledger at path, starting empty when the file is missing.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path}
	if _, err := readJSON(path, &l.entries); err != nil {
		return nil, fmt.Errorf("open failure ledger: %w", err)
	}
	return l, nil
}

// Append adds f and persists the ledger.
func (l *Ledger) Append(f Failure) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, f)
	if err := writeJSON(l.path, l.entries); err != nil {
		return fmt.Errorf("persist failure ledger: %w", err)
	}
	return nil
}

// Len returns the number of recorded failures.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the recorded failures in append order.
func (l *Ledger) Entries() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Failure, len(l.entries))
	copy(out, l.entries)
	return out
}
