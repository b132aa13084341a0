package state

import "fmt"

// Totals is the cached catalog size captured once per run.
type Totals struct {
	TotalReports int `json:"total_reports"`
}

// TotalsFile stores the cached count as JSON.
type TotalsFile struct {
	path string
}

// NewTotalsFile returns a store backed by path.
func NewTotalsFile(path string) *TotalsFile {
	return &TotalsFile{path: path}
}

// Load returns the cached count and whether one was stored.
func (f *TotalsFile) Load() (int, bool, error) {
	var t Totals
	found, err := readJSON(f.path, &t)
	if err != nil {
		return 0, false, fmt.Errorf("load total count: %w", err)
	}
	return t.TotalReports, found, nil
}

// Save overwrites the cached count.
func (f *TotalsFile) Save(total int) error {
	if err := writeJSON(f.path, Totals{TotalReports: total}); err != nil {
		return fmt.Errorf("save total count: %w", err)
	}
	return nil
}
