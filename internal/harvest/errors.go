package harvest

import "errors"

var (
	// ErrMissingLink reports an entry without any link to a downloadable artifact.
	ErrMissingLink = errors.New("no download link found")
	// ErrSourceUnavailable reports that a catalog session could not be opened.
	ErrSourceUnavailable = errors.New("catalog source unavailable")
)

// Failure causes written to the ledger.
const (
	causeMissingLink = "no download link found"
	causeTimeout     = "download timeout"
	causeFailedFmt   = "download failed: %v"
)
