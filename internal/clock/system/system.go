// Package system provides the wall clock used outside of tests.
package system

import (
	"context"
	"time"
)

// Clock implements harvest.Clock and harvest.Sleeper using the real time source.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Sleep blocks for d or until ctx is done, returning ctx's error in that case.
func (Clock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
