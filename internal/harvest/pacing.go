package harvest

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// RandomPacer sleeps for a uniformly random duration within the requested range.
type RandomPacer struct {
	sleeper Sleeper
}

// NewRandomPacer returns a pacer that sleeps through s.
func NewRandomPacer(s Sleeper) *RandomPacer {
	return &RandomPacer{sleeper: s}
}

// Pause waits between minDelay and maxDelay. It returns ctx's error when the
// wait is interrupted.
func (p *RandomPacer) Pause(ctx context.Context, minDelay, maxDelay time.Duration) error {
	return p.sleeper.Sleep(ctx, jitter(minDelay, maxDelay))
}

func jitter(minDelay, maxDelay time.Duration) time.Duration {
	if maxDelay <= minDelay {
		return minDelay
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxDelay-minDelay)+1))
	if err != nil {
		return minDelay
	}
	return minDelay + time.Duration(n.Int64())
}
