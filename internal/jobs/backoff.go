package jobs

import (
	"errors"
	"time"

	"github.com/coursecraft/coursecraft-backend/internal/types"
)

// Backoff policy names, stored on each task.
const (
	BackoffExponential = "exponential"
	BackoffGeneration  = "generation"
)

// BackoffConfig carries the retry-delay policy knobs.
type BackoffConfig struct {
	BaseDelay      time.Duration
	CapDelay       time.Duration
	RateLimitFloor time.Duration
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:      10 * time.Second,
		CapDelay:       300 * time.Second,
		RateLimitFloor: 60 * time.Second,
	}
}

// NextDelay computes the delay before the next attempt. The generation policy
// respects externally imposed throttle windows exactly (max of the reported
// retry-after and the floor, independent of attempt count) and falls back to
// exponential backoff for every other failure class.
func (c BackoffConfig) NextDelay(policy string, attemptsMade int, cause error) time.Duration {
	if policy == BackoffGeneration {
		var rle *types.RateLimitError
		if errors.As(cause, &rle) {
			d := rle.RetryAfter
			if d < c.RateLimitFloor {
				d = c.RateLimitFloor
			}
			return d
		}
	}
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	// Shift saturates at the cap well before it could overflow.
	d := c.BaseDelay
	for i := 1; i < attemptsMade; i++ {
		d *= 2
		if d >= c.CapDelay {
			return c.CapDelay
		}
	}
	if d > c.CapDelay {
		d = c.CapDelay
	}
	return d
}
