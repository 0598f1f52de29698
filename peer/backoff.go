package peer

import (
	"context"
	"time"
)

const (
	// BackoffBase is the delay after the first failed attempt.
	BackoffBase = 100 * time.Millisecond

	// BackoffCap bounds every delay.
	BackoffCap = 5 * time.Second
)

// Backoff returns the delay that follows failed attempt n (0-indexed):
// min(BackoffBase * 2^n, BackoffCap).
func Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := BackoffBase
	for i := 0; i < n; i++ {
		d *= 2
		if d >= BackoffCap {
			return BackoffCap
		}
	}
	return d
}

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
