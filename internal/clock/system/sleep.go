package system

import (
	"context"
	"time"
)

// Sleep pauses for d or until ctx is done, whichever comes first. It returns
// ctx.Err() when the wait was cut short. Non-positive durations return at once.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
