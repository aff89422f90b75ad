package crawler

import (
	"context"
	"time"
)

// Pauser abstracts how the pipeline waits between requests and retries.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// TimerPauser sleeps on a timer and returns early when the context ends.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
