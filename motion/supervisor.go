package motion

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Runner is a restartable loop, such as *Handler.
type Runner interface {
	Run(ctx context.Context) error
}

// Supervise runs r until ctx is done, restarting it after failures with
// backoff in between. It gives up after maxRestarts consecutive failures; a
// run that lasted longer than healthy resets the count.
func Supervise(ctx context.Context, r Runner, maxRestarts int, backoff, healthy time.Duration) error {
	failures := 0
	for {
		started := time.Now()
		err := r.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if time.Since(started) >= healthy {
			failures = 0
		}
		failures++
		if failures > maxRestarts {
			return fmt.Errorf("giving up after %d consecutive failures: %w", failures, err)
		}
		log.Errorf("Motion detection failed (%d/%d), restarting in %v: %v", failures, maxRestarts, backoff, err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}
