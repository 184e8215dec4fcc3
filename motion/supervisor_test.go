package motion

import (
	"context"
	"errors"
	"testing"
	"time"

	"motioncam/video/source"
)

type failingRunner struct {
	runs int
	err  error
	// stopAfter cancels the context on that run.
	stopAfter int
	cancel    context.CancelFunc
}

func (r *failingRunner) Run(ctx context.Context) error {
	r.runs++
	if r.stopAfter > 0 && r.runs == r.stopAfter {
		r.cancel()
		return nil
	}
	return r.err
}

func TestSuperviseGivesUp(t *testing.T) {
	r := &failingRunner{err: &source.CaptureError{Err: errors.New("unplugged")}}
	err := Supervise(context.Background(), r, 3, time.Millisecond, time.Hour)
	var ce *source.CaptureError
	if !errors.As(err, &ce) {
		t.Fatalf("Supervise() = %v, want the capture error", err)
	}
	if r.runs != 4 {
		t.Errorf("ran %d times, want 1 + 3 restarts", r.runs)
	}
}

func TestSuperviseStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &failingRunner{err: errors.New("flaky"), stopAfter: 2, cancel: cancel}
	if err := Supervise(ctx, r, 5, time.Millisecond, time.Hour); err != nil {
		t.Errorf("Supervise() = %v after shutdown", err)
	}
	if r.runs != 2 {
		t.Errorf("ran %d times, want 2", r.runs)
	}
}

func TestSuperviseResetsAfterHealthyRun(t *testing.T) {
	r := &failingRunner{err: errors.New("flaky")}
	// Every run counts as healthy, so the limit is never reached before the
	// context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := Supervise(ctx, r, 1, time.Millisecond, 0); err != nil {
		t.Errorf("Supervise() = %v", err)
	}
	if r.runs < 3 {
		t.Errorf("ran %d times, expected restarts to continue", r.runs)
	}
}
