// Package cadence paces sampling loops to a fixed rate.
package cadence

import (
	"context"
	"time"
)

// OverrunFactor is the number of periods a caller may fall behind before
// missed ticks are skipped instead of being caught up one at a time.
const OverrunFactor = 2

// Clock abstracts the passage of time so loops can be driven in tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Synchronizer schedules ticks at epoch + n*period, where epoch is fixed at
// construction. Waking relative to the epoch rather than the previous wake
// time keeps the cadence free of cumulative drift.
type Synchronizer struct {
	period time.Duration
	epoch  time.Time
	tick   int64
	clock  Clock
}

// New creates a Synchronizer running at fps ticks per second on the wall clock.
func New(fps float64) *Synchronizer {
	return NewWithClock(fps, RealClock)
}

// NewWithClock creates a Synchronizer driven by clock. Tick 0 is "now".
func NewWithClock(fps float64, clock Clock) *Synchronizer {
	if fps <= 0 {
		fps = 1
	}
	return &Synchronizer{
		period: time.Duration(float64(time.Second) / fps),
		epoch:  clock.Now(),
		clock:  clock,
	}
}

// Period is the time between two ticks.
func (s *Synchronizer) Period() time.Duration {
	return s.period
}

// Tick returns the index of the last tick reached.
func (s *Synchronizer) Tick() int64 {
	return s.tick
}

func (s *Synchronizer) boundary(n int64) time.Time {
	return s.epoch.Add(time.Duration(n) * s.period)
}

// Wait blocks until the next tick boundary and returns its index.
//
// A caller that is late by less than OverrunFactor periods gets the next tick
// without sleeping. A caller that is later than that has overrun: Wait does
// not sleep and jumps to the first boundary still in the future, so the
// returned index increases by more than one. The only error is the
// cancellation of ctx.
func (s *Synchronizer) Wait(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return s.tick, err
	}
	now := s.clock.Now()
	elapsed := now.Sub(s.boundary(s.tick))

	switch {
	case elapsed < s.period:
		next := s.boundary(s.tick + 1)
		if err := s.clock.Sleep(ctx, next.Sub(now)); err != nil {
			return s.tick, err
		}
		s.tick++
	case elapsed < OverrunFactor*s.period:
		s.tick++
	default:
		s.tick = int64(now.Sub(s.epoch)/s.period) + 1
	}
	return s.tick, nil
}
