package util

import (
	"context"
	"sync"
)

// Event is a one-shot signal that any number of goroutines can wait on.
type Event struct {
	once sync.Once
	c    chan struct{}
}

func NewEvent() *Event {
	return &Event{
		c: make(chan struct{}),
	}
}

// Notify fires the event. Later calls have no effect.
func (e *Event) Notify() {
	e.once.Do(func() { close(e.c) })
}

// Wait blocks until the event fires or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Event) HasBeenNotified() bool {
	select {
	case <-e.c:
		return true
	default:
		return false
	}
}
