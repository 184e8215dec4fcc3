package source

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"motioncam/metrics"
)

// Camera serialises access to a single Device. Every caller gets its own
// Frame; exactly one driver read is in flight at a time.
type Camera struct {
	dev Device
	now func() time.Time

	// mu guards the driver.
	mu     sync.Mutex
	closed bool

	// latestMu guards latest, the most recent frame, which may carry overlays
	// published by the detection loop.
	latestMu sync.Mutex
	latest   *Frame
}

// NewCamera wraps dev.
func NewCamera(dev Device) *Camera {
	return &Camera{
		dev: dev,
		now: time.Now,
	}
}

// Capture reads one frame from the driver at native resolution. Driver
// faults are returned as *CaptureError and are not retried.
func (c *Camera) Capture() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Frame{}, &CaptureError{Err: ErrClosed}
	}

	m := gocv.NewMat()
	if ok := c.dev.Read(&m); !ok {
		m.Close()
		return Frame{}, &CaptureError{Err: errors.New("driver read failed")}
	}
	if m.Empty() {
		m.Close()
		return Frame{}, &CaptureError{Err: errors.New("driver returned an empty image")}
	}
	metrics.FramesCaptured.Inc()

	f := Frame{Mat: m, Time: c.now()}
	c.Publish(f.Clone())
	return f, nil
}

// Publish replaces the most recent frame with f, e.g. a copy carrying a
// motion overlay. The camera takes ownership of f.
func (c *Camera) Publish(f Frame) {
	c.latestMu.Lock()
	defer c.latestMu.Unlock()
	if c.latest != nil {
		c.latest.Close()
	}
	c.latest = &f
}

// Recent returns a copy of the most recent frame if it is younger than
// maxAge, and captures a new one otherwise. Preview loops use it so they do
// not steal frames from the driver while the detection loop is capturing.
func (c *Camera) Recent(maxAge time.Duration) (Frame, error) {
	c.latestMu.Lock()
	if c.latest != nil && c.now().Sub(c.latest.Time) < maxAge {
		f := c.latest.Clone()
		c.latestMu.Unlock()
		return f, nil
	}
	c.latestMu.Unlock()
	return c.Capture()
}

// Close releases the driver. Subsequent captures fail with ErrClosed.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.latestMu.Lock()
	if c.latest != nil {
		c.latest.Close()
		c.latest = nil
	}
	c.latestMu.Unlock()

	log.Info("Releasing camera")
	return c.dev.Close()
}
