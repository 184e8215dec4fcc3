package source

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

// fakeDevice produces uniform frames whose value increments on every read.
type fakeDevice struct {
	w, h     int
	value    int32
	fail     atomic.Bool
	inflight int32
	overlap  atomic.Bool
	closed   atomic.Bool
}

func (d *fakeDevice) Read(m *gocv.Mat) bool {
	if atomic.AddInt32(&d.inflight, 1) > 1 {
		d.overlap.Store(true)
	}
	defer atomic.AddInt32(&d.inflight, -1)
	time.Sleep(time.Millisecond)

	if d.fail.Load() {
		return false
	}
	v := float64(atomic.AddInt32(&d.value, 1) % 256)
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), d.h, d.w, gocv.MatTypeCV8UC3)
	defer src.Close()
	src.CopyTo(m)
	return true
}

func (d *fakeDevice) Close() error {
	d.closed.Store(true)
	return nil
}

func TestCaptureNativeResolution(t *testing.T) {
	dev := &fakeDevice{w: 1296, h: 972}
	cam := NewCamera(dev)
	defer cam.Close()

	f, err := cam.Capture()
	if err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	defer f.Close()
	if got := f.Size(); got != image.Pt(1296, 972) {
		t.Errorf("Size() = %v, want 1296x972", got)
	}
	if f.Time.IsZero() {
		t.Error("frame has no capture time")
	}
}

func TestCaptureDriverFault(t *testing.T) {
	dev := &fakeDevice{w: 8, h: 8}
	dev.fail.Store(true)
	cam := NewCamera(dev)
	defer cam.Close()

	_, err := cam.Capture()
	var ce *CaptureError
	if !errors.As(err, &ce) {
		t.Fatalf("Capture() error = %v, want *CaptureError", err)
	}
}

func TestCaptureAfterClose(t *testing.T) {
	dev := &fakeDevice{w: 8, h: 8}
	cam := NewCamera(dev)
	if err := cam.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if !dev.closed.Load() {
		t.Error("device not closed")
	}
	_, err := cam.Capture()
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Capture() after Close error = %v, want ErrClosed", err)
	}
	// Idempotent.
	if err := cam.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestConcurrentCapturesAreSerialised(t *testing.T) {
	dev := &fakeDevice{w: 16, h: 12}
	cam := NewCamera(dev)
	defer cam.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				f, err := cam.Capture()
				if err != nil {
					t.Errorf("Capture() failed: %v", err)
					return
				}
				f.Close()
			}
		}()
	}
	wg.Wait()

	if dev.overlap.Load() {
		t.Error("driver saw overlapping reads")
	}
	if got := atomic.LoadInt32(&dev.value); got != 40 {
		t.Errorf("driver reads = %d, want 40", got)
	}
}

func TestRecentReusesFreshFrame(t *testing.T) {
	dev := &fakeDevice{w: 8, h: 8}
	cam := NewCamera(dev)
	defer cam.Close()

	f, err := cam.Capture()
	if err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	f.Close()

	r, err := cam.Recent(time.Hour)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	defer r.Close()
	if got := atomic.LoadInt32(&dev.value); got != 1 {
		t.Errorf("driver reads = %d, want 1 (frame should be reused)", got)
	}
	if v := r.Mat.GetUCharAt(0, 0); v != 1 {
		t.Errorf("pixel = %d, want 1", v)
	}

	s, err := cam.Recent(0)
	if err != nil {
		t.Fatalf("Recent(0) failed: %v", err)
	}
	defer s.Close()
	if got := atomic.LoadInt32(&dev.value); got != 2 {
		t.Errorf("driver reads = %d, want 2 (stale frame should be recaptured)", got)
	}
}

func TestPublishIsVisibleToRecent(t *testing.T) {
	dev := &fakeDevice{w: 8, h: 8}
	cam := NewCamera(dev)
	defer cam.Close()

	f, err := cam.Capture()
	if err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	defer f.Close()

	marked := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 200, 200, 0), 8, 8, gocv.MatTypeCV8UC3)
	cam.Publish(Frame{Mat: marked, Time: f.Time})

	r, err := cam.Recent(time.Hour)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	defer r.Close()
	if v := r.Mat.GetUCharAt(0, 0); v != 200 {
		t.Errorf("pixel = %d, want published value 200", v)
	}
}

func TestResize(t *testing.T) {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(9, 9, 9, 0), 972, 1296, gocv.MatTypeCV8UC3)
	f := Frame{Mat: m, Time: time.Now()}
	defer f.Close()

	small := Resize(f, image.Pt(320, 240))
	defer small.Close()
	if got := small.Size(); got != image.Pt(320, 240) {
		t.Errorf("Resize() size = %v, want 320x240", got)
	}
	if !small.Time.Equal(f.Time) {
		t.Error("Resize() dropped the capture time")
	}

	same := Resize(f, image.Point{})
	defer same.Close()
	if got := same.Size(); got != f.Size() {
		t.Errorf("Resize(zero) size = %v, want %v", got, f.Size())
	}
}
