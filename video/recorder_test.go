package video

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"motioncam/video/sink"
	"motioncam/video/source"
)

type countingSink struct {
	puts   int
	closed int
	fail   error
}

func (s *countingSink) Put(source.Frame) error {
	if s.fail != nil {
		return s.fail
	}
	s.puts++
	return nil
}

func (s *countingSink) Close() error {
	s.closed++
	return nil
}

type fakeProducer struct {
	opened  []string
	sinks   []*countingSink
	openErr error
	putErr  error
}

func (p *fakeProducer) New(path string) (sink.Sink, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	p.opened = append(p.opened, path)
	s := &countingSink{fail: p.putErr}
	p.sinks = append(p.sinks, s)
	return s, nil
}

// testClock is advanced manually by the tests.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newTestRecorder(p sink.Producer) (*Recorder, *testClock) {
	c := &testClock{t: time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)}
	r := NewRecorder(p, RecorderOptions{FPS: 10, Label: "test"})
	r.now = c.now
	return r, c
}

func testFrame(t time.Time) source.Frame {
	return source.Frame{
		Mat:  gocv.NewMatWithSizeFromScalar(gocv.NewScalar(50, 60, 70, 0), 120, 160, gocv.MatTypeCV8UC3),
		Time: t,
	}
}

func TestRecorderLifecycle(t *testing.T) {
	p := &fakeProducer{}
	r, clock := newTestRecorder(p)
	r.SetSaving(true)

	if err := r.Start("/clips/a.mp4"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if len(p.opened) != 1 {
		t.Fatalf("sink opened %d times, want 1", len(p.opened))
	}
	if err := r.Start("/clips/b.mp4"); err == nil {
		t.Error("second Start() succeeded while recording")
	}

	for i := 0; i < 5; i++ {
		clock.t = clock.t.Add(100 * time.Millisecond)
		f := testFrame(clock.t)
		if err := r.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame() failed: %v", err)
		}
		f.Close()
	}
	if got := r.Elapsed(); got != 500*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 500ms", got)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
	s := p.sinks[0]
	if s.closed != 1 {
		t.Errorf("sink closed %d times, want 1", s.closed)
	}
	if s.puts != 5 {
		t.Errorf("sink got %d frames, want 5", s.puts)
	}
	if r.Elapsed() != 0 {
		t.Error("Elapsed() non-zero after Stop()")
	}
	f := testFrame(clock.t)
	defer f.Close()
	if err := r.WriteFrame(f); !errors.Is(err, ErrNotRecording) {
		t.Errorf("WriteFrame() after Stop() = %v, want ErrNotRecording", err)
	}
}

func TestRecorderNoSaveWritesNothing(t *testing.T) {
	p := &fakeProducer{}
	r, clock := newTestRecorder(p)
	r.SetSaving(false)

	if err := r.Start("/clips/a.mp4"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		clock.t = clock.t.Add(100 * time.Millisecond)
		f := testFrame(clock.t)
		if err := r.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame() failed: %v", err)
		}
		f.Close()
	}
	if got := r.Elapsed(); got != 300*time.Millisecond {
		t.Errorf("Elapsed() = %v, timers must run without saving", got)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if len(p.opened) != 0 {
		t.Errorf("sink opened for %v with saving disabled", p.opened)
	}
}

func TestRecorderSavingEnabledMidRecording(t *testing.T) {
	p := &fakeProducer{}
	r, clock := newTestRecorder(p)

	if err := r.Start("/clips/a.mp4"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	write := func() {
		clock.t = clock.t.Add(100 * time.Millisecond)
		f := testFrame(clock.t)
		defer f.Close()
		if err := r.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame() failed: %v", err)
		}
	}
	write()
	r.SetSaving(true)
	write()
	write()
	r.SetSaving(false)
	write()
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	if len(p.opened) != 1 || p.opened[0] != "/clips/a.mp4" {
		t.Fatalf("opened %v, want the session path once", p.opened)
	}
	if p.sinks[0].puts != 2 {
		t.Errorf("sink got %d frames, want 2", p.sinks[0].puts)
	}
}

func TestRecorderOpenError(t *testing.T) {
	p := &fakeProducer{openErr: os.ErrPermission}
	r, _ := newTestRecorder(p)
	r.SetSaving(true)

	err := r.Start("/mnt/nas/a.mp4")
	var oe *RecorderOpenError
	if !errors.As(err, &oe) {
		t.Fatalf("Start() error = %v, want *RecorderOpenError", err)
	}
	if oe.Path != "/mnt/nas/a.mp4" || !errors.Is(err, os.ErrPermission) {
		t.Errorf("unexpected error %v", err)
	}
	if r.Elapsed() != 0 {
		t.Error("recording active after failed Start()")
	}
}

func TestRecorderWriteError(t *testing.T) {
	p := &fakeProducer{putErr: errors.New("no space left on device")}
	r, clock := newTestRecorder(p)
	r.SetSaving(true)

	if err := r.Start("/clips/a.mp4"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	f := testFrame(clock.t)
	defer f.Close()
	var we *RecorderWriteError
	if err := r.WriteFrame(f); !errors.As(err, &we) {
		t.Fatalf("WriteFrame() error = %v, want *RecorderWriteError", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if p.sinks[0].closed != 1 {
		t.Error("sink not closed after write failure")
	}
}

func TestRecorderOpenCVClip(t *testing.T) {
	dir := t.TempDir()
	prod, err := NewSinkProducer(SinkProducerOptions{
		Encoder:       EncoderOpenCV,
		FFmpegOptions: sink.FFmpegOptions{Size: image.Pt(160, 120), FPS: 10},
	})
	if err != nil {
		t.Fatalf("NewSinkProducer() failed: %v", err)
	}
	r, clock := newTestRecorder(prod)
	r.SetSaving(true)

	path := filepath.Join(dir, "clip.mp4")
	if err := r.Start(path); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		f := testFrame(clock.t)
		if err := r.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame() failed: %v", err)
		}
		f.Close()
		clock.t = clock.t.Add(100 * time.Millisecond)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("clip not written: %v", err)
	}
	if fi.Size() == 0 {
		t.Error("clip is empty")
	}
}

func TestNewSinkProducerUnknownEncoder(t *testing.T) {
	if _, err := NewSinkProducer(SinkProducerOptions{Encoder: "gstreamer"}); err == nil {
		t.Error("NewSinkProducer() accepted an unknown encoder")
	}
}

// stalledProducer blocks in New until release is closed, like an open on a
// hung network share.
type stalledProducer struct {
	entered chan struct{}
	release chan struct{}
	closed  chan struct{}
}

func (p *stalledProducer) New(string) (sink.Sink, error) {
	close(p.entered)
	<-p.release
	return p, nil
}

func (p *stalledProducer) Put(source.Frame) error { return nil }

func (p *stalledProducer) Close() error {
	close(p.closed)
	return nil
}

func TestRecorderStalledOpen(t *testing.T) {
	p := &stalledProducer{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		closed:  make(chan struct{}),
	}
	r, clock := newTestRecorder(p)
	r.opts.OpenTimeout = 2 * time.Second

	if err := r.Start("/mnt/nas/a.mp4"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	clock.t = clock.t.Add(time.Second)
	r.SetSaving(true)

	written := make(chan error, 1)
	go func() {
		f := testFrame(clock.t)
		defer f.Close()
		written <- r.WriteFrame(f)
	}()

	<-p.entered
	elapsed := make(chan time.Duration, 1)
	go func() { elapsed <- r.Elapsed() }()
	select {
	case d := <-elapsed:
		if d != time.Second {
			t.Errorf("Elapsed() = %v, want 1s", d)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Elapsed() blocked while the output was opening")
	}

	select {
	case err := <-written:
		var we *RecorderWriteError
		if !errors.As(err, &we) || !errors.Is(err, ErrOpenTimeout) {
			t.Errorf("WriteFrame() = %v, want *RecorderWriteError wrapping ErrOpenTimeout", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WriteFrame() not bounded by OpenTimeout")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop() blocked after a stalled open")
	}

	// The share recovers; the late sink is closed, not leaked.
	close(p.release)
	select {
	case <-p.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("late sink never closed")
	}
	if r.Elapsed() != 0 {
		t.Error("recording active after Stop()")
	}
}
