package video

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pillash/mp4util"
	log "github.com/sirupsen/logrus"

	"motioncam/metrics"
	"motioncam/video/process"
	"motioncam/video/sink"
	"motioncam/video/source"
)

// ErrNotRecording is returned when writing without an active recording.
var ErrNotRecording = errors.New("no active recording")

// ErrOpenTimeout is returned when the output could not be opened within
// OpenTimeout, e.g. because the output directory is a stalled network share.
var ErrOpenTimeout = errors.New("timed out opening video file")

// RecorderOpenError reports that the output sink could not be opened, e.g.
// because the output directory is an unmounted network share.
type RecorderOpenError struct {
	Path string
	Err  error
}

func (e *RecorderOpenError) Error() string {
	return fmt.Sprintf("cannot open video file %s: %v", e.Path, e.Err)
}

func (e *RecorderOpenError) Unwrap() error { return e.Err }

// RecorderWriteError reports an I/O fault while appending a frame.
type RecorderWriteError struct {
	Path string
	Err  error
}

func (e *RecorderWriteError) Error() string {
	return fmt.Sprintf("error writing to video file %s: %v", e.Path, e.Err)
}

func (e *RecorderWriteError) Unwrap() error { return e.Err }

type RecorderOptions struct {
	// FPS is the frame rate of the output file.
	FPS int
	// Label is burned into every recorded frame next to the capture time.
	Label string
	// OpenTimeout bounds how long opening the output may take. Zero waits
	// indefinitely.
	OpenTimeout time.Duration
}

// Recorder owns at most one output file at a time. Saving can be switched off
// independently of recording: the recording keeps running, with its timers,
// but frames are dropped. The file is only opened once a frame has to be
// saved, so a recording that never saves leaves nothing on disk.
//
// Start is called by the owner of the recording lifecycle; WriteFrame and
// Stop by the goroutine writing frames. SetSaving and Elapsed may be called
// from anywhere.
type Recorder struct {
	producer sink.Producer
	opts     RecorderOptions
	now      func() time.Time

	saving atomic.Bool

	l       sync.Mutex
	active  bool
	opening bool
	path    string
	out     sink.Sink
	start   time.Time
	frames  int
	dropped int
}

func NewRecorder(p sink.Producer, o RecorderOptions) *Recorder {
	return &Recorder{
		producer: p,
		opts:     o,
		now:      time.Now,
	}
}

// SetSaving enables or disables persisting frames.
func (r *Recorder) SetSaving(on bool) {
	if r.saving.Swap(on) != on {
		log.Debugf("Recorder saving set to %v", on)
	}
}

type openResult struct {
	s   sink.Sink
	err error
}

// open creates the output sink. It must be called without holding r.l. A
// sink that opens after the timeout expired is closed as soon as it arrives.
func (r *Recorder) open(path string) (sink.Sink, error) {
	res := make(chan openResult, 1)
	go func() {
		s, err := r.producer.New(path)
		res <- openResult{s, err}
	}()

	var timeout <-chan time.Time
	if r.opts.OpenTimeout > 0 {
		t := time.NewTimer(r.opts.OpenTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case o := <-res:
		if o.err != nil {
			return nil, &RecorderOpenError{Path: path, Err: o.err}
		}
		// Ensure video is output with constant FPS.
		return sink.NewFPSNormalize(o.s, r.opts.FPS), nil
	case <-timeout:
		go func() {
			if o := <-res; o.err == nil {
				if err := o.s.Close(); err != nil {
					log.WithField("path", path).Warnf("Error closing late video file: %v", err)
				}
			}
		}()
		return nil, &RecorderOpenError{Path: path, Err: ErrOpenTimeout}
	}
}

// Start begins a recording to path. When saving is enabled the sink is opened
// immediately and a failure is returned as *RecorderOpenError.
func (r *Recorder) Start(path string) error {
	r.l.Lock()
	if r.active || r.opening {
		defer r.l.Unlock()
		return fmt.Errorf("already recording to %s", r.path)
	}
	r.opening = true
	r.l.Unlock()

	var out sink.Sink
	var err error
	if r.saving.Load() {
		out, err = r.open(path)
	}

	r.l.Lock()
	defer r.l.Unlock()
	r.opening = false
	if err != nil {
		return err
	}
	r.active = true
	r.path = path
	r.out = out
	r.start = r.now()
	r.frames = 0
	r.dropped = 0
	log.WithField("path", path).Info("Recording started")
	return nil
}

// WriteFrame appends f to the recording, drawing the timestamp onto it. While
// saving is disabled the frame is dropped.
func (r *Recorder) WriteFrame(f source.Frame) error {
	r.l.Lock()
	if !r.active {
		r.l.Unlock()
		return ErrNotRecording
	}
	if !r.saving.Load() {
		r.dropped++
		r.l.Unlock()
		metrics.RecorderFrames.WithLabelValues("dropped").Inc()
		return nil
	}
	path := r.path
	if r.out == nil {
		// Elapsed and SetSaving stay responsive while the output opens.
		r.opening = true
		r.l.Unlock()
		out, err := r.open(path)
		r.l.Lock()
		r.opening = false
		if err != nil {
			r.l.Unlock()
			metrics.RecorderFrames.WithLabelValues("failed").Inc()
			return &RecorderWriteError{Path: path, Err: err}
		}
		if !r.active || r.path != path {
			r.l.Unlock()
			out.Close()
			return ErrNotRecording
		}
		r.out = out
	}
	out := r.out
	r.l.Unlock()

	process.DrawTimestamp(r.opts.Label, f)
	if err := out.Put(f); err != nil {
		metrics.RecorderFrames.WithLabelValues("failed").Inc()
		return &RecorderWriteError{Path: path, Err: err}
	}
	metrics.RecorderFrames.WithLabelValues("written").Inc()

	r.l.Lock()
	r.frames++
	r.l.Unlock()
	return nil
}

// Stop finalizes and closes the output. It is a no-op when not recording.
func (r *Recorder) Stop() error {
	r.l.Lock()
	if !r.active {
		r.l.Unlock()
		return nil
	}
	r.active = false
	out, path := r.out, r.path
	r.out = nil
	duration := r.now().Sub(r.start)
	frames, dropped := r.frames, r.dropped
	r.l.Unlock()

	var err error
	if out != nil {
		err = out.Close()
	}

	rlog := log.WithField("path", path)
	fps := 0.0
	if duration > 0 {
		fps = float64(frames) / duration.Seconds()
	}
	rlog.Infof("Recording completed in %.2f seconds, %d frames (%d dropped). Effective FPS: %.2f.",
		duration.Seconds(), frames, dropped, fps)

	if out != nil && err == nil {
		if secs, perr := mp4util.Duration(path); perr != nil {
			rlog.Debugf("Unable to probe clip duration: %v", perr)
		} else {
			rlog.Debugf("Clip duration is %ds", secs)
		}
	}
	return err
}

// Elapsed is the wall clock time since Start, zero when not recording.
func (r *Recorder) Elapsed() time.Duration {
	r.l.Lock()
	defer r.l.Unlock()
	if !r.active {
		return 0
	}
	return r.now().Sub(r.start)
}

// RecorderStats counts the frames of the current or last recording.
type RecorderStats struct {
	Written int
	Dropped int
}

func (r *Recorder) Stats() RecorderStats {
	r.l.Lock()
	defer r.l.Unlock()
	return RecorderStats{Written: r.frames, Dropped: r.dropped}
}
