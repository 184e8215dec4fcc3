// Package motion runs the detection loop: it compares sampled frames against
// a rolling reference and drives the video recorder while motion persists.
package motion

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"motioncam/metrics"
	"motioncam/video/cadence"
	"motioncam/video/process"
	"motioncam/video/source"
)

// Camera provides frames to the detection loop. *source.Camera satisfies it.
type Camera interface {
	Capture() (source.Frame, error)
	// Publish shares a processed frame, e.g. one carrying the motion overlay,
	// with the live feed.
	Publish(source.Frame)
}

// Recorder writes sessions to disk. *video.Recorder satisfies it.
type Recorder interface {
	Start(path string) error
	WriteFrame(source.Frame) error
	Stop() error
	Elapsed() time.Duration
	SetSaving(bool)
}

// Flags are the operator controlled switches, read once per cycle.
// *control.State satisfies it.
type Flags interface {
	Capturing() bool
	Saving() bool
}

// PathFunc returns a unique output path for a session started at t.
type PathFunc func(t time.Time) string

type Options struct {
	// MSEThreshold is the mean squared error above which an evaluated frame
	// counts as motion.
	MSEThreshold float64
	// MotionTimeout ends a session after this long without motion.
	MotionTimeout time.Duration
	// MaxDuration caps the length of a single session.
	MaxDuration time.Duration
	SampleFPS   float64
	// ReferenceSkipFrames is the number of frames captured but not evaluated
	// after each evaluated frame.
	ReferenceSkipFrames int
	// DetectSize is the resolution frames are compared at.
	DetectSize image.Point
	// FrameSize is the resolution frames are recorded at. Zero keeps the
	// camera resolution.
	FrameSize image.Point
	// Backlog is the number of frames that may queue for the recorder before
	// frames are dropped. Defaults to two seconds worth.
	Backlog int
	// FinishTimeout bounds how long ending a session waits for the recorder
	// to finalize the file. Zero waits indefinitely.
	FinishTimeout time.Duration
}

// Handler is the single owner of the detection state machine. All state is
// confined to the goroutine calling Run; State may be read from anywhere.
type Handler struct {
	cam     Camera
	rec     Recorder
	flags   Flags
	newPath PathFunc
	opts    Options
	clock   cadence.Clock

	state atomic.Int32

	listenersMu sync.Mutex
	listeners   []Listener

	reference gocv.Mat
	skip      int
	// pending is set when the last evaluated frame showed motion; it is
	// applied to the next captured frame.
	pending bool
	session *session
}

func NewHandler(cam Camera, rec Recorder, flags Flags, newPath PathFunc, opts Options) *Handler {
	if opts.Backlog <= 0 {
		opts.Backlog = int(2*opts.SampleFPS) + 1
	}
	return &Handler{
		cam:       cam,
		rec:       rec,
		flags:     flags,
		newPath:   newPath,
		opts:      opts,
		clock:     cadence.RealClock,
		reference: gocv.NewMat(),
	}
}

// AddListener registers l for state transitions.
func (h *Handler) AddListener(l Listener) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, l)
}

// State returns the current state.
func (h *Handler) State() State {
	return State(h.state.Load())
}

func (h *Handler) setState(s State) {
	if State(h.state.Swap(int32(s))) == s {
		return
	}
	log.WithField("state", s).Debug("Motion handler state changed")
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	for _, l := range h.listeners {
		l.StateChanged(s)
	}
}

// Run samples the camera at SampleFPS until ctx is done or a capture fails.
// A capture error is returned so the caller can decide whether to restart.
// Any active session is finalized before Run returns. Run must not be called
// concurrently.
func (h *Handler) Run(ctx context.Context) error {
	log.Infof("Motion detection running at %.0f fps", h.opts.SampleFPS)
	pacer := cadence.NewWithClock(h.opts.SampleFPS, h.clock)

	for {
		if err := h.cycle(); err != nil {
			h.endSession(stopCapture)
			h.reset()
			h.setState(Idle)
			return err
		}

		last := pacer.Tick()
		tick, err := pacer.Wait(ctx)
		if err != nil {
			h.endSession(stopShutdown)
			h.reset()
			h.setState(Idle)
			log.Info("Camera capture terminated")
			return nil
		}
		if skipped := tick - last - 1; skipped > 0 {
			metrics.SkippedTicks.WithLabelValues("detection").Add(float64(skipped))
			log.Debugf("Detection loop overran, skipped %d ticks", skipped)
		}
	}
}

// cycle processes one tick. Control flags are sampled once at its start.
func (h *Handler) cycle() error {
	capturing := h.flags.Capturing()
	h.rec.SetSaving(h.flags.Saving())

	if !capturing {
		h.endSession(stopCommand)
		h.reset()
		h.setState(Idle)
		return nil
	}
	if h.State() == Idle {
		h.setState(ReferenceCapture)
	}

	raw, err := h.cam.Capture()
	if err != nil {
		return err
	}
	frame := source.Resize(raw, h.opts.FrameSize)
	raw.Close()
	defer frame.Close()

	// Motion found by the previous evaluation is handled on this frame,
	// after it has been evaluated without the overlay.
	motion := h.pending
	h.pending = false
	if err := h.evaluate(frame); err != nil {
		log.Warnf("Skipping motion evaluation: %v", err)
	}
	if motion {
		h.onMotion(frame)
	}

	if s := h.session; s != nil {
		if err := s.failure(); err != nil {
			log.WithField("path", s.path).Errorf("Aborting recording: %v", err)
			h.endSession(stopFailed)
			h.setState(Monitoring)
			return nil
		}
		s.hand(frame)
		h.checkStop()
	}
	return nil
}

// onMotion overlays the alert on frame and makes sure a session is running.
func (h *Handler) onMotion(frame source.Frame) {
	process.DrawMotionAlert(&frame.Mat)
	h.cam.Publish(frame.Clone())

	now := h.clock.Now()
	if h.session != nil {
		h.session.lastMotion = now
		return
	}

	path := h.newPath(now)
	if err := h.rec.Start(path); err != nil {
		log.WithField("path", path).Errorf("Unable to start recording: %v", err)
		return
	}
	h.session = newSession(h.rec, path, now, h.opts.Backlog)
	metrics.SessionsStarted.Inc()
	h.setState(Recording)
}

// evaluate compares frame with the reference unless it falls within the
// skipped frames. The evaluated frame becomes the next reference.
func (h *Handler) evaluate(frame source.Frame) error {
	if h.skip > 0 {
		h.skip--
		return nil
	}
	gray, err := process.Grayscale(frame, h.opts.DetectSize)
	if err != nil {
		return err
	}
	h.skip = h.opts.ReferenceSkipFrames

	if h.reference.Empty() {
		h.reference.Close()
		h.reference = gray
		if h.State() == ReferenceCapture {
			h.setState(Monitoring)
		}
		return nil
	}

	mse, err := process.MSE(h.reference, gray)
	h.reference.Close()
	h.reference = gray
	if err != nil {
		return err
	}
	metrics.MSE.Set(mse)

	if mse > h.opts.MSEThreshold {
		metrics.MotionEvents.Inc()
		h.pending = true
	}
	log.Debugf("MSE: %.2f%s%s", mse, mark(h.pending, " - Motion"), mark(h.session != nil, " - Recording"))
	return nil
}

func mark(b bool, s string) string {
	if b {
		return s
	}
	return ""
}

func (h *Handler) checkStop() {
	s := h.session
	now := h.clock.Now()
	switch {
	case now.Sub(s.lastMotion) >= h.opts.MotionTimeout:
		log.Infof("No motion detected for %v. Stopping recording.", h.opts.MotionTimeout)
		h.endSession(stopTimeout)
		h.setState(Monitoring)
	case h.rec.Elapsed() >= h.opts.MaxDuration:
		log.Info("Maximum segment duration reached. Stopping recording.")
		h.endSession(stopMaxDuration)
		h.setState(Monitoring)
	}
}

// endSession finalizes the active session, if any. The caller picks the next
// state.
func (h *Handler) endSession(reason string) {
	s := h.session
	if s == nil {
		return
	}
	h.session = nil
	slog := log.WithFields(log.Fields{"path": s.path, "reason": reason})
	if err := s.finish(h.opts.FinishTimeout); err != nil {
		slog.Errorf("Error finalizing recording: %v", err)
	} else {
		slog.Info("Recording finished")
	}
	metrics.SessionsFinished.WithLabelValues(reason).Inc()
}

// reset drops the reference so detection starts over on the next capture.
func (h *Handler) reset() {
	h.reference.Close()
	h.reference = gocv.NewMat()
	h.skip = 0
	h.pending = false
}
