package motion

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"motioncam/metrics"
	"motioncam/video/source"
)

// Reasons a session ends.
const (
	stopTimeout     = "motion_timeout"
	stopMaxDuration = "max_duration"
	stopCommand     = "stop_command"
	stopShutdown    = "shutdown"
	stopFailed      = "write_failed"
	stopCapture     = "capture_failed"
)

// errWriterStalled is returned when the writer did not finalize the recording
// in time. The writer is left to finish on its own.
var errWriterStalled = errors.New("recorder did not finish in time")

// session is one recording. The detection loop owns it and hands frames to a
// writer goroutine, so a slow disk never stalls detection.
type session struct {
	path       string
	start      time.Time
	lastMotion time.Time
	frames     int

	in     chan source.Frame
	failed chan error
	done   chan error
}

func newSession(rec Recorder, path string, now time.Time, backlog int) *session {
	s := &session{
		path:       path,
		start:      now,
		lastMotion: now,
		in:         make(chan source.Frame, backlog),
		failed:     make(chan error, 1),
		done:       make(chan error, 1),
	}
	go s.write(rec)
	return s
}

// write drains the hand-off channel into rec until it is closed. After the
// first write error remaining frames are discarded.
func (s *session) write(rec Recorder) {
	var werr error
	for f := range s.in {
		if werr == nil {
			if werr = rec.WriteFrame(f); werr != nil {
				s.failed <- werr
			}
		}
		f.Close()
	}
	s.done <- rec.Stop()
}

// hand passes a copy of f to the writer. The frame is dropped when the
// writer has fallen a full backlog behind.
func (s *session) hand(f source.Frame) {
	c := f.Clone()
	select {
	case s.in <- c:
		s.frames++
	default:
		c.Close()
		metrics.RecorderFrames.WithLabelValues("backlog").Inc()
		log.WithField("path", s.path).Warn("Recorder is falling behind, dropping frame")
	}
}

// failure returns the write error, if any, without blocking.
func (s *session) failure() error {
	select {
	case err := <-s.failed:
		return err
	default:
		return nil
	}
}

// finish closes the hand-off channel and waits up to timeout for the writer
// to finalize the recording. Zero waits indefinitely.
func (s *session) finish(timeout time.Duration) error {
	close(s.in)
	if timeout <= 0 {
		return <-s.done
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-s.done:
		return err
	case <-t.C:
		return errWriterStalled
	}
}
