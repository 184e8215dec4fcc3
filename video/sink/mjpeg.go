package sink

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"motioncam/metrics"
	"motioncam/video/cadence"
	"motioncam/video/source"
)

// MJPEG multi-streaming, based on implementation by saljam:
// https://github.com/saljam/mjpeg/blob/master/stream.go

const boundaryWord = "frame"
const headerf = "\r\n" +
	"--" + boundaryWord + "\r\n" +
	"Content-Type: image/jpeg\r\n" +
	"Content-Length: %d\r\n" +
	"\r\n"
const trailerf = "\r\n" +
	"--" + boundaryWord + "\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Live feed terminated%s.\r\n\r\n"

// FrameSource hands out frames for previews. *source.Camera satisfies it.
type FrameSource interface {
	Recent(maxAge time.Duration) (source.Frame, error)
}

// MJPEGServer streams the live camera to any number of viewers. Each viewer
// runs its own loop, paced by its own Synchronizer, pulling frames from the
// source and pushing JPEG parts down its connection. Viewers never affect
// each other or the detection loop.
type MJPEGServer struct {
	src FrameSource
	fps float64
	// size of the streamed images; zero keeps the source resolution.
	size image.Point
	// clock paces the viewer loops.
	clock cadence.Clock
}

func NewMJPEGServer(src FrameSource, fps float64, size image.Point) *MJPEGServer {
	return &MJPEGServer{
		src:   src,
		fps:   fps,
		size:  size,
		clock: cadence.RealClock,
	}
}

// ServeHTTP implements http.Handler interface, serving MJPEG until the viewer
// disconnects or the request context is cancelled.
func (s *MJPEGServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clog := log.WithField("addr", r.RemoteAddr)
	clog.Info("Live feed viewer connected")
	metrics.LiveViewers.Inc()
	defer func() {
		metrics.LiveViewers.Dec()
		clog.Info("Live feed viewer disconnected")
	}()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundaryWord)
	w.Header().Set("Cache-Control", "no-cache")

	reason := ""
	if err := s.stream(r.Context(), w); err != nil {
		if isDisconnect(err) {
			return
		}
		clog.Errorf("Live feed error: %v", err)
		reason = " due to error: " + err.Error()
	}
	fmt.Fprintf(w, trailerf, reason)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

type disconnectError struct{ err error }

func (e disconnectError) Error() string { return e.err.Error() }

func isDisconnect(err error) bool {
	_, ok := err.(disconnectError)
	return ok
}

// stream runs the viewer loop. It returns nil when ctx is done.
func (s *MJPEGServer) stream(ctx context.Context, w http.ResponseWriter) error {
	flusher, _ := w.(http.Flusher)
	pacer := cadence.NewWithClock(s.fps, s.clock)
	var buf []byte

	for {
		jpeg, err := s.encode(pacer.Period())
		if err != nil {
			return err
		}

		header := fmt.Sprintf(headerf, len(jpeg))
		if cap(buf) < len(header)+len(jpeg) {
			buf = make([]byte, (len(header)+len(jpeg))*2)
		}
		buf = buf[:len(header)+len(jpeg)]
		copy(buf, header)
		copy(buf[len(header):], jpeg)

		if _, err := w.Write(buf); err != nil {
			return disconnectError{err}
		}
		if flusher != nil {
			flusher.Flush()
		}

		last := pacer.Tick()
		tick, err := pacer.Wait(ctx)
		if err != nil {
			return nil
		}
		if skipped := tick - last - 1; skipped > 0 {
			metrics.SkippedTicks.WithLabelValues("livefeed").Add(float64(skipped))
		}
	}
}

// encode fetches a frame no older than one period and encodes it as JPEG.
func (s *MJPEGServer) encode(maxAge time.Duration) ([]byte, error) {
	f, err := s.src.Recent(maxAge)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if s.size != (image.Point{}) && s.size != f.Size() {
		small := source.Resize(f, s.size)
		defer small.Close()
		return encodeJPEG(small.Mat)
	}
	return encodeJPEG(f.Mat)
}

func encodeJPEG(m gocv.Mat) ([]byte, error) {
	nb, err := gocv.IMEncode(gocv.JPEGFileExt, m)
	if err != nil {
		return nil, fmt.Errorf("error encoding to JPG: %w", err)
	}
	defer nb.Close()
	b := nb.GetBytes()
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
