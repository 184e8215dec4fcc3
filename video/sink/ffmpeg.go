package sink

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"motioncam/video/source"
)

// ErrWriteTimeout is returned when the encoder does not accept a frame in
// time, e.g. because the output lives on a stalled network share.
var ErrWriteTimeout = errors.New("encoder write timed out")

type FFmpegOptions struct {
	// Binary is the path of the ffmpeg executable.
	Binary string
	// Size of every frame put to the sink.
	Size image.Point
	FPS  int
	// WriteTimeout bounds how long Put waits for the encoder.
	WriteTimeout time.Duration
	// Verbose forwards ffmpeg's own output at full verbosity.
	Verbose bool
}

type FFmpegProducer struct {
	Options FFmpegOptions
}

func (p *FFmpegProducer) New(path string) (Sink, error) {
	return NewFFmpegSink(path, p.Options)
}

// FFmpegSink pipes raw bgr24 frames to an ffmpeg subprocess which encodes
// them to an h264 mp4 file.
type FFmpegSink struct {
	opts FFmpegOptions
	path string
	cmd  *exec.Cmd

	b     chan []byte
	errc  chan error
	close chan chan error

	closeOnce sync.Once
	closeErr  error
}

func ffmpegArgs(path string, o FFmpegOptions) []string {
	loglevel := "error"
	if o.Verbose {
		loglevel = "info"
	}
	return []string{
		"-hide_banner",
		"-loglevel", loglevel,
		// Configure ffmpeg to read from the frame pipe.
		"-f", "rawvideo",
		"-pixel_format", "bgr24",
		"-video_size", fmt.Sprintf("%dx%d", o.Size.X, o.Size.Y),
		"-framerate", fmt.Sprintf("%d", o.FPS),
		"-i", "-", // Read from stdin.
		// Use h264 encoding with reasonable quality and speed. Note that
		// "preset" can be adjusted if the system is too slow to handle encoding.
		"-c:v", "libx264",
		"-preset", "superfast",
		"-crf", "30",
		"-pix_fmt", "yuv420p",
		// Enable fast-start so videos can be displayed in the browser without
		// full download.
		"-movflags", "+faststart",
		"-y",
		path,
	}
}

// NewFFmpegSink creates the output file and starts the encoder. It fails if
// the target path cannot be created (missing directory, unmounted share) or
// ffmpeg cannot be started.
func NewFFmpegSink(path string, o FFmpegOptions) (*FFmpegSink, error) {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 2 * time.Second
	}

	// Claim the path first so an unavailable target fails here and not
	// asynchronously inside ffmpeg.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	f.Close()

	c := exec.Command(o.Binary, ffmpegArgs(path, o)...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr

	pipe, err := c.StdinPipe()
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("error getting ffmpeg stdin: %w", err)
	}
	if err := c.Start(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("error starting ffmpeg: %w", err)
	}

	s := &FFmpegSink{
		opts:  o,
		path:  path,
		cmd:   c,
		b:     make(chan []byte),
		errc:  make(chan error, 1),
		close: make(chan chan error),
	}
	go s.loop(c, pipe)
	return s, nil
}

func (s *FFmpegSink) loop(c *exec.Cmd, pipe io.WriteCloser) {
	var closer chan error
	var writeErr error
loop:
	for {
		select {
		case closer = <-s.close:
			break loop
		case b := <-s.b:
			if writeErr != nil {
				continue
			}
			if _, err := pipe.Write(b); err != nil {
				writeErr = err
				select {
				case s.errc <- fmt.Errorf("error writing to ffmpeg: %w", err):
				default:
				}
			}
		}
	}

	pipe.Close()
	log.WithField("path", s.path).Debug("Waiting for ffmpeg shutdown")
	err := c.Wait()
	if err != nil {
		log.WithField("path", s.path).Warnf("ffmpeg exit with status %v", err)
		err = fmt.Errorf("ffmpeg exited: %w", err)
	}
	closer <- err // Signal close is completed.
}

func (s *FFmpegSink) Put(input source.Frame) error {
	select {
	case err := <-s.errc:
		return err
	default:
	}
	if sz := input.Size(); sz != s.opts.Size {
		return fmt.Errorf("frame is %dx%d, encoder expects %dx%d", sz.X, sz.Y, s.opts.Size.X, s.opts.Size.Y)
	}

	t := time.NewTimer(s.opts.WriteTimeout)
	defer t.Stop()
	select {
	case s.b <- input.Mat.ToBytes():
		return nil
	case err := <-s.errc:
		return err
	case <-t.C:
		return ErrWriteTimeout
	}
}

// Close finalizes the file and waits for ffmpeg to exit. An encoder that is
// stuck on a write for longer than WriteTimeout is killed; the partial file
// is left in place.
func (s *FFmpegSink) Close() error {
	s.closeOnce.Do(func() {
		c := make(chan error)
		t := time.NewTimer(s.opts.WriteTimeout)
		defer t.Stop()
		select {
		case s.close <- c:
		case <-t.C:
			log.WithField("path", s.path).Warn("ffmpeg is stalled, killing it")
			s.cmd.Process.Kill()
			s.close <- c
		}
		s.closeErr = <-c
	})
	return s.closeErr
}
