package source

import (
	"errors"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// ErrClosed is returned when capturing from a camera that has been released.
var ErrClosed = errors.New("camera is closed")

// CaptureError reports a fault of the underlying camera driver. It is fatal
// to the loop that receives it.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("camera capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Frame is a captured image and the time it was captured at. A Frame owns its
// Mat: whoever holds it must Close it when done, and must not share it with
// another goroutine without cloning first.
type Frame struct {
	Mat  gocv.Mat
	Time time.Time
}

// Size returns the resolution of the frame.
func (f Frame) Size() image.Point {
	return image.Point{X: f.Mat.Cols(), Y: f.Mat.Rows()}
}

// Clone returns an independent copy of the frame.
func (f Frame) Clone() Frame {
	return Frame{
		Mat:  f.Mat.Clone(),
		Time: f.Time,
	}
}

// Close releases the frame's pixel buffer.
func (f *Frame) Close() {
	f.Mat.Close()
}

// Resize returns a new frame scaled to size. Nearest-neighbour interpolation
// is used; aliasing is cheaper than CPU time on the target hardware. A zero
// size or a size equal to the frame's own returns a plain copy.
func Resize(f Frame, size image.Point) Frame {
	if size == (image.Point{}) || size == f.Size() {
		return f.Clone()
	}
	m := gocv.NewMat()
	gocv.Resize(f.Mat, &m, size, 0, 0, gocv.InterpolationNearestNeighbor)
	return Frame{
		Mat:  m,
		Time: f.Time,
	}
}

// Device is the camera driver. *gocv.VideoCapture satisfies it.
type Device interface {
	// Read fills m with the next image and reports whether it succeeded.
	Read(m *gocv.Mat) bool
	Close() error
}
