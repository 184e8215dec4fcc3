package sink

import (
	"time"

	"gocv.io/x/gocv"

	"motioncam/video/source"
)

// FPSNormalize wraps another Sink so that an incoming stream of variable-timed
// video is converted to fixed-rate video. The detection loop skips ticks when
// it overruns, but the file must still play back in real time. Frames will be
// dropped or repeated in order to achieve the target frame rate.
type FPSNormalize struct {
	// sink is the wrapped Sink which will receive a FPS-normalized stream.
	sink Sink

	frameDur time.Duration
	last     gocv.Mat
	curFrame time.Time
	closed   bool
}

// NewFPSNormalize creates an FPSNormalize, wrapping the provided sink and
// exporting at the given frame rate.
func NewFPSNormalize(sink Sink, fps int) *FPSNormalize {
	if fps <= 0 {
		fps = 1
	}
	return &FPSNormalize{
		sink:     sink,
		frameDur: time.Second / time.Duration(fps),
		last:     gocv.NewMat(),
	}
}

func (f *FPSNormalize) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.last.Close()
	return f.sink.Close()
}

func (f *FPSNormalize) Put(input source.Frame) error {
	if f.curFrame.IsZero() {
		if err := f.sink.Put(input); err != nil {
			return err
		}
		input.Mat.CopyTo(&f.last)
		f.curFrame = input.Time
		return nil
	}

	nextFrame := f.curFrame.Add(f.frameDur)
	if input.Time.Before(nextFrame) {
		// Don't need a new frame yet. Ignore.
		return nil
	}

	for {
		f.curFrame = nextFrame
		nextFrame = f.curFrame.Add(f.frameDur)
		if input.Time.Before(nextFrame) {
			if err := f.sink.Put(source.Frame{Mat: input.Mat, Time: f.curFrame}); err != nil {
				return err
			}
			input.Mat.CopyTo(&f.last)
			return nil
		}
		// Missed a frame. Rewrite last frame.
		if err := f.sink.Put(source.Frame{Mat: f.last, Time: f.curFrame}); err != nil {
			return err
		}
	}
}
