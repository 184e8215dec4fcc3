package sink

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"motioncam/video/source"
)

// VideoWriterProducer opens sinks backed by OpenCV's VideoWriter with the
// mp4v codec. Files are larger than ffmpeg's h264 output but no external
// binary is needed.
type VideoWriterProducer struct {
	Size image.Point
	FPS  int
}

func (p *VideoWriterProducer) New(path string) (Sink, error) {
	return NewVideo(path, p.FPS, p.Size)
}

// Video provides a sink that wraps opencv's VideoWriter.
type Video struct {
	writer *gocv.VideoWriter
	size   image.Point
}

func NewVideo(path string, fps int, size image.Point) (*Video, error) {
	w, err := gocv.VideoWriterFile(path, "mp4v", float64(fps), size.X, size.Y, true)
	if err != nil {
		return nil, err
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("cannot open video file %s", path)
	}
	return &Video{
		writer: w,
		size:   size,
	}, nil
}

func (v *Video) Close() error {
	if v.writer == nil {
		return nil
	}
	err := v.writer.Close()
	v.writer = nil
	return err
}

func (v *Video) Put(input source.Frame) error {
	if v.writer == nil {
		return fmt.Errorf("video writer is closed")
	}
	if sz := input.Size(); sz != v.size {
		return fmt.Errorf("frame is %dx%d, writer expects %dx%d", sz.X, sz.Y, v.size.X, v.size.Y)
	}
	return v.writer.Write(input.Mat)
}
