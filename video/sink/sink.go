package sink

import (
	"motioncam/video/source"
)

// Sink defines a destination for a stream of frames, such as a video file.
type Sink interface {
	// Put appends a frame. The sink copies what it needs before returning;
	// the caller keeps ownership of the frame.
	Put(input source.Frame) error

	// Close finalizes the sink. It is safe to call more than once.
	Close() error
}

// Producer opens a new Sink writing to path.
type Producer interface {
	New(path string) (Sink, error)
}
