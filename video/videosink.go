package video

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"motioncam/video/sink"
)

const (
	EncoderFFmpeg = "ffmpeg"
	EncoderOpenCV = "opencv"
)

// SinkProducerOptions select the encoder used for clips.
type SinkProducerOptions struct {
	Encoder       string
	FFmpegOptions sink.FFmpegOptions
}

// NewSinkProducer returns the Producer for the configured encoder. The ffmpeg
// encoder produces much smaller h264 files; OpenCV's writer needs no external
// binary.
func NewSinkProducer(o SinkProducerOptions) (sink.Producer, error) {
	switch o.Encoder {
	case EncoderFFmpeg, "":
		log.Infof("Encoding clips with %s", o.FFmpegOptions.Binary)
		return &sink.FFmpegProducer{Options: o.FFmpegOptions}, nil
	case EncoderOpenCV:
		log.Info("Encoding clips with OpenCV VideoWriter")
		return &sink.VideoWriterProducer{
			Size: o.FFmpegOptions.Size,
			FPS:  o.FFmpegOptions.FPS,
		}, nil
	default:
		return nil, fmt.Errorf("unknown encoder %q", o.Encoder)
	}
}
