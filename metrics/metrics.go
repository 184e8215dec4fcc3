// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motioncam_frames_captured_total",
		Help: "Frames read from the camera driver.",
	})

	MSE = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "motioncam_mse",
		Help: "Mean squared error of the last evaluated frame against its reference.",
	})

	MotionEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motioncam_motion_events_total",
		Help: "Evaluated frames whose MSE exceeded the threshold.",
	})

	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motioncam_sessions_started_total",
		Help: "Recording sessions started.",
	})

	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motioncam_sessions_finished_total",
		Help: "Recording sessions finished, by stop reason.",
	}, []string{"reason"})

	RecorderFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motioncam_recorder_frames_total",
		Help: "Frames handed to the video recorder, by outcome.",
	}, []string{"outcome"})

	SkippedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motioncam_skipped_ticks_total",
		Help: "Sampling ticks skipped after an overrun, by loop.",
	}, []string{"loop"})

	LiveViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "motioncam_live_viewers",
		Help: "Connected live feed viewers.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
