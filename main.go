package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	log "github.com/sirupsen/logrus"

	"motioncam/config"
	"motioncam/control"
	"motioncam/metrics"
	"motioncam/motion"
	"motioncam/serve"
	"motioncam/util"
	"motioncam/video"
	"motioncam/video/sink"
	"motioncam/video/source"
)

const (
	restartBackoff = time.Second
	// A detection loop running this long is considered recovered.
	healthyRun    = time.Minute
	shutdownGrace = 10 * time.Second
	// Time for the recorder to drain its backlog once a session ends, on top
	// of the bounded encoder calls.
	finishGrace = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, cfgPath, err := config.Parse(os.Args[1:])
	if err != nil {
		return err
	}
	if err := cfg.SetLogging(); err != nil {
		return err
	}
	if cfgPath != "" {
		log.Infof("Loaded configuration from %s", cfgPath)
	}
	log.Debugf("Configuration: %v", cfg.Dump())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfgPath != "" {
		go config.Watch(ctx, cfgPath, func(next *config.Config) { config.ApplyLive(cfg, next) })
	}

	fs, err := video.NewFilesystem(video.FilesystemOptions{
		BasePath:     cfg.Directory,
		MinFreeBytes: cfg.MinFreeBytes,
	})
	if err != nil {
		return err
	}

	ffmpegOpts := sink.FFmpegOptions{
		Size:         cfg.FrameSize.Point(),
		FPS:          cfg.SampleFPS,
		WriteTimeout: cfg.WriteTimeout(),
		Verbose:      cfg.Verbose,
	}
	if cfg.Encoder == video.EncoderFFmpeg {
		ffmpegp, err := util.LocateFFmpeg()
		if err != nil {
			return fmt.Errorf("unable to locate ffmpeg binary, either ensure it is in $PATH or set the FFMPEG environment variable: %w", err)
		}
		log.Infof("Located ffmpeg binary, %v", ffmpegp)
		ffmpegOpts.Binary = ffmpegp
	}
	producer, err := video.NewSinkProducer(video.SinkProducerOptions{
		Encoder:       cfg.Encoder,
		FFmpegOptions: ffmpegOpts,
	})
	if err != nil {
		return err
	}

	vc, err := source.OpenVideoCapture(cfg.URI, cfg.NativeResolution.Point())
	if err != nil {
		return err
	}
	cam := source.NewCamera(vc)
	// Released last, after the detection loop has finalized its recording.
	defer cam.Close()

	autoStart := !cfg.NoAutoStart
	state := control.New(autoStart, autoStart)
	if autoStart {
		log.Info("System started")
	}

	rec := video.NewRecorder(producer, video.RecorderOptions{
		FPS:         cfg.SampleFPS,
		Label:       "Motion camera",
		OpenTimeout: cfg.WriteTimeout(),
	})

	handler := motion.NewHandler(cam, rec, state, fs.NewPath, motion.Options{
		MSEThreshold:        cfg.MSEThreshold,
		MotionTimeout:       cfg.MotionTimeout(),
		MaxDuration:         cfg.MaxDuration(),
		SampleFPS:           float64(cfg.SampleFPS),
		ReferenceSkipFrames: cfg.ReferenceSkipFrames,
		DetectSize:          cfg.DetectResolution.Point(),
		FrameSize:           cfg.FrameSize.Point(),
		FinishTimeout:       finishGrace + 3*cfg.WriteTimeout(),
	})

	status := serve.NewStatusUpdater(serve.Status{
		State:     handler.State(),
		Capturing: state.Capturing(),
		Saving:    state.Saving(),
	})
	state.AddListener(status)
	handler.AddListener(status)

	mux := http.NewServeMux()
	mux.Handle("/feed", sink.NewMJPEGServer(cam, float64(cfg.PreviewFPS), cfg.FrameSize.Point()))
	(&serve.ControlServer{State: state}).Register(mux)
	mux.Handle("/status", status)
	mux.Handle("/state", &serve.StateServer{Updater: status})
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	mux.HandleFunc("/", serve.Menu)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.CombinedLoggingHandler(log.StandardLogger().WriterLevel(log.DebugLevel), mux),
		// Viewer loops and status sockets end when the process is told to stop.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	detected := util.NewEvent()
	var detectErr error
	go func() {
		defer detected.Notify()
		detectErr = motion.Supervise(ctx, handler, cfg.MaxRestarts, restartBackoff, healthyRun)
		if detectErr != nil {
			// Nothing left to serve without a camera.
			stop()
		}
	}()

	served := make(chan error, 1)
	go func() {
		log.Infof("Hosting web interface on port %d", cfg.Port)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			served <- err
			stop()
		}
		close(served)
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	// Stop accepting commands first, then let the detection loop finalize any
	// recording before the camera is released.
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warnf("Web server shutdown: %v", err)
	}
	detected.Wait(context.Background())

	if err := <-served; err != nil {
		return fmt.Errorf("web server failed: %w", err)
	}
	return detectErr
}
