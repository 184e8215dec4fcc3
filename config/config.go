// Package config loads the motion camera settings from a JSON file and the
// command line. Explicitly set flags override the file, which overrides the
// defaults.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
)

const DefaultPath = "motion_camera.json"

// Resolution is a frame size written as WxH, e.g. "800x600" or "800 x 600".
type Resolution image.Point

func ParseResolution(s string) (Resolution, error) {
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) != 2 {
		return Resolution{}, fmt.Errorf("invalid frame size %q, expected width x height (e.g. 800x600)", s)
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return Resolution{}, fmt.Errorf("invalid frame size %q, expected width x height (e.g. 800x600)", s)
	}
	return Resolution{X: w, Y: h}, nil
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.X, r.Y)
}

func (r Resolution) Point() image.Point {
	return image.Point(r)
}

func (r *Resolution) UnmarshalText(b []byte) error {
	v, err := ParseResolution(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Set implements flag.Value.
func (r *Resolution) Set(s string) error {
	return r.UnmarshalText([]byte(s))
}

type Config struct {
	// URI is the camera device index (e.g. "0") or a video file path.
	URI     string `json:"uri"`
	Port    int    `json:"port"`
	Log     string `json:"log"`
	Verbose bool   `json:"verbose"`

	Directory    string `json:"directory"`
	MinFreeBytes uint64 `json:"min_free_bytes"`

	MSEThreshold        float64    `json:"mse_threshold"`
	MotionTimeoutSec    int        `json:"motion_timeout_s"`
	MaxDurationSec      int        `json:"max_duration_s"`
	SampleFPS           int        `json:"sample_fps"`
	ReferenceSkipFrames int        `json:"reference_skip_frames"`
	DetectResolution    Resolution `json:"detect_resolution"`
	FrameSize           Resolution `json:"frame_size"`
	NativeResolution    Resolution `json:"native_resolution"`
	PreviewFPS          int        `json:"preview_fps"`

	NoAutoStart     bool   `json:"no_auto_start"`
	Encoder         string `json:"encoder"`
	WriteTimeoutSec int    `json:"write_timeout_s"`
	MaxRestarts     int    `json:"max_restarts"`
}

func Default() *Config {
	return &Config{
		URI:                 "0",
		Port:                5000,
		Log:                 "warning",
		Directory:           "/media/cam",
		MinFreeBytes:        1 << 30,
		MSEThreshold:        15,
		MotionTimeoutSec:    10,
		MaxDurationSec:      300,
		SampleFPS:           15,
		ReferenceSkipFrames: 4,
		DetectResolution:    Resolution{X: 320, Y: 240},
		FrameSize:           Resolution{X: 800, Y: 600},
		NativeResolution:    Resolution{X: 1296, Y: 972},
		PreviewFPS:          10,
		Encoder:             "ffmpeg",
		WriteTimeoutSec:     2,
		MaxRestarts:         3,
	}
}

func (c *Config) MotionTimeout() time.Duration {
	return time.Duration(c.MotionTimeoutSec) * time.Second
}

func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSec) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSec) * time.Second
}

// fromFile decodes path over the values already in c.
func fromFile(c *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	p := json.NewDecoder(f)
	p.DisallowUnknownFields()
	if err := p.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error parsing %s: %w", path, err)
	}
	return nil
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	c := Default()
	if err := fromFile(c, path); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse builds the configuration from command line args. A missing file is
// only an error when -config was given explicitly. It returns the file the
// configuration was read from, if any.
func Parse(args []string) (*Config, string, error) {
	fc := Default()
	fs := flag.NewFlagSet("motioncam", flag.ContinueOnError)
	path := fs.String("config", DefaultPath, "Configuration file.")
	fs.StringVar(&fc.URI, "uri", fc.URI, "Camera device index or video file.")
	fs.IntVar(&fc.Port, "port", fc.Port, "Port to host the web interface on.")
	fs.StringVar(&fc.Log, "log", fc.Log, "Logging level: critical|error|warning|info|debug.")
	fs.BoolVar(&fc.Verbose, "verbose", fc.Verbose, "Enable verbose output of ffmpeg when debugging.")
	fs.StringVar(&fc.Directory, "directory", fc.Directory, "Directory to store videos.")
	fs.Uint64Var(&fc.MinFreeBytes, "min-free-bytes", fc.MinFreeBytes, "Free space required in the video directory.")
	fs.Float64Var(&fc.MSEThreshold, "mse-threshold", fc.MSEThreshold, "Mean squared error threshold to trigger motion.")
	fs.IntVar(&fc.MotionTimeoutSec, "motion-timeout", fc.MotionTimeoutSec, "Seconds without motion before a recording stops.")
	fs.IntVar(&fc.MaxDurationSec, "max-duration", fc.MaxDurationSec, "Max duration of a video in seconds.")
	fs.IntVar(&fc.SampleFPS, "rate", fc.SampleFPS, "Frames per second for detection and recording.")
	fs.IntVar(&fc.ReferenceSkipFrames, "skip-frames", fc.ReferenceSkipFrames, "Frames skipped between motion comparisons.")
	fs.Var(&fc.DetectResolution, "detect-size", "Frame size (width x height) used for motion comparison.")
	fs.Var(&fc.FrameSize, "frame-size", "Frame size (width x height) for video recording.")
	fs.Var(&fc.NativeResolution, "native-size", "Native camera resolution (width x height).")
	fs.IntVar(&fc.PreviewFPS, "preview-rate", fc.PreviewFPS, "Frames per second of the live feed.")
	fs.BoolVar(&fc.NoAutoStart, "no-auto-start", fc.NoAutoStart, "Do not start capturing video on startup, disable storing.")
	fs.StringVar(&fc.Encoder, "encoder", fc.Encoder, "Video encoder: ffmpeg|opencv.")
	fs.IntVar(&fc.WriteTimeoutSec, "write-timeout", fc.WriteTimeoutSec, "Seconds a frame write may take before the recording is aborted.")
	fs.IntVar(&fc.MaxRestarts, "max-restarts", fc.MaxRestarts, "Consecutive camera failures before giving up.")
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	if fs.NArg() > 0 {
		return nil, "", fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	c := Default()
	used := *path
	if err := fromFile(c, *path); err != nil {
		if !os.IsNotExist(err) || explicit["config"] {
			return nil, "", err
		}
		used = ""
	}

	overlay(c, fc, explicit)

	if err := c.Validate(); err != nil {
		return nil, "", err
	}
	return c, used, nil
}

// overlay copies the explicitly set flag values from fc onto c.
func overlay(c, fc *Config, set map[string]bool) {
	fields := map[string]func(){
		"uri":            func() { c.URI = fc.URI },
		"port":           func() { c.Port = fc.Port },
		"log":            func() { c.Log = fc.Log },
		"verbose":        func() { c.Verbose = fc.Verbose },
		"directory":      func() { c.Directory = fc.Directory },
		"min-free-bytes": func() { c.MinFreeBytes = fc.MinFreeBytes },
		"mse-threshold":  func() { c.MSEThreshold = fc.MSEThreshold },
		"motion-timeout": func() { c.MotionTimeoutSec = fc.MotionTimeoutSec },
		"max-duration":   func() { c.MaxDurationSec = fc.MaxDurationSec },
		"rate":           func() { c.SampleFPS = fc.SampleFPS },
		"skip-frames":    func() { c.ReferenceSkipFrames = fc.ReferenceSkipFrames },
		"detect-size":    func() { c.DetectResolution = fc.DetectResolution },
		"frame-size":     func() { c.FrameSize = fc.FrameSize },
		"native-size":    func() { c.NativeResolution = fc.NativeResolution },
		"preview-rate":   func() { c.PreviewFPS = fc.PreviewFPS },
		"no-auto-start":  func() { c.NoAutoStart = fc.NoAutoStart },
		"encoder":        func() { c.Encoder = fc.Encoder },
		"write-timeout":  func() { c.WriteTimeoutSec = fc.WriteTimeoutSec },
		"max-restarts":   func() { c.MaxRestarts = fc.MaxRestarts },
	}
	for name := range set {
		if f, ok := fields[name]; ok {
			f()
		}
	}
}

func checkRange(name string, v, min, max float64) error {
	if v < min || v > max {
		if max == maxUnbounded {
			return fmt.Errorf("%s: expected a value not less than %v but got %v", name, min, v)
		}
		return fmt.Errorf("%s: expected a value between %v and %v but got %v", name, min, max, v)
	}
	return nil
}

const maxUnbounded = 1 << 53

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	checks := []error{
		checkRange("port", float64(c.Port), 1024, 65535),
		checkRange("mse_threshold", c.MSEThreshold, 1, 65025),
		checkRange("motion_timeout_s", float64(c.MotionTimeoutSec), 1, maxUnbounded),
		checkRange("max_duration_s", float64(c.MaxDurationSec), 1, maxUnbounded),
		checkRange("sample_fps", float64(c.SampleFPS), 1, maxUnbounded),
		checkRange("reference_skip_frames", float64(c.ReferenceSkipFrames), 0, maxUnbounded),
		checkRange("preview_fps", float64(c.PreviewFPS), 1, maxUnbounded),
		checkRange("write_timeout_s", float64(c.WriteTimeoutSec), 1, maxUnbounded),
		checkRange("max_restarts", float64(c.MaxRestarts), 0, maxUnbounded),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	for name, r := range map[string]Resolution{
		"detect_resolution": c.DetectResolution,
		"frame_size":        c.FrameSize,
		"native_resolution": c.NativeResolution,
	} {
		if r.X <= 0 || r.Y <= 0 {
			return fmt.Errorf("%s: invalid frame size %v", name, r)
		}
	}
	if c.Encoder != "ffmpeg" && c.Encoder != "opencv" {
		return fmt.Errorf("encoder: expected ffmpeg or opencv but got %q", c.Encoder)
	}
	if c.Directory == "" {
		return errors.New("directory: must not be empty")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

var levels = map[string]log.Level{
	"critical": log.FatalLevel,
	"error":    log.ErrorLevel,
	"warning":  log.WarnLevel,
	"info":     log.InfoLevel,
	"debug":    log.DebugLevel,
}

// Level maps the configured log level onto logrus.
func (c *Config) Level() (log.Level, error) {
	l, ok := levels[strings.ToLower(c.Log)]
	if !ok {
		return 0, fmt.Errorf("unrecognized log level %q, must be one of: critical | error | warning | info | debug", c.Log)
	}
	return l, nil
}

// SetLogging configures the standard logger.
func (c *Config) SetLogging() error {
	l, err := c.Level()
	if err != nil {
		return err
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(l)
	return nil
}

// Dump returns a readable rendition of c for debug logs.
func (c *Config) Dump() string {
	return spew.Sdump(*c)
}
