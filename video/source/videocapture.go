package source

import (
	"fmt"
	"image"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// OpenVideoCapture opens the camera at uri (a device index such as "0", a
// device path or a stream URL) and requests the given native resolution.
// A test frame is read so a missing or busy camera fails here rather than in
// the detection loop.
func OpenVideoCapture(uri string, native image.Point) (*gocv.VideoCapture, error) {
	vc, err := gocv.OpenVideoCapture(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open video capture %q: %w", uri, err)
	}
	if native != (image.Point{}) {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(native.X))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(native.Y))
	}

	m := gocv.NewMat()
	defer m.Close()
	if ok := vc.Read(&m); !ok || m.Empty() {
		vc.Close()
		return nil, fmt.Errorf("video capture %q returned no test frame", uri)
	}
	got := image.Point{X: m.Cols(), Y: m.Rows()}
	if native != (image.Point{}) && got != native {
		log.Warnf("Camera delivers %dx%d instead of the requested %dx%d", got.X, got.Y, native.X, native.Y)
	}
	log.Infof("Opened camera %q at %dx%d", uri, got.X, got.Y)
	return vc, nil
}
