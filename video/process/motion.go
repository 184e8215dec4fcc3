package process

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"motioncam/video/source"
)

// ErrEmptyFrame is returned for frames without pixel data.
var ErrEmptyFrame = errors.New("frame is empty")

// Light cyan.
var colorAlert = color.RGBA{R: 128, G: 255, B: 255, A: 255}

// Grayscale converts f to a single channel image scaled to size. Comparing
// small grayscale images keeps the per-frame cost low. A zero size keeps the
// frame's resolution. The caller owns the returned Mat.
func Grayscale(f source.Frame, size image.Point) (gocv.Mat, error) {
	if f.Mat.Empty() {
		return gocv.Mat{}, ErrEmptyFrame
	}

	src := f.Mat
	if size != (image.Point{}) && size != f.Size() {
		small := gocv.NewMat()
		defer small.Close()
		gocv.Resize(f.Mat, &small, size, 0, 0, gocv.InterpolationNearestNeighbor)
		src = small
	}

	gray := gocv.NewMat()
	switch src.Channels() {
	case 1:
		src.CopyTo(&gray)
	case 3:
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	default:
		gray.Close()
		return gocv.Mat{}, fmt.Errorf("unsupported channel count %d", src.Channels())
	}
	return gray, nil
}

// MSE returns the mean squared error between two equally sized grayscale
// images: the sum of squared pixel differences divided by the pixel count.
func MSE(a, b gocv.Mat) (float64, error) {
	if a.Empty() || b.Empty() {
		return 0, ErrEmptyFrame
	}
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() || a.Channels() != b.Channels() {
		return 0, fmt.Errorf("cannot compare %dx%d and %dx%d images", a.Cols(), a.Rows(), b.Cols(), b.Rows())
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(a, b, &diff)

	// Squares of 8 bit differences overflow; work in float.
	fdiff := gocv.NewMat()
	defer fdiff.Close()
	diff.ConvertTo(&fdiff, gocv.MatTypeCV32F)

	sq := gocv.NewMat()
	defer sq.Close()
	gocv.Multiply(fdiff, fdiff, &sq)

	return sq.Mean().Val1, nil
}

// DrawMotionAlert writes "Motion detected" in the top left corner of img.
func DrawMotionAlert(img *gocv.Mat) {
	const scale = 0.5
	thickness := int(2 * scale)
	org := image.Point{X: 10, Y: thickness * 25}
	gocv.PutTextWithParams(img, "Motion detected", org, gocv.FontHersheySimplex, scale, colorAlert, thickness, gocv.LineAA, false)
}
