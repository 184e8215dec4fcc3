package process

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"motioncam/video/source"
)

var (
	colorTime = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorBG   = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// TimestampLayout is the format of the burned-in capture time.
const TimestampLayout = "2006-01-02 15:04:05 MST"

// DrawTimestamp draws the label and capture time in the bottom left corner of
// the frame, on a black box so it stays readable.
func DrawTimestamp(label string, f source.Frame) {
	text := f.Time.Format(TimestampLayout)
	if label != "" {
		text = label + " - " + text
	}

	font := gocv.FontHersheySimplex
	scale := 0.5
	thickness := 1
	pad := 2

	sz := gocv.GetTextSize(text, font, scale, thickness)
	rows := f.Mat.Rows()
	box := image.Rectangle{
		Min: image.Point{X: 0, Y: rows - sz.Y - pad*3},
		Max: image.Point{X: sz.X + pad*2, Y: rows},
	}
	gocv.Rectangle(&f.Mat, box, colorBG, -1)
	gocv.PutText(&f.Mat, text, image.Point{X: pad, Y: rows - pad*2}, font, scale, colorTime, thickness)
}
