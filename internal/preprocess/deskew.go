package preprocess

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// minSkewDegrees is the smallest tilt worth resampling the image for
const minSkewDegrees = 0.1

// skewAngle estimates how far the foreground of src is tilted counter-clockwise, in degrees
// within [-45, 45). The angle is the orientation of the minimum-area rectangle around the
// ink pixels. It reports false when there are too few of them.
func skewAngle(src gocv.Mat) (float64, bool) {
	if flat(src) {
		return 0, false
	}

	ink := gocv.NewMat()
	defer ink.Close()
	gocv.Threshold(src, &ink, 0, background, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)
	if gocv.CountNonZero(ink) < 3 {
		return 0, false
	}

	locations := gocv.NewMat()
	defer locations.Close()
	gocv.FindNonZero(ink, &locations)

	points := gocv.NewPointVectorFromMat(locations)
	defer points.Close()

	rect := gocv.MinAreaRect2(points)
	if len(rect.Points) < 2 {
		return 0, false
	}

	// image y grows downwards, so flip it for a visual angle
	p0, p1 := rect.Points[0], rect.Points[1]
	angle := math.Atan2(float64(p0.Y-p1.Y), float64(p1.X-p0.X)) * 180 / math.Pi

	// Both edges of the rectangle describe the same tilt a quarter turn apart; keep the one
	// that does not rotate text onto its side.
	angle = math.Mod(angle, 90)
	if angle >= 45 {
		angle -= 90
	}
	if angle < -45 {
		angle += 90
	}
	return angle, true
}

// rotate turns src counter-clockwise by angle degrees around its centre, keeping its size
// and replicating the border into the exposed corners
func rotate(src gocv.Mat, dst *gocv.Mat, angle float64) {
	center := image.Pt(src.Cols()/2, src.Rows()/2)
	m := gocv.GetRotationMatrix2D(center, angle, 1.0)
	defer m.Close()

	gocv.WarpAffineWithParams(src, dst, m, image.Pt(src.Cols(), src.Rows()),
		gocv.InterpolationCubic, gocv.BorderReplicate, color.RGBA{})
}

// deskew straightens src into dst and returns the tilt it removed. Images without enough
// foreground are copied unchanged.
func deskew(src gocv.Mat, dst *gocv.Mat) float64 {
	angle, ok := skewAngle(src)
	if !ok || math.Abs(angle) < minSkewDegrees {
		src.CopyTo(dst)
		return 0
	}
	rotate(src, dst, -angle)
	return angle
}
