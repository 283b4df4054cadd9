package preprocess

import (
	"image"

	"gocv.io/x/gocv"
)

// kernelSize is the side of the square structuring element and of the median window
const kernelSize = 3

// clean closes small gaps between bright regions (dilate then erode with a 3x3 square) and
// removes speckle with a 3x3 median filter
func clean(src gocv.Mat, dst *gocv.Mat) {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(src, &dilated, kernel)

	eroded := gocv.NewMat()
	defer eroded.Close()
	gocv.Erode(dilated, &eroded, kernel)

	gocv.MedianBlur(eroded, dst, kernelSize)
}
