package preprocess

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

const (
	background = 255
	foreground = 0
)

// toGray converts any image into a compact 8-bit single channel image anchored at (0,0).
// Every *image.Gray inside this package has Stride == width.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < b.Dy(); y++ {
			start := g.PixOffset(b.Min.X, b.Min.Y+y)
			copy(gray.Pix[y*gray.Stride:(y+1)*gray.Stride], g.Pix[start:start+b.Dx()])
		}
		return gray
	}

	// imaging.Grayscale returns an NRGBA anchored at (0,0) with R == G == B
	nrgba := imaging.Grayscale(img)
	for y := 0; y < b.Dy(); y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+b.Dx()*4]
		dst := gray.Pix[y*gray.Stride : (y+1)*gray.Stride]
		for x := range dst {
			// Transparent pixels read as paper
			if src[x*4+3] == 0 {
				dst[x] = background
				continue
			}
			dst[x] = src[x*4]
		}
	}
	return gray
}

// toMat copies a compact gray image into a single channel Mat
func toMat(g *image.Gray) (gocv.Mat, error) {
	mat, err := gocv.NewMatFromBytes(g.Rect.Dy(), g.Rect.Dx(), gocv.MatTypeCV8UC1, g.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("converting image to mat: %w", err)
	}
	return mat, nil
}

// fromMat copies a single channel Mat back into a compact gray image
func fromMat(mat gocv.Mat) (*image.Gray, error) {
	if mat.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("unexpected mat type %v", mat.Type())
	}
	g := image.NewGray(image.Rect(0, 0, mat.Cols(), mat.Rows()))
	if n := copy(g.Pix, mat.ToBytes()); n != len(g.Pix) {
		return nil, fmt.Errorf("mat holds %d of %d pixels", n, len(g.Pix))
	}
	return g, nil
}

// flat reports whether every pixel of src has the same value. Otsu has no two classes to
// separate on such an image.
func flat(src gocv.Mat) bool {
	minVal, maxVal, _, _ := gocv.MinMaxLoc(src)
	return minVal == maxVal
}

// binarize applies an Otsu threshold: v > t becomes background, everything else foreground.
// A flat image is treated as blank paper. It returns the threshold used.
func binarize(src gocv.Mat, dst *gocv.Mat) float32 {
	if flat(src) {
		blank := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(background, 0, 0, 0), src.Rows(), src.Cols(), gocv.MatTypeCV8UC1)
		defer blank.Close()
		blank.CopyTo(dst)
		return background
	}
	return gocv.Threshold(src, dst, 0, background, gocv.ThresholdBinary|gocv.ThresholdOtsu)
}
