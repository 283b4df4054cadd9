// Package preprocess turns receipt photos and scans into clean two-level bitmaps for OCR.
package preprocess

import (
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"
)

// Normalizer runs the preprocessing stages: grayscale, deskew, Otsu binarization,
// dilate+erode and a median filter.
type Normalizer struct {
	// Deskew enables skew estimation and rotation
	Deskew bool
}

// NewNormalizer creates a Normalizer with every stage enabled
func NewNormalizer() *Normalizer {
	return &Normalizer{Deskew: true}
}

// Normalize returns a binarized copy of img whose pixels are only 0 (ink) or 255 (paper).
// It never modifies img.
func (n *Normalizer) Normalize(img image.Image) (out *image.Gray, err error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrNormalize, r)
		}
	}()

	gray, err := toMat(toGray(img))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNormalize, err)
	}
	defer gray.Close()

	if n.Deskew {
		straight := n.deskew(gray)
		defer straight.Close()
		gray = straight
	}

	binary := gocv.NewMat()
	defer binary.Close()
	binarize(gray, &binary)

	cleaned := gocv.NewMat()
	defer cleaned.Close()
	clean(binary, &cleaned)

	if out, err = fromMat(cleaned); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNormalize, err)
	}
	return out, nil
}

// deskew straightens gray, falling back to an unrotated copy if estimation fails
func (n *Normalizer) deskew(gray gocv.Mat) (out gocv.Mat) {
	out = gocv.NewMat()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Error deskewing image", "error", r)
			gray.CopyTo(&out)
		}
	}()

	if angle := deskew(gray, &out); angle != 0 {
		slog.Debug("Deskewed image", "angle", angle)
	}
	return out
}
