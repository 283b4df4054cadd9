package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

var (
	// ErrDecode is returned when an input file is unreadable or not a decodable image
	ErrDecode = errors.New("image could not be decoded")
	// ErrNormalize is returned when a decoded image fails a normalization stage
	ErrNormalize = errors.New("image could not be normalized")
)

// pdfDPI is the render resolution for PDF pages
const pdfDPI = 300.0

// DecodeFile reads and decodes an image file, using its extension as a format hint
func DecodeFile(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading file: %w", ErrDecode, err)
	}
	return Decode(data, filepath.Ext(path))
}

// Decode decodes PNG, JPEG, GIF, BMP, TIFF, HEIC/HEIF and PDF (first page) data
func Decode(data []byte, ext string) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrDecode)
	}
	ext = strings.ToLower(strings.TrimSpace(ext))

	switch {
	case ext == ".pdf" || isPDFFormat(data):
		img, err := pdfToImage(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return img, nil
	case ext == ".heic" || ext == ".heif" || isHEICFormat(data):
		// Go's standard image package doesn't support HEIC
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding HEIC/HEIF image: %w", ErrDecode, err)
		}
		return img, nil
	default:
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding image: %w", ErrDecode, err)
		}
		return img, nil
	}
}

// pdfToImage renders the first page of a PDF (receipts are single page)
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	img, err := doc.ImageDPI(0, pdfDPI)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func isPDFFormat(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// Check for ftyp at offset 4 followed by a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}
