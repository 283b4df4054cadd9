// Package tesseract runs OCR locally through libtesseract.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/receipt-extractor/internal/ocr"
)

// Config selects the tesseract languages and model files
type Config struct {
	// Languages are tesseract language codes, "eng" when empty
	Languages []string
	// TessdataPrefix overrides the directory holding the .traineddata files
	TessdataPrefix string
}

// Engine implements ocr.Engine with gosseract. A new client is created for every call,
// so an Engine can be shared between goroutines.
type Engine struct {
	cfg Config
}

// New creates a tesseract Engine
func New(cfg Config) *Engine {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	return &Engine{cfg: cfg}
}

func pageSegMode(mode ocr.Mode) gosseract.PageSegMode {
	switch mode {
	case ocr.ModeAuto:
		return gosseract.PSM_AUTO
	default:
		return gosseract.PSM_SINGLE_BLOCK
	}
}

// Extract runs tesseract over img. ctx is only checked before the call starts since
// libtesseract cannot be interrupted.
func (e *Engine) Extract(ctx context.Context, img *image.Gray, mode ocr.Mode) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ocr.ErrEngine, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("%w: encoding PNG: %w", ocr.ErrEngine, err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if e.cfg.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(e.cfg.TessdataPrefix); err != nil {
			return "", fmt.Errorf("%w: setting tessdata prefix: %w", ocr.ErrEngine, err)
		}
	}
	if err := client.SetLanguage(e.cfg.Languages...); err != nil {
		return "", fmt.Errorf("%w: setting language: %w", ocr.ErrEngine, err)
	}
	if err := client.SetPageSegMode(pageSegMode(mode)); err != nil {
		return "", fmt.Errorf("%w: setting page segmentation mode: %w", ocr.ErrEngine, err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("%w: loading image: %w", ocr.ErrEngine, err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("%w: recognizing text: %w", ocr.ErrEngine, err)
	}
	return strings.TrimSpace(text), nil
}

// Close is a no-op, clients are closed after each call
func (e *Engine) Close() error {
	return nil
}
