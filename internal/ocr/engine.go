// Package ocr turns normalized receipt bitmaps into raw text.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"
)

var (
	// ErrEngine is returned when an OCR backend fails
	ErrEngine = errors.New("ocr engine failed")
	// ErrTimeout is returned when an OCR call exceeds its deadline. It wraps ErrEngine.
	ErrTimeout = fmt.Errorf("%w: timed out", ErrEngine)
)

// Mode selects how the engine lays out the page
type Mode int

const (
	// ModeUniformBlock treats the image as a single uniform block of text
	ModeUniformBlock Mode = iota
	// ModeAuto lets the engine segment the page itself
	ModeAuto
)

func (m Mode) String() string {
	switch m {
	case ModeUniformBlock:
		return "uniform-block"
	case ModeAuto:
		return "auto"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Engine extracts text from a normalized image.
// An image with no readable text yields "" and a nil error.
type Engine interface {
	Extract(ctx context.Context, img *image.Gray, mode Mode) (string, error)
	// Close releases resources held by the engine
	Close() error
}

// transcriptionPrompt is the shared prompt used by the LLM backends
const transcriptionPrompt = `You are reading a scanned receipt. Transcribe every piece of text in the image exactly as printed, line by line, top to bottom.

Important:
- Keep labels such as "Receipt Number:", "Date:", "Transaction Type:", "Amount:" and "Vendor:" exactly as they appear
- Keep currency symbols and decimal points
- Do not summarize, translate, reformat dates, or correct spelling
- Do not add any text before or after the transcription
- Do not use markdown code blocks
- If the image contains no readable text, return nothing`

// encodePNG encodes a normalized bitmap for the LLM backends
func encodePNG(img *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// cleanTranscription removes markdown fences that models add despite being told not to
func cleanTranscription(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

type timeoutEngine struct {
	engine  Engine
	timeout time.Duration
}

// WithTimeout bounds every Extract call on engine to d. A call that runs past the deadline
// returns ErrTimeout; the underlying call is abandoned. A non-positive d returns engine as is.
func WithTimeout(engine Engine, d time.Duration) Engine {
	if d <= 0 {
		return engine
	}
	return &timeoutEngine{engine: engine, timeout: d}
}

type extractResult struct {
	text string
	err  error
}

func (t *timeoutEngine) Extract(ctx context.Context, img *image.Gray, mode Mode) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// buffered so the worker never blocks once the caller has gone
	done := make(chan extractResult, 1)
	go func() {
		text, err := t.engine.Extract(ctx, img, mode)
		done <- extractResult{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && !errors.Is(r.err, ErrEngine) {
			return "", fmt.Errorf("%w: %w", ErrEngine, r.err)
		}
		return r.text, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
		}
		return "", fmt.Errorf("%w: %w", ErrEngine, ctx.Err())
	}
}

func (t *timeoutEngine) Close() error {
	return t.engine.Close()
}
