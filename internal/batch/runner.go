// Package batch runs the extraction pipeline over a directory of receipt images.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-extractor/internal/dataset"
	"github.com/zombor/receipt-extractor/internal/ocr"
	"github.com/zombor/receipt-extractor/internal/preprocess"
	"github.com/zombor/receipt-extractor/internal/receipt"
)

// ErrScanIO is returned when the input directory cannot be listed
var ErrScanIO = errors.New("input directory could not be read")

// DefaultExtensions are the image types a batch picks up
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".pdf", ".heic", ".heif"}

// Skip reasons
const (
	ReasonDecode    = "decode"
	ReasonNormalize = "normalize"
	ReasonTimeout   = "timeout"
	ReasonEngine    = "engine"
	ReasonOther     = "error"
)

// Config is the per-batch configuration
type Config struct {
	// OutputPath is the .csv or .xlsx file the dataset is written to
	OutputPath string
	// PartitionDir receives card_data.csv and cheque_data.csv when set
	PartitionDir string
	// Extensions overrides DefaultExtensions
	Extensions []string
	// Mode is passed to the OCR engine
	Mode ocr.Mode
	// OCRTimeout bounds each OCR call, zero disables it
	OCRTimeout time.Duration
}

// Normalizer prepares decoded images for OCR
type Normalizer interface {
	Normalize(img image.Image) (*image.Gray, error)
}

// Parser recovers fields from OCR text
type Parser interface {
	Parse(text string) receipt.Partial
}

// Backfiller completes partial receipts
type Backfiller interface {
	Fill(p receipt.Partial, sourceFile string) (*receipt.Record, []receipt.FieldName)
}

// Notifier is called with the dataset after it has been written
type Notifier interface {
	Notify(ctx context.Context, ds receipt.Dataset) error
}

// History records runs and their receipts
type History interface {
	SaveReceipts(records receipt.Dataset) error
	SaveRun(run *dataset.Run) error
}

// IDGenerator generates run IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.New().String()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Result is the outcome of one batch
type Result struct {
	RunID      string
	InputDir   string
	Output     string
	StartedAt  time.Time
	FinishedAt time.Time
	Records    receipt.Dataset
	Skipped    []dataset.SkippedFile
	Backfilled map[receipt.FieldName]int
	Partitions map[receipt.TransactionType]int
}

// Summary is a one line description of the batch
func (r *Result) Summary() string {
	var filled int
	for _, n := range r.Backfilled {
		filled += n
	}
	return fmt.Sprintf("processed %d image(s), skipped %d, backfilled %d field(s), wrote %s",
		len(r.Records), len(r.Skipped), filled, r.Output)
}

// Run converts the result into a history entry
func (r *Result) Run(runErr error) *dataset.Run {
	backfilled := make(map[string]int, len(r.Backfilled))
	for field, n := range r.Backfilled {
		backfilled[string(field)] = n
	}
	run := &dataset.Run{
		ID:         r.RunID,
		InputDir:   r.InputDir,
		Output:     r.Output,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Records:    len(r.Records),
		Skipped:    r.Skipped,
		Backfilled: backfilled,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return run
}

// Option configures optional collaborators of a Runner
type Option func(*Runner)

// WithHistory stores every run and its records
func WithHistory(h History) Option {
	return func(r *Runner) { r.history = h }
}

// WithNotifier notifies about every written dataset
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithMetrics records counters for every run
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithIDGenerator sets how run IDs are generated (useful for testing)
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Runner) { r.idGen = g }
}

// WithTimeSource sets the clock used for run timestamps (useful for testing)
func WithTimeSource(t TimeSource) Option {
	return func(r *Runner) { r.timeSrc = t }
}

// Runner processes directories of receipt images one file at a time
type Runner struct {
	cfg        Config
	decode     func(path string) (image.Image, error)
	normalizer Normalizer
	engine     ocr.Engine
	parser     Parser
	backfiller Backfiller

	history  History
	notifier Notifier
	metrics  *Metrics
	idGen    IDGenerator
	timeSrc  TimeSource
}

// NewRunner creates a Runner
func NewRunner(cfg Config, normalizer Normalizer, engine ocr.Engine, parser Parser, backfiller Backfiller, opts ...Option) *Runner {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	extensions := make([]string, len(cfg.Extensions))
	for i, ext := range cfg.Extensions {
		extensions[i] = strings.ToLower(ext)
	}
	cfg.Extensions = extensions

	r := &Runner{
		cfg:        cfg,
		decode:     preprocess.DecodeFile,
		normalizer: normalizer,
		engine:     ocr.WithTimeout(engine, cfg.OCRTimeout),
		parser:     parser,
		backfiller: backfiller,
		idGen:      &defaultIDGenerator{},
		timeSrc:    &defaultTimeSource{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = noopMetrics()
	}
	return r
}

func (r *Runner) accepts(name string) bool {
	return slices.Contains(r.cfg.Extensions, strings.ToLower(filepath.Ext(name)))
}

// Run processes every allow-listed file in dir in lexical order and writes the dataset once.
// Files that cannot be decoded, normalized or read by the OCR engine are skipped. A missing
// or unreadable dir returns ErrScanIO; failing to write the output is also fatal. When ctx is
// cancelled the files processed so far are still written and ctx's error is returned.
func (r *Runner) Run(ctx context.Context, dir string) (*Result, error) {
	writer, err := dataset.NewWriter(r.cfg.OutputPath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		r.metrics.runs.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %w", ErrScanIO, err)
	}

	result := &Result{
		RunID:      r.idGen.Generate(),
		InputDir:   dir,
		Output:     writer.Path(),
		StartedAt:  r.timeSrc.Now(),
		Records:    receipt.Dataset{},
		Skipped:    []dataset.SkippedFile{},
		Backfilled: map[receipt.FieldName]int{},
	}
	slog.Info("Starting batch", "run_id", result.RunID, "dir", dir, "entries", len(entries))

	var runErr error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if entry.IsDir() || !r.accepts(entry.Name()) {
			slog.Debug("Ignoring entry", "name", entry.Name())
			continue
		}

		r.processEntry(ctx, filepath.Join(dir, entry.Name()), result)
	}

	if err := r.finish(ctx, writer, result); err != nil {
		r.metrics.runs.WithLabelValues("failed").Inc()
		r.saveRun(result, err)
		return result, err
	}

	if runErr != nil {
		r.metrics.runs.WithLabelValues("cancelled").Inc()
	} else {
		r.metrics.runs.WithLabelValues("completed").Inc()
	}
	r.saveRun(result, runErr)
	slog.Info("Finished batch", "run_id", result.RunID, "summary", result.Summary())
	return result, runErr
}

func (r *Runner) processEntry(ctx context.Context, path string, result *Result) {
	name := filepath.Base(path)
	start := time.Now()

	record, filled, err := r.process(ctx, path)
	if err != nil {
		reason := skipReason(err)
		slog.Warn("Skipping file", "file", name, "reason", reason, "error", err)
		result.Skipped = append(result.Skipped, dataset.SkippedFile{File: name, Reason: reason})
		r.metrics.skipped.WithLabelValues(reason).Inc()
		return
	}

	r.metrics.duration.Observe(time.Since(start).Seconds())
	r.metrics.processed.Inc()
	for _, field := range filled {
		result.Backfilled[field]++
		r.metrics.backfilled.WithLabelValues(string(field)).Inc()
	}
	if len(filled) > 0 {
		slog.Debug("Backfilled fields", "file", name, "fields", filled)
	}
	result.Records = append(result.Records, record)
}

// process runs every stage for one file
func (r *Runner) process(ctx context.Context, path string) (*receipt.Record, []receipt.FieldName, error) {
	img, err := r.decode(path)
	if err != nil {
		return nil, nil, err
	}

	normalized, err := r.normalizer.Normalize(img)
	if err != nil {
		return nil, nil, err
	}

	text, err := r.engine.Extract(ctx, normalized, r.cfg.Mode)
	if err != nil {
		if !errors.Is(err, ocr.ErrEngine) {
			err = fmt.Errorf("%w: %w", ocr.ErrEngine, err)
		}
		return nil, nil, err
	}

	partial := r.parser.Parse(text)
	record, filled := r.backfiller.Fill(partial, filepath.Base(path))
	return record, filled, nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, preprocess.ErrDecode):
		return ReasonDecode
	case errors.Is(err, preprocess.ErrNormalize):
		return ReasonNormalize
	case errors.Is(err, ocr.ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, ocr.ErrEngine):
		return ReasonEngine
	default:
		return ReasonOther
	}
}

// finish writes the dataset and its partitions, then notifies. Only write failures are fatal.
func (r *Runner) finish(ctx context.Context, writer dataset.Writer, result *Result) error {
	result.FinishedAt = r.timeSrc.Now()

	if err := writer.Write(result.Records); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	slog.Info("Wrote dataset", "path", writer.Path(), "records", len(result.Records), "skipped", len(result.Skipped))

	if r.cfg.PartitionDir != "" {
		counts, err := dataset.WritePartitions(r.cfg.PartitionDir, result.Records)
		if err != nil {
			return fmt.Errorf("writing partitions: %w", err)
		}
		result.Partitions = counts
		slog.Info("Wrote partitions", "dir", r.cfg.PartitionDir, "card", counts[receipt.Card], "cheque", counts[receipt.Cheque])
	}

	if r.history != nil {
		if err := r.history.SaveReceipts(result.Records); err != nil {
			slog.Error("Error saving receipts to history", "run_id", result.RunID, "error", err)
		}
	}

	if r.notifier != nil {
		// a cancelled batch is still reported
		if err := r.notifier.Notify(context.WithoutCancel(ctx), result.Records); err != nil {
			slog.Error("Error sending notifications", "run_id", result.RunID, "error", err)
		}
	}
	return nil
}

func (r *Runner) saveRun(result *Result, runErr error) {
	if r.history == nil {
		return
	}
	if err := r.history.SaveRun(result.Run(runErr)); err != nil {
		slog.Error("Error saving run to history", "run_id", result.RunID, "error", err)
	}
}
