package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zombor/receipt-extractor/internal/batch"
	"github.com/zombor/receipt-extractor/internal/dataset"
	"github.com/zombor/receipt-extractor/internal/notify"
	"github.com/zombor/receipt-extractor/internal/ocr"
	"github.com/zombor/receipt-extractor/internal/ocr/tesseract"
	"github.com/zombor/receipt-extractor/internal/preprocess"
	"github.com/zombor/receipt-extractor/internal/receipt"
)

// pipelineFlags are shared by every subcommand that runs batches
type pipelineFlags struct {
	output       *string
	partitionDir *string
	rules        *string
	seed         *int
	noDeskew     *bool
	ocrMode      *string
	ocrTimeout   *time.Duration
	dbPath       *string

	backend       *string
	geminiKey     *string
	geminiModel   *string
	ollamaURL     *string
	ollamaModel   *string
	tessdata      *string
	tessLanguages *string

	templateDir  *string
	templateFile *string
	signature    *string
	notifyDomain *string
	resendKey    *string
	resendFrom   *string
}

func newPipelineFlags(fs *ff.FlagSet) *pipelineFlags {
	return &pipelineFlags{
		output:       fs.StringLong("output", "receipts_data.csv", "Output dataset, .csv or .xlsx"),
		partitionDir: fs.StringLong("partition-dir", "", "Directory for card_data.csv and cheque_data.csv (optional)"),
		rules:        fs.StringLong("rules", "", "TOML file overriding the field extraction rules (optional)"),
		seed:         fs.IntLong("seed", 0, "Seed for synthetic values, 0 picks a random one"),
		noDeskew:     fs.BoolLong("no-deskew", "Disable skew correction"),
		ocrMode:      fs.StringLong("ocr-mode", ocr.ModeUniformBlock.String(), "Page layout hint: uniform-block or auto"),
		ocrTimeout:   fs.DurationLong("ocr-timeout", 60*time.Second, "Maximum time per OCR call, 0 disables it"),
		dbPath:       fs.StringLong("db", "receipt-extractor.db", "History database path, empty disables history"),

		backend:       fs.StringLong("backend", "tesseract", "OCR backend: 'tesseract', 'gemini' or 'ollama'"),
		geminiKey:     fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:   fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name"),
		ollamaURL:     fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:   fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)"),
		tessdata:      fs.StringLong("tessdata", "", "Directory holding tesseract .traineddata files (optional)"),
		tessLanguages: fs.StringLong("tess-langs", "eng", "Comma separated tesseract languages"),

		templateDir:  fs.StringLong("template-dir", "", "Directory for rendered notification templates, empty disables them"),
		templateFile: fs.StringLong("template", "", "Custom notification template (optional)"),
		signature:    fs.StringLong("signature", "", "Signature at the end of notifications"),
		notifyDomain: fs.StringLong("notify-domain", "example.com", "Domain vendor notification addresses are built on"),
		resendKey:    fs.StringLong("resend-key", "", "Resend API key, notifications are only written to disk without it"),
		resendFrom:   fs.StringLong("resend-from", "receipts@example.com", "Sender address for notifications"),
	}
}

// pipeline holds a configured runner and the resources it owns
type pipeline struct {
	runner *batch.Runner
	engine ocr.Engine
	store  *dataset.BoltStore
}

func (p *pipeline) Close() {
	if err := p.engine.Close(); err != nil {
		slog.Error("Error closing OCR engine", "error", err)
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}
}

func parseMode(s string) (ocr.Mode, error) {
	switch s {
	case ocr.ModeUniformBlock.String():
		return ocr.ModeUniformBlock, nil
	case ocr.ModeAuto.String():
		return ocr.ModeAuto, nil
	default:
		return 0, fmt.Errorf("invalid OCR mode %q, valid: uniform-block or auto", s)
	}
}

// newEngine initializes the OCR backend selected by --backend
func (f *pipelineFlags) newEngine() (ocr.Engine, error) {
	switch *f.backend {
	case "tesseract":
		slog.Info("Initializing tesseract engine...", "languages", *f.tessLanguages)
		return tesseract.New(tesseract.Config{
			Languages:      strings.Split(*f.tessLanguages, ","),
			TessdataPrefix: *f.tessdata,
		}), nil
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *f.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required, set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini engine...", "model", *f.geminiModel)
		return ocr.NewGemini(apiKey, *f.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama engine...", "url", *f.ollamaURL, "model", *f.ollamaModel)
		return ocr.NewOllama(*f.ollamaURL, *f.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid backend %q, valid: tesseract, gemini or ollama", *f.backend)
	}
}

func (f *pipelineFlags) newParser() (*receipt.Parser, error) {
	rules := receipt.DefaultRules()
	if *f.rules != "" {
		var err error
		if rules, err = receipt.LoadRules(*f.rules); err != nil {
			return nil, err
		}
		slog.Info("Loaded field rules", "path", *f.rules, "rules", len(rules))
	}
	return receipt.NewParser(rules)
}

func (f *pipelineFlags) newNotifier() (*notify.Notifier, error) {
	renderer, err := notify.NewRenderer(*f.templateFile, *f.signature)
	if err != nil {
		return nil, err
	}

	var sender notify.Sender
	if *f.resendKey != "" {
		resendSender, err := notify.NewResendSender(*f.resendKey, *f.resendFrom)
		if err != nil {
			return nil, fmt.Errorf("initializing resend: %w", err)
		}
		sender = resendSender
	}
	return notify.NewNotifier(renderer, *f.templateDir, sender, *f.notifyDomain), nil
}

// build wires the stages into a runner. reg receives the batch metrics when not nil.
func (f *pipelineFlags) build(reg prometheus.Registerer) (*pipeline, error) {
	mode, err := parseMode(*f.ocrMode)
	if err != nil {
		return nil, err
	}

	parser, err := f.newParser()
	if err != nil {
		return nil, fmt.Errorf("building parser: %w", err)
	}

	normalizer := preprocess.NewNormalizer()
	normalizer.Deskew = !*f.noDeskew

	backfiller := receipt.NewBackfiller(receipt.NewFakeGenerator(int64(*f.seed)))

	var opts []batch.Option
	if reg != nil {
		opts = append(opts, batch.WithMetrics(batch.NewMetrics(reg)))
	}
	if *f.templateDir != "" {
		notifier, err := f.newNotifier()
		if err != nil {
			return nil, fmt.Errorf("building notifier: %w", err)
		}
		opts = append(opts, batch.WithNotifier(notifier))
	}

	p := &pipeline{}
	if *f.dbPath != "" {
		slog.Info("Initializing database...", "path", *f.dbPath)
		if p.store, err = dataset.NewBoltStore(*f.dbPath); err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		opts = append(opts, batch.WithHistory(p.store))
	}

	if p.engine, err = f.newEngine(); err != nil {
		if p.store != nil {
			p.store.Close()
		}
		return nil, fmt.Errorf("initializing OCR engine: %w", err)
	}

	p.runner = batch.NewRunner(batch.Config{
		OutputPath:   *f.output,
		PartitionDir: *f.partitionDir,
		Mode:         mode,
		OCRTimeout:   *f.ocrTimeout,
	}, normalizer, p.engine, parser, backfiller, opts...)
	return p, nil
}
