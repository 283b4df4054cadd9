package batch

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zombor/receipt-extractor/internal/dataset"
	"github.com/zombor/receipt-extractor/internal/ocr"
	"github.com/zombor/receipt-extractor/internal/preprocess"
	"github.com/zombor/receipt-extractor/internal/receipt"
)

func TestBatch(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Batch Suite")
}

// mockEngine returns texts in call order
type mockEngine struct {
	texts []string
	errs  []error
	delay time.Duration
	calls int
}

func (m *mockEngine) Extract(ctx context.Context, img *image.Gray, mode ocr.Mode) (string, error) {
	i := m.calls
	m.calls++
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.texts) {
		return m.texts[i], nil
	}
	return "", nil
}

func (m *mockEngine) Close() error {
	return nil
}

// mockTimeSource for testing
type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

// mockIDGenerator for testing
type mockIDGenerator struct {
	id string
}

func (m *mockIDGenerator) Generate() string {
	return m.id
}

// mockHistory for testing
type mockHistory struct {
	receipts receipt.Dataset
	runs     []*dataset.Run
}

func (m *mockHistory) SaveReceipts(records receipt.Dataset) error {
	m.receipts = append(m.receipts, records...)
	return nil
}

func (m *mockHistory) SaveRun(run *dataset.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

// mockNotifier for testing
type mockNotifier struct {
	datasets []receipt.Dataset
}

func (m *mockNotifier) Notify(ctx context.Context, ds receipt.Dataset) error {
	m.datasets = append(m.datasets, ds)
	return nil
}

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func writeReceiptImage(path string) {
	img := image.NewGray(image.Rect(0, 0, 60, 40))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for x := 10; x < 50; x++ {
		for y := 18; y < 22; y++ {
			img.SetGray(x, y, color.Gray{Y: 10})
		}
	}
	file, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	defer file.Close()
	Expect(png.Encode(file, img)).To(Succeed())
}

func newTestRunner(cfg Config, engine ocr.Engine, seed int64, opts ...Option) *Runner {
	parser, err := receipt.NewParser(receipt.DefaultRules())
	Expect(err).NotTo(HaveOccurred())
	clock := &mockTimeSource{now: fixedNow}
	backfiller := receipt.NewBackfillerWithDeps(receipt.NewFakeGenerator(seed), clock)
	opts = append([]Option{WithTimeSource(clock), WithIDGenerator(&mockIDGenerator{id: "run-1"})}, opts...)
	return NewRunner(cfg, preprocess.NewNormalizer(), engine, parser, backfiller, opts...)
}

var _ = Describe("Runner", func() {
	var (
		inputDir string
		outDir   string
		cfg      Config
		engine   *mockEngine
		opts     []Option
		ctx      context.Context
		result   *Result
		err      error
	)

	BeforeEach(func() {
		inputDir = GinkgoT().TempDir()
		outDir = GinkgoT().TempDir()
		cfg = Config{OutputPath: filepath.Join(outDir, "receipts.csv")}
		engine = &mockEngine{}
		opts = nil
		ctx = context.Background()
	})

	JustBeforeEach(func() {
		result, err = newTestRunner(cfg, engine, 42, opts...).Run(ctx, inputDir)
	})

	When("a corrupt file sits next to a valid one", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(filepath.Join(inputDir, "a_corrupt.png"), []byte("not an image"), 0644)).To(Succeed())
			writeReceiptImage(filepath.Join(inputDir, "b_valid.png"))
			engine.texts = []string{"Receipt Number: R-7\nAmount: $12.50"}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should produce one record", func() {
			Expect(result.Records).To(HaveLen(1))
			Expect(result.Records[0].SourceFile).To(Equal("b_valid.png"))
			Expect(result.Records[0].ReceiptNumber).To(Equal("R-7"))
			Expect(result.Records[0].AmountString()).To(Equal("12.50"))
			Expect(result.Records[0].Currency).To(Equal("USD"))
		})

		It("should record the skipped file", func() {
			Expect(result.Skipped).To(Equal([]dataset.SkippedFile{{File: "a_corrupt.png", Reason: ReasonDecode}}))
		})

		It("should write one row", func() {
			read, readErr := dataset.ReadFile(cfg.OutputPath)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(read).To(HaveLen(1))
		})

		It("should only call the engine for the valid file", func() {
			Expect(engine.calls).To(Equal(1))
		})
	})

	When("the engine finds no text", func() {
		BeforeEach(func() {
			writeReceiptImage(filepath.Join(inputDir, "blank.png"))
		})

		It("should produce a fully populated record", func() {
			Expect(result.Records).To(HaveLen(1))
			r := result.Records[0]
			Expect(r.ReceiptNumber).NotTo(BeEmpty())
			Expect(r.TransactionDate).To(HaveSuffix("/2024"))
			Expect(r.TransactionType).To(BeElementOf(receipt.Card, receipt.Cheque))
			Expect(r.Amount.IsPositive()).To(BeTrue())
			Expect(r.Currency).To(BeElementOf(receipt.SyntheticCurrencies))
			Expect(r.VendorName).NotTo(BeEmpty())
			Expect(r.IsPaper).To(BeTrue())
		})

		It("should count every field as backfilled", func() {
			for _, field := range receipt.Fields {
				Expect(result.Backfilled).To(HaveKeyWithValue(field, 1))
			}
		})
	})

	When("files are listed out of order", func() {
		BeforeEach(func() {
			writeReceiptImage(filepath.Join(inputDir, "b.png"))
			writeReceiptImage(filepath.Join(inputDir, "a.JPG.png"))
			writeReceiptImage(filepath.Join(inputDir, "C.PNG"))
		})

		It("should process them in lexical order", func() {
			Expect(result.Records).To(HaveLen(3))
			Expect(result.Records[0].SourceFile).To(Equal("C.PNG"))
			Expect(result.Records[1].SourceFile).To(Equal("a.JPG.png"))
			Expect(result.Records[2].SourceFile).To(Equal("b.png"))
		})
	})

	When("the directory holds other entries", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(filepath.Join(inputDir, "notes.txt"), []byte("hello"), 0644)).To(Succeed())
			Expect(os.Mkdir(filepath.Join(inputDir, "nested.png"), 0755)).To(Succeed())
			writeReceiptImage(filepath.Join(inputDir, "receipt.png"))
		})

		It("should ignore them without skipping", func() {
			Expect(result.Records).To(HaveLen(1))
			Expect(result.Skipped).To(BeEmpty())
		})
	})

	When("the directory is missing", func() {
		BeforeEach(func() {
			inputDir = filepath.Join(inputDir, "missing")
		})

		It("returns a scan error", func() {
			Expect(err).To(MatchError(ErrScanIO))
			Expect(result).To(BeNil())
		})

		It("should not write any output", func() {
			Expect(cfg.OutputPath).NotTo(BeAnExistingFile())
		})
	})

	When("the directory is empty", func() {
		It("should still write the header", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Records).To(BeEmpty())
			Expect(cfg.OutputPath).To(BeAnExistingFile())
		})
	})

	When("the engine fails", func() {
		BeforeEach(func() {
			writeReceiptImage(filepath.Join(inputDir, "a.png"))
			writeReceiptImage(filepath.Join(inputDir, "b.png"))
			engine.errs = []error{errors.New("tesseract crashed")}
			engine.texts = []string{"", "Vendor: GLOBEX"}
		})

		It("should skip the file and continue", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Skipped).To(Equal([]dataset.SkippedFile{{File: "a.png", Reason: ReasonEngine}}))
			Expect(result.Records).To(HaveLen(1))
			Expect(result.Records[0].VendorName).To(Equal("GLOBEX"))
		})
	})

	When("the engine is too slow", func() {
		BeforeEach(func() {
			writeReceiptImage(filepath.Join(inputDir, "slow.png"))
			engine.delay = 500 * time.Millisecond
			cfg.OCRTimeout = 20 * time.Millisecond
		})

		It("should skip the file as timed out", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Skipped).To(Equal([]dataset.SkippedFile{{File: "slow.png", Reason: ReasonTimeout}}))
		})
	})

	When("the output cannot be written", func() {
		BeforeEach(func() {
			blocker := filepath.Join(outDir, "file")
			Expect(os.WriteFile(blocker, []byte("x"), 0644)).To(Succeed())
			cfg.OutputPath = filepath.Join(blocker, "receipts.csv")
			writeReceiptImage(filepath.Join(inputDir, "a.png"))
		})

		It("returns an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("writing output"))
		})
	})

	When("the output format is unknown", func() {
		BeforeEach(func() {
			cfg.OutputPath = filepath.Join(outDir, "receipts.json")
		})

		It("returns an error before scanning", func() {
			Expect(err).To(HaveOccurred())
			Expect(result).To(BeNil())
		})
	})

	When("writing XLSX with partitions", func() {
		BeforeEach(func() {
			cfg.OutputPath = filepath.Join(outDir, "receipts.xlsx")
			cfg.PartitionDir = filepath.Join(outDir, "parts")
			writeReceiptImage(filepath.Join(inputDir, "a.png"))
			writeReceiptImage(filepath.Join(inputDir, "b.png"))
			writeReceiptImage(filepath.Join(inputDir, "c.png"))
			engine.texts = []string{
				"Transaction Type: Card",
				"Transaction Type: Cheque",
				"Transaction Type: card",
			}
		})

		It("should write every file", func() {
			Expect(err).NotTo(HaveOccurred())
			read, readErr := dataset.ReadFile(cfg.OutputPath)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(read).To(HaveLen(3))
			Expect(result.Partitions).To(Equal(map[receipt.TransactionType]int{receipt.Card: 2, receipt.Cheque: 1}))
			Expect(filepath.Join(cfg.PartitionDir, "card_data.csv")).To(BeAnExistingFile())
			Expect(filepath.Join(cfg.PartitionDir, "cheque_data.csv")).To(BeAnExistingFile())
		})
	})

	When("history, notifier and metrics are configured", func() {
		var (
			history  *mockHistory
			notifier *mockNotifier
			registry *prometheus.Registry
			metrics  *Metrics
		)

		BeforeEach(func() {
			history = &mockHistory{}
			notifier = &mockNotifier{}
			registry = prometheus.NewRegistry()
			metrics = NewMetrics(registry)
			opts = []Option{WithHistory(history), WithNotifier(notifier), WithMetrics(metrics)}

			Expect(os.WriteFile(filepath.Join(inputDir, "bad.png"), []byte("nope"), 0644)).To(Succeed())
			writeReceiptImage(filepath.Join(inputDir, "good.png"))
			engine.texts = []string{"Receipt Number: R-1\nDate: 01/02/2024\nTransaction Type: Card\nAmount: $5.00\nVendor: ACME"}
		})

		It("should save the run", func() {
			Expect(history.runs).To(HaveLen(1))
			run := history.runs[0]
			Expect(run.ID).To(Equal("run-1"))
			Expect(run.Records).To(Equal(1))
			Expect(run.StartedAt).To(Equal(fixedNow))
			Expect(run.Skipped).To(HaveLen(1))
			Expect(run.Error).To(BeEmpty())
			Expect(history.receipts).To(HaveLen(1))
		})

		It("should notify with the dataset", func() {
			Expect(notifier.datasets).To(HaveLen(1))
			Expect(notifier.datasets[0][0].ReceiptNumber).To(Equal("R-1"))
		})

		It("should count what happened", func() {
			Expect(testutil.ToFloat64(metrics.processed)).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.skipped.WithLabelValues(ReasonDecode))).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.backfilled.WithLabelValues("currency"))).To(Equal(0.0))
			Expect(testutil.ToFloat64(metrics.runs.WithLabelValues("completed"))).To(Equal(1.0))
		})

		It("should backfill nothing when every field is found", func() {
			Expect(result.Backfilled).To(BeEmpty())
			Expect(result.Summary()).To(Equal("processed 1 image(s), skipped 1, backfilled 0 field(s), wrote " + cfg.OutputPath))
		})
	})

	When("the context is cancelled", func() {
		BeforeEach(func() {
			writeReceiptImage(filepath.Join(inputDir, "a.png"))
			cancelled, cancel := context.WithCancel(context.Background())
			cancel()
			ctx = cancelled
		})

		It("should write what was processed and return the context error", func() {
			Expect(err).To(MatchError(context.Canceled))
			Expect(result.Records).To(BeEmpty())
			Expect(cfg.OutputPath).To(BeAnExistingFile())
		})
	})
})

var _ = Describe("seeded runs", func() {
	It("should produce identical output for the same seed and input", func() {
		inputDir := GinkgoT().TempDir()
		outDir := GinkgoT().TempDir()
		writeReceiptImage(filepath.Join(inputDir, "a.png"))
		writeReceiptImage(filepath.Join(inputDir, "b.png"))

		run := func(name string) []byte {
			path := filepath.Join(outDir, name)
			engine := &mockEngine{texts: []string{"Vendor: ACME", ""}}
			_, err := newTestRunner(Config{OutputPath: path}, engine, 7).Run(context.Background(), inputDir)
			Expect(err).NotTo(HaveOccurred())
			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			return data
		}

		Expect(run("first.csv")).To(Equal(run("second.csv")))
	})
})

var _ = Describe("skipReason", func() {
	It("should classify pipeline errors", func() {
		Expect(skipReason(preprocess.ErrDecode)).To(Equal(ReasonDecode))
		Expect(skipReason(preprocess.ErrNormalize)).To(Equal(ReasonNormalize))
		Expect(skipReason(ocr.ErrTimeout)).To(Equal(ReasonTimeout))
		Expect(skipReason(ocr.ErrEngine)).To(Equal(ReasonEngine))
		Expect(skipReason(errors.New("other"))).To(Equal(ReasonOther))
	})
})
