package dataset

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-extractor/internal/receipt"
)

func TestDataset(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Dataset Suite")
}

func sampleDataset() receipt.Dataset {
	return receipt.Dataset{
		{
			ReceiptNumber:   "R-100",
			TransactionDate: "05/03/2024",
			TransactionType: receipt.Card,
			Amount:          decimal.RequireFromString("12.50"),
			Currency:        "USD",
			VendorName:      "ACME CORP",
			SourceFile:      "a.png",
			ClientName:      "Jane Roe",
			IsException:     true,
			IsPaper:         true,
			LineItems: []receipt.LineItem{
				{Description: "Coffee, large", Amount: decimal.RequireFromString("3.50")},
				{Description: "Bagel", Amount: decimal.RequireFromString("9")},
			},
		},
		{
			ReceiptNumber:   "R-101",
			TransactionDate: "17/11/2024",
			TransactionType: receipt.Cheque,
			Amount:          decimal.RequireFromString("1000"),
			Currency:        "EUR",
			VendorName:      "Globex",
			SourceFile:      "b.jpg",
			ClientName:      "John \"Q\" Public",
			IsException:     false,
			IsPaper:         true,
			LineItems:       []receipt.LineItem{},
		},
		{
			ReceiptNumber:   "R-102",
			TransactionDate: "01/01/2024",
			TransactionType: receipt.Card,
			Amount:          decimal.RequireFromString("0.99"),
			Currency:        "GBP",
			VendorName:      "Initech",
			SourceFile:      "c.tif",
			ClientName:      "Ann Other",
			IsPaper:         true,
			LineItems:       []receipt.LineItem{},
		},
	}
}

// expectSameRecords compares records by their rendered fields
func expectSameRecords(actual, expected receipt.Dataset) {
	Expect(actual).To(HaveLen(len(expected)))
	for i := range expected {
		a, e := actual[i], expected[i]
		Expect(a.ReceiptNumber).To(Equal(e.ReceiptNumber))
		Expect(a.TransactionDate).To(Equal(e.TransactionDate))
		Expect(a.TransactionType).To(Equal(e.TransactionType))
		Expect(a.AmountString()).To(Equal(e.AmountString()))
		Expect(a.Currency).To(Equal(e.Currency))
		Expect(a.VendorName).To(Equal(e.VendorName))
		Expect(a.SourceFile).To(Equal(e.SourceFile))
		Expect(a.ClientName).To(Equal(e.ClientName))
		Expect(a.IsException).To(Equal(e.IsException))
		Expect(a.IsPaper).To(Equal(e.IsPaper))
		Expect(a.LineItems).To(HaveLen(len(e.LineItems)))
		for j := range e.LineItems {
			Expect(a.LineItems[j].Description).To(Equal(e.LineItems[j].Description))
			Expect(a.LineItems[j].Amount.Equal(e.LineItems[j].Amount)).To(BeTrue())
		}
	}
}

var _ = Describe("NewWriter", func() {
	It("should pick CSV by extension", func() {
		w, err := NewWriter("out/receipts.CSV")
		Expect(err).NotTo(HaveOccurred())
		Expect(w).To(BeAssignableToTypeOf(&CSVFile{}))
		Expect(w.Path()).To(Equal("out/receipts.CSV"))
	})

	It("should pick XLSX by extension", func() {
		w, err := NewWriter("receipts.xlsx")
		Expect(err).NotTo(HaveOccurred())
		Expect(w).To(BeAssignableToTypeOf(&XLSXFile{}))
	})

	It("should reject other formats", func() {
		_, err := NewWriter("receipts.json")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("CSVFile", func() {
	var (
		path string
		ds   receipt.Dataset
		err  error
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "nested", "receipts.csv")
		ds = sampleDataset()
	})

	JustBeforeEach(func() {
		err = NewCSVFile(path).Write(ds)
	})

	It("should not return an error", func() {
		Expect(err).NotTo(HaveOccurred())
	})

	It("should write the header in column order", func() {
		data, readErr := os.ReadFile(path)
		Expect(readErr).NotTo(HaveOccurred())
		Expect(string(data)).To(HavePrefix("receipt_number,transaction_date,transaction_type,amount,currency,vendor_name,source_file,client_name,is_exception,is_paper,line_items\n"))
	})

	It("should render amounts with two decimals", func() {
		data, _ := os.ReadFile(path)
		Expect(string(data)).To(ContainSubstring(",1000.00,EUR,"))
		Expect(string(data)).To(ContainSubstring(",12.50,USD,"))
	})

	It("should round trip", func() {
		read, readErr := ReadFile(path)
		Expect(readErr).NotTo(HaveOccurred())
		expectSameRecords(read, ds)
	})

	When("the file already exists", func() {
		JustBeforeEach(func() {
			Expect(NewCSVFile(path).Write(ds[:1])).To(Succeed())
		})

		It("should overwrite it", func() {
			read, readErr := ReadFile(path)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(read).To(HaveLen(1))
		})
	})

	When("the dataset is empty", func() {
		BeforeEach(func() {
			ds = receipt.Dataset{}
		})

		It("should read back empty", func() {
			read, readErr := ReadFile(path)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(read).To(BeEmpty())
		})
	})

	When("the destination cannot be created", func() {
		BeforeEach(func() {
			blocker := filepath.Join(GinkgoT().TempDir(), "file")
			Expect(os.WriteFile(blocker, []byte("x"), 0644)).To(Succeed())
			path = filepath.Join(blocker, "receipts.csv")
		})

		It("should return an error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("XLSXFile", func() {
	var (
		path string
		ds   receipt.Dataset
		err  error
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "receipts.xlsx")
		ds = sampleDataset()
	})

	JustBeforeEach(func() {
		err = NewXLSXFile(path).Write(ds)
	})

	It("should round trip", func() {
		Expect(err).NotTo(HaveOccurred())
		read, readErr := ReadFile(path)
		Expect(readErr).NotTo(HaveOccurred())
		expectSameRecords(read, ds)
	})

	When("the dataset is empty", func() {
		BeforeEach(func() {
			ds = nil
		})

		It("should read back empty", func() {
			read, readErr := ReadFile(path)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(read).To(BeEmpty())
		})
	})
})

var _ = Describe("Row", func() {
	It("should reject an unknown transaction type", func() {
		_, err := Row{Amount: "1.00", TransactionType: "Cash"}.Record()
		Expect(err).To(HaveOccurred())
	})

	It("should reject a bad amount", func() {
		_, err := Row{Amount: "abc", TransactionType: "Card"}.Record()
		Expect(err).To(HaveOccurred())
	})

	It("should read missing trailing cells as empty", func() {
		row, err := rowFromValues([]string{"R-1", "01/01/2024", "Card", "1.00"})
		Expect(err).NotTo(HaveOccurred())
		Expect(row.VendorName).To(BeEmpty())
		Expect(row.IsPaper).To(BeFalse())
	})
})

var _ = Describe("Partition", func() {
	It("should split by transaction type keeping order", func() {
		parts := Partition(sampleDataset())
		Expect(parts[receipt.Card]).To(HaveLen(2))
		Expect(parts[receipt.Card][0].ReceiptNumber).To(Equal("R-100"))
		Expect(parts[receipt.Card][1].ReceiptNumber).To(Equal("R-102"))
		Expect(parts[receipt.Cheque]).To(HaveLen(1))
	})

	It("should compare types loosely", func() {
		ds := sampleDataset()
		ds[0].TransactionType = " card "
		ds[1].TransactionType = "CHEQUE"
		parts := Partition(ds)
		Expect(parts[receipt.Card]).To(HaveLen(2))
		Expect(parts[receipt.Cheque]).To(HaveLen(1))
	})

	It("should write one file per type", func() {
		dir := GinkgoT().TempDir()
		counts, err := WritePartitions(dir, sampleDataset())
		Expect(err).NotTo(HaveOccurred())
		Expect(counts).To(Equal(map[receipt.TransactionType]int{receipt.Card: 2, receipt.Cheque: 1}))

		card, err := ReadFile(filepath.Join(dir, "card_data.csv"))
		Expect(err).NotTo(HaveOccurred())
		Expect(card).To(HaveLen(2))

		cheque, err := ReadFile(filepath.Join(dir, "cheque_data.csv"))
		Expect(err).NotTo(HaveOccurred())
		Expect(cheque).To(HaveLen(1))
	})

	It("should write empty partitions", func() {
		dir := GinkgoT().TempDir()
		_, err := WritePartitions(dir, sampleDataset()[:1])
		Expect(err).NotTo(HaveOccurred())
		Expect(filepath.Join(dir, "cheque_data.csv")).To(BeAnExistingFile())
	})
})

var _ = Describe("BoltStore", func() {
	var (
		store *BoltStore
	)

	BeforeEach(func() {
		var err error
		store, err = NewBoltStore(filepath.Join(GinkgoT().TempDir(), "history.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	Describe("receipts", func() {
		BeforeEach(func() {
			Expect(store.SaveReceipts(sampleDataset())).To(Succeed())
		})

		It("should get a receipt by number", func() {
			r, err := store.GetReceipt("R-101")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.VendorName).To(Equal("Globex"))
			Expect(r.AmountString()).To(Equal("1000.00"))
		})

		It("should list receipts in key order", func() {
			list, err := store.ListReceipts()
			Expect(err).NotTo(HaveOccurred())
			expectSameRecords(list, sampleDataset())
		})

		It("should replace receipts with the same number", func() {
			updated := sampleDataset()[:1]
			updated[0].VendorName = "ACME INC"
			Expect(store.SaveReceipts(updated)).To(Succeed())

			list, err := store.ListReceipts()
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(3))
			Expect(list[0].VendorName).To(Equal("ACME INC"))
		})

		It("returns not found for unknown receipts", func() {
			_, err := store.GetReceipt("nope")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("runs", func() {
		var older, newer *Run

		BeforeEach(func() {
			older = &Run{ID: "run-1", StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Records: 2}
			newer = &Run{
				ID:         "run-2",
				StartedAt:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
				Records:    1,
				Skipped:    []SkippedFile{{File: "bad.png", Reason: "decode"}},
				Backfilled: map[string]int{"vendor_name": 1},
			}
			Expect(store.SaveRun(older)).To(Succeed())
			Expect(store.SaveRun(newer)).To(Succeed())
		})

		It("should get a run by id", func() {
			run, err := store.GetRun("run-2")
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Skipped).To(Equal([]SkippedFile{{File: "bad.png", Reason: "decode"}}))
			Expect(run.Backfilled).To(HaveKeyWithValue("vendor_name", 1))
		})

		It("should list the most recent run first", func() {
			runs, err := store.ListRuns()
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(2))
			Expect(runs[0].ID).To(Equal("run-2"))
			Expect(runs[1].ID).To(Equal("run-1"))
		})

		It("returns not found for unknown runs", func() {
			_, err := store.GetRun("run-3")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})
