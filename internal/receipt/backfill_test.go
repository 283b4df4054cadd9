package receipt

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

// mockGenerator is a mock implementation of Generator
type mockGenerator struct{}

func (m *mockGenerator) ReceiptNumber() string { return "synthetic-id" }
func (m *mockGenerator) Date(year int) time.Time {
	return time.Date(year, time.March, 9, 0, 0, 0, 0, time.UTC)
}
func (m *mockGenerator) TransactionType() TransactionType { return Cheque }
func (m *mockGenerator) Amount() decimal.Decimal { return decimal.New(1234, -2) }
func (m *mockGenerator) Currency() string { return "EUR" }
func (m *mockGenerator) Company() string { return "Synthetic Ltd" }
func (m *mockGenerator) PersonName() string { return "Pat Doe" }
func (m *mockGenerator) Bool() bool { return true }

// mockTimeSource is a mock implementation of TimeSource
type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

var _ = Describe("Backfiller", func() {
	var (
		backfiller *Backfiller
		partial    Partial
		record     *Record
		filled     []FieldName
	)

	BeforeEach(func() {
		backfiller = NewBackfillerWithDeps(&mockGenerator{}, &mockTimeSource{
			now: time.Date(2025, time.July, 1, 12, 0, 0, 0, time.UTC),
		})
	})

	JustBeforeEach(func() {
		record, filled = backfiller.Fill(partial, "scan-01.png")
	})

	When("every field is absent", func() {
		BeforeEach(func() {
			partial = Partial{}
		})

		It("should synthesize every field", func() {
			Expect(filled).To(Equal(Fields))
			Expect(record.ReceiptNumber).To(Equal("synthetic-id"))
			Expect(record.TransactionDate).To(Equal("09/03/2025"))
			Expect(record.TransactionType).To(Equal(Cheque))
			Expect(record.AmountString()).To(Equal("12.34"))
			Expect(record.Currency).To(Equal("EUR"))
			Expect(record.VendorName).To(Equal("Synthetic Ltd"))
		})

		It("should keep the source file", func() {
			Expect(record.SourceFile).To(Equal("scan-01.png"))
		})

		It("should fill the notification fields", func() {
			Expect(record.ClientName).To(Equal("Pat Doe"))
			Expect(record.IsException).To(BeTrue())
			Expect(record.IsPaper).To(BeTrue())
			Expect(record.LineItems).NotTo(BeNil())
		})
	})

	When("every field was found", func() {
		BeforeEach(func() {
			partial = Partial{
				ReceiptNumber:   Found("AB123"),
				TransactionDate: Found("05/06/2024"),
				TransactionType: Found(Card),
				Amount:          Found(decimal.RequireFromString("45.00")),
				Currency:        Found("USD"),
				VendorName:      Found("Acme Corp"),
			}
		})

		It("should keep the parsed values", func() {
			Expect(filled).To(BeEmpty())
			Expect(record.ReceiptNumber).To(Equal("AB123"))
			Expect(record.TransactionDate).To(Equal("05/06/2024"))
			Expect(record.TransactionType).To(Equal(Card))
			Expect(record.AmountString()).To(Equal("45.00"))
			Expect(record.Currency).To(Equal("USD"))
			Expect(record.VendorName).To(Equal("Acme Corp"))
		})
	})
})

var _ = Describe("FakeGenerator", func() {
	amountRe := regexp.MustCompile(`^\d+\.\d{2}$`)

	It("should produce UUID receipt numbers", func() {
		_, err := uuid.Parse(NewFakeGenerator(0).ReceiptNumber())
		Expect(err).NotTo(HaveOccurred())
	})

	It("should keep dates within the requested year", func() {
		g := NewFakeGenerator(7)
		for i := 0; i < 50; i++ {
			Expect(g.Date(2024).Year()).To(Equal(2024))
		}
	})

	It("should produce positive two-decimal amounts", func() {
		g := NewFakeGenerator(7)
		for i := 0; i < 50; i++ {
			amount := g.Amount()
			Expect(amount.IsPositive()).To(BeTrue())
			Expect(amount.StringFixed(2)).To(MatchRegexp(amountRe.String()))
		}
	})

	It("should only produce Card or Cheque", func() {
		g := NewFakeGenerator(7)
		for i := 0; i < 50; i++ {
			Expect(TransactionTypes).To(ContainElement(g.TransactionType()))
		}
	})

	It("should draw currencies from the synthetic domain", func() {
		g := NewFakeGenerator(7)
		Expect(SyntheticCurrencies).To(ContainElement(g.Currency()))
	})

	It("should repeat itself for the same seed", func() {
		a, b := NewFakeGenerator(42), NewFakeGenerator(42)
		Expect(a.ReceiptNumber()).To(Equal(b.ReceiptNumber()))
		Expect(a.Company()).To(Equal(b.Company()))
		Expect(a.Amount().String()).To(Equal(b.Amount().String()))
	})
})

var _ = Describe("Parse then Backfill", func() {
	It("should fully populate a record from text without labels", func() {
		parser, err := NewParser(DefaultRules())
		Expect(err).NotTo(HaveOccurred())

		record, filled := NewBackfiller(NewFakeGenerator(0)).Fill(parser.Parse("no labels here"), "blank.png")
		Expect(filled).To(Equal(Fields))

		_, err = uuid.Parse(record.ReceiptNumber)
		Expect(err).NotTo(HaveOccurred())

		date, err := time.Parse(DateLayout, record.TransactionDate)
		Expect(err).NotTo(HaveOccurred())
		Expect(date.Year()).To(Equal(time.Now().Year()))

		Expect(TransactionTypes).To(ContainElement(record.TransactionType))
		Expect(record.AmountString()).To(MatchRegexp(`^\d+\.\d{2}$`))
		Expect(record.VendorName).NotTo(BeEmpty())
		Expect(record.Currency).NotTo(BeEmpty())
	})
})

var _ = Describe("ParseTransactionType", func() {
	It("should accept Card and Cheque in any case", func() {
		t, err := ParseTransactionType(" cheque ")
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(Equal(Cheque))
	})

	It("should reject other payment methods", func() {
		_, err := ParseTransactionType("Cash")
		Expect(err).To(HaveOccurred())
	})
})
