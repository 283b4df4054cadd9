package receipt

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
)

// Generator supplies synthetic values for fields that could not be extracted
type Generator interface {
	ReceiptNumber() string
	// Date returns a day within the given calendar year
	Date(year int) time.Time
	TransactionType() TransactionType
	// Amount returns a positive amount with two fractional digits
	Amount() decimal.Decimal
	Currency() string
	Company() string
	PersonName() string
	Bool() bool
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// SyntheticCurrencies is the domain backfilled currencies are drawn from
var SyntheticCurrencies = []string{"USD", "EUR", "GBP", "INR"}

// maxSyntheticCents bounds synthetic amounts to four integer digits
const maxSyntheticCents = 999999

// FakeGenerator implements Generator with gofakeit. It is not safe for concurrent use.
type FakeGenerator struct {
	faker *gofakeit.Faker
}

// NewFakeGenerator creates a generator. A zero seed picks a random one.
func NewFakeGenerator(seed int64) *FakeGenerator {
	return &FakeGenerator{faker: gofakeit.New(seed)}
}

func (g *FakeGenerator) ReceiptNumber() string {
	return g.faker.UUID()
}

func (g *FakeGenerator) Date(year int) time.Time {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0).Add(-time.Nanosecond)
	return g.faker.DateRange(start, end).UTC()
}

func (g *FakeGenerator) TransactionType() TransactionType {
	return TransactionTypes[g.faker.Number(0, len(TransactionTypes)-1)]
}

func (g *FakeGenerator) Amount() decimal.Decimal {
	return decimal.New(int64(g.faker.Number(1, maxSyntheticCents)), -2)
}

func (g *FakeGenerator) Currency() string {
	return g.faker.RandomString(SyntheticCurrencies)
}

func (g *FakeGenerator) Company() string {
	return g.faker.Company()
}

func (g *FakeGenerator) PersonName() string {
	return g.faker.Name()
}

func (g *FakeGenerator) Bool() bool {
	return g.faker.Bool()
}

// Backfiller completes partial receipts with synthetic values
type Backfiller struct {
	generator  Generator
	timeSource TimeSource
}

// NewBackfiller creates a Backfiller that uses the wall clock
func NewBackfiller(generator Generator) *Backfiller {
	return NewBackfillerWithDeps(generator, &defaultTimeSource{})
}

// NewBackfillerWithDeps creates a Backfiller with a custom time source for testing
func NewBackfillerWithDeps(generator Generator, timeSource TimeSource) *Backfiller {
	return &Backfiller{
		generator:  generator,
		timeSource: timeSource,
	}
}

// Fill returns a fully populated record for p and the names of the fields that were synthesized
func (b *Backfiller) Fill(p Partial, sourceFile string) (*Record, []FieldName) {
	g := b.generator
	year := b.timeSource.Now().Year()

	items := p.LineItems
	if items == nil {
		items = []LineItem{}
	}

	record := &Record{
		ReceiptNumber: p.ReceiptNumber.OrElse(g.ReceiptNumber),
		TransactionDate: p.TransactionDate.OrElse(func() string {
			return g.Date(year).Format(DateLayout)
		}),
		TransactionType: p.TransactionType.OrElse(g.TransactionType),
		Amount:          p.Amount.OrElse(g.Amount),
		Currency:        p.Currency.OrElse(g.Currency),
		VendorName:      p.VendorName.OrElse(g.Company),
		SourceFile:      sourceFile,
		ClientName:      g.PersonName(),
		IsException:     g.Bool(),
		IsPaper:         true,
		LineItems:       items,
	}

	return record, p.Missing()
}
