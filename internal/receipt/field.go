package receipt

import "github.com/shopspring/decimal"

// Field holds the extraction result for one receipt field: either a found value or absent.
// The zero value is absent.
type Field[T any] struct {
	value T
	found bool
}

// Found returns a field holding v
func Found[T any](v T) Field[T] {
	return Field[T]{value: v, found: true}
}

// Absent returns a field with no value
func Absent[T any]() Field[T] {
	return Field[T]{}
}

// Get returns the value and whether it was found
func (f Field[T]) Get() (T, bool) {
	return f.value, f.found
}

// IsFound reports whether the field holds a value
func (f Field[T]) IsFound() bool {
	return f.found
}

// OrElse returns the value when found, otherwise the result of fallback
func (f Field[T]) OrElse(fallback func() T) T {
	if f.found {
		return f.value
	}
	return fallback()
}

// Partial is the parser's view of a receipt. Unrecovered fields are Absent.
type Partial struct {
	ReceiptNumber   Field[string]
	TransactionDate Field[string]
	TransactionType Field[TransactionType]
	Amount          Field[decimal.Decimal]
	Currency        Field[string]
	VendorName      Field[string]
	LineItems       []LineItem
}

// FieldName identifies a receipt field in rules, logs and metrics
type FieldName string

const (
	FieldReceiptNumber   FieldName = "receipt_number"
	FieldTransactionDate FieldName = "transaction_date"
	FieldTransactionType FieldName = "transaction_type"
	FieldAmount          FieldName = "amount"
	FieldCurrency        FieldName = "currency"
	FieldVendorName      FieldName = "vendor_name"
)

// Fields lists every field that can be parsed or backfilled, in output order
var Fields = []FieldName{
	FieldReceiptNumber,
	FieldTransactionDate,
	FieldTransactionType,
	FieldAmount,
	FieldCurrency,
	FieldVendorName,
}

// Missing returns the names of the fields that are absent, in Fields order
func (p *Partial) Missing() []FieldName {
	found := map[FieldName]bool{
		FieldReceiptNumber:   p.ReceiptNumber.IsFound(),
		FieldTransactionDate: p.TransactionDate.IsFound(),
		FieldTransactionType: p.TransactionType.IsFound(),
		FieldAmount:          p.Amount.IsFound(),
		FieldCurrency:        p.Currency.IsFound(),
		FieldVendorName:      p.VendorName.IsFound(),
	}
	missing := make([]FieldName, 0, len(Fields))
	for _, name := range Fields {
		if !found[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
