package receipt

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DateLayout is the day/month/year layout used for transaction dates
const DateLayout = "02/01/2006"

// TransactionType is the payment method of a receipt
type TransactionType string

const (
	Card   TransactionType = "Card"
	Cheque TransactionType = "Cheque"
)

// TransactionTypes lists every accepted transaction type
var TransactionTypes = []TransactionType{Card, Cheque}

// ParseTransactionType canonicalizes s into a TransactionType.
// Only Card and Cheque are accepted, matched case-insensitively.
func ParseTransactionType(s string) (TransactionType, error) {
	s = strings.TrimSpace(s)
	for _, t := range TransactionTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown transaction type: %q", s)
}

// LineItem is a single priced line found on a receipt
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Record is the fully populated result for one receipt image
type Record struct {
	ReceiptNumber   string          `json:"receipt_number"`
	TransactionDate string          `json:"transaction_date"` // dd/mm/yyyy
	TransactionType TransactionType `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"` // ISO-4217
	VendorName      string          `json:"vendor_name"`
	SourceFile      string          `json:"source_file"`
	ClientName      string          `json:"client_name"`
	IsException     bool            `json:"is_exception"`
	IsPaper         bool            `json:"is_paper"`
	LineItems       []LineItem      `json:"line_items"`
}

// AmountString renders the amount with exactly two fractional digits
func (r *Record) AmountString() string {
	return r.Amount.StringFixed(2)
}

// Dataset is the ordered output of one batch run, one record per processed image
type Dataset []*Record
