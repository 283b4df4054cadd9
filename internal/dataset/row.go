// Package dataset persists batch output: CSV and XLSX tables, payment-method partitions
// and a bbolt history of processed receipts and runs.
package dataset

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-extractor/internal/receipt"
)

// Header is the column order of every table this package writes
var Header = []string{
	"receipt_number",
	"transaction_date",
	"transaction_type",
	"amount",
	"currency",
	"vendor_name",
	"source_file",
	"client_name",
	"is_exception",
	"is_paper",
	"line_items",
}

// Row is the flat, string-typed form of a receipt.Record.
// Field order must match Header.
type Row struct {
	ReceiptNumber   string `csv:"receipt_number"`
	TransactionDate string `csv:"transaction_date"`
	TransactionType string `csv:"transaction_type"`
	Amount          string `csv:"amount"`
	Currency        string `csv:"currency"`
	VendorName      string `csv:"vendor_name"`
	SourceFile      string `csv:"source_file"`
	ClientName      string `csv:"client_name"`
	IsException     bool   `csv:"is_exception"`
	IsPaper         bool   `csv:"is_paper"`
	LineItems       string `csv:"line_items"` // JSON array
}

type lineItemJSON struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// NewRow flattens r
func NewRow(r *receipt.Record) (Row, error) {
	items := make([]lineItemJSON, 0, len(r.LineItems))
	for _, item := range r.LineItems {
		items = append(items, lineItemJSON{Description: item.Description, Amount: item.Amount.StringFixed(2)})
	}
	lineItems, err := json.Marshal(items)
	if err != nil {
		return Row{}, fmt.Errorf("marshaling line items: %w", err)
	}

	return Row{
		ReceiptNumber:   r.ReceiptNumber,
		TransactionDate: r.TransactionDate,
		TransactionType: string(r.TransactionType),
		Amount:          r.AmountString(),
		Currency:        r.Currency,
		VendorName:      r.VendorName,
		SourceFile:      r.SourceFile,
		ClientName:      r.ClientName,
		IsException:     r.IsException,
		IsPaper:         r.IsPaper,
		LineItems:       string(lineItems),
	}, nil
}

// Record converts the row back into a receipt.Record
func (row Row) Record() (*receipt.Record, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", row.Amount, err)
	}

	transactionType, err := receipt.ParseTransactionType(row.TransactionType)
	if err != nil {
		return nil, err
	}

	items := []receipt.LineItem{}
	if row.LineItems != "" {
		var raw []lineItemJSON
		if err := json.Unmarshal([]byte(row.LineItems), &raw); err != nil {
			return nil, fmt.Errorf("unmarshaling line items: %w", err)
		}
		for _, item := range raw {
			itemAmount, err := decimal.NewFromString(item.Amount)
			if err != nil {
				return nil, fmt.Errorf("parsing line item amount %q: %w", item.Amount, err)
			}
			items = append(items, receipt.LineItem{Description: item.Description, Amount: itemAmount})
		}
	}

	return &receipt.Record{
		ReceiptNumber:   row.ReceiptNumber,
		TransactionDate: row.TransactionDate,
		TransactionType: transactionType,
		Amount:          amount,
		Currency:        row.Currency,
		VendorName:      row.VendorName,
		SourceFile:      row.SourceFile,
		ClientName:      row.ClientName,
		IsException:     row.IsException,
		IsPaper:         row.IsPaper,
		LineItems:       items,
	}, nil
}

// values returns the cells of row in Header order
func (row Row) values() []any {
	return []any{
		row.ReceiptNumber,
		row.TransactionDate,
		row.TransactionType,
		row.Amount,
		row.Currency,
		row.VendorName,
		row.SourceFile,
		row.ClientName,
		strconv.FormatBool(row.IsException),
		strconv.FormatBool(row.IsPaper),
		row.LineItems,
	}
}

// rowFromValues is the inverse of values. Missing trailing cells read as empty.
func rowFromValues(cells []string) (Row, error) {
	cell := func(i int) string {
		if i < len(cells) {
			return cells[i]
		}
		return ""
	}

	parseBool := func(i int) (bool, error) {
		if cell(i) == "" {
			return false, nil
		}
		v, err := strconv.ParseBool(cell(i))
		if err != nil {
			return false, fmt.Errorf("parsing %s: %w", Header[i], err)
		}
		return v, nil
	}

	isException, err := parseBool(8)
	if err != nil {
		return Row{}, err
	}
	isPaper, err := parseBool(9)
	if err != nil {
		return Row{}, err
	}

	return Row{
		ReceiptNumber:   cell(0),
		TransactionDate: cell(1),
		TransactionType: cell(2),
		Amount:          cell(3),
		Currency:        cell(4),
		VendorName:      cell(5),
		SourceFile:      cell(6),
		ClientName:      cell(7),
		IsException:     isException,
		IsPaper:         isPaper,
		LineItems:       cell(10),
	}, nil
}

func toRows(ds receipt.Dataset) ([]*Row, error) {
	rows := make([]*Row, 0, len(ds))
	for _, r := range ds {
		row, err := NewRow(r)
		if err != nil {
			return nil, fmt.Errorf("flattening %s: %w", r.SourceFile, err)
		}
		rows = append(rows, &row)
	}
	return rows, nil
}

func fromRows(rows []*Row) (receipt.Dataset, error) {
	ds := make(receipt.Dataset, 0, len(rows))
	for i, row := range rows {
		r, err := row.Record()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		ds = append(ds, r)
	}
	return ds, nil
}
