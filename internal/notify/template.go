// Package notify renders per-receipt notification text and optionally delivers it.
package notify

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-extractor/internal/receipt"
)

//go:embed templates/email.txt.tmpl
var templatesFS embed.FS

const (
	defaultTemplate  = "templates/email.txt.tmpl"
	defaultSignature = "Accounts Payable"

	// SampleTemplateFile is rendered from the first record of a dataset
	SampleTemplateFile = "sample_template.txt"
)

var funcs = template.FuncMap{
	"yesNo": func(b bool) string {
		if b {
			return "Yes"
		}
		return "No"
	},
}

// templateData is what the email template sees
type templateData struct {
	ReceiptNumber   string
	TransactionType string
	TransactionDate string
	ClientName      string
	VendorName      string
	Amount          string
	IsException     bool
	IsPaper         bool
	LineItems       []templateLineItem
	Signature       string
}

type templateLineItem struct {
	Description string
	Amount      string
}

// Renderer renders notification text for records
type Renderer struct {
	tmpl      *template.Template
	signature string
}

// NewRenderer creates a Renderer. An empty templatePath uses the built-in template and an
// empty signature uses a generic one.
func NewRenderer(templatePath, signature string) (*Renderer, error) {
	var (
		tmpl *template.Template
		err  error
	)
	if templatePath == "" {
		tmpl, err = template.New(filepath.Base(defaultTemplate)).Funcs(funcs).ParseFS(templatesFS, defaultTemplate)
	} else {
		tmpl, err = template.New(filepath.Base(templatePath)).Funcs(funcs).ParseFiles(templatePath)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing email template: %w", err)
	}

	if signature == "" {
		signature = defaultSignature
	}
	return &Renderer{tmpl: tmpl, signature: signature}, nil
}

// Render returns the notification text for r
func (n *Renderer) Render(r *receipt.Record) (string, error) {
	data := templateData{
		ReceiptNumber:   r.ReceiptNumber,
		TransactionType: string(r.TransactionType),
		TransactionDate: r.TransactionDate,
		ClientName:      r.ClientName,
		VendorName:      r.VendorName,
		Amount:          DisplayAmount(r.Amount, r.Currency),
		IsException:     r.IsException,
		IsPaper:         r.IsPaper,
		Signature:       n.signature,
	}
	for _, item := range r.LineItems {
		data.LineItems = append(data.LineItems, templateLineItem{
			Description: item.Description,
			Amount:      DisplayAmount(item.Amount, r.Currency),
		})
	}

	var buf bytes.Buffer
	if err := n.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering template for %s: %w", r.ReceiptNumber, err)
	}
	return buf.String(), nil
}

// DisplayAmount formats amount in its currency, e.g. "$12.50" for USD.
// Amounts are rounded to the currency's minor unit. Unknown currencies fall back to "<amount> <code>".
func DisplayAmount(amount decimal.Decimal, code string) string {
	currency := money.GetCurrency(code)
	if currency == nil {
		return strings.TrimSpace(amount.StringFixed(2) + " " + code)
	}

	minor := amount.Shift(int32(currency.Fraction)).Round(0).IntPart()
	return money.New(minor, currency.Code).Display()
}

// TemplateFile is the name of the rendered notification for a receipt
func TemplateFile(receiptNumber string) string {
	return fmt.Sprintf("email_template_%s.txt", sanitize(receiptNumber))
}

func sanitize(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}

// WriteTemplates renders one file per record into dir plus a sample from the first record.
// It returns the paths written, sample first.
func (n *Renderer) WriteTemplates(dir string, ds receipt.Dataset) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating template directory: %w", err)
	}
	if len(ds) == 0 {
		return nil, nil
	}

	paths := make([]string, 0, len(ds)+1)
	write := func(name string, r *receipt.Record) error {
		text, err := n.Render(r)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(text), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		paths = append(paths, path)
		return nil
	}

	if err := write(SampleTemplateFile, ds[0]); err != nil {
		return nil, err
	}
	for _, r := range ds {
		if err := write(TemplateFile(r.ReceiptNumber), r); err != nil {
			return nil, err
		}
	}
	return paths, nil
}
