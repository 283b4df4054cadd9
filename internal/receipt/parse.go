package receipt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// sigilCurrencies maps amount sigils onto the ISO code assumed for them
var sigilCurrencies = map[string]string{
	"$":  "USD",
	"R$": "BRL",
	"€":  "EUR",
	"£":  "GBP",
	"¥":  "JPY",
	"₹":  "INR",
}

var (
	lineItemRe = regexp.MustCompile(`(?m)^[ \t]*(?P<description>[A-Za-z][^\n]*?)[ \t]+(?:R\$|[$€£¥₹])?[ \t]*(?P<amount>\d+\.\d{2})[ \t]*$`)
	// labelLineRe matches lines that hold receipt metadata rather than purchased items
	labelLineRe = regexp.MustCompile(`(?i)^(?:amount|total|sub\s*total|tax|vat|change|balance|cash|tendered|receipt|date|transaction|vendor)\b`)
)

type compiledRule struct {
	re       *regexp.Regexp
	value    int
	currency int
}

// Parser extracts receipt fields from OCR text using an ordered rule set.
// A Parser is safe for concurrent use.
type Parser struct {
	rules map[FieldName][]compiledRule
}

// NewParser compiles rules. Rule order within a field is its priority.
func NewParser(rules []Rule) (*Parser, error) {
	known := make(map[FieldName]bool, len(Fields))
	for _, f := range Fields {
		known[f] = true
	}

	p := &Parser{rules: make(map[FieldName][]compiledRule)}
	for i, r := range rules {
		if !known[r.Field] {
			return nil, fmt.Errorf("rule %d: unknown field %q", i, r.Field)
		}
		if r.Field == FieldCurrency {
			return nil, fmt.Errorf("rule %d: currency is captured by amount rules", i)
		}

		pattern := r.Pattern
		if !r.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): compiling pattern: %w", i, r.Field, err)
		}
		if re.NumSubexp() == 0 {
			return nil, fmt.Errorf("rule %d (%s): pattern has no capture group", i, r.Field)
		}

		cr := compiledRule{re: re, value: 1, currency: -1}
		if idx := re.SubexpIndex("value"); idx > 0 {
			cr.value = idx
		}
		if idx := re.SubexpIndex("currency"); idx > 0 {
			cr.currency = idx
		}
		p.rules[r.Field] = append(p.rules[r.Field], cr)
	}
	return p, nil
}

// Parse extracts whatever fields text contains. It never fails: fields with no valid match
// are Absent.
func (p *Parser) Parse(text string) Partial {
	var partial Partial

	if v, ok := p.first(FieldReceiptNumber, text, nonEmpty); ok {
		partial.ReceiptNumber = Found(v.value)
	}
	if v, ok := p.first(FieldTransactionDate, text, nonEmpty); ok {
		partial.TransactionDate = Found(v.value)
	}
	if v, ok := p.first(FieldTransactionType, text, func(s string) bool {
		_, err := ParseTransactionType(s)
		return err == nil
	}); ok {
		t, _ := ParseTransactionType(v.value)
		partial.TransactionType = Found(t)
	}
	if v, ok := p.first(FieldAmount, text, isAmount); ok {
		partial.Amount = Found(decimal.RequireFromString(v.value))
		if code, ok := resolveCurrency(v.currency); ok {
			partial.Currency = Found(code)
		}
	}
	if v, ok := p.first(FieldVendorName, text, nonEmpty); ok {
		partial.VendorName = Found(v.value)
	}

	partial.LineItems = parseLineItems(text)
	return partial
}

type match struct {
	value    string
	currency string
}

// first returns the first match, across the field's rules in order, whose value passes valid
func (p *Parser) first(field FieldName, text string, valid func(string) bool) (match, bool) {
	for _, r := range p.rules[field] {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v := match{value: strings.TrimSpace(m[r.value])}
		if r.currency > 0 {
			v.currency = strings.TrimSpace(m[r.currency])
		}
		if valid(v.value) {
			return v, true
		}
	}
	return match{}, false
}

func nonEmpty(s string) bool {
	return s != ""
}

func isAmount(s string) bool {
	_, err := decimal.NewFromString(s)
	return err == nil
}

// resolveCurrency turns a sigil or code into a known ISO-4217 code
func resolveCurrency(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	code, ok := sigilCurrencies[s]
	if !ok {
		code = strings.ToUpper(s)
	}
	if money.GetCurrency(code) == nil {
		return "", false
	}
	return code, true
}

// parseLineItems collects "<description> <amount>" lines that are not label lines
func parseLineItems(text string) []LineItem {
	items := make([]LineItem, 0)
	desc := lineItemRe.SubexpIndex("description")
	amount := lineItemRe.SubexpIndex("amount")
	for _, m := range lineItemRe.FindAllStringSubmatch(text, -1) {
		d := strings.TrimSpace(m[desc])
		if labelLineRe.MatchString(d) {
			continue
		}
		items = append(items, LineItem{
			Description: d,
			Amount:      decimal.RequireFromString(m[amount]),
		})
	}
	return items
}
