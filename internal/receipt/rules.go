package receipt

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Rule is a single field extraction pattern.
// Patterns capture the value in a group named "value" (or the first group when unnamed);
// amount patterns may also capture a sigil or ISO code in a group named "currency".
type Rule struct {
	Field         FieldName `toml:"field"`
	Pattern       string    `toml:"pattern"`
	CaseSensitive bool      `toml:"case_sensitive"`
}

// currencyPattern matches the sigils and ISO codes that may precede an amount
const currencyPattern = `R\$|[$€£¥₹]|[A-Z]{3}`

// DefaultRules returns the built-in rule set, ordered by field then priority.
// Labels are whole words and a value must sit on the same line as its label.
func DefaultRules() []Rule {
	return []Rule{
		{Field: FieldReceiptNumber, Pattern: `\bReceipt[ \t]*(?:Number\b|No\b\.?|#)[ \t]*[:\-#]?[ \t]*(?P<value>[A-Z0-9][A-Z0-9-]*)`},

		{Field: FieldTransactionDate, Pattern: `\bDate\b[ \t]*[:\-]?[ \t]*(?P<value>\d{2}/\d{2}/\d{4})`},
		{Field: FieldTransactionDate, Pattern: `\b(?P<value>\d{2}/\d{2}/\d{4})\b`},

		{Field: FieldTransactionType, Pattern: `\bTransaction[ \t]*Type\b[ \t]*[:\-]?[ \t]*(?P<value>Card|Cheque)\b`},

		{Field: FieldAmount, Pattern: `\bAmount\b[ \t]*[:\-]?[ \t]*(?P<currency>` + currencyPattern + `)?[ \t]*(?P<value>\d+\.\d{2})\b`},
		// Total starts its line or follows punctuation, so "Subtotal" and "Sub total" are not totals
		{Field: FieldAmount, Pattern: `(?m)(?:^|[^A-Z \t])[ \t]*(?:Grand[ \t]+)?Total\b[ \t]*[:\-]?[ \t]*(?P<currency>` + currencyPattern + `)?[ \t]*(?P<value>\d+\.\d{2})\b`},
		{Field: FieldAmount, Pattern: `(?P<currency>R\$|[$€£¥₹])[ \t]*(?P<value>\d+\.\d{2})\b`},
		{Field: FieldAmount, Pattern: `\b(?P<value>\d+\.\d{2})\b`},

		{Field: FieldVendorName, Pattern: `\bVendor(?:[ \t]*Name)?\b[ \t]*[:\-]?[ \t]*(?P<value>[A-Z][A-Z ]*)`},
	}
}

type ruleFile struct {
	Rules []Rule `toml:"rule"`
}

// LoadRules reads rule overrides from a TOML file.
// Fields named in the file replace the default rules for that field; other fields keep their
// defaults.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var file ruleFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding rules file: %w", err)
	}

	return MergeRules(DefaultRules(), file.Rules), nil
}

// MergeRules replaces the base rules of every field that overrides mentions
func MergeRules(base, overrides []Rule) []Rule {
	overridden := make(map[FieldName]bool)
	for _, r := range overrides {
		overridden[r.Field] = true
	}

	merged := make([]Rule, 0, len(base)+len(overrides))
	for _, r := range base {
		if !overridden[r.Field] {
			merged = append(merged, r)
		}
	}
	return append(merged, overrides...)
}
