package dataset

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-extractor/internal/receipt"
)

// PartitionFiles maps each transaction type to the file its records are written to
var PartitionFiles = map[receipt.TransactionType]string{
	receipt.Card:   "card_data.csv",
	receipt.Cheque: "cheque_data.csv",
}

// Partition splits ds by payment method, keeping the original order inside each group.
// Types are compared trimmed and case-insensitively.
func Partition(ds receipt.Dataset) map[receipt.TransactionType]receipt.Dataset {
	parts := make(map[receipt.TransactionType]receipt.Dataset, len(receipt.TransactionTypes))
	for _, t := range receipt.TransactionTypes {
		parts[t] = receipt.Dataset{}
	}

	for _, r := range ds {
		key := strings.ToLower(strings.TrimSpace(string(r.TransactionType)))
		for _, t := range receipt.TransactionTypes {
			if key == strings.ToLower(string(t)) {
				parts[t] = append(parts[t], r)
				break
			}
		}
	}
	return parts
}

// WritePartitions writes one CSV per transaction type into dir and returns the number of
// records in each file. Every file is written, even when its partition is empty.
func WritePartitions(dir string, ds receipt.Dataset) (map[receipt.TransactionType]int, error) {
	counts := make(map[receipt.TransactionType]int, len(PartitionFiles))
	for t, part := range Partition(ds) {
		path := filepath.Join(dir, PartitionFiles[t])
		if err := NewCSVFile(path).Write(part); err != nil {
			return nil, fmt.Errorf("writing %s partition: %w", t, err)
		}
		counts[t] = len(part)
	}
	return counts, nil
}
