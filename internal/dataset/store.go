package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/receipt-extractor/internal/receipt"
)

const (
	receiptBucketName = "receipts"
	runBucketName     = "runs"
)

// ErrNotFound is returned when a receipt or run is not in the store
var ErrNotFound = errors.New("not found")

// SkippedFile is an input that produced no record
type SkippedFile struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Run is the history entry of one batch
type Run struct {
	ID         string         `json:"id"`
	InputDir   string         `json:"input_dir"`
	Output     string         `json:"output"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Records    int            `json:"records"`
	Skipped    []SkippedFile  `json:"skipped"`
	Backfilled map[string]int `json:"backfilled"`
	Error      string         `json:"error,omitempty"`
}

// Store defines the interface for history operations
type Store interface {
	// SaveReceipts saves records, replacing any with the same receipt number
	SaveReceipts(records receipt.Dataset) error

	// GetReceipt retrieves a record by receipt number
	GetReceipt(receiptNumber string) (*receipt.Record, error)

	// ListReceipts returns all records ordered by receipt number
	ListReceipts() (receipt.Dataset, error)

	// SaveRun saves a batch run
	SaveRun(run *Run) error

	// GetRun retrieves a run by ID
	GetRun(id string) (*Run, error)

	// ListRuns returns all runs, most recent first
	ListRuns() ([]*Run, error)

	// Close closes the database connection
	Close() error
}

// BoltStore implements the Store interface using BoltDB
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the history database at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(receiptBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(runBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// SaveReceipts stores every record in one transaction
func (b *BoltStore) SaveReceipts(records receipt.Dataset) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		for _, r := range records {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshaling receipt: %w", err)
			}
			if err := bucket.Put([]byte(r.ReceiptNumber), data); err != nil {
				return fmt.Errorf("saving receipt %s: %w", r.ReceiptNumber, err)
			}
		}
		return nil
	})
}

func (b *BoltStore) GetReceipt(receiptNumber string) (*receipt.Record, error) {
	var record *receipt.Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		data := bucket.Get([]byte(receiptNumber))
		if data == nil {
			return fmt.Errorf("receipt %s: %w", receiptNumber, ErrNotFound)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListReceipts returns all records in key order
func (b *BoltStore) ListReceipts() (receipt.Dataset, error) {
	records := make(receipt.Dataset, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record receipt.Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (b *BoltStore) SaveRun(run *Run) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runBucketName))
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshaling run: %w", err)
		}
		return bucket.Put([]byte(run.ID), data)
	})
}

func (b *BoltStore) GetRun(id string) (*Run, error) {
	var run *Run
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (b *BoltStore) ListRuns() ([]*Run, error) {
	runs := make([]*Run, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("unmarshaling run: %w", err)
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
