package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/receipt-extractor/internal/receipt"
)

// sheetName is the worksheet XLSX output is written to
const sheetName = "Receipts"

// Writer persists a whole dataset, replacing any previous content
type Writer interface {
	Write(ds receipt.Dataset) error
	// Path returns the destination file
	Path() string
}

// Reader loads a dataset written by a Writer
type Reader interface {
	Read() (receipt.Dataset, error)
}

// NewWriter picks the table format from the extension of path (.csv or .xlsx)
func NewWriter(path string) (Writer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return &CSVFile{path: path}, nil
	case ".xlsx":
		return &XLSXFile{path: path}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// ReadFile loads the dataset stored at path
func ReadFile(path string) (receipt.Dataset, error) {
	w, err := NewWriter(path)
	if err != nil {
		return nil, err
	}
	return w.(Reader).Read()
}

func prepare(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	return nil
}

// CSVFile reads and writes datasets as CSV with a header row
type CSVFile struct {
	path string
}

// NewCSVFile creates a CSVFile for path
func NewCSVFile(path string) *CSVFile {
	return &CSVFile{path: path}
}

func (c *CSVFile) Path() string {
	return c.path
}

// Write overwrites the file with ds. An empty dataset still gets the header.
func (c *CSVFile) Write(ds receipt.Dataset) error {
	rows, err := toRows(ds)
	if err != nil {
		return err
	}
	if err := prepare(c.path); err != nil {
		return err
	}

	file, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", c.path, err)
	}
	defer file.Close()

	if err := gocsv.MarshalFile(&rows, file); err != nil {
		return fmt.Errorf("writing %s: %w", c.path, err)
	}
	return file.Close()
}

func (c *CSVFile) Read() (receipt.Dataset, error) {
	file, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", c.path, err)
	}
	defer file.Close()

	var rows []*Row
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return receipt.Dataset{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", c.path, err)
	}
	return fromRows(rows)
}

// XLSXFile reads and writes datasets as a single-sheet workbook
type XLSXFile struct {
	path string
}

// NewXLSXFile creates an XLSXFile for path
func NewXLSXFile(path string) *XLSXFile {
	return &XLSXFile{path: path}
}

func (x *XLSXFile) Path() string {
	return x.path
}

// Write overwrites the workbook with ds, one row per record under a header row
func (x *XLSXFile) Write(ds receipt.Dataset) error {
	rows, err := toRows(ds)
	if err != nil {
		return err
	}
	if err := prepare(x.path); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("computing cell name: %w", err)
		}
		values := row.values()
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	if err := f.SaveAs(x.path); err != nil {
		return fmt.Errorf("saving %s: %w", x.path, err)
	}
	return nil
}

func (x *XLSXFile) Read() (receipt.Dataset, error) {
	f, err := excelize.OpenFile(x.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", x.path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return receipt.Dataset{}, nil
	}

	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	if len(cells) <= 1 {
		return receipt.Dataset{}, nil
	}

	rows := make([]*Row, 0, len(cells)-1)
	for i, line := range cells[1:] {
		row, err := rowFromValues(line)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		rows = append(rows, &row)
	}
	return fromRows(rows)
}
