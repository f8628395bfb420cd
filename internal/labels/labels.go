// Package labels reads raw OCR label text from files: plain text with one
// label per line, CSV, XLSX, or scanned documents run through OCR.
package labels

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// DefaultColumn is the header looked up in CSV and XLSX inputs.
const DefaultColumn = "text"

// PageReader recognizes the text of each page of a scanned document.
// ocr.Reader satisfies it.
type PageReader interface {
	ReadPages(ctx context.Context, path string) ([]string, error)
}

// Options selects where labels live inside tabular files.
type Options struct {
	Column     string // header name, matched case-insensitively; default "text"
	SheetName  string // XLSX only; overrides SheetIndex
	SheetIndex int    // XLSX only

	// OCR reads .pdf, .png, .jpg and .jpeg inputs, one label per page.
	OCR PageReader
}

func (o Options) column() string {
	if c := strings.TrimSpace(o.Column); c != "" {
		return c
	}
	return DefaultColumn
}

// Read loads labels from path, picking the format by extension. Anything
// other than .csv, .xlsx or a scanned document is read as plain text. Blank
// labels are skipped.
func Read(ctx context.Context, path string, opts Options) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".png", ".jpg", ".jpeg":
		if opts.OCR == nil {
			return nil, eris.Errorf("labels: %s needs an OCR provider", path)
		}
		pages, err := opts.OCR.ReadPages(ctx, path)
		if err != nil {
			return nil, eris.Wrapf(err, "labels: ocr %s", path)
		}
		return pages, nil
	case ".xlsx":
		return ReadXLSX(path, opts)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "labels: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(f, opts)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "labels: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadLines(f)
	}
}

// ReadLines returns each non-blank line, trimmed.
func ReadLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out []string
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, eris.Wrap(sc.Err(), "labels: read lines")
}

// ReadCSV returns the label column of a CSV document with a header row.
func ReadCSV(r io.Reader, opts Options) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "labels: read csv header")
	}
	idx, err := columnIndex(header, opts.column())
	if err != nil {
		return nil, err
	}

	var out []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "labels: read csv row")
		}
		if idx < len(record) {
			if v := strings.TrimSpace(record[idx]); v != "" {
				out = append(out, v)
			}
		}
	}
}

// ReadXLSX returns the label column of a worksheet whose first row is a header.
func ReadXLSX(path string, opts Options) ([]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "labels: open xlsx")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	idx, err := columnIndex(rowToStrings(sheet.Rows[0]), opts.column())
	if err != nil {
		return nil, err
	}

	var out []string
	for _, row := range sheet.Rows[1:] {
		if row == nil || idx >= len(row.Cells) {
			continue
		}
		if v := strings.TrimSpace(row.Cells[idx].String()); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("labels: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("labels: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func columnIndex(header []string, column string) (int, error) {
	for i, h := range header {
		// A UTF-8 BOM sticks to the first header written by spreadsheet exports.
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), column) {
			return i, nil
		}
	}
	return 0, eris.Errorf("labels: column %q not found in header %v", column, header)
}
