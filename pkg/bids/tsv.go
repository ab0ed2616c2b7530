// Package bids handles the metadata side of BIDS EEG datasets: TSV tables,
// JSON sidecars and the directory layout around the signal files.
package bids

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// NA is the BIDS marker for a missing value.
const NA = "n/a"

// Table is a tab-separated file held as strings. Every row has exactly
// len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable loads a TSV file.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening table: %w", err)
	}
	defer f.Close()

	t, err := ParseTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// ParseTable reads a header line and data rows. Short rows are padded with
// empty cells; rows wider than the header are an error.
func ParseTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty table")
	}
	if err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	t := &Table{Header: header}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading row %d: %w", len(t.Rows)+1, err)
		}
		if len(rec) > len(header) {
			return nil, fmt.Errorf("row %d has %d cells, header has %d", len(t.Rows)+1, len(rec), len(header))
		}
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// Write emits the table tab-separated with LF line endings. Cells are
// written verbatim; tabs and newlines inside a cell are replaced by spaces.
func (t *Table) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	writeLine := func(cells []string) {
		for i, c := range cells {
			if i > 0 {
				bw.WriteByte('\t')
			}
			bw.WriteString(cellReplacer.Replace(c))
		}
		bw.WriteByte('\n')
	}
	writeLine(t.Header)
	for _, row := range t.Rows {
		writeLine(row)
	}
	return bw.Flush()
}

var cellReplacer = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")

// WriteFile writes the table to path, creating parent directories.
func (t *Table) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating table: %w", err)
	}
	if err := t.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("error writing table: %w", err)
	}
	return f.Close()
}

// Index returns the position of a column, or -1.
func (t *Table) Index(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column, nil if absent.
func (t *Table) Column(name string) []string {
	idx := t.Index(name)
	if idx < 0 {
		return nil
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

func isEmpty(cell string) bool {
	return strings.TrimSpace(cell) == ""
}

// FillMissing replaces empty cells with n/a in every column not listed in
// exclude and returns the number of cells replaced per column.
func (t *Table) FillMissing(exclude ...string) map[string]int {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	counts := map[string]int{}
	for c, name := range t.Header {
		if skip[name] {
			continue
		}
		for _, row := range t.Rows {
			if isEmpty(row[c]) {
				row[c] = NA
				counts[name]++
			}
		}
	}
	return counts
}

// DropColumn removes a column and reports whether it existed.
func (t *Table) DropColumn(name string) bool {
	idx := t.Index(name)
	if idx < 0 {
		return false
	}
	t.Header = append(t.Header[:idx:idx], t.Header[idx+1:]...)
	for i, row := range t.Rows {
		t.Rows[i] = append(row[:idx:idx], row[idx+1:]...)
	}
	return true
}

// SetColumn sets every cell of a column to value, appending the column when
// it does not exist yet.
func (t *Table) SetColumn(name, value string) {
	idx := t.Index(name)
	if idx < 0 {
		t.Header = append(t.Header, name)
		for i := range t.Rows {
			t.Rows[i] = append(t.Rows[i], value)
		}
		return
	}
	for _, row := range t.Rows {
		row[idx] = value
	}
}

// FilterRows keeps the rows for which keep returns true and returns how many
// were removed.
func (t *Table) FilterRows(keep func(row []string) bool) int {
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		if keep(row) {
			kept = append(kept, row)
		}
	}
	removed := len(t.Rows) - len(kept)
	t.Rows = kept
	return removed
}
