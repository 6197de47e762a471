// Package frame defines the in-memory tabular dataset exchanged between
// plugin scripts, the artifact cache, and the external viewer.
//
// Plugins emit CSV on stdout; the cache stores frames as zstd-compressed
// msgpack so repeated views skip re-running user code.
package frame

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// Frame is a dataset: named columns over string-typed rows. Cell typing
// is the viewer's concern; the console only moves the bytes.
type Frame struct {
	Columns []string   `msgpack:"columns" json:"columns"`
	Rows    [][]string `msgpack:"rows" json:"rows"`
}

// NumRows returns the row count.
func (f *Frame) NumRows() int { return len(f.Rows) }

// NumColumns returns the column count.
func (f *Frame) NumColumns() int { return len(f.Columns) }

// ReadCSV parses a frame from CSV. The first record is the header.
// A completely empty input is an error; a header with no rows is not.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty output: expected a CSV header row")
	}
	if err != nil {
		return nil, fmt.Errorf("parse CSV header: %w", err)
	}

	f := &Frame{Columns: header}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			return f, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse CSV row %d: %w", len(f.Rows)+2, err)
		}
		f.Rows = append(f.Rows, record)
	}
}

// WriteCSV writes the frame as CSV, header first.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Columns); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, row := range f.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
