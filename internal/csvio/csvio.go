// Package csvio is the row-oriented reader/writer every stage streams through.
// Files are UTF-8, comma separated, with a header naming the columns.
package csvio

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"ohlcv-prep/internal/dataerr"
)

// Column names used across stages. Lookups are case-insensitive.
const (
	ColTimestamp = "Timestamp"
	ColOpen      = "Open"
	ColHigh      = "High"
	ColLow       = "Low"
	ColClose     = "Close"
	ColVolume    = "Volume"
)

// PriceColumns are the four columns rewritten by the fixed-point normalizer.
var PriceColumns = []string{ColOpen, ColHigh, ColLow, ColClose}

const utf8BOM = "\uFEFF"

// Header is the parsed first line of a file.
type Header struct {
	Names []string
	index map[string]int
}

func NewHeader(names []string) Header {
	h := Header{Names: make([]string, len(names)), index: make(map[string]int, len(names))}
	for i, n := range names {
		if i == 0 {
			n = strings.TrimPrefix(n, utf8BOM)
		}
		n = strings.TrimSpace(n)
		h.Names[i] = n
		key := strings.ToLower(n)
		if _, dup := h.index[key]; !dup {
			h.index[key] = i
		}
	}
	return h
}

// Index returns the position of a column, ignoring case.
func (h Header) Index(name string) (int, bool) {
	i, ok := h.index[strings.ToLower(name)]
	return i, ok
}

// Require resolves several columns at once. A missing column is reported as
// a malformed header row.
func (h Header) Require(path string, names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		j, ok := h.Index(n)
		if !ok {
			return nil, &dataerr.RowError{Path: path, Row: 1, Column: n, Err: errors.New("column missing from header")}
		}
		idx[i] = j
	}
	return idx, nil
}

// Record is one data row. Row is the 1-based line number of the row.
type Record struct {
	Row    int
	Fields []string
}

// Field returns the trimmed value at i, or a malformed-row error when the
// row is too short.
func (r Record) Field(path string, h Header, i int) (string, error) {
	if i < 0 || i >= len(r.Fields) {
		col := ""
		if i >= 0 && i < len(h.Names) {
			col = h.Names[i]
		}
		return "", &dataerr.RowError{Path: path, Row: r.Row, Column: col, Err: errors.New("row has too few fields")}
	}
	return strings.TrimSpace(r.Fields[i]), nil
}

// Reader streams records from a file.
type Reader struct {
	path   string
	f      *os.File
	r      *csv.Reader
	header Header
}

// Open opens path and consumes the header. A file without a header is an
// empty-input error.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	cr := csv.NewReader(bufio.NewReader(f))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	names, err := cr.Read()
	if err == io.EOF {
		f.Close()
		return nil, &dataerr.EmptyInputError{Path: path, Reason: "no header"}
	}
	if err != nil {
		f.Close()
		return nil, &dataerr.RowError{Path: path, Row: 1, Err: err}
	}
	return &Reader{path: path, f: f, r: cr, header: NewHeader(names)}, nil
}

func (r *Reader) Path() string   { return r.path }
func (r *Reader) Header() Header { return r.header }
func (r *Reader) Close() error   { return r.f.Close() }

// Next returns the next record or io.EOF. Returned fields are owned by the
// caller.
func (r *Reader) Next() (Record, error) {
	fields, err := r.r.Read()
	if err == io.EOF {
		return Record{}, io.EOF
	}
	if err != nil {
		var pe *csv.ParseError
		line := 0
		if errors.As(err, &pe) {
			line = pe.Line
		}
		return Record{}, &dataerr.RowError{Path: r.path, Row: line, Err: err}
	}
	line, _ := r.r.FieldPos(0)
	return Record{Row: line, Fields: fields}, nil
}

// Each calls fn for every record in the file.
func Each(path string, fn func(h Header, rec Record) error) error {
	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(r.header, rec); err != nil {
			return err
		}
	}
}

// Writer streams records to a file.
type Writer struct {
	path string
	f    *os.File
	buf  *bufio.Writer
	w    *csv.Writer
	rows int
}

// Create truncates path and writes header.
func Create(path string, header []string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	buf := bufio.NewWriterSize(f, 64*1024)
	w := &Writer{path: path, f: f, buf: buf, w: csv.NewWriter(buf)}
	if err := w.w.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header %s: %w", path, err)
	}
	return w, nil
}

func (w *Writer) Write(fields []string) error {
	if err := w.w.Write(fields); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	w.rows++
	return nil
}

// Rows is the number of data rows written so far.
func (w *Writer) Rows() int { return w.rows }

// Close flushes and closes the file. It reports the first flush or close error.
func (w *Writer) Close() error {
	w.w.Flush()
	err := w.w.Error()
	if ferr := w.buf.Flush(); err == nil {
		err = ferr
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return nil
}
