// Package series holds the whole-file helpers shared by every stage: the
// timestamp order gate, sorting, de-duplication and bar aggregation.
package series

import (
	"strconv"

	"github.com/shopspring/decimal"

	"ohlcv-prep/internal/csvio"
	"ohlcv-prep/internal/dataerr"
)

// Grid periods in seconds.
const (
	Minute int64 = 60
	Hour   int64 = 3600
	Day    int64 = 86400
)

// Floor aligns ts down to a multiple of period.
func Floor(ts, period int64) int64 {
	r := ts % period
	if r < 0 {
		r += period
	}
	return ts - r
}

// ParseTimestamp reads seconds since epoch, dropping any fractional part.
func ParseTimestamp(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Truncate(0).IntPart(), nil
}

// FormatTimestamp renders seconds since epoch as written to output files.
func FormatTimestamp(ts int64) string { return strconv.FormatInt(ts, 10) }

// TimestampAt parses the timestamp column of rec.
func TimestampAt(path string, h csvio.Header, idx int, rec csvio.Record) (int64, error) {
	raw, err := rec.Field(path, h, idx)
	if err != nil {
		return 0, err
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return 0, &dataerr.RowError{Path: path, Row: rec.Row, Column: h.Names[idx], Value: raw, Err: err}
	}
	return ts, nil
}

// DecimalAt parses a decimal column of rec.
func DecimalAt(path string, h csvio.Header, idx int, rec csvio.Record) (decimal.Decimal, error) {
	raw, err := rec.Field(path, h, idx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, &dataerr.RowError{Path: path, Row: rec.Row, Column: h.Names[idx], Value: raw, Err: err}
	}
	return d, nil
}
