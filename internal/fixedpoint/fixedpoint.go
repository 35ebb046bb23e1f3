// Package fixedpoint rewrites decimal price columns as exact integers using a
// single power-of-ten scale per dataset.
//
// Scaling is two explicit passes: DiscoverScale folds the whole file into k,
// then ApplyScale rewrites it. No row is written before k is known, so a late
// row can never require a larger scale than the one already applied.
package fixedpoint

import (
	"io"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"

	"ohlcv-prep/internal/csvio"
	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/series"
)

var ten = big.NewInt(10)

// SignificantScale is the number of fractional digits needed to represent d
// exactly. Trailing zeros are not significant: 1.2500 has scale 2.
func SignificantScale(d decimal.Decimal) int {
	exp := d.Exponent()
	if exp >= 0 {
		return 0
	}
	coef := d.Coefficient()
	if coef.Sign() == 0 {
		return 0
	}
	var q, r big.Int
	for exp < 0 {
		q.QuoRem(coef, ten, &r)
		if r.Sign() != 0 {
			break
		}
		coef.Set(&q)
		exp++
	}
	return int(-exp)
}

// Shift returns round_half_up(d × 10^k) as a plain integer string.
func Shift(d decimal.Decimal, k int) string {
	return d.Shift(int32(k)).Round(0).String()
}

// TruncateTimestamp drops any fractional seconds from a timestamp field.
func TruncateTimestamp(s string) (string, error) {
	ts, err := series.ParseTimestamp(s)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(ts, 10), nil
}

type columns struct {
	ts     int
	prices []int
}

func resolve(path string, h csvio.Header) (columns, error) {
	names := append([]string{csvio.ColTimestamp}, csvio.PriceColumns...)
	idx, err := h.Require(path, names...)
	if err != nil {
		return columns{}, err
	}
	return columns{ts: idx[0], prices: idx[1:]}, nil
}

// DiscoverScale returns the largest significant scale over every price field
// of path. A header-only file has scale 0.
func DiscoverScale(path string) (int, error) {
	r, err := csvio.Open(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	h := r.Header()
	cols, err := resolve(path, h)
	if err != nil {
		return 0, err
	}
	k, rows := 0, 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		for _, i := range cols.prices {
			d, err := series.DecimalAt(path, h, i, rec)
			if err != nil {
				return 0, err
			}
			k = max(k, SignificantScale(d))
		}
		rows++
	}
	slog.Debug("scale discovered", "path", path, "rows", rows, "scale", k)
	return k, nil
}

// ApplyScale writes in to out with the timestamp truncated to whole seconds
// and every price column multiplied by 10^k. Other columns pass through.
func ApplyScale(in, out string, k int) error {
	_, err := applyScale(in, out, k)
	return err
}

// applyScale returns the number of price fields that needed more than k
// fractional digits and were rounded.
func applyScale(in, out string, k int) (int, error) {
	if k < 0 {
		return 0, dataerr.Param("scale", k, "must not be negative")
	}
	r, err := csvio.Open(in)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	h := r.Header()
	cols, err := resolve(in, h)
	if err != nil {
		return 0, err
	}
	w, err := csvio.Create(out, h.Names)
	if err != nil {
		return 0, err
	}
	var (
		rounded int
		first   *dataerr.RowError
	)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Close()
			return rounded, err
		}
		n, lost, err := rewrite(in, h, cols, rec, k)
		if err != nil {
			w.Close()
			return rounded, err
		}
		if n > 0 && first == nil {
			first = lost
		}
		rounded += n
		if err := w.Write(rec.Fields); err != nil {
			w.Close()
			return rounded, err
		}
	}
	if err := w.Close(); err != nil {
		return rounded, err
	}
	if rounded > 0 {
		slog.Warn("prices rounded to scale", "path", in, "scale", k, "fields", rounded,
			"first_row", first.Row, "first_column", first.Column, "first_value", first.Value)
	}
	slog.Info("prices shifted", "in", in, "out", out, "rows", w.Rows(), "scale", k)
	return rounded, nil
}

// rewrite shifts rec in place. It reports how many prices had more than k
// significant fractional digits, and the first of them.
func rewrite(path string, h csvio.Header, cols columns, rec csvio.Record, k int) (int, *dataerr.RowError, error) {
	ts, err := series.TimestampAt(path, h, cols.ts, rec)
	if err != nil {
		return 0, nil, err
	}
	rec.Fields[cols.ts] = strconv.FormatInt(ts, 10)
	var (
		rounded int
		first   *dataerr.RowError
	)
	for _, i := range cols.prices {
		d, err := series.DecimalAt(path, h, i, rec)
		if err != nil {
			return 0, nil, err
		}
		if SignificantScale(d) > k {
			if first == nil {
				first = &dataerr.RowError{Path: path, Row: rec.Row, Column: h.Names[i], Value: rec.Fields[i]}
			}
			rounded++
		}
		rec.Fields[i] = Shift(d, k)
	}
	return rounded, first, nil
}

// Normalize discovers the scale of in and rewrites it to out. The scale is
// returned so companion files can be shifted identically.
func Normalize(in, out string) (int, error) {
	k, err := DiscoverScale(in)
	if err != nil {
		return 0, err
	}
	if err := ApplyScale(in, out, k); err != nil {
		return k, err
	}
	return k, nil
}

// NormalizeWithScale rewrites in using a scale established elsewhere,
// typically by the minute file of the same dataset. Prices with more
// fractional digits than k are rounded half-up; their count is returned.
func NormalizeWithScale(in, out string, k int) (int, error) {
	if k < 0 {
		return 0, dataerr.Param("scale", k, "must not be negative")
	}
	slog.Info("using predefined scale", "path", in, "scale", k)
	return applyScale(in, out, k)
}
