package saver

import (
	"errors"

	"github.com/shopspring/decimal"

	"ohlcv-prep/internal/csvio"
	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/indicator"
	"ohlcv-prep/internal/model"
	"ohlcv-prep/internal/series"
)

var errNotInteger = errors.New("scaled price is not an integer")

// ReadEnriched loads a normalized series with indicator columns, as written
// by indicator.AppendScalingFactor, into memory for export. The hybrid
// factor column is accepted when the plain one is absent.
func ReadEnriched(path string) ([]model.EnrichedBar, error) {
	var (
		bars []model.EnrichedBar
		idx  []int
	)
	err := csvio.Each(path, func(h csvio.Header, rec csvio.Record) error {
		if idx == nil {
			var err error
			if idx, err = enrichedColumns(path, h); err != nil {
				return err
			}
		}
		b, err := parseEnriched(path, h, idx, rec)
		if err != nil {
			return err
		}
		bars = append(bars, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bars, nil
}

func enrichedColumns(path string, h csvio.Header) ([]int, error) {
	factor := indicator.ColScalingFactor
	if _, ok := h.Index(factor); !ok {
		factor = indicator.ColHybridScalingFactor
	}
	return h.Require(path,
		csvio.ColTimestamp, csvio.ColOpen, csvio.ColHigh, csvio.ColLow, csvio.ColClose, csvio.ColVolume,
		indicator.ColATRShort, indicator.ColATRLong, factor)
}

func parseEnriched(path string, h csvio.Header, idx []int, rec csvio.Record) (model.EnrichedBar, error) {
	var b model.EnrichedBar
	ts, err := series.TimestampAt(path, h, idx[0], rec)
	if err != nil {
		return b, err
	}
	b.Timestamp = ts

	prices := []*decimal.Decimal{&b.Open, &b.High, &b.Low, &b.Close}
	for i, dst := range prices {
		d, err := series.DecimalAt(path, h, idx[i+1], rec)
		if err != nil {
			return b, err
		}
		if !d.Equal(d.Truncate(0)) {
			return b, &dataerr.RowError{Path: path, Row: rec.Row, Column: h.Names[idx[i+1]], Value: d.String(), Err: errNotInteger}
		}
		*dst = d
	}

	vals := make([]decimal.Decimal, 4)
	for i, col := range idx[5:] {
		if vals[i], err = series.DecimalAt(path, h, col, rec); err != nil {
			return b, err
		}
	}
	b.Volume = vals[0]
	b.ATRShort = optional(vals[1])
	b.ATRLong = optional(vals[2])
	b.ScalingFactor = vals[3]
	return b, nil
}

// optional maps the -1 placeholder back to nil. ATR is never negative.
func optional(v decimal.Decimal) *decimal.Decimal {
	if v.IsNegative() {
		return nil
	}
	return &v
}
