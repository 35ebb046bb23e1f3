package series

import (
	"io"
	"log/slog"

	"github.com/shopspring/decimal"

	"ohlcv-prep/internal/csvio"
	"ohlcv-prep/internal/dataerr"
)

// AggregateHeader is the column layout written by Aggregate.
var AggregateHeader = []string{csvio.ColTimestamp, csvio.ColOpen, csvio.ColHigh, csvio.ColLow, csvio.ColClose, csvio.ColVolume}

type bucket struct {
	start                  int64
	open, high, low, close decimal.Decimal
	volume                 decimal.Decimal
}

func (b *bucket) fields() []string {
	return []string{
		FormatTimestamp(b.start),
		b.open.String(),
		b.high.String(),
		b.low.String(),
		b.close.String(),
		b.volume.String(),
	}
}

// Aggregate resamples a sorted series into bars of period seconds: open of
// the first row, highest high, lowest low, close of the last row, summed
// volume. Bar timestamps are the period start. Empty periods produce no bar.
// It returns the number of bars written.
func Aggregate(in, out string, period int64) (int, error) {
	if period <= 0 {
		return 0, dataerr.Param("period", period, "must be positive")
	}
	r, err := csvio.Open(in)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	h := r.Header()
	idx, err := h.Require(in, csvio.ColTimestamp, csvio.ColOpen, csvio.ColHigh, csvio.ColLow, csvio.ColClose, csvio.ColVolume)
	if err != nil {
		return 0, err
	}
	w, err := csvio.Create(out, AggregateHeader)
	if err != nil {
		return 0, err
	}

	var (
		cur     *bucket
		prevTs  int64
		hasPrev bool
	)
	fail := func(err error) (int, error) {
		w.Close()
		return w.Rows(), err
	}
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(err)
		}
		ts, err := TimestampAt(in, h, idx[0], rec)
		if err != nil {
			return fail(err)
		}
		if hasPrev && ts < prevTs {
			return fail(&dataerr.OrderError{Path: in, Row: rec.Row, Previous: prevTs, Current: ts})
		}
		prevTs, hasPrev = ts, true

		var vals [5]decimal.Decimal
		for i := range vals {
			if vals[i], err = DecimalAt(in, h, idx[i+1], rec); err != nil {
				return fail(err)
			}
		}
		start := Floor(ts, period)
		if cur != nil && cur.start != start {
			if err := w.Write(cur.fields()); err != nil {
				return fail(err)
			}
			cur = nil
		}
		if cur == nil {
			cur = &bucket{start: start, open: vals[0], high: vals[1], low: vals[2], close: vals[3], volume: vals[4]}
			continue
		}
		cur.high = decimal.Max(cur.high, vals[1])
		cur.low = decimal.Min(cur.low, vals[2])
		cur.close = vals[3]
		cur.volume = cur.volume.Add(vals[4])
	}
	if cur != nil {
		if err := w.Write(cur.fields()); err != nil {
			return fail(err)
		}
	}
	if err := w.Close(); err != nil {
		return w.Rows(), err
	}
	slog.Info("aggregated bars", "in", in, "out", out, "period", period, "bars", w.Rows())
	return w.Rows(), nil
}
