package indicator

import (
	"io"
	"log/slog"

	"github.com/shopspring/decimal"

	"ohlcv-prep/internal/csvio"
	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/series"
)

// Columns appended to the input columns.
const (
	ColATRShort            = "ATRShort"
	ColATRLong             = "ATRLong"
	ColScalingFactor       = "ScalingFactor"
	ColHybridScalingFactor = "HybridScalingFactor"
)

// barStream reads bars in order from a CSV file.
type barStream struct {
	r       *csvio.Reader
	path    string
	idx     []int // timestamp, high, low, close
	prevTs  int64
	hasPrev bool
}

func openBars(path string) (*barStream, error) {
	r, err := csvio.Open(path)
	if err != nil {
		return nil, err
	}
	idx, err := r.Header().Require(path, csvio.ColTimestamp, csvio.ColHigh, csvio.ColLow, csvio.ColClose)
	if err != nil {
		r.Close()
		return nil, err
	}
	return &barStream{r: r, path: path, idx: idx}, nil
}

func (s *barStream) Header() csvio.Header { return s.r.Header() }
func (s *barStream) Close() error         { return s.r.Close() }

// next returns io.EOF after the last row.
func (s *barStream) next() (csvio.Record, Bar, error) {
	rec, err := s.r.Next()
	if err != nil {
		return rec, Bar{}, err
	}
	h := s.r.Header()
	ts, err := series.TimestampAt(s.path, h, s.idx[0], rec)
	if err != nil {
		return rec, Bar{}, err
	}
	if s.hasPrev && ts < s.prevTs {
		return rec, Bar{}, &dataerr.OrderError{Path: s.path, Row: rec.Row, Previous: s.prevTs, Current: ts}
	}
	s.prevTs, s.hasPrev = ts, true

	var vals [3]decimal.Decimal
	for i := range vals {
		if vals[i], err = series.DecimalAt(s.path, h, s.idx[i+1], rec); err != nil {
			return rec, Bar{}, err
		}
	}
	return rec, Bar{High: vals[0], Low: vals[1], Close: vals[2]}, nil
}

type stepper interface {
	Next(Bar) Output
}

// appendColumns streams in to out, adding the ATR readings and the factor
// produced by st for every row.
func appendColumns(in, out, factorCol string, st stepper) (int, error) {
	bars, err := openBars(in)
	if err != nil {
		return 0, err
	}
	defer bars.Close()

	header := append(append([]string{}, bars.Header().Names...), ColATRShort, ColATRLong, factorCol)
	w, err := csvio.Create(out, header)
	if err != nil {
		return 0, err
	}
	for {
		rec, bar, err := bars.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Close()
			return w.Rows(), err
		}
		o := st.Next(bar)
		row := append(rec.Fields, o.ATRShort.Format(), o.ATRLong.Format(), FormatFactor(o.Factor))
		if err := w.Write(row); err != nil {
			w.Close()
			return w.Rows(), err
		}
	}
	if err := w.Close(); err != nil {
		return w.Rows(), err
	}
	return w.Rows(), nil
}

// AppendScalingFactor writes in to out with ATRShort, ATRLong and
// ScalingFactor columns added. A header-only input gives a header-only
// output. It returns the number of rows written.
func AppendScalingFactor(in, out string, cfg Config) (int, error) {
	e, err := NewEngine(cfg)
	if err != nil {
		return 0, err
	}
	n, err := appendColumns(in, out, ColScalingFactor, e)
	if err != nil {
		return n, err
	}
	slog.Info("scaling factor appended", "in", in, "out", out, "rows", n,
		"short", cfg.ShortPeriod, "long", cfg.LongPeriod, "alpha", cfg.Alpha.String())
	return n, nil
}

// MeanClose reads the whole file once and returns its mean close.
func MeanClose(path string) (decimal.Decimal, error) {
	bars, err := openBars(path)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer bars.Close()

	var b Baseline
	for {
		_, bar, err := bars.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return decimal.Decimal{}, err
		}
		b.Add(bar.Close)
	}
	mean, ok := b.Mean()
	if !ok {
		return decimal.Decimal{}, &dataerr.EmptyInputError{Path: path, Reason: "hybrid scaling needs at least one row"}
	}
	return mean, nil
}

// AppendHybridScaling writes in to out with ATRShort, ATRLong and
// HybridScalingFactor columns added. The series is read twice: once for the
// baseline close and once to stream the factors. An empty series is an error.
func AppendHybridScaling(in, out string, cfg Config, tf Timeframe) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	baseline, err := MeanClose(in)
	if err != nil {
		return 0, err
	}
	hy, err := NewHybrid(cfg, tf, baseline)
	if err != nil {
		return 0, err
	}
	if !hy.Enabled() {
		slog.Info("hybrid scaling bypassed for timeframe", "path", in, "timeframe", string(tf))
	}
	n, err := appendColumns(in, out, ColHybridScalingFactor, hy)
	if err != nil {
		return n, err
	}
	slog.Info("hybrid scaling appended", "in", in, "out", out, "rows", n,
		"timeframe", string(tf), "baseline", baseline.String())
	return n, nil
}
