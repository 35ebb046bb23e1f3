package indicator

import (
	"io"
	"log/slog"

	"ohlcv-prep/internal/csvio"
	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/series"
)

// CopiedColumns names the columns CopyATR appends for tf, e.g. HourATRShort
// and HourATRLong.
func CopiedColumns(tf Timeframe) (short, long string, err error) {
	switch tf {
	case TimeframeHour:
		return "Hour" + ColATRShort, "Hour" + ColATRLong, nil
	case TimeframeDay:
		return "Day" + ColATRShort, "Day" + ColATRLong, nil
	default:
		return "", "", dataerr.Param("timeframe", string(tf), "copy from hour or day")
	}
}

func periodOf(tf Timeframe) int64 {
	if tf == TimeframeDay {
		return series.Day
	}
	return series.Hour
}

// atrEntry is one row of the higher timeframe, keyed by its floored slot.
type atrEntry struct {
	slot        int64
	short, long string
}

// atrStream reads the ATR columns of a higher-timeframe file in order.
type atrStream struct {
	r       *csvio.Reader
	path    string
	idx     []int
	period  int64
	prevTs  int64
	hasPrev bool
}

func openATRs(path string, period int64) (*atrStream, error) {
	r, err := csvio.Open(path)
	if err != nil {
		return nil, err
	}
	idx, err := r.Header().Require(path, csvio.ColTimestamp, ColATRShort, ColATRLong)
	if err != nil {
		r.Close()
		return nil, err
	}
	return &atrStream{r: r, path: path, idx: idx, period: period}, nil
}

func (s *atrStream) Close() error { return s.r.Close() }

func (s *atrStream) next() (atrEntry, error) {
	rec, err := s.r.Next()
	if err != nil {
		return atrEntry{}, err
	}
	h := s.r.Header()
	ts, err := series.TimestampAt(s.path, h, s.idx[0], rec)
	if err != nil {
		return atrEntry{}, err
	}
	if s.hasPrev && ts < s.prevTs {
		return atrEntry{}, &dataerr.OrderError{Path: s.path, Row: rec.Row, Previous: s.prevTs, Current: ts}
	}
	s.prevTs, s.hasPrev = ts, true

	e := atrEntry{slot: series.Floor(ts, s.period)}
	vals := []*string{&e.short, &e.long}
	for i, dst := range vals {
		d, err := series.DecimalAt(s.path, h, s.idx[i+1], rec)
		if err != nil {
			return atrEntry{}, err
		}
		if d.IsNegative() {
			*dst = Unset
		} else {
			*dst = d.StringFixed(Precision)
		}
	}
	return e, nil
}

// CopyATR writes minute to out with the ATR readings of the higher
// timeframe file appended to every row. Each minute row takes the values of
// the higher row for its hour (or UTC day). When that slot is missing, the
// latest earlier slot is carried forward; a minute row before the first
// slot is an integrity error. Repeated slots keep the last row. Both files
// must be sorted. It returns the number of rows written.
func CopyATR(minute, higher, out string, tf Timeframe) (int, error) {
	shortCol, longCol, err := CopiedColumns(tf)
	if err != nil {
		return 0, err
	}
	period := periodOf(tf)

	src, err := openATRs(higher, period)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	pending, err := src.next()
	if err == io.EOF {
		return 0, &dataerr.EmptyInputError{Path: higher, Reason: "no rows to copy ATR from"}
	}
	if err != nil {
		return 0, err
	}
	hasPending := true

	r, err := csvio.Open(minute)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	h := r.Header()
	idx, err := h.Require(minute, csvio.ColTimestamp)
	if err != nil {
		return 0, err
	}
	w, err := csvio.Create(out, append(append([]string{}, h.Names...), shortCol, longCol))
	if err != nil {
		return 0, err
	}

	var (
		cur     atrEntry
		hasCur  bool
		prevTs  int64
		hasPrev bool
		filled  int
	)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Close()
			return w.Rows(), err
		}
		ts, err := series.TimestampAt(minute, h, idx[0], rec)
		if err != nil {
			w.Close()
			return w.Rows(), err
		}
		if hasPrev && ts < prevTs {
			w.Close()
			return w.Rows(), &dataerr.OrderError{Path: minute, Row: rec.Row, Previous: prevTs, Current: ts}
		}
		prevTs, hasPrev = ts, true
		slot := series.Floor(ts, period)

		for hasPending && pending.slot <= slot {
			cur, hasCur = pending, true
			pending, err = src.next()
			if err == io.EOF {
				hasPending = false
			} else if err != nil {
				w.Close()
				return w.Rows(), err
			}
		}
		if !hasCur {
			w.Close()
			return w.Rows(), &dataerr.IntegrityError{Path: higher, Timestamp: slot}
		}
		if cur.slot != slot {
			filled++
		}
		if err := w.Write(append(rec.Fields, cur.short, cur.long)); err != nil {
			w.Close()
			return w.Rows(), err
		}
	}
	if err := w.Close(); err != nil {
		return w.Rows(), err
	}
	if filled > 0 {
		slog.Warn("missing higher timeframe slots carried forward", "minute", minute, "higher", higher,
			"timeframe", string(tf), "rows", filled)
	}
	slog.Info("higher timeframe ATR copied", "minute", minute, "higher", higher, "out", out,
		"timeframe", string(tf), "rows", w.Rows())
	return w.Rows(), nil
}
