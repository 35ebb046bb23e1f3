// Package grid keeps a minute series aligned to the hourly time grid: Repair
// manufactures rows for hour slots with no tick, Validate and CheckContinuity
// prove that no slot is left empty.
package grid

import (
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"ohlcv-prep/internal/csvio"
	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/series"
)

// FillPolicy decides the content of synthetic rows.
type FillPolicy int

const (
	// FillCopyForward copies the previous row's fields and sets volume to 0.
	FillCopyForward FillPolicy = iota
	// FillSentinel sets every field except the timestamp to -1.
	FillSentinel
)

// Sentinel is the placeholder written by FillSentinel.
const Sentinel = "-1"

func (p FillPolicy) String() string {
	switch p {
	case FillCopyForward:
		return "copy"
	case FillSentinel:
		return "sentinel"
	default:
		return "FillPolicy(" + strconv.Itoa(int(p)) + ")"
	}
}

// ParseFillPolicy accepts "copy" (or "copy-forward") and "sentinel".
func ParseFillPolicy(s string) (FillPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "copy", "copy-forward":
		return FillCopyForward, nil
	case "sentinel":
		return FillSentinel, nil
	default:
		return 0, dataerr.Param("fill_policy", s, "use copy or sentinel")
	}
}

type Options struct {
	Policy FillPolicy
}

type filler struct {
	policy FillPolicy
	ts     int
	volume int // -1 when the file has no volume column
}

func (f filler) row(prev []string, slot int64) []string {
	row := slices.Clone(prev)
	for i := range row {
		switch {
		case i == f.ts:
			row[i] = series.FormatTimestamp(slot)
		case f.policy == FillSentinel:
			row[i] = Sentinel
		case i == f.volume:
			row[i] = "0"
		}
	}
	return row
}

// Repair streams a sorted minute series from in to out, inserting one
// synthetic row for every hour slot between the first and last tick that has
// no tick exactly on it. It returns the number of rows inserted.
//
// The input must be sorted; a regression aborts with an out-of-order error.
// Rows already written to out are left in place when that happens.
func Repair(in, out string, opts Options) (int, error) {
	r, err := csvio.Open(in)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	h := r.Header()
	idx, err := h.Require(in, csvio.ColTimestamp)
	if err != nil {
		return 0, err
	}
	f := filler{policy: opts.Policy, ts: idx[0], volume: -1}
	if v, ok := h.Index(csvio.ColVolume); ok {
		f.volume = v
	}

	w, err := csvio.Create(out, h.Names)
	if err != nil {
		return 0, err
	}

	var (
		prev    []string
		prevTs  int64
		rows    int
		created int
	)
	fail := func(err error) (int, error) {
		w.Close()
		return created, err
	}
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(err)
		}
		ts, err := series.TimestampAt(in, h, f.ts, rec)
		if err != nil {
			return fail(err)
		}
		if prev != nil {
			if ts < prevTs {
				return fail(&dataerr.OrderError{Path: in, Row: rec.Row, Previous: prevTs, Current: ts})
			}
			// Slots strictly after the previous row's hour, up to and
			// including the current hour unless the current row sits on it.
			last := series.Floor(ts, series.Hour)
			if ts == last {
				last -= series.Hour
			}
			for slot := series.Floor(prevTs, series.Hour) + series.Hour; slot <= last; slot += series.Hour {
				if err := w.Write(f.row(prev, slot)); err != nil {
					return fail(err)
				}
				created++
			}
		}
		if err := w.Write(rec.Fields); err != nil {
			return fail(err)
		}
		prev, prevTs = rec.Fields, ts
		rows++
	}
	if rows == 0 {
		return fail(&dataerr.EmptyInputError{Path: in, Reason: "no data rows"})
	}
	if err := w.Close(); err != nil {
		return created, err
	}
	slog.Info("hour grid repaired", "in", in, "out", out, "rows", rows, "synthesized", created, "policy", opts.Policy.String())
	return created, nil
}
