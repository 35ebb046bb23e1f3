package series

import (
	"io"
	"log/slog"

	"ohlcv-prep/internal/csvio"
	"ohlcv-prep/internal/dataerr"
)

// LastTimestamp returns the timestamp of the last data row of path.
func LastTimestamp(path string) (int64, error) {
	var (
		tsIdx = -1
		last  int64
		rows  int
	)
	err := csvio.Each(path, func(h csvio.Header, rec csvio.Record) error {
		if tsIdx < 0 {
			idx, err := h.Require(path, csvio.ColTimestamp)
			if err != nil {
				return err
			}
			tsIdx = idx[0]
		}
		ts, err := TimestampAt(path, h, tsIdx, rec)
		if err != nil {
			return err
		}
		last = ts
		rows++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, &dataerr.EmptyInputError{Path: path, Reason: "no data rows"}
	}
	return last, nil
}

// Trim copies in to out, dropping every row whose UTC date is after the date
// of the last row of ref. The minute series then ends on the same day as its
// reference. It returns the number of rows dropped.
func Trim(in, ref, out string) (int, error) {
	last, err := LastTimestamp(ref)
	if err != nil {
		return 0, err
	}
	cutoff := Floor(last, Day)

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
	w, err := csvio.Create(out, h.Names)
	if err != nil {
		return 0, err
	}
	var dropped int
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Close()
			return dropped, err
		}
		ts, err := TimestampAt(in, h, idx[0], rec)
		if err != nil {
			w.Close()
			return dropped, err
		}
		if Floor(ts, Day) > cutoff {
			dropped++
			continue
		}
		if err := w.Write(rec.Fields); err != nil {
			w.Close()
			return dropped, err
		}
	}
	if err := w.Close(); err != nil {
		return dropped, err
	}
	slog.Info("trimmed to reference date", "in", in, "out", out,
		"cutoff", dataerr.HumanTime(cutoff), "kept", w.Rows(), "dropped", dropped)
	return dropped, nil
}
