package series

import (
	"io"
	"log/slog"
	"sort"

	"ohlcv-prep/internal/csvio"
	"ohlcv-prep/internal/dataerr"
)

type stampedRecord struct {
	ts     int64
	fields []string
}

// Sort rewrites in to out ordered by timestamp. Rows with equal timestamps
// keep their original relative order. The whole file is held in memory.
func Sort(in, out string) (int, error) {
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
	var rows []stampedRecord
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		ts, err := TimestampAt(in, h, idx[0], rec)
		if err != nil {
			return 0, err
		}
		rows = append(rows, stampedRecord{ts: ts, fields: rec.Fields})
	}
	if len(rows) == 0 {
		return 0, &dataerr.EmptyInputError{Path: in, Reason: "no data rows"}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ts < rows[j].ts })

	w, err := csvio.Create(out, h.Names)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if err := w.Write(row.fields); err != nil {
			w.Close()
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	slog.Info("sorted by timestamp", "in", in, "out", out, "rows", len(rows))
	return len(rows), nil
}

// Dedupe copies a sorted file, keeping only the first row for each
// timestamp. It returns the number of rows dropped.
func Dedupe(in, out string) (int, error) {
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

	var (
		prev    int64
		hasPrev bool
		dropped int
	)
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
		if hasPrev {
			if ts < prev {
				w.Close()
				return dropped, &dataerr.OrderError{Path: in, Row: rec.Row, Previous: prev, Current: ts}
			}
			if ts == prev {
				dropped++
				continue
			}
		}
		if err := w.Write(rec.Fields); err != nil {
			w.Close()
			return dropped, err
		}
		prev, hasPrev = ts, true
	}
	if err := w.Close(); err != nil {
		return dropped, err
	}
	slog.Info("duplicates removed", "in", in, "out", out, "dropped", dropped)
	return dropped, nil
}
