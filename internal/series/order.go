package series

import (
	"log/slog"

	"ohlcv-prep/internal/csvio"
	"ohlcv-prep/internal/dataerr"
)

// CheckOrder walks path once and fails on the first row whose timestamp is
// strictly less than its predecessor. Equal timestamps pass. It returns the
// number of data rows checked.
func CheckOrder(path string) (int, error) {
	var (
		tsIdx   = -1
		prev    int64
		hasPrev bool
		rows    int
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
		if hasPrev && ts < prev {
			return &dataerr.OrderError{Path: path, Row: rec.Row, Previous: prev, Current: ts}
		}
		prev, hasPrev = ts, true
		rows++
		return nil
	})
	if err != nil {
		return rows, err
	}
	slog.Debug("order check passed", "path", path, "rows", rows)
	return rows, nil
}
