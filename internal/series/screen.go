package series

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/shopspring/decimal"

	"ohlcv-prep/internal/csvio"
)

// ScreenColumns are the columns Screen keeps, in output order.
var ScreenColumns = []string{csvio.ColTimestamp, csvio.ColOpen, csvio.ColHigh, csvio.ColLow, csvio.ColClose, csvio.ColVolume}

// ColReason is appended to rejected rows.
const ColReason = "Reason"

// Screen splits raw input into clean rows and rejected rows. A row is
// rejected when a required field is missing, empty, or not a number. Clean
// rows carry only ScreenColumns; rejected rows are written as read, followed
// by the reason. A header missing a required column fails the whole file.
func Screen(in, clean, invalid string) (kept, rejected int, err error) {
	r, err := csvio.Open(in)
	if err != nil {
		return 0, 0, err
	}
	defer r.Close()

	h := r.Header()
	idx, err := h.Require(in, ScreenColumns...)
	if err != nil {
		return 0, 0, err
	}
	cw, err := csvio.Create(clean, ScreenColumns)
	if err != nil {
		return 0, 0, err
	}
	iw, err := csvio.Create(invalid, append(append([]string{}, h.Names...), ColReason))
	if err != nil {
		cw.Close()
		return 0, 0, err
	}
	closeAll := func() error {
		err := cw.Close()
		if ierr := iw.Close(); err == nil {
			err = ierr
		}
		return err
	}

	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			closeAll()
			return cw.Rows(), iw.Rows(), err
		}
		row, reason := screenRow(h, idx, rec)
		if reason != "" {
			bad := make([]string, len(h.Names)+1)
			copy(bad, rec.Fields)
			bad[len(h.Names)] = reason
			err = iw.Write(bad)
		} else {
			err = cw.Write(row)
		}
		if err != nil {
			closeAll()
			return cw.Rows(), iw.Rows(), err
		}
	}
	if err := closeAll(); err != nil {
		return cw.Rows(), iw.Rows(), err
	}
	if iw.Rows() > 0 {
		slog.Warn("rows rejected", "in", in, "invalid", invalid, "rejected", iw.Rows())
	}
	slog.Info("input screened", "in", in, "out", clean, "kept", cw.Rows(), "rejected", iw.Rows())
	return cw.Rows(), iw.Rows(), nil
}

// screenRow returns the clean row, or a non-empty reason.
func screenRow(h csvio.Header, idx []int, rec csvio.Record) ([]string, string) {
	row := make([]string, len(idx))
	for i, col := range idx {
		name := ScreenColumns[i]
		v, err := rec.Field("", h, col)
		if err != nil {
			return nil, fmt.Sprintf("%s: missing", name)
		}
		if v == "" {
			return nil, fmt.Sprintf("%s: empty", name)
		}
		if i == 0 {
			if _, err := ParseTimestamp(v); err != nil {
				return nil, fmt.Sprintf("%s: not a number", name)
			}
		} else if _, err := decimal.NewFromString(v); err != nil {
			return nil, fmt.Sprintf("%s: not a number", name)
		}
		row[i] = v
	}
	return row, ""
}
