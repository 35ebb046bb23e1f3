package grid

import (
	"io"
	"log/slog"

	"ohlcv-prep/internal/csvio"
	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/series"
)

// stamps walks the timestamp column of a sorted file.
type stamps struct {
	r    *csvio.Reader
	path string
	idx  int
	prev int64
	seen bool
}

func openStamps(path string) (*stamps, error) {
	r, err := csvio.Open(path)
	if err != nil {
		return nil, err
	}
	idx, err := r.Header().Require(path, csvio.ColTimestamp)
	if err != nil {
		r.Close()
		return nil, err
	}
	return &stamps{r: r, path: path, idx: idx[0]}, nil
}

// next returns the next timestamp, or ok=false at end of file.
func (s *stamps) next() (ts int64, ok bool, err error) {
	rec, err := s.r.Next()
	if err == io.EOF {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	ts, err = series.TimestampAt(s.path, s.r.Header(), s.idx, rec)
	if err != nil {
		return 0, false, err
	}
	if s.seen && ts < s.prev {
		return 0, false, &dataerr.OrderError{Path: s.path, Row: rec.Row, Previous: s.prev, Current: ts}
	}
	s.prev, s.seen = ts, true
	return ts, true, nil
}

func (s *stamps) Close() error { return s.r.Close() }

// Validate checks that every hour present in the reference file hourPath,
// floored to the hour and falling within the minute file's first and last
// timestamps, appears exactly in minutePath. Reference hours outside that
// range are ignored. Both files must be sorted.
func Validate(minutePath, hourPath string) error {
	minutes, err := openStamps(minutePath)
	if err != nil {
		return err
	}
	defer minutes.Close()
	hours, err := openStamps(hourPath)
	if err != nil {
		return err
	}
	defer hours.Close()

	m, ok, err := minutes.next()
	if err != nil {
		return err
	}
	if !ok {
		slog.Warn("minute file has no rows, nothing to validate", "path", minutePath)
		return nil
	}
	first := m
	checked := 0
	for {
		raw, more, err := hours.next()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		slot := series.Floor(raw, series.Hour)
		if slot < first {
			continue
		}
		for ok && m < slot {
			if m, ok, err = minutes.next(); err != nil {
				return err
			}
		}
		if !ok {
			// Past the last minute tick.
			break
		}
		if m != slot {
			return &dataerr.IntegrityError{Path: minutePath, Timestamp: slot}
		}
		checked++
	}
	slog.Info("hour grid validated", "minute", minutePath, "hour", hourPath, "slots", checked)
	return nil
}

// CheckContinuity verifies, without a reference file, that every hour slot
// after the first tick and up to the last tick has a row exactly on it.
func CheckContinuity(path string) error {
	s, err := openStamps(path)
	if err != nil {
		return err
	}
	defer s.Close()

	ts, ok, err := s.next()
	if err != nil {
		return err
	}
	if !ok {
		return &dataerr.EmptyInputError{Path: path, Reason: "no data rows"}
	}
	expected := series.Floor(ts, series.Hour) + series.Hour
	slots := 0
	for {
		ts, ok, err = s.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if expected < ts {
			return &dataerr.IntegrityError{Path: path, Timestamp: expected}
		}
		if ts == expected {
			expected += series.Hour
			slots++
		}
	}
	slog.Info("hour continuity verified", "path", path, "slots", slots)
	return nil
}
