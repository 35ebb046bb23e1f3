// Package dataerr defines the error taxonomy shared by every processing stage.
//
// Each kind has a sentinel (for errors.Is) and a detail type carrying the
// row, column or timestamp a human needs to locate the bad source data.
// All of them are fatal for the file being processed.
package dataerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformedRow       = errors.New("malformed row")
	ErrEmptyInput         = errors.New("empty input")
	ErrOutOfOrder         = errors.New("timestamps out of order")
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrInvalidParameter   = errors.New("invalid parameter")
)

// HumanTime renders an epoch-seconds timestamp the way error messages show it.
func HumanTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// RowError reports an unparsable field. Row is the 1-based line number in
// the file (the header is line 1).
type RowError struct {
	Path   string
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *RowError) Error() string {
	msg := fmt.Sprintf("%s: %v at row %d column %q", e.Path, ErrMalformedRow, e.Row, e.Column)
	if e.Value != "" {
		msg += fmt.Sprintf(" (value %q)", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RowError) Is(target error) bool { return target == ErrMalformedRow }
func (e *RowError) Unwrap() error        { return e.Err }

// EmptyInputError reports a file without a header or without data rows.
type EmptyInputError struct {
	Path   string
	Reason string
}

func (e *EmptyInputError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Path, ErrEmptyInput)
	}
	return fmt.Sprintf("%s: %v: %s", e.Path, ErrEmptyInput, e.Reason)
}

func (e *EmptyInputError) Is(target error) bool { return target == ErrEmptyInput }

// OrderError reports a timestamp regression.
type OrderError struct {
	Path     string
	Row      int
	Previous int64
	Current  int64
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s: %v at row %d: previous %d (%s), current %d (%s)",
		e.Path, ErrOutOfOrder, e.Row,
		e.Previous, HumanTime(e.Previous), e.Current, HumanTime(e.Current))
}

func (e *OrderError) Is(target error) bool { return target == ErrOutOfOrder }

// IntegrityError reports a required hour-grid timestamp that is missing.
type IntegrityError struct {
	Path      string
	Timestamp int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %v: missing hour %s (epoch %d)",
		e.Path, ErrIntegrityViolation, HumanTime(e.Timestamp), e.Timestamp)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrityViolation }

// ParamError reports out-of-range configuration.
type ParamError struct {
	Name   string
	Value  any
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%v %s=%v: %s", ErrInvalidParameter, e.Name, e.Value, e.Reason)
}

func (e *ParamError) Is(target error) bool { return target == ErrInvalidParameter }

// Param is shorthand for building a *ParamError.
func Param(name string, value any, reason string) error {
	return &ParamError{Name: name, Value: value, Reason: reason}
}
