// Package indicator computes True Range based volatility metrics over an
// ordered bar stream using exact 8-digit decimal arithmetic.
package indicator

import "github.com/shopspring/decimal"

// Precision is the number of fractional digits kept by every division.
const Precision int32 = 8

// Unset is written to CSV output in place of a value that is not available yet.
const Unset = "-1"

var one = decimal.NewFromInt(1)

// Value is an indicator reading that may not be available yet.
type Value struct {
	d  decimal.Decimal
	ok bool
}

// Unavailable is the zero Value.
var Unavailable = Value{}

func Available(d decimal.Decimal) Value { return Value{d: d, ok: true} }

func (v Value) Get() (decimal.Decimal, bool) { return v.d, v.ok }
func (v Value) IsAvailable() bool           { return v.ok }

// Format renders the value with Precision digits, or Unset.
func (v Value) Format() string {
	if !v.ok {
		return Unset
	}
	return v.d.StringFixed(Precision)
}

func (v Value) String() string {
	if !v.ok {
		return "unavailable"
	}
	return v.d.String()
}
