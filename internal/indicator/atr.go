package indicator

import (
	"github.com/shopspring/decimal"

	"ohlcv-prep/internal/dataerr"
)

// Bar is the part of a tick the indicators read.
type Bar struct {
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// Window is a fixed-capacity FIFO of decimals with a running sum.
// Pushing onto a full window evicts the oldest value.
type Window struct {
	buf   []decimal.Decimal
	idx   int // next write position
	count int
	sum   decimal.Decimal
}

func NewWindow(period int) *Window {
	return &Window{buf: make([]decimal.Decimal, period)}
}

func (w *Window) Push(v decimal.Decimal) {
	if w.count == len(w.buf) {
		w.sum = w.sum.Sub(w.buf[w.idx])
	} else {
		w.count++
	}
	w.buf[w.idx] = v
	w.sum = w.sum.Add(v)
	w.idx = (w.idx + 1) % len(w.buf)
}

func (w *Window) Len() int             { return w.count }
func (w *Window) Cap() int             { return len(w.buf) }
func (w *Window) Full() bool           { return w.count == len(w.buf) }
func (w *Window) Sum() decimal.Decimal { return w.sum }

// Mean is the sum divided by capacity, or Unavailable until the window is full.
func (w *Window) Mean() Value {
	if !w.Full() {
		return Unavailable
	}
	return Available(w.sum.DivRound(decimal.NewFromInt(int64(len(w.buf))), Precision))
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|), or high-low
// when there is no previous bar.
func TrueRange(high, low, prevClose decimal.Decimal, hasPrev bool) decimal.Decimal {
	tr := high.Sub(low)
	if !hasPrev {
		return tr
	}
	return decimal.Max(tr, high.Sub(prevClose).Abs(), low.Sub(prevClose).Abs())
}

// ATR is the simple mean of the last period true ranges.
type ATR struct {
	window    *Window
	prevClose decimal.Decimal
	hasPrev   bool
}

func NewATR(period int) (*ATR, error) {
	if period <= 0 {
		return nil, dataerr.Param("period", period, "must be positive")
	}
	return &ATR{window: NewWindow(period)}, nil
}

// Add feeds the next bar and returns the updated reading.
func (a *ATR) Add(b Bar) Value {
	a.window.Push(TrueRange(b.High, b.Low, a.prevClose, a.hasPrev))
	a.prevClose, a.hasPrev = b.Close, true
	return a.window.Mean()
}

func (a *ATR) Value() Value { return a.window.Mean() }
func (a *ATR) Period() int  { return a.window.Cap() }
