package indicator

import (
	"github.com/shopspring/decimal"
)

// Hybrid scales the ATR ratio by price level relative to a dataset baseline
// (the mean close over the whole series):
//
//	norm   = (short/price) / (long/baseline)
//	abs    = short/long
//	factor = alpha*norm + (1-alpha)*abs
//
// The factor is 1 while either ATR is warming up, or when the long ATR, the
// price or the baseline-relative long ATR is 0. When the timeframe is not
// flagged for hybrid scaling every factor is 1.
type Hybrid struct {
	short, long     *ATR
	alpha, oneMinus decimal.Decimal
	baseline        decimal.Decimal
	enabled         bool
}

func NewHybrid(cfg Config, tf Timeframe, baseline decimal.Decimal) (*Hybrid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	short, err := NewATR(cfg.ShortPeriod)
	if err != nil {
		return nil, err
	}
	long, err := NewATR(cfg.LongPeriod)
	if err != nil {
		return nil, err
	}
	return &Hybrid{
		short:    short,
		long:     long,
		alpha:    cfg.Alpha,
		oneMinus: one.Sub(cfg.Alpha),
		baseline: baseline,
		enabled:  cfg.RequiresHybrid(tf),
	}, nil
}

func (h *Hybrid) Enabled() bool             { return h.enabled }
func (h *Hybrid) Baseline() decimal.Decimal { return h.baseline }

// Next consumes one bar; the price used for normalization is its close.
func (h *Hybrid) Next(b Bar) Output {
	out := Output{ATRShort: h.short.Add(b), ATRLong: h.long.Add(b), Factor: one}
	if !h.enabled {
		return out
	}
	s, okS := out.ATRShort.Get()
	l, okL := out.ATRLong.Get()
	if !okS || !okL || l.IsZero() || b.Close.IsZero() || h.baseline.IsZero() {
		return out
	}
	longRel := l.DivRound(h.baseline, Precision)
	if longRel.IsZero() {
		return out
	}
	norm := s.DivRound(b.Close, Precision).DivRound(longRel, Precision)
	abs := s.DivRound(l, Precision)
	out.Factor = h.alpha.Mul(norm).Add(h.oneMinus.Mul(abs)).Round(Precision)
	return out
}

// Baseline accumulates the mean close of a series.
type Baseline struct {
	sum decimal.Decimal
	n   int64
}

func (b *Baseline) Add(close decimal.Decimal) {
	b.sum = b.sum.Add(close)
	b.n++
}

func (b *Baseline) Count() int64 { return b.n }

// Mean returns the average close, or false for an empty series.
func (b *Baseline) Mean() (decimal.Decimal, bool) {
	if b.n == 0 {
		return decimal.Decimal{}, false
	}
	return b.sum.DivRound(decimal.NewFromInt(b.n), Precision), true
}
