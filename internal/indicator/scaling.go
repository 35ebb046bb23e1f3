package indicator

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"ohlcv-prep/internal/dataerr"
)

// Timeframe is the bar granularity of a series.
type Timeframe string

const (
	TimeframeMinute Timeframe = "minute"
	TimeframeHour   Timeframe = "hour"
	TimeframeDay    Timeframe = "day"
)

// ParseTimeframe accepts minute, hour and day (and the m/h/d shorthands).
func ParseTimeframe(s string) (Timeframe, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minute", "m", "1m":
		return TimeframeMinute, nil
	case "hour", "hourly", "h", "1h":
		return TimeframeHour, nil
	case "day", "daily", "d", "1d":
		return TimeframeDay, nil
	default:
		return "", dataerr.Param("timeframe", s, "use minute, hour or day")
	}
}

// Config parameterizes the scaling factor.
type Config struct {
	ShortPeriod int
	LongPeriod  int
	Alpha       decimal.Decimal
	// HybridTimeframes lists the timeframes that get price-normalized
	// scaling. Every other timeframe gets a neutral hybrid factor.
	HybridTimeframes []Timeframe
}

func DefaultConfig() Config {
	return Config{
		ShortPeriod:      5,
		LongPeriod:       14,
		Alpha:            decimal.RequireFromString("0.5"),
		HybridTimeframes: []Timeframe{TimeframeDay},
	}
}

func (c Config) Validate() error {
	if c.Alpha.IsNegative() || c.Alpha.GreaterThan(one) {
		return dataerr.Param("alpha", c.Alpha.String(), "must be within [0,1]")
	}
	if c.ShortPeriod <= 0 {
		return dataerr.Param("short_period", c.ShortPeriod, "must be positive")
	}
	if c.LongPeriod <= 0 {
		return dataerr.Param("long_period", c.LongPeriod, "must be positive")
	}
	if c.LongPeriod <= c.ShortPeriod {
		return dataerr.Param("long_period", c.LongPeriod, "must be greater than short_period")
	}
	return nil
}

func (c Config) RequiresHybrid(tf Timeframe) bool {
	return slices.Contains(c.HybridTimeframes, tf)
}

// Output is the engine's reading for one bar.
type Output struct {
	ATRShort Value
	ATRLong  Value
	Factor   decimal.Decimal
}

// Engine blends a short and a long ATR into a scaling factor:
//
//	factor = alpha*(short/long) + (1-alpha)
//
// The factor is exactly 1 while either ATR is warming up or the long ATR is 0.
type Engine struct {
	short, long     *ATR
	alpha, oneMinus decimal.Decimal
}

func NewEngine(cfg Config) (*Engine, error) {
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
	return &Engine{short: short, long: long, alpha: cfg.Alpha, oneMinus: one.Sub(cfg.Alpha)}, nil
}

// Next consumes one bar. Bars must arrive in timestamp order.
func (e *Engine) Next(b Bar) Output {
	out := Output{ATRShort: e.short.Add(b), ATRLong: e.long.Add(b), Factor: one}
	s, okS := out.ATRShort.Get()
	l, okL := out.ATRLong.Get()
	if !okS || !okL || l.IsZero() {
		return out
	}
	ratio := s.DivRound(l, Precision)
	out.Factor = e.alpha.Mul(ratio).Add(e.oneMinus).Round(Precision)
	return out
}

// FormatFactor renders a factor with Precision digits.
func FormatFactor(d decimal.Decimal) string { return d.StringFixed(Precision) }
