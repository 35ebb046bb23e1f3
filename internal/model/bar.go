package model

import "github.com/shopspring/decimal"

// EnrichedBar is one row of a repaired, normalized minute series with its
// volatility columns. Shared by saver and serialization (json, parquet).
// Prices are integers scaled by 10^Scale of the dataset and may exceed int64.
// Indicator fields are nil while the indicator is warming up.
// Every numeric field stays an exact decimal; JSON renders them as strings.
type EnrichedBar struct {
	Timestamp     int64            `json:"t"` // Unix timestamp in seconds
	Open          decimal.Decimal  `json:"o"`
	High          decimal.Decimal  `json:"h"`
	Low           decimal.Decimal  `json:"l"`
	Close         decimal.Decimal  `json:"c"`
	Volume        decimal.Decimal  `json:"v"`
	ATRShort      *decimal.Decimal `json:"atr_s,omitempty"`
	ATRLong       *decimal.Decimal `json:"atr_l,omitempty"`
	ScalingFactor decimal.Decimal  `json:"sf"`
}

// Dataset names the files of one instrument. Minute is required; Hour and
// Day are optional companions normalized with the minute file's scale.
type Dataset struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Minute string `json:"minute" yaml:"minute" validate:"required"`
	Hour   string `json:"hour,omitempty" yaml:"hour,omitempty"`
	Day    string `json:"day,omitempty" yaml:"day,omitempty"`
	// Scale, when set, skips discovery and shifts every file by 10^Scale.
	Scale *int `json:"scale,omitempty" yaml:"scale,omitempty" validate:"omitempty,gte=0"`
}
