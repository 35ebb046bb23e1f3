package saver

import (
	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"ohlcv-prep/internal/indicator"
	"ohlcv-prep/internal/model"
)

// parquetBar is the on-disk row. Numeric columns are exact decimal strings
// so values wider than int64 or float64 survive the round trip.
type parquetBar struct {
	Timestamp     int64   `parquet:"t"`
	Open          string  `parquet:"o"`
	High          string  `parquet:"h"`
	Low           string  `parquet:"l"`
	Close         string  `parquet:"c"`
	Volume        string  `parquet:"v"`
	ATRShort      *string `parquet:"atr_s,optional"`
	ATRLong       *string `parquet:"atr_l,optional"`
	ScalingFactor string  `parquet:"sf"`
}

// ParquetSaver lưu series dưới dạng Parquet; ATR chưa có giá trị là null.
type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) Save(bars []model.EnrichedBar, path string) error {
	rows := make([]parquetBar, len(bars))
	for i, b := range bars {
		rows[i] = parquetBar{
			Timestamp:     b.Timestamp,
			Open:          b.Open.String(),
			High:          b.High.String(),
			Low:           b.Low.String(),
			Close:         b.Close.String(),
			Volume:        b.Volume.String(),
			ATRShort:      fixedPtr(b.ATRShort),
			ATRLong:       fixedPtr(b.ATRLong),
			ScalingFactor: indicator.FormatFactor(b.ScalingFactor),
		}
	}
	return parquet.WriteFile(path, rows)
}

// ReadParquet loads bars written by ParquetSaver.
func ReadParquet(path string) ([]model.EnrichedBar, error) {
	rows, err := parquet.ReadFile[parquetBar](path)
	if err != nil {
		return nil, err
	}
	bars := make([]model.EnrichedBar, len(rows))
	for i, r := range rows {
		b := model.EnrichedBar{Timestamp: r.Timestamp}
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&b.Open, r.Open}, {&b.High, r.High}, {&b.Low, r.Low}, {&b.Close, r.Close},
			{&b.Volume, r.Volume}, {&b.ScalingFactor, r.ScalingFactor},
		} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, err
			}
		}
		if b.ATRShort, err = parsePtr(r.ATRShort); err != nil {
			return nil, err
		}
		if b.ATRLong, err = parsePtr(r.ATRLong); err != nil {
			return nil, err
		}
		bars[i] = b
	}
	return bars, nil
}

func fixedPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(indicator.Precision)
	return &s
}

func parsePtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
