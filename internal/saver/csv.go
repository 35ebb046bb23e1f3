package saver

import (
	"github.com/shopspring/decimal"

	"ohlcv-prep/internal/csvio"
	"ohlcv-prep/internal/indicator"
	"ohlcv-prep/internal/model"
	"ohlcv-prep/internal/series"
)

// CSVHeader is the column layout written by CSVSaver and read by ReadEnriched.
var CSVHeader = []string{
	csvio.ColTimestamp, csvio.ColOpen, csvio.ColHigh, csvio.ColLow, csvio.ColClose, csvio.ColVolume,
	indicator.ColATRShort, indicator.ColATRLong, indicator.ColScalingFactor,
}

// CSVSaver lưu series dưới dạng CSV; indicator chưa có giá trị ghi -1.
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

func (CSVSaver) Save(bars []model.EnrichedBar, path string) error {
	w, err := csvio.Create(path, CSVHeader)
	if err != nil {
		return err
	}
	for _, b := range bars {
		if err := w.Write([]string{
			series.FormatTimestamp(b.Timestamp),
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			b.Volume.String(),
			optStr(b.ATRShort),
			optStr(b.ATRLong),
			indicator.FormatFactor(b.ScalingFactor),
		}); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

func optStr(d *decimal.Decimal) string {
	if d == nil {
		return indicator.Unset
	}
	return d.StringFixed(indicator.Precision)
}
