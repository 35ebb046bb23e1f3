package saver

import (
	"strings"

	"ohlcv-prep/internal/model"
)

// SeriesSaver là abstraction cho export enriched series.
// Pipeline chỉ phụ thuộc interface; format chọn qua EXPORT_FORMAT.
type SeriesSaver interface {
	Save(bars []model.EnrichedBar, path string) error
	Extension() string
}

// NewSeriesSaver creates implementation by format (csv, parquet, json).
// Returns nil if format not supported.
func NewSeriesSaver(format string) SeriesSaver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVSaver{}
	case "parquet":
		return ParquetSaver{}
	case "json":
		return JSONSaver{}
	default:
		return nil
	}
}
