package app

import (
	"fmt"

	"ohlcv-prep/internal/indicator"
	"ohlcv-prep/internal/metrics"
	"ohlcv-prep/internal/saver"
)

// ProvideConfig loads config from environment (for Wire).
func ProvideConfig() (*Config, error) {
	return LoadConfig()
}

// ProvideSeriesSaver creates SeriesSaver from config (for Wire).
// Returns error if ExportFormat is not supported.
func ProvideSeriesSaver(cfg *Config) (saver.SeriesSaver, error) {
	ps := saver.NewSeriesSaver(cfg.ExportFormat)
	if ps == nil {
		return nil, fmt.Errorf("unsupported EXPORT_FORMAT %q (use: csv, parquet, json)", cfg.ExportFormat)
	}
	return ps, nil
}

// ProvideIndicatorConfig converts the ATR settings (for Wire).
func ProvideIndicatorConfig(cfg *Config) (indicator.Config, error) {
	return cfg.IndicatorConfig()
}

// ProvideMetrics creates a fresh registry per process (for Wire).
func ProvideMetrics() *metrics.Metrics {
	return metrics.New()
}

// ProvidePipeline wires the dataset pipeline (for Wire).
func ProvidePipeline(cfg *Config, ind indicator.Config, ps saver.SeriesSaver, m *metrics.Metrics) (*Pipeline, error) {
	return NewPipeline(cfg, ind, ps, m)
}
