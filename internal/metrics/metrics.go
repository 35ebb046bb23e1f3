// Package metrics counts rows, synthesized slots and failures per pipeline
// stage. A batch run dumps them in the Prometheus text format so a node
// exporter textfile collector can pick them up.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ohlcv-prep/internal/dataerr"
)

// Metrics holds all Prometheus metrics for a pipeline run.
type Metrics struct {
	Registry *prometheus.Registry

	RowsTotal       *prometheus.CounterVec // labels: stage
	SynthesizedRows prometheus.Counter
	StageDuration   *prometheus.HistogramVec // labels: stage
	ErrorsTotal     *prometheus.CounterVec   // labels: stage, kind
	DatasetsTotal   *prometheus.CounterVec   // labels: status=ok|failed
	DecimalScale    *prometheus.GaugeVec     // labels: dataset
}

// New registers and returns all metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ohlcv_prep_rows_total",
			Help: "Data rows written per stage",
		}, []string{"stage"}),
		SynthesizedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ohlcv_prep_synthesized_rows_total",
			Help: "Rows manufactured to fill missing hour slots",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ohlcv_prep_stage_duration_seconds",
			Help:    "Wall time per stage and file",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"stage"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ohlcv_prep_errors_total",
			Help: "Fatal stage errors by kind",
		}, []string{"stage", "kind"}),
		DatasetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ohlcv_prep_datasets_total",
			Help: "Datasets processed by outcome",
		}, []string{"status"}),
		DecimalScale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ohlcv_prep_decimal_scale",
			Help: "Power-of-ten scale applied to prices",
		}, []string{"dataset"}),
	}
	m.Registry.MustRegister(
		m.RowsTotal,
		m.SynthesizedRows,
		m.StageDuration,
		m.ErrorsTotal,
		m.DatasetsTotal,
		m.DecimalScale,
	)
	return m
}

// ObserveStage records a finished stage.
func (m *Metrics) ObserveStage(stage string, start time.Time, rows int) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	m.RowsTotal.WithLabelValues(stage).Add(float64(rows))
}

// RecordError counts a failed stage under the error's kind.
func (m *Metrics) RecordError(stage string, err error) {
	m.ErrorsTotal.WithLabelValues(stage, Kind(err)).Inc()
}

// Kind maps an error onto a short label value.
func Kind(err error) string {
	switch {
	case errors.Is(err, dataerr.ErrMalformedRow):
		return "malformed_row"
	case errors.Is(err, dataerr.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, dataerr.ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, dataerr.ErrIntegrityViolation):
		return "integrity_violation"
	case errors.Is(err, dataerr.ErrInvalidParameter):
		return "invalid_parameter"
	default:
		return "io"
	}
}

// WriteTextfile dumps the registry in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
