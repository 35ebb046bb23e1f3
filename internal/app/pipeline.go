package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ohlcv-prep/internal/fixedpoint"
	"ohlcv-prep/internal/grid"
	"ohlcv-prep/internal/indicator"
	"ohlcv-prep/internal/metrics"
	"ohlcv-prep/internal/model"
	"ohlcv-prep/internal/saver"
	"ohlcv-prep/internal/series"
)

// Stage names used in logs, metrics and error prefixes.
const (
	StageScreen    = "screen"
	StageSort      = "sort"
	StageDedupe    = "dedupe"
	StageNormalize = "normalize"
	StageAggregate = "aggregate"
	StageTrim      = "trim"
	StageOrder     = "checkorder"
	StageRepair    = "repair"
	StageValidate  = "validate"
	StageIndicator = "indicators"
	StageHybrid    = "hybrid"
	StageCopyATR   = "copyatr"
	StageExport    = "export"
)

// Result describes one processed dataset.
type Result struct {
	Dataset     string
	Scale       int
	MinuteRows  int
	Synthesized int
	DedupedRows int
	// RoundedPrices counts price fields rounded because a pinned scale was
	// narrower than their precision.
	RoundedPrices int
	// TrimmedRows counts minute rows dropped past the last reference date.
	TrimmedRows int
	// RejectedRows counts raw minute rows moved to minute.invalid.csv.
	RejectedRows int
	HourDerived  bool
	// Outputs maps a short role (minute, hour, day, indicators, ...) to a path.
	Outputs  map[string]string
	Duration time.Duration
}

// Pipeline runs every stage for one dataset. Each stage reads the complete
// output of the previous one from disk. Failed stages leave their partial
// output in the dataset directory.
type Pipeline struct {
	cfg     *Config
	ind     indicator.Config
	fill    grid.Options
	saver   saver.SeriesSaver
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewPipeline(cfg *Config, ind indicator.Config, ps saver.SeriesSaver, m *metrics.Metrics) (*Pipeline, error) {
	fill, err := cfg.FillOptions()
	if err != nil {
		return nil, err
	}
	if err := ind.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, ind: ind, fill: fill, saver: ps, metrics: m, log: slog.Default()}, nil
}

// WithLogger returns a copy of p logging to l.
func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	cp := *p
	cp.log = l
	return &cp
}

func (p *Pipeline) Metrics() *metrics.Metrics { return p.metrics }

// step runs fn as a named stage, recording its duration and row count.
func (p *Pipeline) step(ctx context.Context, stage, path string, fn func() (int, error)) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := fn()
	if err != nil {
		p.metrics.RecordError(stage, err)
		p.log.Error("stage failed", "stage", stage, "path", path, "error", err)
		return n, fmt.Errorf("%s %s: %w", stage, path, err)
	}
	p.metrics.ObserveStage(stage, start, n)
	p.log.Debug("stage done", "stage", stage, "path", path, "rows", n, "elapsed", time.Since(start))
	return n, nil
}

// checkOrder gates every stage boundary.
func (p *Pipeline) checkOrder(ctx context.Context, path string) error {
	_, err := p.step(ctx, StageOrder, path, func() (int, error) { return series.CheckOrder(path) })
	return err
}

// Run processes ds: normalize, derive or normalize the hour reference,
// repair and validate the minute grid, append scaling factors and export.
func (p *Pipeline) Run(ctx context.Context, ds model.Dataset) (Result, error) {
	started := time.Now()
	res := Result{Dataset: ds.Name, Outputs: map[string]string{}}
	dir := p.cfg.DatasetDir(ds.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, err
	}
	out := func(name string) string { return filepath.Join(dir, name) }

	minute := ds.Minute
	if p.cfg.ScreenInput {
		clean, invalid := out("minute.clean.csv"), out("minute.invalid.csv")
		if _, err := p.step(ctx, StageScreen, minute, func() (int, error) {
			kept, rejected, err := series.Screen(minute, clean, invalid)
			res.RejectedRows = rejected
			return kept, err
		}); err != nil {
			return res, err
		}
		res.Outputs["invalid"] = invalid
		minute = clean
	}
	if p.cfg.SortInput {
		sorted, deduped := out("minute.sorted.csv"), out("minute.dedup.csv")
		if _, err := p.step(ctx, StageSort, minute, func() (int, error) { return series.Sort(minute, sorted) }); err != nil {
			return res, err
		}
		n, err := p.step(ctx, StageDedupe, sorted, func() (int, error) { return series.Dedupe(sorted, deduped) })
		if err != nil {
			return res, err
		}
		res.DedupedRows = n
		minute = deduped
	}

	// Scale: discovered on the minute file unless the dataset pins it.
	minuteNorm := out("minute.norm.csv")
	if ds.Scale != nil {
		res.Scale = *ds.Scale
		if _, err := p.step(ctx, StageNormalize, minute, func() (int, error) {
			n, err := fixedpoint.NormalizeWithScale(minute, minuteNorm, res.Scale)
			res.RoundedPrices += n
			return 0, err
		}); err != nil {
			return res, err
		}
	} else {
		if _, err := p.step(ctx, StageNormalize, minute, func() (int, error) {
			k, err := fixedpoint.Normalize(minute, minuteNorm)
			res.Scale = k
			return 0, err
		}); err != nil {
			return res, err
		}
	}
	p.metrics.DecimalScale.WithLabelValues(ds.Name).Set(float64(res.Scale))
	res.Outputs["minute"] = minuteNorm
	if err := p.checkOrder(ctx, minuteNorm); err != nil {
		return res, err
	}

	companions := []struct{ role, src string }{{"hour", ds.Hour}, {"day", ds.Day}}
	for _, c := range companions {
		if c.src == "" {
			continue
		}
		dst := out(c.role + ".norm.csv")
		if _, err := p.step(ctx, StageNormalize, c.src, func() (int, error) {
			n, err := fixedpoint.NormalizeWithScale(c.src, dst, res.Scale)
			res.RoundedPrices += n
			return 0, err
		}); err != nil {
			return res, err
		}
		res.Outputs[c.role] = dst
		if err := p.checkOrder(ctx, dst); err != nil {
			return res, err
		}
	}

	// base is the minute series the grid stages start from.
	base := minuteNorm
	if ds.Hour != "" {
		trimmed, hour := out("minute.trim.csv"), res.Outputs["hour"]
		n, err := p.step(ctx, StageTrim, minuteNorm, func() (int, error) { return series.Trim(minuteNorm, hour, trimmed) })
		if err != nil {
			return res, err
		}
		res.TrimmedRows = n
		base = trimmed
	} else {
		dst := out("hour.derived.csv")
		if _, err := p.step(ctx, StageAggregate, minuteNorm, func() (int, error) {
			return series.Aggregate(minuteNorm, dst, series.Hour)
		}); err != nil {
			return res, err
		}
		res.Outputs["hour"] = dst
		res.HourDerived = true
		if err := p.checkOrder(ctx, dst); err != nil {
			return res, err
		}
	}

	repaired := out("minute.repaired.csv")
	n, err := p.step(ctx, StageRepair, base, func() (int, error) { return grid.Repair(base, repaired, p.fill) })
	if err != nil {
		return res, err
	}
	res.Synthesized = n
	p.metrics.SynthesizedRows.Add(float64(n))
	res.Outputs["repaired"] = repaired
	if err := p.checkOrder(ctx, repaired); err != nil {
		return res, err
	}
	hour := res.Outputs["hour"]
	if _, err := p.step(ctx, StageValidate, repaired, func() (int, error) { return 0, grid.Validate(repaired, hour) }); err != nil {
		return res, err
	}

	enriched := out("minute.atr.csv")
	rows, err := p.step(ctx, StageIndicator, repaired, func() (int, error) {
		return indicator.AppendScalingFactor(repaired, enriched, p.ind)
	})
	if err != nil {
		return res, err
	}
	res.MinuteRows = rows
	res.Outputs["indicators"] = enriched

	hybrids := []struct {
		role string
		tf   indicator.Timeframe
	}{{"hour", indicator.TimeframeHour}, {"day", indicator.TimeframeDay}}
	for _, h := range hybrids {
		src, ok := res.Outputs[h.role]
		if !ok {
			continue
		}
		dst := out(h.role + ".hybrid.csv")
		if _, err := p.step(ctx, StageHybrid, src, func() (int, error) {
			return indicator.AppendHybridScaling(src, dst, p.ind, h.tf)
		}); err != nil {
			return res, err
		}
		res.Outputs[h.role+"_hybrid"] = dst
	}

	// Multi-timeframe ATR: hour then day readings copied onto every minute row.
	mtf := enriched
	for _, h := range hybrids {
		src, ok := res.Outputs[h.role+"_hybrid"]
		if !ok {
			continue
		}
		dst, in := out("minute."+h.role+"atr.csv"), mtf
		if _, err := p.step(ctx, StageCopyATR, src, func() (int, error) {
			return indicator.CopyATR(in, src, dst, h.tf)
		}); err != nil {
			return res, err
		}
		mtf = dst
	}
	if mtf != enriched {
		res.Outputs["mtf"] = mtf
	}

	export := out("minute." + p.saver.Extension())
	if _, err := p.step(ctx, StageExport, enriched, func() (int, error) {
		bars, err := saver.ReadEnriched(enriched)
		if err != nil {
			return 0, err
		}
		return len(bars), p.saver.Save(bars, export)
	}); err != nil {
		return res, err
	}
	res.Outputs["export"] = export

	res.Duration = time.Since(started)
	p.log.Info("dataset done", "dataset", ds.Name, "scale", res.Scale, "rows", res.MinuteRows,
		"synthesized", res.Synthesized, "hour_derived", res.HourDerived, "elapsed", res.Duration)
	return res, nil
}
