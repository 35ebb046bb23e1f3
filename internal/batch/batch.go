// Package batch runs the dataset pipeline over many datasets with a bounded
// worker pool, fanning worker logs and results into single writers.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ohlcv-prep/internal/app"
	"ohlcv-prep/internal/metrics"
	"ohlcv-prep/internal/model"
	"ohlcv-prep/internal/slogx"
)

// Options tunes one batch run.
type Options struct {
	// ReuseScales applies the registry's scale to datasets that do not pin one.
	ReuseScales bool
	Heartbeat   time.Duration
	// LogOutput receives worker log lines. Defaults to stderr.
	LogOutput io.Writer
}

// jobResult is sent by workers for fan-in.
type jobResult struct {
	Dataset string
	Result  app.Result
	Err     error
}

// Summary is the outcome of a batch run.
type Summary struct {
	RunID    string
	Results  []app.Result
	Failures []FailedEntry
}

// Runner processes datasets in parallel with the shared pipeline.
type Runner struct {
	cfg      *app.Config
	pipeline *app.Pipeline
}

func NewRunner(cfg *app.Config, p *app.Pipeline) *Runner {
	return &Runner{cfg: cfg, pipeline: p}
}

func runResultCollector(results <-chan jobResult, t *tally, m *metrics.Metrics, summary *Summary, errs *[]error) {
	for r := range results {
		t.mu.Lock()
		if r.Err == nil {
			t.success++
			t.rows += r.Result.MinuteRows
			summary.Results = append(summary.Results, r.Result)
			m.DatasetsTotal.WithLabelValues("ok").Inc()
		} else {
			t.failed++
			summary.Failures = append(summary.Failures, FailedEntry{Dataset: r.Dataset, Kind: metrics.Kind(r.Err), Reason: r.Err.Error()})
			*errs = append(*errs, fmt.Errorf("dataset %s: %w", r.Dataset, r.Err))
			m.DatasetsTotal.WithLabelValues("failed").Inc()
		}
		t.mu.Unlock()
	}
}

// Run processes every dataset with cfg.Workers workers. With FailFast the
// first failure cancels the datasets still running. The returned error
// joins every dataset error.
func (r *Runner) Run(ctx context.Context, datasets []model.Dataset, opts Options) (Summary, error) {
	summary := Summary{RunID: uuid.New().String()}
	if len(datasets) == 0 {
		slog.Info("no datasets to process, skip")
		return summary, nil
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if err := os.MkdirAll(r.cfg.OutputDir, 0755); err != nil {
		return summary, err
	}

	logs := make(chan string, 2048)
	logger := slogx.NewChanLogger(logs, r.cfg.LogLevel, r.cfg.LogFormat).With("run_id", summary.RunID)
	var logWg sync.WaitGroup
	logWg.Add(1)
	go func() {
		defer logWg.Done()
		runLogWriter(opts.LogOutput, logs)
	}()

	scales := LoadScales(r.cfg.ScalesPath())
	scaleUpdates := make(chan ScaleUpdate, len(datasets))
	var scaleWg sync.WaitGroup
	scaleWg.Add(1)
	go func() {
		defer scaleWg.Done()
		RunScaleWriter(r.cfg.ScalesPath(), scaleUpdates)
	}()

	m := r.pipeline.Metrics()
	results := make(chan jobResult, len(datasets))
	var t tally
	var errs []error
	var resWg sync.WaitGroup
	resWg.Add(1)
	go func() {
		defer resWg.Done()
		runResultCollector(results, &t, m, &summary, &errs)
	}()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWg sync.WaitGroup
	hbWg.Add(1)
	go func() {
		defer hbWg.Done()
		runHeartbeat(hbCtx, opts.Heartbeat, len(datasets), &t, logger)
	}()

	logger.Info("batch start", "datasets", len(datasets), "workers", r.cfg.Workers, "fail_fast", r.cfg.FailFast)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, ds := range datasets {
		if ds.Scale == nil && opts.ReuseScales {
			if k, ok := scales[ds.Name]; ok {
				ds.Scale = &k
			}
		}
		g.Go(func() error {
			dl := logger.With("dataset", ds.Name)
			res, err := r.pipeline.WithLogger(dl).Run(gctx, ds)
			results <- jobResult{Dataset: ds.Name, Result: res, Err: err}
			if err != nil {
				dl.Error("dataset failed", "error", err)
				if r.cfg.FailFast {
					return err
				}
				return nil
			}
			scaleUpdates <- ScaleUpdate{Dataset: ds.Name, Scale: res.Scale}
			return nil
		})
	}
	groupErr := g.Wait()
	close(results)
	resWg.Wait()
	close(scaleUpdates)
	scaleWg.Wait()
	// The heartbeat logs through logs; it must be gone before close(logs).
	stopHeartbeat()
	hbWg.Wait()

	sort.Slice(summary.Results, func(i, j int) bool { return summary.Results[i].Dataset < summary.Results[j].Dataset })
	sort.Slice(summary.Failures, func(i, j int) bool { return summary.Failures[i].Dataset < summary.Failures[j].Dataset })

	var total int
	for _, res := range summary.Results {
		total += res.MinuteRows
	}
	logger.Info("summary", "total_rows", total, "success", len(summary.Results), "failed", len(summary.Failures))
	if len(summary.Failures) > 0 {
		logger.Info("summary failed", "count", len(summary.Failures), "reasons", joinFailedReasons(summary.Failures))
	}
	close(logs)
	logWg.Wait()

	if err := writeRunReport(r.cfg.OutputDir, summary.RunID, successEntries(summary.Results), summary.Failures); err != nil {
		slog.Warn("could not write run report", "error", err)
	}
	if r.cfg.MetricsFile != "" {
		if err := m.WriteTextfile(r.cfg.MetricsFile); err != nil {
			slog.Warn("could not write metrics file", "path", r.cfg.MetricsFile, "error", err)
		}
	}

	if len(errs) > 0 {
		return summary, errors.Join(errs...)
	}
	return summary, groupErr
}

func successEntries(results []app.Result) []successEntry {
	out := make([]successEntry, len(results))
	for i, res := range results {
		out[i] = successEntry{
			Dataset:     res.Dataset,
			Scale:       res.Scale,
			Rows:        res.MinuteRows,
			Synthesized: res.Synthesized,
			Export:      res.Outputs["export"],
		}
	}
	return out
}
