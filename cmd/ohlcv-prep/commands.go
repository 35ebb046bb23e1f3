package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"ohlcv-prep/internal/batch"
	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/fixedpoint"
	"ohlcv-prep/internal/grid"
	"ohlcv-prep/internal/indicator"
	"ohlcv-prep/internal/model"
	"ohlcv-prep/internal/series"
)

// ioFlags are the -in/-out pair shared by single-file stages.
type ioFlags struct {
	in, out string
}

func (f *ioFlags) set(fs *flag.FlagSet) {
	fs.StringVar(&f.in, "in", "", "input CSV")
	fs.StringVar(&f.out, "out", "", "output CSV")
}

func (f *ioFlags) check() error { return requireFlags("in", f.in, "out", f.out) }

// requireFlags takes name, value pairs and fails on the first empty value.
func requireFlags(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return dataerr.Param(pairs[i], "", "required")
		}
	}
	return nil
}

// parseScale reads an optional -scale flag; "" means discover.
func parseScale(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	k, err := strconv.Atoi(s)
	if err != nil {
		return nil, dataerr.Param("scale", s, "not an integer")
	}
	return &k, nil
}

type normalizeCmd struct {
	io      ioFlags
	scale   string
	dataset string
	reuse   bool
}

func (*normalizeCmd) Name() string     { return "normalize" }
func (*normalizeCmd) Synopsis() string { return "convert prices to fixed-point integers" }
func (*normalizeCmd) Usage() string {
	return `normalize -in minute.csv -out minute.norm.csv [-scale k] [-dataset name [-reuse]]:
  Discover the decimal scale k (or use -scale) and write prices as integers.
  With -dataset the scale is recorded in (or with -reuse read from) the scale registry.
`
}

func (c *normalizeCmd) SetFlags(f *flag.FlagSet) {
	c.io.set(f)
	f.StringVar(&c.scale, "scale", "", "predefined decimal scale (default: discover)")
	f.StringVar(&c.dataset, "dataset", "", "dataset name for the scale registry")
	f.BoolVar(&c.reuse, "reuse", false, "use the registry scale for -dataset when present")
}

func (c *normalizeCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, ok := loadConfig()
	if !ok {
		return subcommands.ExitFailure
	}
	if err := c.io.check(); err != nil {
		return exitStatus("normalize", err)
	}
	scale, err := parseScale(c.scale)
	if err != nil {
		return exitStatus("normalize", err)
	}
	if scale == nil && c.reuse && c.dataset != "" {
		if k, found := batch.LoadScales(cfg.ScalesPath())[c.dataset]; found {
			slog.Info("reusing registry scale", "dataset", c.dataset, "scale", k)
			scale = &k
		}
	}

	var k int
	if scale != nil {
		k = *scale
		_, err = fixedpoint.NormalizeWithScale(c.io.in, c.io.out, k)
	} else {
		k, err = fixedpoint.Normalize(c.io.in, c.io.out)
	}
	if err != nil {
		return exitStatus("normalize", err)
	}
	if c.dataset != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			return exitStatus("normalize", err)
		}
		updates := make(chan batch.ScaleUpdate, 1)
		updates <- batch.ScaleUpdate{Dataset: c.dataset, Scale: k}
		close(updates)
		batch.RunScaleWriter(cfg.ScalesPath(), updates)
	}
	fmt.Println(k)
	return subcommands.ExitSuccess
}

type checkOrderCmd struct{}

func (*checkOrderCmd) Name() string     { return "checkorder" }
func (*checkOrderCmd) Synopsis() string { return "verify timestamps never decrease" }
func (*checkOrderCmd) Usage() string {
	return `checkorder <file.csv>...:
  Fail on the first row whose timestamp is lower than the previous one.
`
}
func (*checkOrderCmd) SetFlags(*flag.FlagSet) {}

func (*checkOrderCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if _, ok := loadConfig(); !ok {
		return subcommands.ExitFailure
	}
	if f.NArg() == 0 {
		return exitStatus("checkorder", dataerr.Param("file", "", "at least one file is required"))
	}
	for _, path := range f.Args() {
		n, err := series.CheckOrder(path)
		if err != nil {
			return exitStatus("checkorder", err)
		}
		slog.Info("order ok", "path", path, "rows", n)
	}
	return subcommands.ExitSuccess
}

type sortCmd struct {
	io     ioFlags
	dedupe bool
}

func (*sortCmd) Name() string     { return "sort" }
func (*sortCmd) Synopsis() string { return "stable-sort rows by timestamp" }
func (*sortCmd) Usage() string {
	return `sort -in raw.csv -out sorted.csv [-dedupe]:
  Sort rows by timestamp, keeping the file order of equal timestamps.
  With -dedupe only the first row of each timestamp is kept.
`
}

func (c *sortCmd) SetFlags(f *flag.FlagSet) {
	c.io.set(f)
	f.BoolVar(&c.dedupe, "dedupe", false, "drop repeated timestamps after sorting")
}

func (c *sortCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if _, ok := loadConfig(); !ok {
		return subcommands.ExitFailure
	}
	if err := c.io.check(); err != nil {
		return exitStatus("sort", err)
	}
	if !c.dedupe {
		_, err := series.Sort(c.io.in, c.io.out)
		return exitStatus("sort", err)
	}

	tmp := filepath.Join(filepath.Dir(c.io.out), "."+filepath.Base(c.io.out)+".sorted")
	defer os.Remove(tmp)
	if _, err := series.Sort(c.io.in, tmp); err != nil {
		return exitStatus("sort", err)
	}
	_, err := series.Dedupe(tmp, c.io.out)
	return exitStatus("sort", err)
}

type aggregateCmd struct {
	io     ioFlags
	period string
}

func (*aggregateCmd) Name() string     { return "aggregate" }
func (*aggregateCmd) Synopsis() string { return "build hour or day bars from finer bars" }
func (*aggregateCmd) Usage() string {
	return `aggregate -in minute.csv -out hour.csv [-period hour|day]:
  Roll bars up into floored period buckets (first open, max high, min low, last close, summed volume).
`
}

func (c *aggregateCmd) SetFlags(f *flag.FlagSet) {
	c.io.set(f)
	f.StringVar(&c.period, "period", "hour", "target period: hour or day")
}

func (c *aggregateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if _, ok := loadConfig(); !ok {
		return subcommands.ExitFailure
	}
	if err := c.io.check(); err != nil {
		return exitStatus("aggregate", err)
	}
	tf, err := indicator.ParseTimeframe(c.period)
	if err != nil {
		return exitStatus("aggregate", err)
	}
	var period int64
	switch tf {
	case indicator.TimeframeHour:
		period = series.Hour
	case indicator.TimeframeDay:
		period = series.Day
	default:
		return exitStatus("aggregate", dataerr.Param("period", c.period, "use hour or day"))
	}
	_, err = series.Aggregate(c.io.in, c.io.out, period)
	return exitStatus("aggregate", err)
}

type repairCmd struct {
	io   ioFlags
	fill string
}

func (*repairCmd) Name() string     { return "repair" }
func (*repairCmd) Synopsis() string { return "fill missing hourly slots in a minute series" }
func (*repairCmd) Usage() string {
	return `repair -in minute.norm.csv -out minute.repaired.csv [-fill copy|sentinel]:
  Insert one row for every whole hour skipped between consecutive rows.
`
}

func (c *repairCmd) SetFlags(f *flag.FlagSet) {
	c.io.set(f)
	f.StringVar(&c.fill, "fill", "", "fill policy (default: FILL_POLICY)")
}

func (c *repairCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, ok := loadConfig()
	if !ok {
		return subcommands.ExitFailure
	}
	if err := c.io.check(); err != nil {
		return exitStatus("repair", err)
	}
	if c.fill == "" {
		c.fill = cfg.FillPolicy
	}
	policy, err := grid.ParseFillPolicy(c.fill)
	if err != nil {
		return exitStatus("repair", err)
	}
	n, err := grid.Repair(c.io.in, c.io.out, grid.Options{Policy: policy})
	if err != nil {
		return exitStatus("repair", err)
	}
	fmt.Println(n)
	return subcommands.ExitSuccess
}

type validateCmd struct {
	minute, hour string
}

func (*validateCmd) Name() string     { return "validate" }
func (*validateCmd) Synopsis() string { return "check a repaired minute series covers every hour" }
func (*validateCmd) Usage() string {
	return `validate -minute minute.repaired.csv [-hour hour.csv]:
  With -hour, every reference hour inside the minute range must appear in the minute file.
  Without it, the minute file itself must have no skipped hour.
`
}

func (c *validateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.minute, "minute", "", "repaired minute CSV")
	f.StringVar(&c.hour, "hour", "", "hourly reference CSV")
}

func (c *validateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if _, ok := loadConfig(); !ok {
		return subcommands.ExitFailure
	}
	if c.minute == "" {
		return exitStatus("validate", dataerr.Param("minute", c.minute, "required"))
	}
	var err error
	if c.hour != "" {
		err = grid.Validate(c.minute, c.hour)
	} else {
		err = grid.CheckContinuity(c.minute)
	}
	return exitStatus("validate", err)
}

// periodFlags override the configured ATR settings when non-zero.
type periodFlags struct {
	short, long int
	alpha       string
}

func (p *periodFlags) set(f *flag.FlagSet) {
	f.IntVar(&p.short, "short", 0, "short ATR period (default: SHORT_PERIOD)")
	f.IntVar(&p.long, "long", 0, "long ATR period (default: LONG_PERIOD)")
	f.StringVar(&p.alpha, "alpha", "", "blend weight in [0,1] (default: ALPHA)")
}

func (p *periodFlags) apply(ic indicator.Config) (indicator.Config, error) {
	if p.short != 0 {
		ic.ShortPeriod = p.short
	}
	if p.long != 0 {
		ic.LongPeriod = p.long
	}
	if p.alpha != "" {
		a, err := decimal.NewFromString(strings.TrimSpace(p.alpha))
		if err != nil {
			return ic, dataerr.Param("alpha", p.alpha, "not a number")
		}
		ic.Alpha = a
	}
	return ic, ic.Validate()
}

type indicatorsCmd struct {
	io      ioFlags
	periods periodFlags
}

func (*indicatorsCmd) Name() string     { return "indicators" }
func (*indicatorsCmd) Synopsis() string { return "append ATR columns and the scaling factor" }
func (*indicatorsCmd) Usage() string {
	return `indicators -in minute.repaired.csv -out minute.scaled.csv [-short n] [-long n] [-alpha a]:
  Append ATRShort, ATRLong and ScalingFactor to every row.
`
}

func (c *indicatorsCmd) SetFlags(f *flag.FlagSet) {
	c.io.set(f)
	c.periods.set(f)
}

func (c *indicatorsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, ok := loadConfig()
	if !ok {
		return subcommands.ExitFailure
	}
	if err := c.io.check(); err != nil {
		return exitStatus("indicators", err)
	}
	ic, err := cfg.IndicatorConfig()
	if err == nil {
		ic, err = c.periods.apply(ic)
	}
	if err != nil {
		return exitStatus("indicators", err)
	}
	_, err = indicator.AppendScalingFactor(c.io.in, c.io.out, ic)
	return exitStatus("indicators", err)
}

type hybridCmd struct {
	io        ioFlags
	periods   periodFlags
	timeframe string
}

func (*hybridCmd) Name() string     { return "hybrid" }
func (*hybridCmd) Synopsis() string { return "append ATR columns and the price-normalized scaling factor" }
func (*hybridCmd) Usage() string {
	return `hybrid -in day.norm.csv -out day.scaled.csv [-timeframe day] [-short n] [-long n] [-alpha a]:
  Append ATRShort, ATRLong and HybridScalingFactor. Timeframes outside
  HYBRID_TIMEFRAMES get a neutral factor of 1.
`
}

func (c *hybridCmd) SetFlags(f *flag.FlagSet) {
	c.io.set(f)
	c.periods.set(f)
	f.StringVar(&c.timeframe, "timeframe", "day", "timeframe of the input: minute, hour or day")
}

func (c *hybridCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, ok := loadConfig()
	if !ok {
		return subcommands.ExitFailure
	}
	if err := c.io.check(); err != nil {
		return exitStatus("hybrid", err)
	}
	tf, err := indicator.ParseTimeframe(c.timeframe)
	if err != nil {
		return exitStatus("hybrid", err)
	}
	ic, err := cfg.IndicatorConfig()
	if err == nil {
		ic, err = c.periods.apply(ic)
	}
	if err != nil {
		return exitStatus("hybrid", err)
	}
	_, err = indicator.AppendHybridScaling(c.io.in, c.io.out, ic, tf)
	return exitStatus("hybrid", err)
}

type screenCmd struct {
	io      ioFlags
	invalid string
}

func (*screenCmd) Name() string     { return "screen" }
func (*screenCmd) Synopsis() string { return "split raw rows into clean and invalid files" }
func (*screenCmd) Usage() string {
	return `screen -in minute.csv -out minute.clean.csv -invalid minute.invalid.csv:
  Keep rows whose Timestamp, Open, High, Low, Close and Volume are numeric.
  Other rows go to -invalid with a Reason column.
`
}

func (c *screenCmd) SetFlags(f *flag.FlagSet) {
	c.io.set(f)
	f.StringVar(&c.invalid, "invalid", "", "output CSV for rejected rows")
}

func (c *screenCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if _, ok := loadConfig(); !ok {
		return subcommands.ExitFailure
	}
	if err := requireFlags("in", c.io.in, "out", c.io.out, "invalid", c.invalid); err != nil {
		return exitStatus("screen", err)
	}
	_, rejected, err := series.Screen(c.io.in, c.io.out, c.invalid)
	if err != nil {
		return exitStatus("screen", err)
	}
	fmt.Println(rejected)
	return subcommands.ExitSuccess
}

type trimCmd struct {
	minute, ref, out string
}

func (*trimCmd) Name() string     { return "trim" }
func (*trimCmd) Synopsis() string { return "drop minute rows dated after the reference series" }
func (*trimCmd) Usage() string {
	return `trim -minute minute.csv -ref hour.csv -out minute.trim.csv:
  Drop minute rows whose UTC date is after the date of the last -ref row.
`
}

func (c *trimCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.minute, "minute", "", "minute CSV")
	f.StringVar(&c.ref, "ref", "", "reference CSV (hour or day)")
	f.StringVar(&c.out, "out", "", "output CSV")
}

func (c *trimCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if _, ok := loadConfig(); !ok {
		return subcommands.ExitFailure
	}
	if err := requireFlags("minute", c.minute, "ref", c.ref, "out", c.out); err != nil {
		return exitStatus("trim", err)
	}
	n, err := series.Trim(c.minute, c.ref, c.out)
	if err != nil {
		return exitStatus("trim", err)
	}
	fmt.Println(n)
	return subcommands.ExitSuccess
}

type copyATRCmd struct {
	minute, higher, out string
	timeframe           string
}

func (*copyATRCmd) Name() string     { return "copyatr" }
func (*copyATRCmd) Synopsis() string { return "copy hour or day ATR readings onto minute rows" }
func (*copyATRCmd) Usage() string {
	return `copyatr -minute minute.atr.csv -higher day.hybrid.csv -out minute.dayatr.csv [-timeframe day]:
  Append DayATRShort/DayATRLong (or Hour...) taken from the matching slot of
  -higher. Missing slots carry the previous reading forward.
`
}

func (c *copyATRCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.minute, "minute", "", "minute CSV")
	f.StringVar(&c.higher, "higher", "", "hour or day CSV with ATRShort and ATRLong")
	f.StringVar(&c.out, "out", "", "output CSV")
	f.StringVar(&c.timeframe, "timeframe", "day", "timeframe of -higher: hour or day")
}

func (c *copyATRCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if _, ok := loadConfig(); !ok {
		return subcommands.ExitFailure
	}
	if err := requireFlags("minute", c.minute, "higher", c.higher, "out", c.out); err != nil {
		return exitStatus("copyatr", err)
	}
	tf, err := indicator.ParseTimeframe(c.timeframe)
	if err != nil {
		return exitStatus("copyatr", err)
	}
	_, err = indicator.CopyATR(c.minute, c.higher, c.out, tf)
	return exitStatus("copyatr", err)
}

type runCmd struct {
	ds    model.Dataset
	scale string
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run the whole pipeline for one dataset" }
func (*runCmd) Usage() string {
	return `run -name EURUSD -minute minute.csv [-hour hour.csv] [-day day.csv] [-scale k]:
  Normalize, repair, validate, append scaling factors and export into OUTPUT_DIR/{name}.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ds.Name, "name", "", "dataset name")
	f.StringVar(&c.ds.Minute, "minute", "", "minute CSV")
	f.StringVar(&c.ds.Hour, "hour", "", "hourly reference CSV (default: aggregated from minute)")
	f.StringVar(&c.ds.Day, "day", "", "daily CSV")
	f.StringVar(&c.scale, "scale", "", "predefined decimal scale (default: discover)")
}

func (c *runCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, ok := loadApp()
	if !ok {
		return subcommands.ExitFailure
	}
	scale, err := parseScale(c.scale)
	if err != nil {
		return exitStatus("run", err)
	}
	c.ds.Scale = scale
	if c.ds.Name == "" && c.ds.Minute != "" {
		c.ds.Name = strings.TrimSuffix(filepath.Base(c.ds.Minute), filepath.Ext(c.ds.Minute))
	}
	if err := batch.ValidateDataset(c.ds); err != nil {
		return exitStatus("run", err)
	}
	res, err := a.Pipeline.Run(ctx, c.ds)
	if err != nil {
		return exitStatus("run", err)
	}
	roles := make([]string, 0, len(res.Outputs))
	for role := range res.Outputs {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		fmt.Printf("%s\t%s\n", role, res.Outputs[role])
	}
	if a.Config.MetricsFile != "" {
		if err := a.Pipeline.Metrics().WriteTextfile(a.Config.MetricsFile); err != nil {
			slog.Warn("could not write metrics file", "path", a.Config.MetricsFile, "error", err)
		}
	}
	return subcommands.ExitSuccess
}

type batchCmd struct {
	manifest  string
	reuse     bool
	heartbeat time.Duration
}

func (*batchCmd) Name() string     { return "batch" }
func (*batchCmd) Synopsis() string { return "run the pipeline for every dataset in a manifest" }
func (*batchCmd) Usage() string {
	return `batch [-manifest datasets.txt] [-reuse-scales] [-heartbeat 30s]:
  Process datasets in parallel (WORKERS). Without a manifest, every DATA_DIR/{name}/minute.csv is used.
`
}

func (c *batchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.manifest, "manifest", "datasets.txt", "dataset list (.txt, .json, .yaml)")
	f.BoolVar(&c.reuse, "reuse-scales", false, "apply scales recorded by previous runs")
	f.DurationVar(&c.heartbeat, "heartbeat", 30*time.Second, "progress log interval")
}

func (c *batchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, ok := loadApp()
	if !ok {
		return subcommands.ExitFailure
	}
	datasets, err := batch.LoadManifestOrDiscover(c.manifest, a.Config.DataDir)
	if err != nil {
		return exitStatus("batch", err)
	}
	slog.Info("got datasets", "count", len(datasets), "workers", a.Config.Workers, "format", a.Config.ExportFormat)

	summary, err := a.Runner.Run(ctx, datasets, batch.Options{ReuseScales: c.reuse, Heartbeat: c.heartbeat})
	if err != nil {
		return exitStatus("batch", err)
	}
	slog.Info("batch done", "run_id", summary.RunID, "datasets", len(summary.Results))
	return subcommands.ExitSuccess
}
