package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/indicator"
	"ohlcv-prep/internal/metrics"
	"ohlcv-prep/internal/model"
	"ohlcv-prep/internal/saver"
	"ohlcv-prep/internal/series"
)

const (
	h17 = 1677258000 // 2023-02-24T17:00:00Z
	h18 = h17 + 3600
	h19 = h18 + 3600
)

func ts(v int64) string { return series.FormatTimestamp(v) }

func writeFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return p
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func testPipeline(t *testing.T) (*Pipeline, *Config) {
	t.Helper()
	cfg := &Config{
		DataDir:      t.TempDir(),
		OutputDir:    t.TempDir(),
		FillPolicy:   "copy",
		ExportFormat: "csv",
	}
	ind := indicator.Config{ShortPeriod: 2, LongPeriod: 4, Alpha: decimal.RequireFromString("0.5"),
		HybridTimeframes: []indicator.Timeframe{indicator.TimeframeDay}}
	p, err := NewPipeline(cfg, ind, saver.CSVSaver{}, metrics.New())
	require.NoError(t, err)
	return p, cfg
}

func gapDataset(t *testing.T, dir string) model.Dataset {
	minute := writeFile(t, dir, "minute.csv",
		"Timestamp,Open,High,Low,Close,Volume",
		ts(h17)+",1.00,1.10,0.90,1.05,1000",
		ts(h17+60)+",1.05,1.15,1.00,1.12,1100",
		ts(h19)+",1.12,1.20,1.10,1.18,1200",
		ts(h19+60)+",1.18,1.25,1.15,1.22,1300",
		ts(h19+120)+",1.22,1.30,1.20,1.28,1400",
	)
	hour := writeFile(t, dir, "hour.csv",
		"Timestamp,Open,High,Low,Close,Volume",
		ts(h17)+",1.00,1.15,0.90,1.12,2100",
		ts(h18)+",1.12,1.12,1.12,1.12,0",
		ts(h19)+",1.12,1.3,1.10,1.28,3900",
	)
	return model.Dataset{Name: "EURUSD", Minute: minute, Hour: hour}
}

func TestPipelineRun(t *testing.T) {
	p, cfg := testPipeline(t)
	ds := gapDataset(t, cfg.DataDir)

	res, err := p.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scale)
	assert.Equal(t, 1, res.Synthesized)
	assert.Equal(t, 6, res.MinuteRows)
	assert.False(t, res.HourDerived)

	repaired := readLines(t, res.Outputs["repaired"])
	require.Len(t, repaired, 7)
	assert.Equal(t, ts(h18)+",105,115,100,112,0", repaired[3])

	assert.Equal(t, []string{"Timestamp,Open,High,Low,Close,Volume", ts(h17) + ",100,115,90,112,2100"},
		readLines(t, res.Outputs["hour"])[:2])

	export, err := saver.ReadEnriched(res.Outputs["export"])
	require.NoError(t, err)
	require.Len(t, export, 6)
	assert.Nil(t, export[0].ATRShort)
	assert.NotNil(t, export[5].ATRLong)

	_, ok := res.Outputs["hour_hybrid"]
	assert.True(t, ok)
	mtf := readLines(t, res.Outputs["mtf"])
	require.Len(t, mtf, 7)
	assert.True(t, strings.HasSuffix(mtf[0], ",ScalingFactor,HourATRShort,HourATRLong"), mtf[0])
	assert.Equal(t, 0, res.TrimmedRows)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().SynthesizedRows))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.Metrics().DecimalScale.WithLabelValues("EURUSD")))
}

func TestPipelineDerivesHourReference(t *testing.T) {
	p, cfg := testPipeline(t)
	ds := gapDataset(t, cfg.DataDir)
	ds.Hour = ""

	res, err := p.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.True(t, res.HourDerived)
	assert.Equal(t, 1, res.Synthesized)
	assert.Len(t, readLines(t, res.Outputs["hour"]), 3)
}

func TestPipelinePinnedScale(t *testing.T) {
	p, cfg := testPipeline(t)
	ds := gapDataset(t, cfg.DataDir)
	k := 4
	ds.Scale = &k

	res, err := p.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Scale)
	assert.Equal(t, ts(h17)+",10000,11000,9000,10500,1000", readLines(t, res.Outputs["minute"])[1])
}

func TestPipelineSortsInput(t *testing.T) {
	p, cfg := testPipeline(t)
	cfg.SortInput = true
	minute := writeFile(t, cfg.DataDir, "minute.csv",
		"Timestamp,Open,High,Low,Close,Volume",
		ts(h17+60)+",1,2,0.5,1.5,1",
		ts(h17)+",1,2,0.5,1.5,1",
		ts(h17+60)+",9,9,9,9,9",
	)
	res, err := p.Run(context.Background(), model.Dataset{Name: "X", Minute: minute})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DedupedRows)
	assert.Equal(t, 2, res.MinuteRows)
}

func TestPipelineFailsOnUnsortedInput(t *testing.T) {
	p, cfg := testPipeline(t)
	minute := writeFile(t, cfg.DataDir, "minute.csv",
		"Timestamp,Open,High,Low,Close,Volume",
		ts(h18)+",1,2,0.5,1.5,1",
		ts(h17)+",1,2,0.5,1.5,1",
	)
	_, err := p.Run(context.Background(), model.Dataset{Name: "X", Minute: minute})
	require.ErrorIs(t, err, dataerr.ErrOutOfOrder)
	assert.Contains(t, err.Error(), StageOrder)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().ErrorsTotal.WithLabelValues(StageOrder, "out_of_order")))
}

func TestPipelineStopsWhenCancelled(t *testing.T) {
	p, cfg := testPipeline(t)
	ds := gapDataset(t, cfg.DataDir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, ds)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipelineTrimsPastReferenceDate(t *testing.T) {
	p, cfg := testPipeline(t)
	ds := gapDataset(t, cfg.DataDir)
	data, err := os.ReadFile(ds.Minute)
	require.NoError(t, err)
	next := ts(h19+series.Day) + ",1.28,1.30,1.20,1.25,1500\n"
	require.NoError(t, os.WriteFile(ds.Minute, append(data, next...), 0644))

	res, err := p.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TrimmedRows)
	assert.Equal(t, 6, res.MinuteRows)
	assert.Equal(t, 1, res.Synthesized)
}

func TestPipelineScreensInput(t *testing.T) {
	p, cfg := testPipeline(t)
	cfg.ScreenInput = true
	minute := writeFile(t, cfg.DataDir, "minute.csv",
		"Timestamp,Open,High,Low,Close,Volume,Spread",
		ts(h17)+",1,2,0.5,1.5,1,3",
		ts(h17+60)+",1,2,0.5,oops,1,3",
		ts(h17+120)+",1,2,,1.5,1,3",
		ts(h17+180)+",1,2,0.5,1.5,1,3",
	)
	res, err := p.Run(context.Background(), model.Dataset{Name: "X", Minute: minute})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RejectedRows)
	assert.Equal(t, 2, res.MinuteRows)
	assert.Zero(t, res.Synthesized)
	assert.Equal(t, []string{
		"Timestamp,Open,High,Low,Close,Volume,Spread,Reason",
		ts(h17+60) + ",1,2,0.5,oops,1,3,Close: not a number",
		ts(h17+120) + ",1,2,,1.5,1,3,Low: empty",
	}, readLines(t, res.Outputs["invalid"]))
}

func TestPipelineMalformedRowWithoutScreening(t *testing.T) {
	p, cfg := testPipeline(t)
	minute := writeFile(t, cfg.DataDir, "minute.csv",
		"Timestamp,Open,High,Low,Close,Volume",
		ts(h17)+",1,2,0.5,oops,1",
	)
	_, err := p.Run(context.Background(), model.Dataset{Name: "X", Minute: minute})
	require.ErrorIs(t, err, dataerr.ErrMalformedRow)
	assert.Contains(t, err.Error(), StageNormalize)
}
