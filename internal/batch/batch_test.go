package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohlcv-prep/internal/app"
	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/indicator"
	"ohlcv-prep/internal/metrics"
	"ohlcv-prep/internal/model"
	"ohlcv-prep/internal/saver"
)

const h17 = 1677258000

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

func minuteLines(prices ...string) []string {
	lines := []string{"Timestamp,Open,High,Low,Close,Volume"}
	for i, p := range prices {
		lines = append(lines, strings.Join([]string{strconv.FormatInt(h17+int64(i)*1800, 10), p, p, p, p, "1"}, ","))
	}
	return lines
}

func testRunner(t *testing.T, dataDir string) (*Runner, *app.Config) {
	t.Helper()
	cfg := &app.Config{
		DataDir:      dataDir,
		OutputDir:    t.TempDir(),
		LogLevel:     "info",
		LogFormat:    "text",
		FillPolicy:   "copy",
		ExportFormat: "json",
		Workers:      2,
	}
	cfg.MetricsFile = filepath.Join(cfg.OutputDir, "ohlcv.prom")
	ind := indicator.Config{ShortPeriod: 1, LongPeriod: 2, Alpha: decimal.RequireFromString("0.5")}
	p, err := app.NewPipeline(cfg, ind, saver.JSONSaver{}, metrics.New())
	require.NoError(t, err)
	return NewRunner(cfg, p), cfg
}

func TestLoadManifestFormats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "EURUSD", MinuteFile), minuteLines("1.1")...)
	writeFile(t, filepath.Join(dir, "EURUSD", HourFile), minuteLines("1.1")...)

	t.Run("txt", func(t *testing.T) {
		p := filepath.Join(dir, "list.txt")
		require.NoError(t, os.WriteFile(p, []byte("# fx\nEURUSD\n\nEURUSD\nGBPUSD\n"), 0644))
		ds, err := LoadManifest(p, dir)
		require.NoError(t, err)
		require.Len(t, ds, 2)
		assert.Equal(t, filepath.Join(dir, "EURUSD", MinuteFile), ds[0].Minute)
		assert.Equal(t, filepath.Join(dir, "EURUSD", HourFile), ds[0].Hour)
		assert.Empty(t, ds[0].Day)
		assert.Empty(t, ds[1].Hour)
	})

	t.Run("yaml", func(t *testing.T) {
		p := filepath.Join(dir, "list.yaml")
		content := "- name: EURUSD\n  minute: EURUSD/minute.csv\n  scale: 5\n- name: BTC\n  minute: /abs/btc.csv\n"
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		ds, err := LoadManifest(p, dir)
		require.NoError(t, err)
		require.Len(t, ds, 2)
		require.NotNil(t, ds[0].Scale)
		assert.Equal(t, 5, *ds[0].Scale)
		assert.Equal(t, filepath.Join(dir, "EURUSD", MinuteFile), ds[0].Minute)
		assert.Equal(t, "/abs/btc.csv", ds[1].Minute)
	})

	t.Run("json missing minute", func(t *testing.T) {
		p := filepath.Join(dir, "list.json")
		require.NoError(t, os.WriteFile(p, []byte(`[{"name":"X"}]`), 0644))
		_, err := LoadManifest(p, dir)
		assert.Error(t, err)
	})

	t.Run("unsupported", func(t *testing.T) {
		p := filepath.Join(dir, "list.csv")
		require.NoError(t, os.WriteFile(p, []byte("EURUSD"), 0644))
		_, err := LoadManifest(p, dir)
		assert.Error(t, err)
	})
}

func TestDiscoverDatasets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b", MinuteFile), minuteLines("1")...)
	writeFile(t, filepath.Join(dir, "a", MinuteFile), minuteLines("1")...)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0755))

	ds, err := LoadManifestOrDiscover(filepath.Join(dir, "missing.txt"), dir)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "a", ds[0].Name)
	assert.Equal(t, "b", ds[1].Name)

	_, err = DiscoverDatasets(filepath.Join(dir, "empty"))
	assert.Error(t, err)
}

func TestRunnerMixedOutcome(t *testing.T) {
	dataDir := t.TempDir()
	writeFile(t, filepath.Join(dataDir, "good", MinuteFile), minuteLines("1.5", "1.25", "1.75", "2")...)
	writeFile(t, filepath.Join(dataDir, "bad", MinuteFile), minuteLines("1.5", "oops")...)
	datasets := []model.Dataset{ResolveDataset(dataDir, "good"), ResolveDataset(dataDir, "bad")}

	r, cfg := testRunner(t, dataDir)
	summary, err := r.Run(context.Background(), datasets, Options{LogOutput: io.Discard})
	require.Error(t, err)
	assert.ErrorIs(t, err, dataerr.ErrMalformedRow)
	assert.NotEmpty(t, summary.RunID)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, "good", summary.Results[0].Dataset)
	assert.Equal(t, 2, summary.Results[0].Scale)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "malformed_row", summary.Failures[0].Kind)

	assert.Equal(t, map[string]int{"good": 2}, LoadScales(cfg.ScalesPath()))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, SuccessReport))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, FailedReport))
	assert.FileExists(t, cfg.MetricsFile)

	var report struct {
		RunID    string        `json:"run_id"`
		Datasets []FailedEntry `json:"datasets"`
	}
	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, FailedReport))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, summary.RunID, report.RunID)
	assert.Equal(t, "bad", report.Datasets[0].Dataset)
}

func TestRunnerReusesRegistryScale(t *testing.T) {
	dataDir := t.TempDir()
	writeFile(t, filepath.Join(dataDir, "fx", MinuteFile), minuteLines("1.5", "1.25")...)
	r, cfg := testRunner(t, dataDir)
	require.NoError(t, os.MkdirAll(cfg.OutputDir, 0755))
	require.NoError(t, os.WriteFile(cfg.ScalesPath(), []byte(`{"fx": 5}`), 0644))

	summary, err := r.Run(context.Background(), []model.Dataset{ResolveDataset(dataDir, "fx")}, Options{ReuseScales: true, LogOutput: io.Discard})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, 5, summary.Results[0].Scale)
}

func TestRunnerNoDatasets(t *testing.T) {
	r, _ := testRunner(t, t.TempDir())
	summary, err := r.Run(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, summary.Results)
}

func TestValidateDataset(t *testing.T) {
	assert.NoError(t, ValidateDataset(model.Dataset{Name: "fx", Minute: "fx.csv"}))
	assert.ErrorIs(t, ValidateDataset(model.Dataset{Name: "fx"}), dataerr.ErrInvalidParameter)

	neg := -1
	assert.ErrorIs(t, ValidateDataset(model.Dataset{Name: "fx", Minute: "fx.csv", Scale: &neg}), dataerr.ErrInvalidParameter)
}

func TestRunnerHeartbeatStopsBeforeLogsClose(t *testing.T) {
	dataDir := t.TempDir()
	var datasets []model.Dataset
	for _, name := range []string{"a", "b", "c", "d"} {
		writeFile(t, filepath.Join(dataDir, name, MinuteFile), minuteLines("1.5", "1.25", "1.75", "2")...)
		datasets = append(datasets, ResolveDataset(dataDir, name))
	}
	r, _ := testRunner(t, dataDir)

	for i := 0; i < 10; i++ {
		var buf bytes.Buffer
		summary, err := r.Run(context.Background(), datasets, Options{Heartbeat: time.Millisecond, LogOutput: &buf})
		require.NoError(t, err)
		assert.Len(t, summary.Results, 4)
		assert.Contains(t, buf.String(), "batch start")
	}
}
