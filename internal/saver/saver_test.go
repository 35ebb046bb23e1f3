package saver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/model"
)

const enrichedCSV = `Timestamp,Open,High,Low,Close,Volume,ATRShort,ATRLong,ScalingFactor
1,100,110,90,105,1000,-1,-1,1.00000000
2,105,115,100,112,1100.5,17.50000000,-1,1.00000000
4,118,125,115,122,0,10.00000000,13.75000000,0.86363637
`

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestNewSeriesSaver(t *testing.T) {
	for _, f := range []string{"csv", "JSON", " parquet "} {
		s := NewSeriesSaver(f)
		require.NotNil(t, s, f)
		assert.Equal(t, strings.ToLower(strings.TrimSpace(f)), s.Extension())
	}
	assert.Nil(t, NewSeriesSaver("xlsx"))
}

func TestReadEnriched(t *testing.T) {
	bars, err := ReadEnriched(writeFile(t, "e.csv", enrichedCSV))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, int64(1), bars[0].Timestamp)
	assert.Nil(t, bars[0].ATRShort)
	assert.Nil(t, bars[0].ATRLong)
	assert.True(t, bars[0].ScalingFactor.Equal(dec("1")))

	assert.True(t, bars[1].Volume.Equal(dec("1100.5")))
	require.NotNil(t, bars[1].ATRShort)
	assert.True(t, bars[1].ATRShort.Equal(dec("17.5")))
	assert.Nil(t, bars[1].ATRLong)

	assert.True(t, bars[2].Close.Equal(dec("122")))
	require.NotNil(t, bars[2].ATRLong)
	assert.True(t, bars[2].ATRLong.Equal(dec("13.75")))
	assert.True(t, bars[2].ScalingFactor.Equal(dec("0.86363637")))
}

func TestReadEnrichedRejectsUnscaledPrices(t *testing.T) {
	content := "Timestamp,Open,High,Low,Close,Volume,ATRShort,ATRLong,ScalingFactor\n1,1.5,2,1,1.5,1,-1,-1,1\n"
	_, err := ReadEnriched(writeFile(t, "e.csv", content))
	var re *dataerr.RowError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Open", re.Column)
	assert.Equal(t, 2, re.Row)
}

func TestCSVSaverMatchesIndicatorLayout(t *testing.T) {
	bars, err := ReadEnriched(writeFile(t, "e.csv", enrichedCSV))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, CSVSaver{}.Save(bars, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, enrichedCSV, string(data))
}

func TestJSONSaverOmitsUnavailable(t *testing.T) {
	bars, err := ReadEnriched(writeFile(t, "e.csv", enrichedCSV))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, JSONSaver{}.Save(bars, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 3)
	assert.NotContains(t, got[0], "atr_s")
	assert.Contains(t, got[2], "atr_l")
}

func TestParquetSaver(t *testing.T) {
	bars, err := ReadEnriched(writeFile(t, "e.csv", enrichedCSV))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.parquet")
	require.NoError(t, ParquetSaver{}.Save(bars, out))
	got, err := ReadParquet(out)
	require.NoError(t, err)
	require.Len(t, got, len(bars))
	assert.Equal(t, bars[2].Timestamp, got[2].Timestamp)
	assert.Nil(t, got[0].ATRShort)
	require.NotNil(t, got[1].ATRShort)
	assert.True(t, got[1].ATRShort.Equal(dec("17.5")))
	assert.True(t, got[2].ScalingFactor.Equal(dec("0.86363637")))
}

func TestSaveEmptySeries(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, CSVSaver{}.Save([]model.EnrichedBar{}, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(CSVHeader, ",")+"\n", string(data))
}

// Scaled prices wider than int64 and ATRs with more digits than a float64
// holds must come back unchanged from every format.
const wideCSV = `Timestamp,Open,High,Low,Close,Volume,ATRShort,ATRLong,ScalingFactor
1,123456789012345678901,123456789012345678999,123456789012345678000,123456789012345678950,0.1234567890123456789,12345678901.12345678,98765432109876.54321098,0.99999999
`

func TestExportKeepsExactValues(t *testing.T) {
	bars, err := ReadEnriched(writeFile(t, "wide.csv", wideCSV))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	want := bars[0]
	assert.Equal(t, "123456789012345678901", want.Open.String())
	assert.Equal(t, "12345678901.12345678", want.ATRShort.StringFixed(8))

	t.Run("csv", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.csv")
		require.NoError(t, CSVSaver{}.Save(bars, out))
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, wideCSV, string(data))
	})

	t.Run("json", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.json")
		require.NoError(t, JSONSaver{}.Save(bars, out))
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"12345678901.12345678"`)

		var got []model.EnrichedBar
		require.NoError(t, json.Unmarshal(data, &got))
		require.Len(t, got, 1)
		assertSameBar(t, want, got[0])
	})

	t.Run("parquet", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.parquet")
		require.NoError(t, ParquetSaver{}.Save(bars, out))
		got, err := ReadParquet(out)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assertSameBar(t, want, got[0])
	})
}

func assertSameBar(t *testing.T, want, got model.EnrichedBar) {
	t.Helper()
	assert.Equal(t, want.Timestamp, got.Timestamp)
	for _, pair := range [][2]decimal.Decimal{
		{want.Open, got.Open}, {want.High, got.High}, {want.Low, got.Low}, {want.Close, got.Close},
		{want.Volume, got.Volume}, {want.ScalingFactor, got.ScalingFactor},
		{*want.ATRShort, *got.ATRShort}, {*want.ATRLong, *got.ATRLong},
	} {
		assert.True(t, pair[0].Equal(pair[1]), "want %s, got %s", pair[0], pair[1])
	}
}
