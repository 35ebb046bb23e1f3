package fixedpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohlcv-prep/internal/dataerr"
)

func writeCSV(t *testing.T, lines ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return p
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestSignificantScale(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"1", 0},
		{"100", 0},
		{"1.0", 0},
		{"1.25", 2},
		{"1.2500", 2},
		{"0.00001", 5},
		{"-3.140", 2},
		{"0.000", 0},
		{"1e3", 0},
		{"1.5e-3", 4},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SignificantScale(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestShiftRoundsHalfUp(t *testing.T) {
	tests := []struct {
		in   string
		k    int
		want string
	}{
		{"1.2345", 4, "12345"},
		{"1.2", 4, "12000"},
		{"1.25", 1, "13"},
		{"-1.25", 1, "-13"},
		{"1.24", 1, "12"},
		{"7", 0, "7"},
		{"0.5", 0, "1"},
		{"123456789.123456789", 9, "123456789123456789"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Shift(decimal.RequireFromString(tt.in), tt.k), tt.in)
	}
}

func TestTruncateTimestamp(t *testing.T) {
	s, err := TruncateTimestamp("1677265200.75")
	require.NoError(t, err)
	assert.Equal(t, "1677265200", s)

	s, err = TruncateTimestamp("1677265200")
	require.NoError(t, err)
	assert.Equal(t, "1677265200", s)
}

func TestNormalize(t *testing.T) {
	in := writeCSV(t,
		"Timestamp,Open,High,Low,Close,Volume",
		"1.9,1.1,1.25,1.05,1.2,10.5",
		"2,1.2,1.3,1.1,1.125,0",
	)
	out := filepath.Join(t.TempDir(), "out.csv")
	k, err := Normalize(in, out)
	require.NoError(t, err)
	assert.Equal(t, 3, k)
	assert.Equal(t, []string{
		"Timestamp,Open,High,Low,Close,Volume",
		"1,1100,1250,1050,1200,10.5",
		"2,1200,1300,1100,1125,0",
	}, readLines(t, out))
}

func TestNormalizeHeaderOnly(t *testing.T) {
	in := writeCSV(t, "Timestamp,Open,High,Low,Close")
	out := filepath.Join(t.TempDir(), "out.csv")
	k, err := Normalize(in, out)
	require.NoError(t, err)
	assert.Zero(t, k)
	assert.Equal(t, []string{"Timestamp,Open,High,Low,Close"}, readLines(t, out))
}

func TestNormalizeCaseInsensitiveHeader(t *testing.T) {
	in := writeCSV(t, "timestamp,open,high,low,close", "60,0.5,0.75,0.25,0.5")
	out := filepath.Join(t.TempDir(), "out.csv")
	k, err := Normalize(in, out)
	require.NoError(t, err)
	assert.Equal(t, 2, k)
	assert.Equal(t, "60,50,75,25,50", readLines(t, out)[1])
}

func TestNormalizeMalformedRow(t *testing.T) {
	in := writeCSV(t,
		"Timestamp,Open,High,Low,Close",
		"60,1,2,0.5,1",
		"120,1,2,abc,1",
	)
	_, err := Normalize(in, filepath.Join(t.TempDir(), "out.csv"))
	require.ErrorIs(t, err, dataerr.ErrMalformedRow)
	var re *dataerr.RowError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Row)
	assert.Equal(t, "Low", re.Column)
	assert.Equal(t, "abc", re.Value)
}

func TestNormalizeMissingColumn(t *testing.T) {
	in := writeCSV(t, "Timestamp,Open,High,Close", "60,1,2,1")
	_, err := DiscoverScale(in)
	require.ErrorIs(t, err, dataerr.ErrMalformedRow)
	var re *dataerr.RowError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 1, re.Row)
	assert.Equal(t, "Low", re.Column)
}

func TestNormalizeEmptyFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(p, nil, 0644))
	_, err := Normalize(p, filepath.Join(t.TempDir(), "out.csv"))
	assert.ErrorIs(t, err, dataerr.ErrEmptyInput)
}

func TestNormalizeWithScale(t *testing.T) {
	in := writeCSV(t, "Timestamp,Open,High,Low,Close", "3600,1.5,1.75,1.25,1.5")
	out := filepath.Join(t.TempDir(), "out.csv")
	rounded, err := NormalizeWithScale(in, out, 4)
	require.NoError(t, err)
	assert.Zero(t, rounded)
	assert.Equal(t, "3600,15000,17500,12500,15000", readLines(t, out)[1])

	_, err = NormalizeWithScale(in, out, -1)
	assert.ErrorIs(t, err, dataerr.ErrInvalidParameter)
}

func TestNormalizeWithScaleCountsRoundedPrices(t *testing.T) {
	in := writeCSV(t,
		"Timestamp,Open,High,Low,Close",
		"3600,1.5,1.75,1.25,1.5",
		"7200,1.125,1.20,1.1,1.135",
	)
	out := filepath.Join(t.TempDir(), "out.csv")
	rounded, err := NormalizeWithScale(in, out, 2)
	require.NoError(t, err)
	// 1.125 and 1.135 need three digits; 1.20 does not.
	assert.Equal(t, 2, rounded)
	assert.Equal(t, "7200,113,120,110,114", readLines(t, out)[2])
}

func TestScaleIsMinimal(t *testing.T) {
	in := writeCSV(t,
		"Timestamp,Open,High,Low,Close",
		"60,10.10,10.20,10.00,10.10",
		"120,10.1,10.2,10.0,10.15",
	)
	k, err := DiscoverScale(in)
	require.NoError(t, err)
	assert.Equal(t, 2, k)
}
