package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/grid"
	"ohlcv-prep/internal/indicator"
)

// Config holds application configuration from env.
// Every key may be given with or without the OHLCV_ prefix.
type Config struct {
	DataDir          string   `envconfig:"DATA_DIR" default:"data" validate:"required"`
	OutputDir        string   `envconfig:"OUTPUT_DIR" default:"out" validate:"required"`
	LogLevel         string   `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn warning error"` // debug | info | warn | error
	LogFormat        string   `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
	ShortPeriod      int      `envconfig:"SHORT_PERIOD" default:"5" validate:"gt=0"`
	LongPeriod       int      `envconfig:"LONG_PERIOD" default:"14" validate:"gtfield=ShortPeriod"`
	Alpha            float64  `envconfig:"ALPHA" default:"0.5" validate:"gte=0,lte=1"`
	HybridTimeframes []string `envconfig:"HYBRID_TIMEFRAMES" default:"day" validate:"dive,oneof=minute hour day"`
	FillPolicy       string   `envconfig:"FILL_POLICY" default:"copy" validate:"oneof=copy copy-forward sentinel"`
	ExportFormat     string   `envconfig:"EXPORT_FORMAT" validate:"oneof=csv json parquet"`
	Workers          int      `envconfig:"WORKERS" default:"4" validate:"gte=1,lte=64"`
	FailFast         bool     `envconfig:"FAIL_FAST" default:"false"`
	MetricsFile      string   `envconfig:"METRICS_FILE"`
	SortInput        bool     `envconfig:"SORT_INPUT" default:"false"`
	ScreenInput      bool     `envconfig:"SCREEN_INPUT" default:"false"` // split bad raw rows into minute.invalid.csv instead of failing
}

var validate = validator.New()

// LoadConfig reads config from environment, after loading .env if present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	var cfg Config
	if err := envconfig.Process("OHLCV", &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	if cfg.ExportFormat == "" {
		cfg.ExportFormat = exportFormatForProfile(os.Getenv("PROFILE"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// exportFormatForProfile: dev xuất csv để đọc được; prod mặc định parquet.
func exportFormatForProfile(profile string) string {
	switch profile {
	case "dev", "development":
		return "csv"
	default:
		return "parquet"
	}
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", dataerr.ErrInvalidParameter, err)
	}
	return nil
}

// IndicatorConfig converts the ATR settings.
func (c *Config) IndicatorConfig() (indicator.Config, error) {
	ic := indicator.Config{
		ShortPeriod: c.ShortPeriod,
		LongPeriod:  c.LongPeriod,
		Alpha:       decimal.NewFromFloat(c.Alpha),
	}
	for _, s := range c.HybridTimeframes {
		tf, err := indicator.ParseTimeframe(s)
		if err != nil {
			return indicator.Config{}, err
		}
		ic.HybridTimeframes = append(ic.HybridTimeframes, tf)
	}
	return ic, ic.Validate()
}

func (c *Config) FillOptions() (grid.Options, error) {
	p, err := grid.ParseFillPolicy(c.FillPolicy)
	if err != nil {
		return grid.Options{}, err
	}
	return grid.Options{Policy: p}, nil
}

// DatasetDir returns out/{dataset}
func (c *Config) DatasetDir(name string) string {
	return filepath.Join(c.OutputDir, name)
}

// ScalesPath returns path to .scales.json
func (c *Config) ScalesPath() string {
	return filepath.Join(c.OutputDir, ".scales.json")
}
