//go:build wireinject
// +build wireinject

package main

import (
	"ohlcv-prep/internal/app"
	"ohlcv-prep/internal/batch"

	"github.com/google/wire"
)

// App holds application dependencies built by Wire.
type App struct {
	Config   *app.Config
	Pipeline *app.Pipeline
	Runner   *batch.Runner
}

// InitializeApp builds App (Config + Pipeline + batch Runner) via Wire.
func InitializeApp() (*App, error) {
	wire.Build(
		app.ProvideConfig,
		app.ProvideSeriesSaver,
		app.ProvideIndicatorConfig,
		app.ProvideMetrics,
		app.ProvidePipeline,
		batch.NewRunner,
		wire.Struct(new(App), "Config", "Pipeline", "Runner"),
	)
	return nil, nil
}
