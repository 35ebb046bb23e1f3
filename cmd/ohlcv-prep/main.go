package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"ohlcv-prep/internal/app"
	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/slogx"
)

func init() {
	slog.SetDefault(slogx.NewDefault("info"))
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&normalizeCmd{}, "stages")
	subcommands.Register(&checkOrderCmd{}, "stages")
	subcommands.Register(&sortCmd{}, "stages")
	subcommands.Register(&aggregateCmd{}, "stages")
	subcommands.Register(&repairCmd{}, "stages")
	subcommands.Register(&validateCmd{}, "stages")
	subcommands.Register(&indicatorsCmd{}, "stages")
	subcommands.Register(&hybridCmd{}, "stages")
	subcommands.Register(&screenCmd{}, "stages")
	subcommands.Register(&trimCmd{}, "stages")
	subcommands.Register(&copyATRCmd{}, "stages")

	subcommands.Register(&runCmd{}, "pipeline")
	subcommands.Register(&batchCmd{}, "pipeline")

	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(int(subcommands.Execute(ctx)))
}

// loadApp builds the app from env and switches the default logger to the
// configured level and format.
func loadApp() (*App, bool) {
	a, err := InitializeApp()
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		return nil, false
	}
	slog.SetDefault(slogx.New(a.Config.LogLevel, a.Config.LogFormat))
	return a, true
}

// loadConfig is loadApp for stages that only need settings.
func loadConfig() (*app.Config, bool) {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return nil, false
	}
	slog.SetDefault(slogx.New(cfg.LogLevel, cfg.LogFormat))
	return cfg, true
}

// exitStatus logs err and maps it to a process status.
// Invalid parameters are usage errors, every other failure is ExitFailure.
func exitStatus(op string, err error) subcommands.ExitStatus {
	switch {
	case err == nil:
		return subcommands.ExitSuccess
	case errors.Is(err, dataerr.ErrInvalidParameter):
		slog.Error(op+" failed", "error", err)
		return subcommands.ExitUsageError
	default:
		slog.Error(op+" failed", "error", err)
		return subcommands.ExitFailure
	}
}
