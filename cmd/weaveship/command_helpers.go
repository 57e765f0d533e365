package main

import (
	"io"
	"log/slog"

	"github.com/weaveship/weaveship/internal/config"
	"github.com/weaveship/weaveship/internal/observability"
)

const (
	configStageLoad     = "load"
	configStageValidate = "validate"
)

// loadAndValidateConfig resolves config and reports which stage failed.
func loadAndValidateConfig(configPath string) (config.Config, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, configStageLoad, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, configStageValidate, err
	}
	return cfg, "", nil
}

// buildLogger constructs the process logger from validated logging config.
// Level and format names resolve through the config package's shared
// helpers, so the accepted values live in one place. Log lines go to
// errOut so forwarding summaries on stdout stay parseable.
func buildLogger(cfg config.LoggingConfig, errOut io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := config.NormalizeLogFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(errOut, opts)
	} else {
		handler = slog.NewTextHandler(errOut, opts)
	}

	return slog.New(observability.NewTraceLogHandler(handler)), nil
}
