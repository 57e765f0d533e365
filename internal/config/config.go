package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/weaveship/weaveship/internal/weave"
)

type Config struct {
	Weave         WeaveConfig         `yaml:"weave"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// WeaveConfig is the fully-resolved credential and endpoint configuration
// for the trace ingestion API. Components receive it already resolved;
// nothing downstream of Load reads the process environment.
type WeaveConfig struct {
	APIKey    string `yaml:"api_key"`
	Entity    string `yaml:"entity"`
	Project   string `yaml:"project"`
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// ProjectID composes the project identifier sent on every payload:
// entity/project when an entity is configured, else just project. When no
// entity is set the backend attributes calls to the account's default
// entity.
func (c WeaveConfig) ProjectID() string {
	entity := strings.TrimSpace(c.Entity)
	project := strings.TrimSpace(c.Project)
	if entity == "" {
		return project
	}
	return entity + "/" + project
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ObservabilityConfig struct {
	OTel OTelConfig `yaml:"otel"`
}

type OTelConfig struct {
	Enabled                bool    `yaml:"enabled"`
	Endpoint               string  `yaml:"endpoint"`
	Insecure               bool    `yaml:"insecure"`
	ServiceName            string  `yaml:"service_name"`
	TracesEnabled          bool    `yaml:"traces_enabled"`
	MetricsEnabled         bool    `yaml:"metrics_enabled"`
	SamplingRatio          float64 `yaml:"sampling_ratio"`
	ExportTimeoutMS        int     `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int     `yaml:"metric_export_interval_ms"`
}

const (
	defaultWeaveTimeout  = 10000
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultOTELEndpoint  = "localhost:4318"
	defaultOTELService   = "weaveship"
	defaultOTELSampling  = 1.0
	defaultOTELTimeoutMS = 3000
	defaultOTELMetricMS  = 10000
)

func Default() Config {
	return Config{
		Weave: WeaveConfig{
			BaseURL:   weave.DefaultBaseURL,
			TimeoutMS: defaultWeaveTimeout,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Observability: ObservabilityConfig{
			OTel: OTelConfig{
				Enabled:                false,
				Endpoint:               defaultOTELEndpoint,
				Insecure:               true,
				ServiceName:            defaultOTELService,
				TracesEnabled:          true,
				MetricsEnabled:         true,
				SamplingRatio:          defaultOTELSampling,
				ExportTimeoutMS:        defaultOTELTimeoutMS,
				MetricExportIntervalMS: defaultOTELMetricMS,
			},
		},
	}
}

// Load reads the yaml file at path (a missing file is fine; defaults
// apply) and then applies environment overrides. Unknown yaml keys and
// trailing yaml documents are rejected so a typo never silently
// misconfigures credential resolution.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			decodeErr := decoder.Decode(&cfg)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
			if decodeErr != nil {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
			}
			var trailing any
			trailingErr := decoder.Decode(&trailing)
			if trailingErr != nil && !errors.Is(trailingErr, io.EOF) {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, trailingErr)
			}
			if trailing != nil {
				return Config{}, fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the invariants required before any call is logged.
// Missing credentials fail here, at construction time, never later in the
// logging path.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Weave.APIKey) == "" {
		return errors.New("weave.api_key is required (set it or WANDB_API_KEY; visit https://wandb.ai/authorize to get one)")
	}
	if strings.TrimSpace(cfg.Weave.Project) == "" {
		return errors.New("weave.project is required (set it or WANDB_PROJECT)")
	}
	if err := validateBaseURL(cfg.Weave.BaseURL); err != nil {
		return err
	}
	if cfg.Weave.TimeoutMS <= 0 {
		return fmt.Errorf("weave.timeout_ms must be > 0 (got %d)", cfg.Weave.TimeoutMS)
	}

	if _, err := ParseLogLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if _, err := NormalizeLogFormat(cfg.Logging.Format); err != nil {
		return err
	}

	return validateOTelConfig(cfg.Observability.OTel)
}

// ParseLogLevel maps a configured level name to its slog value. It is the
// single source of truth for accepted levels; Validate and the CLI's
// logger construction both go through it.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", level)
	}
}

// NormalizeLogFormat canonicalizes a configured format name. Like
// ParseLogLevel it is the single accepted-value list for log formats.
func NormalizeLogFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return "text", nil
	case "json":
		return "json", nil
	default:
		return "", fmt.Errorf("logging.format must be one of text, json (got %q)", format)
	}
}

func validateBaseURL(raw string) error {
	base := strings.TrimSpace(raw)
	if base == "" {
		return errors.New("weave.base_url must not be empty")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("parse weave.base_url: %w", err)
	}
	if strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("weave.base_url must include scheme and host (got %q)", raw)
	}
	return nil
}

func validateOTelConfig(cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("observability.otel.endpoint is required when observability.otel.enabled=true")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return errors.New("observability.otel.service_name is required when observability.otel.enabled=true")
	}
	if !cfg.TracesEnabled && !cfg.MetricsEnabled {
		return errors.New("observability.otel requires traces_enabled and/or metrics_enabled when enabled")
	}
	if cfg.SamplingRatio < 0 || cfg.SamplingRatio > 1 {
		return fmt.Errorf("observability.otel.sampling_ratio must be between 0 and 1 (got %f)", cfg.SamplingRatio)
	}
	if cfg.ExportTimeoutMS <= 0 {
		return fmt.Errorf("observability.otel.export_timeout_ms must be > 0 (got %d)", cfg.ExportTimeoutMS)
	}
	if cfg.MetricExportIntervalMS <= 0 {
		return fmt.Errorf("observability.otel.metric_export_interval_ms must be > 0 (got %d)", cfg.MetricExportIntervalMS)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if apiKey := strings.TrimSpace(os.Getenv("WANDB_API_KEY")); apiKey != "" {
		cfg.Weave.APIKey = apiKey
	}
	if entity := strings.TrimSpace(os.Getenv("WANDB_ENTITY")); entity != "" {
		cfg.Weave.Entity = entity
	}
	if project := strings.TrimSpace(os.Getenv("WANDB_PROJECT")); project != "" {
		cfg.Weave.Project = project
	}
	if baseURL := strings.TrimSpace(os.Getenv("WEAVE_BASE_URL")); baseURL != "" {
		cfg.Weave.BaseURL = baseURL
	}
	if timeout := strings.TrimSpace(os.Getenv("WEAVE_TIMEOUT_MS")); timeout != "" {
		v, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid WEAVE_TIMEOUT_MS: %w", err)
		}
		cfg.Weave.TimeoutMS = v
	}

	if level := strings.TrimSpace(os.Getenv("WEAVESHIP_LOG_LEVEL")); level != "" {
		cfg.Logging.Level = level
	}
	if format := strings.TrimSpace(os.Getenv("WEAVESHIP_LOG_FORMAT")); format != "" {
		cfg.Logging.Format = format
	}

	return applyOTelEnv(cfg)
}

// applyOTelEnv honors the standard OTEL_* environment variables; setting
// any of them other than OTEL_SDK_DISABLED turns the SDK on.
func applyOTelEnv(cfg *Config) error {
	otelConfigured := false
	otelSDKDisabledSet := false
	if sdkDisabled := strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")); sdkDisabled != "" {
		v, err := strconv.ParseBool(sdkDisabled)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
		cfg.Observability.OTel.Enabled = !v
		otelSDKDisabledSet = true
		otelConfigured = true
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Observability.OTel.Endpoint = endpoint
		otelConfigured = true
	}
	if insecure := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); insecure != "" {
		v, err := strconv.ParseBool(insecure)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Observability.OTel.Insecure = v
		otelConfigured = true
	}
	if serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); serviceName != "" {
		cfg.Observability.OTel.ServiceName = serviceName
		otelConfigured = true
	}
	if samplingRatio := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); samplingRatio != "" {
		v, err := strconv.ParseFloat(samplingRatio, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		cfg.Observability.OTel.SamplingRatio = v
		otelConfigured = true
	}
	if exportTimeout := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT")); exportTimeout != "" {
		v, err := strconv.Atoi(exportTimeout)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_TIMEOUT: %w", err)
		}
		cfg.Observability.OTel.ExportTimeoutMS = v
		otelConfigured = true
	}
	if metricExportInterval := strings.TrimSpace(os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")); metricExportInterval != "" {
		v, err := strconv.Atoi(metricExportInterval)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRIC_EXPORT_INTERVAL: %w", err)
		}
		cfg.Observability.OTel.MetricExportIntervalMS = v
		otelConfigured = true
	}
	if otelConfigured && !otelSDKDisabledSet {
		cfg.Observability.OTel.Enabled = true
	}
	return nil
}
