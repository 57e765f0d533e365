package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/weaveship/weaveship/internal/config"
)

func configLogging(level, format string) config.LoggingConfig {
	return config.LoggingConfig{Level: level, Format: format}
}

var configEnvKeys = []string{
	"WANDB_API_KEY",
	"WANDB_ENTITY",
	"WANDB_PROJECT",
	"WEAVE_BASE_URL",
	"WEAVE_TIMEOUT_MS",
	"WEAVESHIP_LOG_LEVEL",
	"WEAVESHIP_LOG_FORMAT",
}

// clearEnv removes all config-related variables for the test's duration.
// Tests using it must not run in parallel.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRunVersion(t *testing.T) {
	if got := run([]string{"version"}); got != 0 {
		t.Fatalf("run(version)=%d, want 0", got)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if got := run([]string{"frobnicate"}); got != 2 {
		t.Fatalf("run(frobnicate)=%d, want 2", got)
	}
}

func TestRunNoArgs(t *testing.T) {
	if got := run(nil); got != 2 {
		t.Fatalf("run()=%d, want 2", got)
	}
}

func TestRunConfigValidate(t *testing.T) {
	clearEnv(t)

	configPath := writeFile(t, t.TempDir(), "weaveship.yaml", `weave:
  api_key: test-key
  entity: acme
  project: chatbot
`)

	var out, errOut bytes.Buffer
	if got := runConfigValidate([]string{"--config", configPath}, &out, &errOut); got != 0 {
		t.Fatalf("runConfigValidate()=%d, want 0; stderr=%s", got, errOut.String())
	}
	if !strings.Contains(out.String(), "config is valid") {
		t.Fatalf("stdout=%q, want validity confirmation", out.String())
	}
}

func TestRunConfigValidateMissingAPIKey(t *testing.T) {
	clearEnv(t)

	configPath := writeFile(t, t.TempDir(), "weaveship.yaml", `weave:
  project: chatbot
`)

	var out, errOut bytes.Buffer
	if got := runConfigValidate([]string{"--config", configPath}, &out, &errOut); got != 1 {
		t.Fatalf("runConfigValidate()=%d, want 1", got)
	}
	if !strings.Contains(errOut.String(), "api_key") {
		t.Fatalf("stderr=%q, want api_key mentioned", errOut.String())
	}
}

func TestRunShipForwardsStream(t *testing.T) {
	clearEnv(t)

	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	configPath := writeFile(t, dir, "weaveship.yaml", `weave:
  api_key: test-key
  entity: acme
  project: chatbot
  base_url: `+server.URL+`
`)
	inputPath := writeFile(t, dir, "calls.ndjson", `{"standard_logging_data":{"call_type":"completion","model":"gpt-4o","startTime":1756500000.5,"endTime":1756500001.5}}
{"standard_logging_data":{"call_type":"completion","model":"gpt-4o","error_str":"rate limit exceeded"}}
`)

	var out, errOut bytes.Buffer
	got := runShip([]string{"--config", configPath, "--input", inputPath}, &out, &errOut)
	if got != 0 {
		t.Fatalf("runShip()=%d, want 0; stderr=%s", got, errOut.String())
	}
	if !strings.Contains(out.String(), "forwarded 2 calls to acme/chatbot (0 failed)") {
		t.Fatalf("stdout=%q, want forwarding summary", out.String())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/call/start", "/call/end", "/call/start", "/call/end"}
	if len(paths) != len(want) {
		t.Fatalf("requests=%v, want %v", paths, want)
	}
	for i, p := range paths {
		if p != want[i] {
			t.Fatalf("request %d path=%q, want %q", i, p, want[i])
		}
	}
}

func TestRunShipCountsPerCallFailures(t *testing.T) {
	clearEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	dir := t.TempDir()
	configPath := writeFile(t, dir, "weaveship.yaml", `weave:
  api_key: bad-key
  project: chatbot
  base_url: `+server.URL+`
`)
	inputPath := writeFile(t, dir, "calls.ndjson", `{"standard_logging_data":{"call_type":"completion","model":"gpt-4o"}}
`)

	var out, errOut bytes.Buffer
	got := runShip([]string{"--config", configPath, "--input", inputPath}, &out, &errOut)
	if got != 1 {
		t.Fatalf("runShip()=%d, want 1", got)
	}
	if !strings.Contains(out.String(), "(1 failed)") {
		t.Fatalf("stdout=%q, want failure count", out.String())
	}
}

func TestRunShipRejectsMalformedInput(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := writeFile(t, dir, "weaveship.yaml", `weave:
  api_key: test-key
  project: chatbot
`)
	inputPath := writeFile(t, dir, "calls.ndjson", "not json\n")

	var out, errOut bytes.Buffer
	if got := runShip([]string{"--config", configPath, "--input", inputPath}, &out, &errOut); got != 1 {
		t.Fatalf("runShip()=%d, want 1", got)
	}
	if !strings.Contains(errOut.String(), "ship aborted") {
		t.Fatalf("stderr=%q, want abort message", errOut.String())
	}
}

func TestShipStreamStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decode := decodeRawEvent(json.NewDecoder(strings.NewReader("{}")))
	forwarded, failed, err := shipStream(ctx, stubForwarder{}, decode, slog.New(slog.DiscardHandler))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if forwarded != 0 || failed != 0 {
		t.Fatalf("forwarded=%d failed=%d, want 0 each", forwarded, failed)
	}
}

type stubForwarder struct{}

func (stubForwarder) LogSuccessEvent(context.Context, map[string]any, time.Time, time.Time) error {
	return nil
}

func (stubForwarder) LogFailureEvent(context.Context, map[string]any, time.Time, time.Time) error {
	return nil
}

func TestEventTimes(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"standard_logging_data": map[string]any{
			"startTime": 1756500000.0,
			"endTime":   1756500001.5,
		},
	}
	start, end := eventTimes(raw)
	if start.Unix() != 1756500000 {
		t.Fatalf("start=%v, want epoch 1756500000", start)
	}
	if got := end.Sub(start); got != 1500*time.Millisecond {
		t.Fatalf("duration=%v, want 1.5s", got)
	}
}

func TestEventTimesFallsBackToNow(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	start, end := eventTimes(map[string]any{})
	if start.Before(before) || end.Before(start) {
		t.Fatalf("start=%v end=%v, want now-ish bounds", start, end)
	}
}

func TestIsFailureEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  map[string]any
		want bool
	}{
		{
			name: "error string",
			raw:  map[string]any{"standard_logging_data": map[string]any{"error_str": "boom"}},
			want: true,
		},
		{
			name: "error information",
			raw:  map[string]any{"standard_logging_data": map[string]any{"error_information": map[string]any{}}},
			want: true,
		},
		{
			name: "empty error string",
			raw:  map[string]any{"standard_logging_data": map[string]any{"error_str": ""}},
			want: false,
		},
		{
			name: "success",
			raw:  map[string]any{"standard_logging_data": map[string]any{"call_type": "completion"}},
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isFailureEvent(tt.raw); got != tt.want {
				t.Fatalf("isFailureEvent()=%t, want %t", got, tt.want)
			}
		})
	}
}

func TestBuildLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := buildLogger(configLogging("debug", "json"), &buf)
	if err != nil {
		t.Fatalf("buildLogger() error: %v", err)
	}
	logger.Debug("hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("log output=%q, want JSON record", buf.String())
	}

	if _, err := buildLogger(configLogging("loud", "text"), &buf); err == nil {
		t.Fatal("expected error for unsupported level")
	}
	if _, err := buildLogger(configLogging("info", "xml"), &buf); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
