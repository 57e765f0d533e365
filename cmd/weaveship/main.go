package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/weaveship/weaveship/internal/hook"
	"github.com/weaveship/weaveship/internal/observability"
	"github.com/weaveship/weaveship/internal/version"
	"github.com/weaveship/weaveship/internal/weave"
)

const defaultConfigPath = "weaveship.yaml"

const otelShutdownTimeout = 5 * time.Second

var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return 2
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return 0
	case "ship":
		return runShip(args[1:], os.Stdout, os.Stderr)
	case "config":
		return runConfig(args[1:], os.Stdout, os.Stderr)
	default:
		printUsage(os.Stderr)
		return 2
	}
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printConfigUsage(errOut)
		return 2
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		printConfigUsage(errOut)
		return 2
	}
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	_, _, err := loadAndValidateConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", *configPath)
	return 0
}

func runShip(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("ship", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	inputPath := flagSet.String("input", "-", "Call-log JSON stream to forward (- for stdin)")
	inputFormat := flagSet.String("format", "raw", "Input format: raw call-log payloads or openai request/response exchanges (raw|openai)")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "ship does not accept positional arguments")
		return 2
	}
	if *inputFormat != "raw" && *inputFormat != "openai" {
		fmt.Fprintf(errOut, "unsupported input format %q: expected raw or openai\n", *inputFormat)
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		if stage == configStageLoad {
			fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		} else {
			fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		}
		return 1
	}

	logger, err := buildLogger(cfg.Logging, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "failed to configure logging: %v\n", err)
		return 1
	}

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelRuntime, otelErr := observability.Setup(ctx, cfg.Observability.OTel, version.String(), logger)
	if otelErr != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", otelErr)
	}
	if otelRuntime != nil {
		defer shutdownOpenTelemetry(logger, otelRuntime, otelShutdownTimeout)
	}

	httpClient := &http.Client{
		Timeout:   time.Duration(cfg.Weave.TimeoutMS) * time.Millisecond,
		Transport: otelRuntime.WrapHTTPTransport(http.DefaultTransport),
	}
	client, err := weave.NewClient(cfg.Weave.BaseURL, cfg.Weave.APIKey, httpClient)
	if err != nil {
		fmt.Fprintf(errOut, "failed to configure weave client: %v\n", err)
		return 1
	}

	forwarder, err := hook.New(cfg, client, logger, otelRuntime)
	if err != nil {
		fmt.Fprintf(errOut, "failed to configure forwarder: %v\n", err)
		return 1
	}

	input, closeInput, err := openInput(*inputPath)
	if err != nil {
		fmt.Fprintf(errOut, "failed to open input: %v\n", err)
		return 1
	}
	defer closeInput()

	decoder := json.NewDecoder(input)
	decode := decodeRawEvent(decoder)
	if *inputFormat == "openai" {
		decode = decodeOpenAIEvent(decoder)
	}

	forwarded, failed, err := shipStream(ctx, forwarder, decode, logger)
	if err != nil {
		fmt.Fprintf(errOut, "ship aborted: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "forwarded %d calls to %s (%d failed)\n", forwarded, cfg.Weave.ProjectID(), failed)
	if failed > 0 {
		return 1
	}
	return 0
}

// callEvent is one decoded input entry, ready for the forwarding hook.
type callEvent struct {
	raw       map[string]any
	startTime time.Time
	endTime   time.Time
	failure   bool
}

// shipStream pulls decoded call events and forwards each one. Per-call
// failures are counted and logged but do not stop the stream; decode
// errors and context cancellation do. decode returns io.EOF at end of
// input.
func shipStream(ctx context.Context, forwarder hook.CallLogger, decode func() (callEvent, error), logger *slog.Logger) (forwarded, failed int, err error) {
	for {
		if ctx.Err() != nil {
			return forwarded, failed, ctx.Err()
		}

		event, decodeErr := decode()
		if decodeErr != nil {
			if errors.Is(decodeErr, io.EOF) {
				return forwarded, failed, nil
			}
			return forwarded, failed, decodeErr
		}

		var forwardErr error
		if event.failure {
			forwardErr = forwarder.LogFailureEvent(ctx, event.raw, event.startTime, event.endTime)
		} else {
			forwardErr = forwarder.LogSuccessEvent(ctx, event.raw, event.startTime, event.endTime)
		}
		if forwardErr != nil {
			failed++
			logger.Warn("call not forwarded", "error", observability.ScrubError(forwardErr))
			continue
		}
		forwarded++
	}
}

// decodeRawEvent streams call-log payloads that already carry
// standard_logging_data, reading the call's wall-clock bounds from its
// epoch timestamp fields.
func decodeRawEvent(decoder *json.Decoder) func() (callEvent, error) {
	return func() (callEvent, error) {
		var raw map[string]any
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return callEvent{}, io.EOF
			}
			return callEvent{}, fmt.Errorf("decode call-log payload: %w", err)
		}
		startTime, endTime := eventTimes(raw)
		return callEvent{
			raw:       raw,
			startTime: startTime,
			endTime:   endTime,
			failure:   isFailureEvent(raw),
		}, nil
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// eventTimes reads the call's wall-clock bounds from the payload's epoch
// timestamp fields. Missing or malformed values fall back to now, which
// keeps the call visible in the trace UI rather than dropping it.
func eventTimes(raw map[string]any) (time.Time, time.Time) {
	now := time.Now().UTC()
	data, ok := raw["standard_logging_data"].(map[string]any)
	if !ok {
		return now, now
	}
	start := epochTime(data["startTime"], now)
	end := epochTime(data["endTime"], start)
	return start, end
}

func epochTime(value any, fallback time.Time) time.Time {
	seconds, ok := value.(float64)
	if !ok || seconds <= 0 {
		return fallback
	}
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

func isFailureEvent(raw map[string]any) bool {
	data, ok := raw["standard_logging_data"].(map[string]any)
	if !ok {
		return false
	}
	if s, ok := data["error_str"].(string); ok && s != "" {
		return true
	}
	_, hasInfo := data["error_information"]
	return hasInfo
}

func shutdownOpenTelemetry(logger *slog.Logger, runtime *observability.Runtime, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := runtime.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down opentelemetry", "error", err)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  weaveship ship [--config path/to/weaveship.yaml] [--input calls.ndjson|-] [--format raw|openai]")
	fmt.Fprintln(out, "  weaveship config validate [--config path/to/weaveship.yaml]")
	fmt.Fprintln(out, "  weaveship version")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  weaveship config validate [--config path/to/weaveship.yaml]")
}
