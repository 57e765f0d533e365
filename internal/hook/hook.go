// Package hook turns raw gateway call-log payloads into Weave trace calls.
// It sanitizes the payload, then emits a call/start and a call/end event
// per logged call through a TraceSender.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weaveship/weaveship/internal/config"
	"github.com/weaveship/weaveship/internal/observability"
	"github.com/weaveship/weaveship/internal/sanitize"
	"github.com/weaveship/weaveship/internal/weave"
)

// TraceSender delivers call/start and call/end events to a trace backend.
// *weave.Client satisfies it.
type TraceSender interface {
	StartCall(ctx context.Context, payload weave.StartPayload) error
	EndCall(ctx context.Context, payload weave.EndPayload) error
}

// CallLogger is the surface a gateway integrates against: one method per
// call outcome, both receiving the raw logging payload plus the call's
// wall-clock bounds.
type CallLogger interface {
	LogSuccessEvent(ctx context.Context, raw map[string]any, startTime, endTime time.Time) error
	LogFailureEvent(ctx context.Context, raw map[string]any, startTime, endTime time.Time) error
}

// Logger forwards call logs to Weave. Safe for concurrent use: it keeps no
// per-call state between events.
type Logger struct {
	projectID string
	sender    TraceSender
	logger    *slog.Logger
	runtime   *observability.Runtime

	// newCallID is swapped out in tests for deterministic IDs.
	newCallID func() string
}

// New builds a Logger from resolved configuration. The config must already
// be validated; New only rejects states that make forwarding impossible.
func New(cfg config.Config, sender TraceSender, logger *slog.Logger, runtime *observability.Runtime) (*Logger, error) {
	if sender == nil {
		return nil, errors.New("hook: trace sender is required")
	}
	projectID := cfg.Weave.ProjectID()
	if projectID == "" {
		return nil, errors.New("hook: weave project is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		projectID: projectID,
		sender:    sender,
		logger:    logger,
		runtime:   runtime,
		newCallID: uuid.NewString,
	}, nil
}

// LogSuccessEvent forwards one successful call as a start/end event pair.
func (l *Logger) LogSuccessEvent(ctx context.Context, raw map[string]any, startTime, endTime time.Time) error {
	return l.forward(ctx, raw, startTime, endTime)
}

// LogFailureEvent forwards one failed call. The sequencing is identical to
// the success path; the error detail travels inside the sanitized record
// and surfaces as the call/end exception.
func (l *Logger) LogFailureEvent(ctx context.Context, raw map[string]any, startTime, endTime time.Time) error {
	return l.forward(ctx, raw, startTime, endTime)
}

func (l *Logger) forward(ctx context.Context, raw map[string]any, startTime, endTime time.Time) error {
	rec, err := sanitize.Sanitize(raw)
	if err != nil {
		l.runtime.RecordForwardFailure(ctx, "sanitize")
		l.logger.WarnContext(ctx, "dropping unloggable call payload", "error", err)
		return fmt.Errorf("sanitize call payload: %w", err)
	}
	l.runtime.RecordKeysDropped(ctx, rec.Redactions.Total())

	callID := l.newCallID()
	startedAt := startTime.UTC().Format(time.RFC3339Nano)
	endedAt := endTime.UTC().Format(time.RFC3339Nano)

	start := weave.BuildStart(rec, l.projectID, callID, startedAt)
	if err := l.sender.StartCall(ctx, start); err != nil {
		l.runtime.RecordForwardFailure(ctx, "call_start")
		l.logger.ErrorContext(ctx, "weave call/start failed",
			"call_id", callID,
			"call_type", rec.CallType,
			"error", observability.ScrubError(err),
		)
		return fmt.Errorf("send call/start: %w", err)
	}

	end := weave.BuildEnd(rec, l.projectID, callID, endedAt)
	if err := l.sender.EndCall(ctx, end); err != nil {
		l.runtime.RecordForwardFailure(ctx, "call_end")
		l.logger.ErrorContext(ctx, "weave call/end failed",
			"call_id", callID,
			"call_type", rec.CallType,
			"error", observability.ScrubError(err),
		)
		return fmt.Errorf("send call/end: %w", err)
	}

	l.runtime.RecordForwarded(ctx, rec.CallType)
	l.logger.DebugContext(ctx, "call forwarded",
		"call_id", callID,
		"call_type", rec.CallType,
		"keys_dropped", rec.Redactions.Total(),
	)
	return nil
}
