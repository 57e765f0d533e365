package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/weaveship/weaveship/internal/calllog"
)

// openaiExchange is one line of `ship --format openai` input: a dumped
// go-openai request/response pair the way an OpenAI-speaking gateway
// records them, before any call-log shaping.
type openaiExchange struct {
	Kind      string          `json:"kind"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response"`
	Error     string          `json:"error"`
	Metadata  map[string]any  `json:"metadata"`
	StartTime float64         `json:"start_time"`
	EndTime   float64         `json:"end_time"`
}

// decodeOpenAIEvent streams openai exchanges and shapes each into a raw
// call-log payload through the calllog bridge.
func decodeOpenAIEvent(decoder *json.Decoder) func() (callEvent, error) {
	return func() (callEvent, error) {
		var exchange openaiExchange
		if err := decoder.Decode(&exchange); err != nil {
			if errors.Is(err, io.EOF) {
				return callEvent{}, io.EOF
			}
			return callEvent{}, fmt.Errorf("decode openai exchange: %w", err)
		}

		raw, err := exchange.callLogPayload()
		if err != nil {
			return callEvent{}, err
		}

		now := time.Now().UTC()
		startTime := epochTime(exchange.StartTime, now)
		endTime := epochTime(exchange.EndTime, startTime)
		return callEvent{
			raw:       raw,
			startTime: startTime,
			endTime:   endTime,
			failure:   exchange.Error != "",
		}, nil
	}
}

func (e openaiExchange) callLogPayload() (map[string]any, error) {
	var callErr error
	if e.Error != "" {
		callErr = errors.New(e.Error)
	}
	meta := calllog.Meta{Metadata: e.Metadata}

	switch e.Kind {
	case "", "chat":
		var req openai.ChatCompletionRequest
		if err := unmarshalIfPresent(e.Request, &req); err != nil {
			return nil, fmt.Errorf("decode chat request: %w", err)
		}
		var resp openai.ChatCompletionResponse
		if err := unmarshalIfPresent(e.Response, &resp); err != nil {
			return nil, fmt.Errorf("decode chat response: %w", err)
		}
		return calllog.ChatCompletion(req, resp, callErr, meta)
	case "embedding":
		var req openai.EmbeddingRequest
		if err := unmarshalIfPresent(e.Request, &req); err != nil {
			return nil, fmt.Errorf("decode embedding request: %w", err)
		}
		var resp openai.EmbeddingResponse
		if err := unmarshalIfPresent(e.Response, &resp); err != nil {
			return nil, fmt.Errorf("decode embedding response: %w", err)
		}
		return calllog.Embedding(req, resp, callErr, meta)
	default:
		return nil, fmt.Errorf("unsupported exchange kind %q: expected chat or embedding", e.Kind)
	}
}

func unmarshalIfPresent(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
