// Package calllog builds raw call-log payloads from go-openai request and
// response values. The ship command's openai input format decodes dumped
// exchanges into these types and shapes them here before handing the
// result to hook.Logger, which sanitizes it before anything leaves the
// process.
package calllog

import (
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Call types recognized downstream.
const (
	CallTypeCompletion = "completion"
	CallTypeEmbedding  = "embedding"
)

// Meta carries caller-supplied context attached to every logged call.
// All fields are optional.
type Meta struct {
	// Metadata lands under the payload's metadata key and goes through
	// credential redaction downstream.
	Metadata map[string]any

	// ModelMapInfo describes the resolved model deployment, if the
	// gateway tracks one.
	ModelMapInfo map[string]any
}

// ChatCompletion builds the raw payload for one chat completion call.
// Pass callErr non-nil when the upstream call failed; resp is ignored in
// that case.
func ChatCompletion(req openai.ChatCompletionRequest, resp openai.ChatCompletionResponse, callErr error, meta Meta) (map[string]any, error) {
	data := map[string]any{
		"call_type": CallTypeCompletion,
		"model":     req.Model,
		"stream":    req.Stream,
	}

	messages, err := toJSONValue(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("encode chat messages: %w", err)
	}
	data["messages"] = messages

	if callErr != nil {
		applyError(data, callErr)
	} else {
		response, err := toJSONValue(resp)
		if err != nil {
			return nil, fmt.Errorf("encode chat response: %w", err)
		}
		data["response"] = response
		data["prompt_tokens"] = resp.Usage.PromptTokens
		data["completion_tokens"] = resp.Usage.CompletionTokens
		data["total_tokens"] = resp.Usage.TotalTokens
	}

	applyMeta(data, meta)
	return wrap(data), nil
}

// Embedding builds the raw payload for one embedding call.
func Embedding(req openai.EmbeddingRequest, resp openai.EmbeddingResponse, callErr error, meta Meta) (map[string]any, error) {
	data := map[string]any{
		"call_type": CallTypeEmbedding,
		"model":     string(req.Model),
	}

	input, err := toJSONValue(req.Input)
	if err != nil {
		return nil, fmt.Errorf("encode embedding input: %w", err)
	}
	data["input"] = input

	if callErr != nil {
		applyError(data, callErr)
	} else {
		response, err := toJSONValue(resp)
		if err != nil {
			return nil, fmt.Errorf("encode embedding response: %w", err)
		}
		data["response"] = response
		data["prompt_tokens"] = resp.Usage.PromptTokens
		data["total_tokens"] = resp.Usage.TotalTokens
	}

	applyMeta(data, meta)
	return wrap(data), nil
}

func applyError(data map[string]any, callErr error) {
	data["error_str"] = callErr.Error()

	var apiErr *openai.APIError
	if errors.As(callErr, &apiErr) {
		info := map[string]any{
			"error_class": fmt.Sprintf("%T", apiErr),
			"status_code": apiErr.HTTPStatusCode,
		}
		if apiErr.Type != "" {
			info["error_type"] = apiErr.Type
		}
		if apiErr.Code != nil {
			info["error_code"] = fmt.Sprint(apiErr.Code)
		}
		data["error_information"] = info
	}
}

func applyMeta(data map[string]any, meta Meta) {
	if len(meta.Metadata) > 0 {
		data["metadata"] = meta.Metadata
	}
	if len(meta.ModelMapInfo) > 0 {
		data["model_map_information"] = meta.ModelMapInfo
	}
}

func wrap(data map[string]any) map[string]any {
	return map[string]any{"standard_logging_data": data}
}

// toJSONValue round-trips v through JSON so downstream consumers see plain
// maps and slices instead of SDK struct types.
func toJSONValue(v any) (any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}
