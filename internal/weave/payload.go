package weave

import (
	"encoding/json"

	"github.com/weaveship/weaveship/internal/sanitize"
)

// OpNamePrefix namespaces every forwarded operation so calls from this
// adapter are distinguishable in the Weave UI from natively traced code.
const OpNamePrefix = "litellm."

const unknownCallType = "unknown"

// CallStart is the body of a call/start ingestion event.
type CallStart struct {
	ProjectID   string         `json:"project_id"`
	ID          string         `json:"id"`
	OpName      string         `json:"op_name"`
	DisplayName string         `json:"display_name,omitempty"`
	StartedAt   string         `json:"started_at"`
	Attributes  map[string]any `json:"attributes"`
	Inputs      map[string]any `json:"inputs"`
}

// StartPayload is the wire shape POSTed to /call/start.
type StartPayload struct {
	Start CallStart `json:"start"`
}

// CallEnd is the body of a call/end ingestion event. ID must match the ID
// of a previously started call so the backend can close it.
type CallEnd struct {
	ProjectID string         `json:"project_id"`
	ID        string         `json:"id"`
	EndedAt   string         `json:"ended_at"`
	Output    any            `json:"output,omitempty"`
	Exception string         `json:"exception,omitempty"`
	Summary   map[string]any `json:"summary"`
}

// EndPayload is the wire shape POSTed to /call/end.
type EndPayload struct {
	End CallEnd `json:"end"`
}

// BuildStart derives the call/start payload from a sanitized record.
// Inputs carry every surviving field except the call type (already encoded
// in the op name) and the response (reported at call end). Deterministic,
// no side effects.
func BuildStart(rec *sanitize.Record, projectID, callID, startedAt string) StartPayload {
	inputs := make(map[string]any, len(rec.Fields))
	for key, value := range rec.Fields {
		if key == "call_type" || key == "response" {
			continue
		}
		inputs[key] = value
	}

	opName := OpNamePrefix + callType(rec)
	return StartPayload{
		Start: CallStart{
			ProjectID:   projectID,
			ID:          callID,
			OpName:      opName,
			DisplayName: opName,
			StartedAt:   startedAt,
			Attributes:  map[string]any{},
			Inputs:      inputs,
		},
	}
}

// BuildEnd derives the call/end payload. Output carries the raw response
// when one is present; Exception carries the error string, falling back to
// the structured error detail when no string was recorded. Both may be set
// for calls that produced a partial response before failing. Summary is
// always present so the backend can attach usage aggregates.
func BuildEnd(rec *sanitize.Record, projectID, callID, endedAt string) EndPayload {
	end := CallEnd{
		ProjectID: projectID,
		ID:        callID,
		EndedAt:   endedAt,
		Summary:   map[string]any{},
	}
	if rec.Response != nil {
		end.Output = rec.Response
	}
	end.Exception = exceptionDetail(rec)
	return EndPayload{End: end}
}

func callType(rec *sanitize.Record) string {
	if rec.CallType == "" {
		return unknownCallType
	}
	return rec.CallType
}

func exceptionDetail(rec *sanitize.Record) string {
	if rec.ErrorStr != "" {
		return rec.ErrorStr
	}
	if len(rec.ErrorInfo) == 0 {
		return ""
	}
	detail, err := json.Marshal(rec.ErrorInfo)
	if err != nil {
		return ""
	}
	return string(detail)
}
