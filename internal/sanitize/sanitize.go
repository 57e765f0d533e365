package sanitize

import (
	"fmt"
	"strings"
)

// Record is the sanitized working copy of one call's logging payload. It is
// built fresh per call event and discarded after the start/end payloads are
// emitted; nothing in this package retains a reference to it.
type Record struct {
	// Fields holds every top-level key that survived the exclusion pass,
	// including the redacted metadata and cleaned model map written back
	// under their original keys.
	Fields map[string]any

	// CallType names the kind of operation (completion, embedding, ...)
	// and drives the op/display name of the emitted call.
	CallType string

	// Metadata is the redacted metadata sub-mapping. Always non-nil.
	Metadata map[string]any

	// ModelMapInfo is the cleaned model capability mapping. Always non-nil.
	ModelMapInfo map[string]any

	// ErrorStr and ErrorInfo carry error detail unchanged when the source
	// call failed. Both are lifted out of Fields.
	ErrorStr  string
	ErrorInfo map[string]any

	// Response is the raw response payload, passed through unchanged.
	// Nil when the source carried no response.
	Response any

	// Redactions counts dropped keys per exclusion rule, for diagnostics
	// and metrics. It is bookkeeping only and never serialized.
	Redactions Summary
}

// MissingDataError reports that the raw payload had no usable
// standard_logging_data mapping. Sanitize never returns a partial Record
// alongside it.
type MissingDataError struct {
	Reason string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("standard_logging_data: %s", e.Reason)
}

// Summary counts dropped keys per named exclusion rule.
type Summary struct {
	counts map[string]int
}

func (s *Summary) add(rule string, count int) {
	if s == nil || count <= 0 {
		return
	}
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[rule] += count
}

// Count returns the number of keys dropped by the named rule.
func (s Summary) Count(rule string) int {
	return s.counts[rule]
}

// Total returns the number of keys dropped across all rules.
func (s Summary) Total() int {
	total := 0
	for _, count := range s.counts {
		total += count
	}
	return total
}

// Predicate is a named key-exclusion rule. Keeping the rules as data makes
// the sanitization policy independently testable and auditable instead of
// burying substring checks in the transform.
type Predicate struct {
	Name    string
	Matches func(key string) bool
}

func keyContains(substr string) func(string) bool {
	return func(key string) bool { return strings.Contains(key, substr) }
}

func keyIn(keys ...string) func(string) bool {
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return func(key string) bool {
		_, ok := set[key]
		return ok
	}
}

// FieldExclusions are applied to every top-level key of
// standard_logging_data. Matching is case-sensitive.
var FieldExclusions = []Predicate{
	// Token/usage counters are reported through the call/end summary
	// channel; carrying them in inputs would double-report usage.
	{Name: "token_usage", Matches: keyContains("token")},
	{Name: "stream_flag", Matches: keyIn("stream")},
	// Timing travels as the explicit started_at/ended_at timestamps.
	{Name: "timing", Matches: keyIn("startTime", "endTime", "completionStartTime", "response_time")},
	{Name: "hidden_params", Matches: keyIn("hidden_params")},
	// Deliberately dropped: upstream defines no handling for these.
	{Name: "cost_failure_debug", Matches: keyIn("response_cost_failure_debug_info")},
	{Name: "guardrail_info", Matches: keyIn("guardrail_information")},
}

// MetadataExclusions are applied to keys of the metadata sub-mapping.
// Keys mentioning _api_ are assumed to hold credential material.
var MetadataExclusions = []Predicate{
	{Name: "metadata_credential", Matches: keyContains("_api_")},
}

// ModelMapValueExclusions are applied to keys of the nested
// model_map_value mapping. The long tail of supports_* capability flags
// adds noise without display value.
var ModelMapValueExclusions = []Predicate{
	{Name: "model_map_support", Matches: keyContains("support")},
}

func matchesAny(predicates []Predicate, key string) (string, bool) {
	for _, p := range predicates {
		if p.Matches(key) {
			return p.Name, true
		}
	}
	return "", false
}

// Sanitize transforms one raw call-metadata mapping into a Record. It is a
// pure function: raw and its nested mappings are never mutated, and the
// same input always yields the same output. Applying it to an
// already-sanitized payload is a no-op, since every excluded key is
// already absent.
//
// raw must carry a standard_logging_data key holding a mapping; anything
// else fails with *MissingDataError. Missing optional sub-mappings
// (metadata, model_map_information) are treated as empty, never as errors.
func Sanitize(raw map[string]any) (*Record, error) {
	value, ok := raw["standard_logging_data"]
	if !ok || value == nil {
		return nil, &MissingDataError{Reason: "key is missing"}
	}
	data, ok := value.(map[string]any)
	if !ok {
		return nil, &MissingDataError{Reason: fmt.Sprintf("expected a mapping, got %T", value)}
	}

	rec := &Record{
		Fields: make(map[string]any, len(data)),
	}
	for key, fieldValue := range data {
		if rule, drop := matchesAny(FieldExclusions, key); drop {
			rec.Redactions.add(rule, 1)
			continue
		}
		rec.Fields[key] = fieldValue
	}

	if callType, ok := rec.Fields["call_type"].(string); ok {
		rec.CallType = callType
	}

	rec.Metadata = redactMetadata(asMapping(rec.Fields["metadata"]), &rec.Redactions)
	rec.Fields["metadata"] = rec.Metadata

	rec.ModelMapInfo = cleanModelMap(asMapping(rec.Fields["model_map_information"]), &rec.Redactions)
	rec.Fields["model_map_information"] = rec.ModelMapInfo

	if errorStr, ok := rec.Fields["error_str"].(string); ok {
		rec.ErrorStr = errorStr
	}
	delete(rec.Fields, "error_str")
	if errorInfo, ok := rec.Fields["error_information"].(map[string]any); ok {
		rec.ErrorInfo = errorInfo
	}
	delete(rec.Fields, "error_information")

	rec.Response = rec.Fields["response"]

	return rec, nil
}

// redactMetadata drops credential-like keys, nil-valued keys, and an empty
// applied_guardrails sequence. The result is always a fresh mapping.
func redactMetadata(metadata map[string]any, summary *Summary) map[string]any {
	redacted := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if rule, drop := matchesAny(MetadataExclusions, key); drop {
			summary.add(rule, 1)
			continue
		}
		if value == nil {
			summary.add("metadata_nil", 1)
			continue
		}
		if key == "applied_guardrails" && isEmptySequence(value) {
			summary.add("empty_guardrails", 1)
			continue
		}
		redacted[key] = value
	}
	return redacted
}

// cleanModelMap drops nil-valued top-level keys and, inside the nested
// model_map_value mapping, nil-valued keys and capability-support keys.
func cleanModelMap(info map[string]any, summary *Summary) map[string]any {
	cleaned := make(map[string]any, len(info))
	for key, value := range info {
		if value == nil {
			summary.add("model_map_nil", 1)
			continue
		}
		cleaned[key] = value
	}

	nested, ok := cleaned["model_map_value"].(map[string]any)
	if !ok {
		return cleaned
	}
	cleanedNested := make(map[string]any, len(nested))
	for key, value := range nested {
		if value == nil {
			summary.add("model_map_nil", 1)
			continue
		}
		if rule, drop := matchesAny(ModelMapValueExclusions, key); drop {
			summary.add(rule, 1)
			continue
		}
		cleanedNested[key] = value
	}
	cleaned["model_map_value"] = cleanedNested
	return cleaned
}

func asMapping(value any) map[string]any {
	mapping, ok := value.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return mapping
}

func isEmptySequence(value any) bool {
	switch seq := value.(type) {
	case []any:
		return len(seq) == 0
	case []string:
		return len(seq) == 0
	}
	return false
}
