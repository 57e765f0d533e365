package observability

import (
	"regexp"
	"strings"
)

const credentialRedacted = "[CREDENTIAL_REDACTED]"

// credentialPatterns detects common credential formats that must never
// appear in log lines or telemetry span attributes. The forwarder handles
// gateway API keys and a W&B API key on every request, so transport errors
// are scrubbed with these before they are logged.
var credentialPatterns = []*regexp.Regexp{
	// API key prefixes: sk_, pk_, rk_, xox*_, ghp/gho/ghu/ghs/ghr_, pat_
	regexp.MustCompile(`(?i)\b(?:sk|pk|rk|xox[baprs]|gh[pousr]|pat)[_-][a-z0-9_-]{8,}\b`),
	// JWT-like tokens (three base64url segments separated by dots)
	regexp.MustCompile(`(?i)eyj[a-z0-9_-]{8,}\.[a-z0-9_-]{8,}\.[a-z0-9_-]{8,}`),
	// Authorization header values, including the basic auth scheme the
	// trace endpoint uses.
	regexp.MustCompile(`(?i)\bBearer\s+[a-z0-9_.\-/+=]{8,}\b`),
	regexp.MustCompile(`(?i)\bBasic\s+[a-z0-9+/=]{8,}`),
	// Connection-string style secrets: password=..., secret=..., token=...,
	// api_key=...
	regexp.MustCompile(`(?i)\b(?:password|secret|token|api_key)\s*=\s*\S{4,}`),
}

// ContainsCredential reports whether s matches any known credential
// pattern. Short strings are skipped as a fast path since no pattern can
// match a string under 8 characters.
func ContainsCredential(s string) bool {
	if len(s) < 8 {
		return false
	}
	for _, p := range credentialPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// ScrubCredentials replaces all detected credential patterns in s with
// [CREDENTIAL_REDACTED]. If no patterns match, s is returned unchanged
// with no allocation.
func ScrubCredentials(s string) string {
	if len(s) < 8 {
		return s
	}
	result := s
	changed := false
	for _, p := range credentialPatterns {
		if p.MatchString(result) {
			result = p.ReplaceAllString(result, credentialRedacted)
			changed = true
		}
	}
	if !changed {
		return s
	}
	return strings.TrimSpace(result)
}

// ScrubError is a convenience for logging transport failures: it returns
// the scrubbed error text, or "" for a nil error.
func ScrubError(err error) string {
	if err == nil {
		return ""
	}
	return ScrubCredentials(err.Error())
}
