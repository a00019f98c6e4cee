package api

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

const maxSanitizedStringLen = 6_000

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// Order matters: card numbers before the generic long-number rule.
var redactions = []redaction{
	{regexp.MustCompile(`(?i)\b[\w.+-]+@[\w.-]+\.[a-z]{2,}\b`), "<email>"},
	{regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/=-]{8,}\b`), "<token>"},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{24,}\b`), "<token>"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`), "<card-number>"},
	{regexp.MustCompile(`\b\d{12,19}\b`), "<long-number>"},
}

var sensitiveKeyParts = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"authorization",
	"cookie",
	"api_key",
	"apikey",
	"receipt",
	"email",
}

// sanitizeEventPayload masks personal data inside an arbitrary JSON document.
func sanitizeEventPayload(raw json.RawMessage) (json.RawMessage, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return nil, err
	}
	return json.Marshal(sanitizeEventValue(payload, ""))
}

func sanitizeEventValue(value any, key string) any {
	switch typed := value.(type) {
	case map[string]any:
		sanitized := make(map[string]any, len(typed))
		for childKey, childValue := range typed {
			sanitized[childKey] = sanitizeEventValue(childValue, childKey)
		}
		return sanitized
	case []any:
		sanitized := make([]any, 0, len(typed))
		for _, childValue := range typed {
			sanitized = append(sanitized, sanitizeEventValue(childValue, key))
		}
		return sanitized
	case string:
		return sanitizeEventString(typed, key)
	default:
		return value
	}
}

func sanitizeEventString(value string, key string) string {
	if isSensitiveKey(key) {
		return "<redacted>"
	}

	redacted := value
	for _, r := range redactions {
		redacted = r.pattern.ReplaceAllString(redacted, r.replacement)
	}
	if len(redacted) > maxSanitizedStringLen {
		return redacted[:maxSanitizedStringLen]
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(normalized, part) {
			return true
		}
	}
	return false
}
