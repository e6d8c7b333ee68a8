package gemini

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxErrorExcerpt bounds how much upstream error text is kept. The excerpt is
// forwarded to callers, so it must stay small and is treated as untrusted.
const maxErrorExcerpt = 512

// APIError is an upstream rejection: the call completed but the API answered
// with a non-2xx status.
type APIError struct {
	StatusCode int
	Status     string // upstream status token, e.g. RESOURCE_EXHAUSTED
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: upstream status %d: %s", e.StatusCode, e.Message)
}

// ParseErrorResponse maps an upstream error body to an APIError. The standard
// envelope is {"error":{"code":...,"message":...,"status":...}}; anything else
// is kept as raw text. The message is truncated to maxErrorExcerpt.
func ParseErrorResponse(statusCode int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	msg := strings.TrimSpace(string(body))
	var status string
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
		status = envelope.Error.Status
	}
	if msg == "" {
		msg = "upstream returned an error with an empty body"
	}

	return &APIError{StatusCode: statusCode, Status: status, Message: truncate(msg, maxErrorExcerpt)}
}

// truncate cuts s to at most n bytes on a rune boundary, so the excerpt stays
// valid UTF-8 inside the JSON error payload.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
