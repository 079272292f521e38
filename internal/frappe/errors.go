// Package frappe provides a typed HTTP client for the Frappe/ERPNext
// document API with error classification, canonical content hashing,
// and automatic retry on optimistic-concurrency collisions.
package frappe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for API error classification.
// Use errors.Is(err, frappe.ErrNotFound) to check.
var (
	ErrUnauthorized      = errors.New("frappe: unauthorized")
	ErrNotFound          = errors.New("frappe: not found")
	ErrValidation        = errors.New("frappe: validation failed")
	ErrTimestampMismatch = errors.New("frappe: timestamp mismatch")
	ErrRemote            = errors.New("frappe: server error")
)

// timestampSentinels are the substrings Frappe embeds in the error message
// of an optimistic-concurrency rejection. Matched case-insensitively.
var timestampSentinels = []string{
	"timestamp mismatch",
	"document has been modified",
	"has been modified after you have opened it",
}

// APIError wraps a sentinel error with the HTTP status code and the
// human-readable message extracted from the Frappe error body.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("frappe: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// errorBody is the subset of a Frappe error response we care about.
// _server_messages carries the user-facing text on validation and
// concurrency failures; message is the fallback on older deployments.
type errorBody struct {
	ServerMessages string `json:"_server_messages"`
	Message        string `json:"message"`
	Exception      string `json:"exception"`
}

// extractMessage pulls the most useful human-readable message out of a
// Frappe error response body, falling back to the raw body text.
func extractMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case eb.ServerMessages != "":
			return eb.ServerMessages
		case eb.Message != "":
			return eb.Message
		case eb.Exception != "":
			return eb.Exception
		}
	}

	return string(body)
}

// isTimestampMismatch reports whether the given error message matches one of
// the known concurrency-rejection sentinels.
func isTimestampMismatch(message string) bool {
	lower := strings.ToLower(message)
	for _, s := range timestampSentinels {
		if strings.Contains(lower, s) {
			return true
		}
	}

	return false
}

// classifyStatus maps an HTTP status code and error message to a sentinel.
// A timestamp-mismatch message takes precedence over the generic 4xx class
// because Frappe reports concurrency collisions as 409 or 417 depending on
// version.
func classifyStatus(code int, message string) error {
	if isTimestampMismatch(message) {
		return ErrTimestampMismatch
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= http.StatusInternalServerError:
		return ErrRemote
	case code >= http.StatusBadRequest:
		return ErrValidation
	default:
		return ErrRemote
	}
}
