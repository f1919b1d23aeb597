// ABOUTME: Outer error taxonomy for the tool surface and its JSON envelope
// ABOUTME: Every error response is no-store and shaped {"error":{"code","message",...}}

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/toolbridge/internal/oauth"
)

// Outer error codes. Inner procedure codes are never surfaced.
const (
	CodeMissingParameter  = "missing_parameter"
	CodeInvalidJSON       = "invalid_json"
	CodeInvalidCursor     = "invalid_cursor"
	CodeToolNotFound      = "tool_not_found"
	CodeExecutionError    = "execution_error"
	CodeInvalidToken      = oauth.CodeInvalidToken
	CodeInsufficientScope = oauth.CodeInsufficientScope
	CodeUnauthenticated   = oauth.CodeUnauthenticated
)

// Error is a failure the controller reports to callers.
type Error struct {
	Status  int
	Code    string
	Message string

	// Challenge is sent as WWW-Authenticate when set.
	Challenge string

	RequiredScopes []string
	MissingScopes  []string
	CurrentScopes  []string

	Err error
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func missingParameter(name string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    CodeMissingParameter,
		Message: `Required parameter "` + name + `" is missing or invalid`,
	}
}

func toolNotFound(name string) *Error {
	return &Error{
		Status:  http.StatusNotFound,
		Code:    CodeToolNotFound,
		Message: "Tool '" + name + "' not found or access denied",
	}
}

func invalidJSON() *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    CodeInvalidJSON,
		Message: "Request body must be valid JSON",
	}
}

func executionError(message string, err error) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    CodeExecutionError,
		Message: message,
		Err:     err,
	}
}

// errorFromDecision converts a gate denial.
func errorFromDecision(d oauth.Decision) *Error {
	return &Error{
		Status:         d.Status,
		Code:           d.Code,
		Message:        d.Message,
		Challenge:      d.Challenge,
		RequiredScopes: d.RequiredScopes,
		MissingScopes:  d.MissingScopes,
		CurrentScopes:  d.CurrentScopes,
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	*scopeDetail
}

type scopeDetail struct {
	RequiredScopes []string `json:"requiredScopes"`
	MissingScopes  []string `json:"missingScopes"`
	CurrentScopes  []string `json:"currentScopes"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// asError maps any error to an *Error, defaulting to a 500 execution error.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return executionError("Tool execution failed: "+err.Error(), err)
}

// writeError writes the JSON error envelope.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	e := asError(err)
	detail := errorDetail{Code: e.Code, Message: e.Message}
	if e.Code == CodeInsufficientScope {
		detail.scopeDetail = &scopeDetail{
			RequiredScopes: nonNil(e.RequiredScopes),
			MissingScopes:  nonNil(e.MissingScopes),
			CurrentScopes:  nonNil(e.CurrentScopes),
		}
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	if e.Challenge != "" {
		h.Set("WWW-Authenticate", e.Challenge)
	}
	w.WriteHeader(e.Status)
	if err := json.NewEncoder(w).Encode(errorBody{Error: detail}); err != nil {
		logger.Warn("failed to encode error response", "error", err)
	}
}

// writeJSON writes a 200 JSON response.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}
