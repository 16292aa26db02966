// Package apperr defines the typed failures surfaced by the report services
// and their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation error")
	ErrForbidden             = errors.New("forbidden")
	ErrGenerationFailed      = errors.New("generation failed")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrIncompleteReport      = fmt.Errorf("incomplete report: %w", ErrInvalidTransition)
	ErrConflictRetryExceeded = errors.New("conflict retry exceeded")
)

// GenerationUnavailableMessage is what clinicians see when a narrative
// section cannot be produced.
const GenerationUnavailableMessage = "content unavailable, please retry or enter manually"

// Error carries a machine-readable code and optional details alongside the
// wrapped sentinel.
type Error struct {
	Err        error          `json:"-"`
	Message    string         `json:"message"`
	Code       string         `json:"code"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *Error {
	return &Error{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"resource": resource, "id": id},
	}
}

func Validation(format string, args ...any) *Error {
	return &Error{
		Err:        ErrValidation,
		Message:    fmt.Sprintf(format, args...),
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
	}
}

func Forbidden(message string) *Error {
	return &Error{
		Err:        ErrForbidden,
		Message:    message,
		Code:       "FORBIDDEN",
		HTTPStatus: http.StatusForbidden,
	}
}

// GenerationFailed wraps a content generator failure (timeout or upstream
// error). The cause stays reachable through errors.Is.
func GenerationFailed(cause error) *Error {
	return &Error{
		Err:        errors.Join(ErrGenerationFailed, cause),
		Message:    GenerationUnavailableMessage,
		Code:       "GENERATION_FAILED",
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// InvalidTransition names the violated precondition.
func InvalidTransition(from, action, reason string) *Error {
	return &Error{
		Err:        ErrInvalidTransition,
		Message:    fmt.Sprintf("cannot %s report in status %s: %s", action, from, reason),
		Code:       "INVALID_TRANSITION",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"status": from, "action": action, "reason": reason},
	}
}

// IncompleteReport lists the mandatory sections that are still empty.
func IncompleteReport(missing []string) *Error {
	return &Error{
		Err:        ErrIncompleteReport,
		Message:    fmt.Sprintf("mandatory sections are empty: %v", missing),
		Code:       "INCOMPLETE_REPORT",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"missing_sections": missing},
	}
}

func ConflictRetryExceeded(attempts int, cause error) *Error {
	return &Error{
		Err:        errors.Join(ErrConflictRetryExceeded, cause),
		Message:    fmt.Sprintf("concurrent update conflict persisted after %d attempts", attempts),
		Code:       "CONFLICT_RETRY_EXCEEDED",
		HTTPStatus: http.StatusConflict,
	}
}

// ToHTTP converts any error into an echo HTTP error. Unknown errors become a
// 500 without leaking their text.
func ToHTTP(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	var ae *Error
	if errors.As(err, &ae) {
		body := map[string]any{"error": ae.Message, "code": ae.Code}
		if len(ae.Details) > 0 {
			body["details"] = ae.Details
		}
		return echo.NewHTTPError(ae.HTTPStatus, body)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrGenerationFailed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, GenerationUnavailableMessage)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflictRetryExceeded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
