package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestIncompleteReport_IsInvalidTransition(t *testing.T) {
	err := IncompleteReport([]string{"assessment", "plan"})
	if !errors.Is(err, ErrIncompleteReport) {
		t.Error("expected ErrIncompleteReport")
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("expected incomplete report to also be an invalid transition")
	}
	missing, _ := err.Details["missing_sections"].([]string)
	if len(missing) != 2 {
		t.Errorf("expected missing sections in details, got %v", err.Details)
	}
}

func TestGenerationFailed_KeepsCause(t *testing.T) {
	cause := errors.New("upstream 502")
	err := GenerationFailed(cause)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Error("expected ErrGenerationFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	if err.Message != GenerationUnavailableMessage {
		t.Errorf("unexpected message %q", err.Message)
	}
}

func TestToHTTP(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("report", "x"), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", ErrNotFound), http.StatusNotFound},
		{"validation", Validation("bad %s", "input"), http.StatusBadRequest},
		{"generation", GenerationFailed(errors.New("timeout")), http.StatusServiceUnavailable},
		{"transition", InvalidTransition("completed", "start", "report is completed"), http.StatusConflict},
		{"incomplete", IncompleteReport([]string{"plan"}), http.StatusConflict},
		{"conflict", ConflictRetryExceeded(3, errors.New("40001")), http.StatusConflict},
		{"forbidden", Forbidden("nope"), http.StatusForbidden},
		{"echo passthrough", echo.NewHTTPError(http.StatusTeapot, "tea"), http.StatusTeapot},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := ToHTTP(tt.err)
			if he.Code != tt.want {
				t.Errorf("ToHTTP(%v) = %d, want %d", tt.err, he.Code, tt.want)
			}
		})
	}
}

func TestToHTTP_UnknownDoesNotLeak(t *testing.T) {
	he := ToHTTP(errors.New("password=hunter2"))
	if msg, _ := he.Message.(string); msg != "internal server error" {
		t.Errorf("expected generic message, got %v", he.Message)
	}
}
