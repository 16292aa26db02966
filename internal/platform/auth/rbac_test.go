package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		has      []string
		required []string
		want     int
	}{
		{"exact", []string{RoleClinician}, []string{RoleClinician}, http.StatusOK},
		{"one of", []string{RoleClinician}, []string{RoleAdmin, RoleClinician}, http.StatusOK},
		{"admin implies all", []string{RoleAdmin}, []string{RoleClinician}, http.StatusOK},
		{"missing", []string{RoleClinician}, []string{RoleAdmin}, http.StatusForbidden},
		{"no roles", nil, []string{RoleClinician}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, tt.has))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole(tt.required...)(func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})(c)

			code := rec.Code
			if he, ok := err.(*echo.HTTPError); ok {
				code = he.Code
			}
			if code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	for _, p := range []string{"/health", "/metrics"} {
		if !IsPublicPath(p) {
			t.Errorf("expected %s to be public", p)
		}
	}
	if IsPublicPath("/api/v1/reports") {
		t.Error("reports must require auth")
	}
}
