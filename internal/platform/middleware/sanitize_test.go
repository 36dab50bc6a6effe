package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthlock/healthlock/internal/platform/response"
)

func newSanitizeEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = response.ErrorHandler(zerolog.Nop())
	e.Use(Sanitize(zerolog.Nop()))
	e.GET("/*", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return e
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"clean record fetch", "/api/records/4f1c?token=eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ4In0.sig", "", http.StatusOK},
		{"dot dot", "/api/../../etc/passwd", "", http.StatusBadRequest},
		{"encoded dot dot", "/api/%2e%2e/secret", "", http.StatusBadRequest},
		{"double encoded", "/api/%252e%252e/secret", "", http.StatusBadRequest},
		{"null byte in path", "/api/records/abc%00", "", http.StatusBadRequest},
		{"null byte in query", "/api/records/abc?token=x%00y", "", http.StatusBadRequest},
		{"oversized header", "/api/health", strings.Repeat("a", maxHeaderValueSize+1), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newSanitizeEcho()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("X-Test", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusBadRequest && !strings.Contains(rec.Body.String(), "MALFORMED_REQUEST") {
				t.Errorf("body = %s, want MALFORMED_REQUEST code", rec.Body.String())
			}
		})
	}
}

func TestCheckHeaders_Injection(t *testing.T) {
	if got := checkHeaders(map[string][]string{"X-Evil": {"a\r\nSet-Cookie: x"}}); got != "header injection" {
		t.Errorf("checkHeaders = %q, want header injection", got)
	}
	if got := checkHeaders(map[string][]string{"Accept": {"application/json"}}); got != "" {
		t.Errorf("checkHeaders = %q, want empty", got)
	}
}
