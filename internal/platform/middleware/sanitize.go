package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthlock/healthlock/internal/platform/apperr"
)

const maxHeaderValueSize = 8192

// Sanitize rejects requests carrying path traversal, null bytes or header
// injection before they reach a handler. Record ids and tokens arrive in the
// path and query string, so both are checked.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rawPath := req.URL.RawPath
			if rawPath == "" {
				rawPath = req.URL.Path
			}

			reason := ""
			switch {
			case containsPathTraversal(req.URL.Path) || containsPathTraversal(rawPath):
				reason = "path traversal"
			case containsNullByte(req.URL.Path) || containsNullByte(rawPath):
				reason = "null byte in path"
			default:
				reason = checkHeaders(req.Header)
			}
			if reason == "" {
				for key, values := range req.URL.Query() {
					for _, v := range values {
						if containsNullByte(key) || containsNullByte(v) {
							reason = "null byte in query"
						}
					}
				}
			}

			if reason != "" {
				logger.Warn().
					Str("reason", reason).
					Str("path", req.URL.Path).
					Str("remote_ip", c.RealIP()).
					Msg("request rejected by sanitizer")
				return apperr.WithCode(apperr.KindValidation, "MALFORMED_REQUEST", "Malformed request")
			}
			return next(c)
		}
	}
}

func checkHeaders(h map[string][]string) string {
	for _, values := range h {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "oversized header"
			}
			if strings.ContainsAny(v, "\r\n") {
				return "header injection"
			}
		}
	}
	return ""
}

// containsPathTraversal checks raw and percent-encoded forms.
func containsPathTraversal(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(s, "..") || strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}
