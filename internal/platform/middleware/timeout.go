package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthlock/healthlock/internal/platform/apperr"
)

// RequestTimeout puts a deadline on the request context. Storage calls made
// with that context abort when it passes, and the resulting error is reported
// as a 504.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && !apperr.IsKind(err, apperr.KindTimeout) {
				return apperr.Wrap(apperr.KindTimeout, "Request processing exceeded the allowed time limit", err)
			}
			return err
		}
	}
}
