package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/heartflow/clinic/pkg/response"
)

// RequestTimeout bounds each request's context. A handler still running at
// the deadline is abandoned and the client gets a 504 envelope, unless the
// handler already started writing. WebSocket upgrades are exempt since the
// connection outlives the request.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(req.Context(), timeout)
			defer cancel()
			c.SetRequest(req.WithContext(ctx))

			done := make(chan error, 1)
			go func() { done <- next(c) }()

			var err error
			select {
			case err = <-done:
				if err == nil || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return err
				}
			case <-ctx.Done():
				if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
					// Client went away.
					return ctx.Err()
				}
			}
			if c.Response().Committed {
				return err
			}
			return response.Fail(c, http.StatusGatewayTimeout, "request timed out", nil)
		}
	}
}
