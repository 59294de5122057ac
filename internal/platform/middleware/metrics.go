package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/heartflow/clinic/internal/platform/telemetry"
)

// Metrics records each request's route, status and latency in reg.
func Metrics(reg *telemetry.Registry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			done := reg.Begin(c.Request().Method)

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = errorStatus(err)
			}
			done(c.Path(), status)
			return err
		}
	}
}
