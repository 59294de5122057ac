package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/heartflow/clinic/pkg/response"
)

// HTTPErrorHandler renders every error returned by a handler as the failure
// envelope. Internal causes are logged, never echoed back.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := "internal server error"
		var details interface{}

		var he *echo.HTTPError
		if ae, ok := As(err); ok {
			code = ae.Status()
			message = ae.Message
			switch {
			case ae.Details != nil:
				details = ae.Details
			case len(ae.Fields) > 0:
				details = ae.Fields
			}
			if ae.Kind == KindInternal {
				logError(logger, c, err)
			}
		} else if errors.As(err, &he) {
			code = he.Code
			message = fmt.Sprint(he.Message)
			if code >= http.StatusInternalServerError {
				logError(logger, c, err)
			}
		} else {
			logError(logger, c, err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = response.Fail(c, code, message, details)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

func logError(logger zerolog.Logger, c echo.Context, err error) {
	rid, _ := c.Get("request_id").(string)
	logger.Error().
		Err(err).
		Str("request_id", rid).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Msg("request failed")
}
