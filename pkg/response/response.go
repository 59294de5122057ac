// Package response writes the JSON envelope every endpoint answers with:
// {"status": true, "message": ..., "data": ...} on success and
// {"status": false, "message": ..., "errors": ...} on failure.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Envelope struct {
	Status  bool        `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Errors  interface{} `json:"errors,omitempty"`
}

func OK(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusOK, Envelope{Status: true, Message: message, Data: data})
}

func Created(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusCreated, Envelope{Status: true, Message: message, Data: data})
}

// Message answers 200 with no data payload.
func Message(c echo.Context, message string) error {
	return c.JSON(http.StatusOK, Envelope{Status: true, Message: message})
}

func Fail(c echo.Context, code int, message string, errs interface{}) error {
	return c.JSON(code, Envelope{Status: false, Message: message, Errors: errs})
}
