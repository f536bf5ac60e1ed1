package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

type httpConvertible interface {
	ToHTTPError() *httperror.HTTPError
}

type ErrorResponse struct {
	Message string         `json:"message"`
	TraceID string         `json:"trace_id"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Error renders echo errors and fern's typed errors as JSON.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := "Internal Server Error"
		meta := map[string]any{}

		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			}
		}

		var typed httpConvertible
		if errors.As(err, &typed) {
			err = typed.ToHTTPError()
		}

		if httperror.IsHTTPError(err) {
			httperr := httperror.ToHTTPError(err)
			code = httperror.GetStatusCode(err)
			message = httperr.Error()
			meta = httperr.Meta
		}

		if code >= http.StatusInternalServerError {
			logger.WithContext(ctx).WithError(err).Error("request failed")
		}

		_ = c.JSON(code, ErrorResponse{
			Message: message,
			TraceID: tracing.GetTraceID(ctx),
			Meta:    meta,
		})
	}
}
