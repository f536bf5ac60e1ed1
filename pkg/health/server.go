package health

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/pkg/middleware"
)

// NewServer builds the operational HTTP surface: health probes and /metrics.
func NewServer(serviceName string, checker *Checker, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
