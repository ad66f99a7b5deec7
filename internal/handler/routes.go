package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roller-proxy/internal/config"
	"roller-proxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Every path
// is proxied; admin endpoints shadow only their own exact paths when enabled.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	if cfg.Admin.Enabled {
		admin := e.Group(cfg.Admin.Prefix)
		admin.GET("/healthz", health.Healthz)
		admin.GET("/status", health.Status)
		if m != nil {
			admin.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
		}
	}

	e.Any("/*", proxy.Handle)
}

// HTTPErrorHandler answers router-level 405s with an empty body, like the
// proxy handler does, and defers everything else to Echo's default handler.
func HTTPErrorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusMethodNotAllowed {
			if !c.Response().Committed {
				c.Response().Header().Del(echo.HeaderAllow)
				_ = c.NoContent(http.StatusMethodNotAllowed)
			}
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}
