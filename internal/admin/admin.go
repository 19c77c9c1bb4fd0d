// Package admin serves the operational endpoints: health, status and metrics.
package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wirepass/internal/config"
	"wirepass/internal/metrics"
)

// Version is a string type for dependency injection of the build version.
type Version string

// Handler serves the admin endpoints.
type Handler struct {
	cfg     *config.Config
	version Version
}

// NewHandler creates a Handler.
func NewHandler(cfg *config.Config, v Version) *Handler {
	return &Handler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": string(h.version),
		"target":  h.cfg.Proxy.Target,
		"forward": h.cfg.Proxy.Forward,
	})
}

// RegisterRoutes wires the admin handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, h *Handler, m *metrics.Metrics, cfg *config.Config) {
	e.GET("/healthz", h.Healthz)
	e.GET("/status", h.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}
}
