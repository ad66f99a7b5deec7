package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"roller-proxy/internal/client"
	"roller-proxy/internal/config"
	"roller-proxy/internal/inject"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg      *config.Config
	inj      *inject.Injection
	upstream *client.UpstreamClient
	version  Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, inj *inject.Injection, upstream *client.UpstreamClient, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, inj: inj, upstream: upstream, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	BaseURI        string `json:"base_uri"`
	Marker         string `json:"marker"`
	InjectPaths    int    `json:"inject_paths"`
	PayloadBytes   int    `json:"payload_bytes"`
	CircuitBreaker string `json:"circuit_breaker"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := StatusResponse{
		Status:         "ok",
		Version:        string(h.version),
		BaseURI:        h.cfg.BaseURI,
		Marker:         h.cfg.Inject.Marker,
		CircuitBreaker: "disabled",
	}
	if h.inj != nil {
		resp.InjectPaths = h.inj.Paths.Len()
		resp.PayloadBytes = len(h.inj.Payload)
	}
	if h.upstream != nil {
		resp.CircuitBreaker = h.upstream.BreakerState()
	}
	return c.JSON(http.StatusOK, resp)
}
