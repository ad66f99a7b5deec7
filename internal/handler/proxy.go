package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"

	"github.com/labstack/echo/v4"
	"github.com/sony/gobreaker"

	"roller-proxy/internal/metrics"
	"roller-proxy/internal/middleware"
	"roller-proxy/internal/model"
	"roller-proxy/internal/service"
)

// userinfoPattern matches passwords in URLs embedded in error messages.
var userinfoPattern = regexp.MustCompile(`(://[^:/@\s"]+:)[^@/\s"]+@`)

// Upstream failure reasons, used as log attributes and metric labels.
const (
	reasonCircuitOpen = "circuit_open"
	reasonTimeout     = "timeout"
	reasonCanceled    = "canceled"
	reasonDNS         = "dns"
	reasonConnection  = "connection"
	reasonOther       = "other"
)

// ProxyHandler forwards GET requests to the upstream origin.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter may be nil.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Handle proxies GET requests and streams the response back. Any other
// method gets 405 with an empty body and the upstream is never contacted.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	if req.Method != http.MethodGet {
		return c.NoContent(http.StatusMethodNotAllowed)
	}

	pr := &model.ProxyRequest{
		Ctx:          req.Context(),
		Path:         escapedPath(req.URL),
		PathAndQuery: pathAndQuery(req.URL),
		Host:         req.Host,
		Header:       req.Header,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.Set(middleware.InjectedKey, resp.Injected)

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Headers are already sent, so a failure here can only truncate the
	// response. Log it and let the connection close.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitizeError(err),
			"path", req.URL.Path,
			"injected", resp.Injected,
		)
	}

	return nil
}

// mapError answers an upstream failure with 502 and an empty body.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	reason := classifyError(err)

	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"reason", reason,
		"path", c.Request().URL.Path,
	)
	if h.metrics != nil {
		h.metrics.UpstreamFailures.WithLabelValues(reason).Inc()
	}

	return c.NoContent(http.StatusBadGateway)
}

// classifyError names the kind of upstream failure.
func classifyError(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return reasonCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return reasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return reasonCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return reasonDNS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return reasonTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return reasonConnection
	}

	return reasonOther
}

// escapedPath returns the request path as sent, defaulting to "/".
func escapedPath(u *url.URL) string {
	if p := u.EscapedPath(); p != "" {
		return p
	}
	return "/"
}

// pathAndQuery returns the escaped path plus the raw query, if any.
func pathAndQuery(u *url.URL) string {
	p := escapedPath(u)
	if u.ForceQuery || u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

// sanitizeError redacts URL passwords from error messages that may contain
// upstream URLs.
func sanitizeError(err error) string {
	return userinfoPattern.ReplaceAllString(err.Error(), "${1}xxxxx@")
}
