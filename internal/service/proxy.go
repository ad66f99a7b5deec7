// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"roller-proxy/internal/client"
	"roller-proxy/internal/config"
	"roller-proxy/internal/inject"
	"roller-proxy/internal/metrics"
	"roller-proxy/internal/model"
)

// hopByHopHeaders are response headers that describe the upstream connection
// and must not be copied onto the downstream response.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyService holds everything a request needs to be forwarded: the upstream
// target, the client, and the injection descriptor. It is built once at
// startup and shared read-only by all requests.
type ProxyService struct {
	client  *client.UpstreamClient
	target  *Target
	inj     *inject.Injection
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	host   string // upstream Host header value
	hostOK bool
}

// NewProxyService creates a ProxyService. The metrics parameter may be nil.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, inj *inject.Injection, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	u, err := url.Parse(cfg.BaseURI)
	if err != nil {
		return nil, fmt.Errorf("parse base_uri: %w", err)
	}

	target := NewTarget(u)
	host, ok := target.HostHeader()

	s := &ProxyService{
		client:  c,
		target:  target,
		inj:     inj,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		metrics: m,
		host:    host,
		hostOK:  ok,
	}
	if !ok {
		s.logger.Warn("upstream host is not a valid Host header; inbound Host will be forwarded",
			"base_uri", u.Redacted(),
		)
	}
	return s, nil
}

// Injection returns the shared injection descriptor.
func (s *ProxyService) Injection() *inject.Injection {
	return s.inj
}

// Forward sends a GET request upstream and returns the response. For paths
// eligible for injection the body is wrapped in an inject.Transformer.
// The caller is responsible for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	upstreamURL := s.resolveURL(pr.PathAndQuery)

	req, err := http.NewRequestWithContext(pr.Ctx, http.MethodGet, upstreamURL.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = s.forwardHeaders(pr.Header)
	req.Host = s.resolveHost(pr.Host)

	// Eligibility depends on the inbound path, not the rewritten one.
	eligible := s.inj.Paths.Eligible(pr.Path)

	s.logger.Debug("forwarding request",
		"path", pr.Path,
		"upstream", upstreamURL.Redacted(),
		"inject", eligible,
	)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	removeHopByHop(resp.Header)

	if eligible {
		// The length changes once the payload is spliced in.
		resp.Header.Del("Content-Length")
		resp.Body = inject.NewTransformer(resp.Body, s.inj,
			inject.WithContext(pr.Ctx),
			inject.WithLogger(s.logger.With("path", pr.Path)),
			inject.WithMetrics(s.metrics),
			inject.WithMaxBodyBytes(s.cfg.Upstream.MaxBodyBytes),
		)
		resp.Injected = true
	}

	return resp, nil
}

// resolveURL rewrites the request URI onto the upstream base URI.
func (s *ProxyService) resolveURL(pathAndQuery string) *url.URL {
	u, ok := s.target.Resolve(pathAndQuery)
	if !ok {
		s.logger.Warn("could not rewrite request URI; forwarding to base URI",
			"path_and_query", pathAndQuery,
		)
		s.recordFallback(metrics.FallbackURIRewrite)
	}
	return u
}

// resolveHost picks the upstream Host header, keeping the inbound one when
// the base URI's host cannot be used.
func (s *ProxyService) resolveHost(inbound string) string {
	if s.hostOK {
		return s.host
	}
	s.recordFallback(metrics.FallbackHostHeader)
	return inbound
}

func (s *ProxyService) recordFallback(kind string) {
	if s.metrics != nil {
		s.metrics.FallbacksTotal.WithLabelValues(kind).Inc()
	}
}

// forwardHeaders copies the inbound headers for the upstream request.
// Accept-Encoding is always dropped so the upstream answers uncompressed.
func (s *ProxyService) forwardHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	dst.Del("Accept-Encoding")
	dst.Del("Host")
	return dst
}

func removeHopByHop(h http.Header) {
	for _, key := range hopByHopHeaders {
		h.Del(key)
	}
}
