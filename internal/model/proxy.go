// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents an inbound GET request to be forwarded upstream.
type ProxyRequest struct {
	Ctx          context.Context
	Path         string // escaped path, used for injection eligibility
	PathAndQuery string // escaped path plus "?query" when present
	Host         string // inbound Host, kept when the upstream host is unusable
	Header       http.Header
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Injected   bool // Body is a transformer rather than the raw upstream body
}
