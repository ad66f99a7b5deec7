package service

import (
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Target computes where an inbound request is forwarded to.
type Target struct {
	base    *url.URL
	baseStr string
}

// NewTarget creates a Target for the given absolute base URI.
func NewTarget(base *url.URL) *Target {
	return &Target{
		base:    base,
		baseStr: strings.TrimSuffix(base.String(), "/"),
	}
}

// Base returns a copy of the base URI.
func (t *Target) Base() *url.URL {
	u := *t.base
	return &u
}

// Resolve appends the inbound path-and-query to the base URI and re-parses
// the result. If that does not yield an absolute URI, it returns the base URI
// and false.
func (t *Target) Resolve(pathAndQuery string) (*url.URL, bool) {
	u, err := url.Parse(t.baseStr + pathAndQuery)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return t.Base(), false
	}
	return u, true
}

// HostHeader returns the Host header value for upstream requests: the host
// component of the base URI, without port. It reports false when the host
// is not a valid header value.
func (t *Target) HostHeader() (string, bool) {
	host := t.base.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if host == "" || !httpguts.ValidHostHeader(host) {
		return "", false
	}
	return host, true
}
