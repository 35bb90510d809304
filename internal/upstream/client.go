// Package upstream provides the shared HTTP client used to reach the
// object-storage backend, per SPEC_FULL.md's upstream-client component:
// connect/response timeouts, keep-alive disabled per-hop.
package upstream

import (
	"net"
	"net/http"
	"time"
)

// ResponseTimeout bounds the total time allowed for an upstream round trip,
// matching the 30s constant the original implementation hardcodes.
const ResponseTimeout = 30 * time.Second

// Client wraps *http.Client with the proxy's fixed timeout and connection
// policy. A single instance is shared across all request handlers.
type Client struct {
	http *http.Client
}

// New returns a Client whose dialer times out after connectTimeout and whose
// overall round trip times out after ResponseTimeout.
func New(connectTimeout time.Duration) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		DisableKeepAlives: true,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   ResponseTimeout,
		},
	}
}

// Do executes req, which must already carry a context via
// req.WithContext(ctx) if cancellation is required.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}
