package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/prn-tf/cipherproxy/internal/traversal"
)

// upstreamURL resolves an inbound request's path (after stripping the
// routing prefix) against the configured upstream base, guarding against
// traversal per SPEC_FULL.md §4.8. It returns nil, nil if the resolved URL
// escaped the base — the caller responds 404 without touching the backend.
func (s *Server) upstreamURL(r *http.Request, prefix string) (*url.URL, error) {
	base, err := url.Parse(s.cfg.UpstreamBaseURL)
	if err != nil {
		return nil, err
	}

	name := strings.TrimPrefix(r.URL.Path, prefix)
	resolved, err := traversal.Resolve(base, name)
	if err != nil {
		if err == traversal.ErrEscapesBase {
			return nil, nil
		}
		return nil, err
	}

	if r.URL.RawQuery != "" {
		resolved.RawQuery = r.URL.RawQuery
	}
	return resolved, nil
}
