package server

import (
	"io"
	"net/http"
	"time"
)

// simpleProxyRequestHeadersToRemove strips Range (meaningless without the
// decrypt step fetch.go applies) and Connection.
var simpleProxyRequestHeadersToRemove = []string{"Connection", "Range"}

var simpleProxyResponseHeadersToRemove = map[string]struct{}{
	"Connection": {},
}

// handleSimpleProxy implements every other method against /upstream/<name>
// (HEAD, DELETE, POST, OPTIONS, ...): a transparent pass-through with no
// body transform, per SPEC_FULL.md §4.9's simple_proxy state machine.
func (s *Server) handleSimpleProxy(w http.ResponseWriter, r *http.Request) {
	target, err := s.upstreamURL(r, "/upstream/")
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to resolve upstream URL")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if target == nil {
		http.NotFound(w, r)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build upstream request")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	req.ContentLength = r.ContentLength
	copyRequestHeaders(req.Header, r.Header, simpleProxyRequestHeadersToRemove)

	if s.signer != nil {
		req.URL.Host = target.Host
		if err := s.signer.Sign(r.Context(), req); err != nil {
			s.logger.Error().Err(err).Msg("failed to sign outbound request")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		s.recordUpstream(r.Method, "error", duration)
		s.logger.Error().Err(err).Str("url", target.String()).Msg("simple proxy upstream request failed")
		if r.Context().Err() != nil {
			http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
		} else {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}
		return
	}
	defer resp.Body.Close()

	s.recordUpstream(r.Method, http.StatusText(resp.StatusCode), duration)

	copyNonHopHeaders(w.Header(), resp.Header, simpleProxyResponseHeadersToRemove)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
