package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prn-tf/cipherproxy/internal/buffer"
	"github.com/prn-tf/cipherproxy/internal/cipher"
)

// forwardRequestHeadersToRemove are stripped from the outbound request:
// connection settings must not be resent, encryption changes the body
// length so any client-supplied Content-Length is stale, the backend's own
// ETag no longer matches the re-encrypted bytes, and awc/net-http clients
// alike mishandle a forwarded Expect header.
var forwardRequestHeadersToRemove = []string{"Connection", "Content-Length", "Etag", "Expect"}

// forwardResponseHeadersToRemove are stripped from the backend's response
// before relaying it to the client.
var forwardResponseHeadersToRemove = map[string]struct{}{
	"Connection": {},
}

// handleForward implements PUT /upstream/<name>: encrypts the request body
// and forwards it to the upstream backend, per SPEC_FULL.md §4.9's forward
// state machine.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
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

	keyID, key, ok := s.keyring.GetLast()
	if !ok {
		s.logger.Error().Msg("no key available for encryption")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	encoder, err := cipher.NewEncoder(r.Body, key[:], keyID, s.cfg.ChunkSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to initialize encoder")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), uploadTimeout)
	defer cancel()

	var body io.Reader = encoder
	var contentLength int64 = -1

	if s.signer != nil {
		spill := buffer.New("")
		defer spill.Close()
		if _, err := spill.ReadFrom(encoder); err != nil {
			s.logger.Error().Err(err).Msg("failed to buffer encrypted body for signing")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		replay, err := spill.Reader()
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to rewind spill buffer")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		body = replay
		contentLength = spill.Len()
	} else if clHeader := r.Header.Get("Content-Length"); clHeader != "" {
		var plainLen uint64
		if _, err := fmt.Sscanf(clHeader, "%d", &plainLen); err == nil {
			contentLength = int64(cipher.CiphertextLen(plainLen, s.cfg.ChunkSize, cipher.CurrentVersion))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), body)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build upstream request")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	req.ContentLength = contentLength
	copyRequestHeaders(req.Header, r.Header, forwardRequestHeadersToRemove)

	if s.signer != nil {
		req.URL.Host = target.Host
		if err := s.signer.Sign(ctx, req); err != nil {
			s.logger.Error().Err(err).Msg("failed to sign outbound request")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		s.recordUpstream(http.MethodPut, "error", duration)
		s.logger.Error().Err(err).Str("url", target.String()).Msg("forward upstream request failed")
		if ctx.Err() != nil {
			http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
		} else {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}
		return
	}
	defer resp.Body.Close()

	s.recordUpstream(http.MethodPut, http.StatusText(resp.StatusCode), duration)
	if resp.StatusCode >= 400 {
		s.logger.Warn().Int("status", resp.StatusCode).Str("url", target.String()).Msg("forward status error")
	}

	copyNonHopHeaders(w.Header(), resp.Header, forwardResponseHeadersToRemove)
	w.Header().Set("ETag", fmt.Sprintf("%q", fmt.Sprintf("%x", encoder.MD5())))
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func copyRequestHeaders(dst http.Header, src http.Header, remove []string) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	for _, h := range remove {
		dst.Del(h)
	}
}

func (s *Server) recordUpstream(method, status string, duration time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordUpstreamRequest(method, status, duration.Seconds())
	}
}
