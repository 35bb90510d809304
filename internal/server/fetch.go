package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prn-tf/cipherproxy/internal/cipher"
	"github.com/prn-tf/cipherproxy/internal/partial"
)

// fetchRequestHeadersToRemove are stripped from the outbound request: Range
// is handled locally after decryption, since a byte range over ciphertext
// does not correspond to the same byte range over plaintext.
var fetchRequestHeadersToRemove = []string{"Connection", "Range"}

// fetchResponseHeadersToRemove are stripped from the backend's response: its
// Content-Length and ETag describe the ciphertext, not what the client
// receives.
var fetchResponseHeadersToRemove = map[string]struct{}{
	"Connection":     {},
	"Content-Length": {},
	"Etag":           {},
}

// handleFetch implements GET /upstream/<name>: fetches the stored
// ciphertext, decrypts it, and optionally extracts a requested byte range,
// per SPEC_FULL.md §4.9's fetch state machine.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
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

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build upstream request")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	copyRequestHeaders(req.Header, r.Header, fetchRequestHeadersToRemove)

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
		s.recordUpstream(http.MethodGet, "error", duration)
		s.logger.Error().Err(err).Str("url", target.String()).Msg("fetch upstream request failed")
		if r.Context().Err() != nil {
			http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
		} else {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}
		return
	}
	defer resp.Body.Close()

	s.recordUpstream(http.MethodGet, http.StatusText(resp.StatusCode), duration)

	copyNonHopHeaders(w.Header(), resp.Header, fetchResponseHeadersToRemove)

	if resp.StatusCode >= 300 {
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}

	probe, residual, err := cipher.Probe(resp.Body)
	if err != nil {
		s.logger.Error().Err(err).Str("url", target.String()).Msg("failed to probe response body")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	if probe.ReadError != nil {
		s.logger.Error().Err(probe.ReadError).Str("url", target.String()).
			Msg("error reading upstream body while probing; treating as plaintext")
	}

	var ciphertextLen uint64
	ciphertextLenKnown := resp.ContentLength >= 0
	if ciphertextLenKnown {
		ciphertextLen = uint64(resp.ContentLength)
	}

	if !probe.Encrypted {
		s.serveRange(w, r, residual, -1, false)
		return
	}

	key, err := s.keyring.Get(probe.Header.KeyID)
	if err != nil {
		s.logger.Error().Err(err).Uint64("key_id", probe.Header.KeyID).Msg("no key available to decrypt response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	decoder, err := cipher.NewDecoder(residual, key[:], probe.Header.ChunkSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to initialize decoder")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var plaintextLen int64 = -1
	if ciphertextLenKnown {
		plaintextLen = int64(cipher.PlaintextLen(ciphertextLen, cipher.HeaderSize(probe.Header.Version), probe.Header.ChunkSize))
	}

	s.serveRange(w, r, decoder, plaintextLen, true)
}

// serveRange writes body to w, honoring an inbound Range header when the
// total plaintext length is known; otherwise it streams the full body.
func (s *Server) serveRange(w http.ResponseWriter, r *http.Request, body io.Reader, totalLen int64, decrypted bool) {
	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" || totalLen < 0 {
		if totalLen >= 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(totalLen, 10))
		}
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, body); err != nil {
			s.logger.Error().Err(err).Msg("response body stream failed; aborting response")
			panic(http.ErrAbortHandler)
		}
		return
	}

	start, end, ok := parseByteRange(rangeHeader, totalLen)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", totalLen))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	extractor, err := partial.New(body, start, end)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to initialize range extractor")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, totalLen))
	w.Header().Set("Content-Length", strconv.FormatInt(extractor.Len(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.Copy(w, extractor); err != nil {
		s.logger.Error().Err(err).Msg("response body stream failed; aborting response")
		panic(http.ErrAbortHandler)
	}
}

// parseByteRange parses a single "bytes=start-end" Range header value
// against a known total length. Multi-range requests are not supported; the
// first range is honored and the rest ignored.
func parseByteRange(header string, total int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.SplitN(strings.TrimPrefix(header, prefix), ",", 2)[0]
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	switch {
	case parts[0] == "" && parts[1] != "":
		suffixLen, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || suffixLen <= 0 {
			return 0, 0, false
		}
		if suffixLen > total {
			suffixLen = total
		}
		return total - suffixLen, total - 1, true
	case parts[1] == "":
		s, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || s < 0 || s >= total {
			return 0, 0, false
		}
		return s, total - 1, true
	default:
		s, err1 := strconv.ParseInt(parts[0], 10, 64)
		e, err2 := strconv.ParseInt(parts[1], 10, 64)
		if err1 != nil || err2 != nil || s < 0 || e < s || s >= total {
			return 0, 0, false
		}
		if e >= total {
			e = total - 1
		}
		return s, e, true
	}
}
