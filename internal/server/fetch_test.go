package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/prn-tf/cipherproxy/internal/cipher"
)

func TestParseByteRangeStartEnd(t *testing.T) {
	start, end, ok := parseByteRange("bytes=2-5", 10)
	if !ok || start != 2 || end != 5 {
		t.Fatalf("parseByteRange(2-5) = (%d, %d, %v), want (2, 5, true)", start, end, ok)
	}
}

func TestParseByteRangeOpenEnded(t *testing.T) {
	start, end, ok := parseByteRange("bytes=7-", 10)
	if !ok || start != 7 || end != 9 {
		t.Fatalf("parseByteRange(7-) = (%d, %d, %v), want (7, 9, true)", start, end, ok)
	}
}

func TestParseByteRangeSuffix(t *testing.T) {
	start, end, ok := parseByteRange("bytes=-3", 10)
	if !ok || start != 7 || end != 9 {
		t.Fatalf("parseByteRange(-3) = (%d, %d, %v), want (7, 9, true)", start, end, ok)
	}
}

func TestParseByteRangeSuffixLargerThanTotal(t *testing.T) {
	start, end, ok := parseByteRange("bytes=-100", 10)
	if !ok || start != 0 || end != 9 {
		t.Fatalf("parseByteRange(-100) = (%d, %d, %v), want (0, 9, true)", start, end, ok)
	}
}

func TestParseByteRangeEndBeyondTotalIsClamped(t *testing.T) {
	start, end, ok := parseByteRange("bytes=5-1000", 10)
	if !ok || start != 5 || end != 9 {
		t.Fatalf("parseByteRange(5-1000) = (%d, %d, %v), want (5, 9, true)", start, end, ok)
	}
}

func TestParseByteRangeStartBeyondTotalIsRejected(t *testing.T) {
	if _, _, ok := parseByteRange("bytes=20-25", 10); ok {
		t.Fatal("parseByteRange(20-25) over a 10 byte total should be rejected")
	}
}

func TestParseByteRangeRejectsMalformedHeader(t *testing.T) {
	if _, _, ok := parseByteRange("not-a-range-header", 10); ok {
		t.Fatal("parseByteRange accepted a malformed header")
	}
	if _, _, ok := parseByteRange("bytes=abc-def", 10); ok {
		t.Fatal("parseByteRange accepted non-numeric bounds")
	}
}

// encryptFixture encrypts plaintext under s's keyring the same way
// handleForward would, so handleFetch tests can hand a backend a realistic
// stored container.
func encryptFixture(t *testing.T, s *Server, plaintext string) []byte {
	t.Helper()
	keyID, key, ok := s.keyring.GetLast()
	if !ok {
		t.Fatal("no key in test keyring")
	}
	enc, err := cipher.NewEncoder(bytes.NewReader([]byte(plaintext)), key[:], keyID, s.cfg.ChunkSize)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	out, err := io.ReadAll(enc)
	if err != nil {
		t.Fatalf("reading encoder: %v", err)
	}
	return out
}

func TestHandleFetchDecryptsAndServesFullBody(t *testing.T) {
	s := newTestServer(t, "http://placeholder/")
	plaintext := "the quick brown fox jumps over the lazy dog, twice over"
	ciphertext := encryptFixture(t, s, plaintext)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(ciphertext)
	}))
	defer backend.Close()
	s.cfg.UpstreamBaseURL = backend.URL + "/bucket/"

	req := httptest.NewRequest(http.MethodGet, "/upstream/object.bin", nil)
	rec := httptest.NewRecorder()
	s.handleFetch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if rec.Body.String() != plaintext {
		t.Fatalf("body = %q, want %q", rec.Body.String(), plaintext)
	}
}

func TestHandleFetchServesPartialRange(t *testing.T) {
	s := newTestServer(t, "http://placeholder/")
	plaintext := "the quick brown fox jumps over the lazy dog, twice over"
	ciphertext := encryptFixture(t, s, plaintext)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(ciphertext)))
		w.WriteHeader(http.StatusOK)
		w.Write(ciphertext)
	}))
	defer backend.Close()
	s.cfg.UpstreamBaseURL = backend.URL + "/bucket/"

	req := httptest.NewRequest(http.MethodGet, "/upstream/object.bin", nil)
	req.Header.Set("Range", "bytes=5-9")
	rec := httptest.NewRecorder()
	s.handleFetch(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusPartialContent, rec.Body.String())
	}
	want := plaintext[5:10]
	if rec.Body.String() != want {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}
	if cr := rec.Header().Get("Content-Range"); cr == "" {
		t.Fatal("missing Content-Range header on a 206 response")
	}
}

func TestHandleFetchPropagatesUpstreamErrorStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer backend.Close()

	s := newTestServer(t, backend.URL+"/bucket/")

	req := httptest.NewRequest(http.MethodGet, "/upstream/missing.bin", nil)
	rec := httptest.NewRecorder()
	s.handleFetch(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleFetchPassesThroughPlaintextUpstream(t *testing.T) {
	plaintext := "this response was never encrypted by anything"
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, plaintext)
	}))
	defer backend.Close()

	s := newTestServer(t, backend.URL+"/bucket/")

	req := httptest.NewRequest(http.MethodGet, "/upstream/object.txt", nil)
	rec := httptest.NewRecorder()
	s.handleFetch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != plaintext {
		t.Fatalf("body = %q, want %q", rec.Body.String(), plaintext)
	}
}

func TestHandleFetchRejectsTraversalEscape(t *testing.T) {
	s := newTestServer(t, "https://backend.example.com/bucket/")

	req := httptest.NewRequest(http.MethodGet, "/upstream/../other-bucket/object.bin", nil)
	rec := httptest.NewRecorder()
	s.handleFetch(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
