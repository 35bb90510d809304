package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prn-tf/cipherproxy/internal/cipher"
)

func TestHandleForwardEncryptsAndForwardsBody(t *testing.T) {
	var capturedBody []byte
	var capturedMethod, capturedPath string

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedMethod = r.Method
		capturedPath = r.URL.Path
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("backend: reading body: %v", err)
		}
		capturedBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	s := newTestServer(t, backend.URL+"/bucket/")
	plaintext := []byte("forwarded payload that gets encrypted in flight")

	req := httptest.NewRequest(http.MethodPut, "/upstream/object.bin", bytes.NewReader(plaintext))
	rec := httptest.NewRecorder()
	s.handleForward(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if capturedMethod != http.MethodPut {
		t.Fatalf("backend saw method %q, want PUT", capturedMethod)
	}
	if capturedPath != "/bucket/object.bin" {
		t.Fatalf("backend saw path %q, want %q", capturedPath, "/bucket/object.bin")
	}

	probe, residual, err := cipher.Probe(bytes.NewReader(capturedBody))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !probe.Encrypted {
		t.Fatal("forwarded body was not encrypted")
	}
	_, key, ok := s.keyring.GetLast()
	if !ok {
		t.Fatal("no key in test keyring")
	}
	dec, err := cipher.NewDecoder(residual, key[:], probe.Header.ChunkSize)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("reading decoder: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("decrypted forwarded body = %q, want %q", got, plaintext)
	}

	if etag := rec.Header().Get("ETag"); etag == "" {
		t.Fatal("forward response is missing an ETag header")
	}
}

func TestHandleForwardRejectsTraversalEscape(t *testing.T) {
	s := newTestServer(t, "https://backend.example.com/bucket/")

	req := httptest.NewRequest(http.MethodPut, "/upstream/../other-bucket/object.bin", bytes.NewReader([]byte("x")))
	rec := httptest.NewRecorder()
	s.handleForward(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleForwardReturnsBadGatewayOnUpstreamFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable := backend.URL
	backend.Close() // guarantees the connection will be refused

	s := newTestServer(t, unreachable+"/bucket/")

	req := httptest.NewRequest(http.MethodPut, "/upstream/object.bin", bytes.NewReader([]byte("x")))
	rec := httptest.NewRecorder()
	s.handleForward(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestHandleForwardPropagatesUpstreamErrorStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "access denied")
	}))
	defer backend.Close()

	s := newTestServer(t, backend.URL+"/bucket/")

	req := httptest.NewRequest(http.MethodPut, "/upstream/object.bin", bytes.NewReader([]byte("x")))
	rec := httptest.NewRecorder()
	s.handleForward(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}
