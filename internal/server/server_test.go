package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/cipherproxy/internal/keyring"
	"github.com/prn-tf/cipherproxy/internal/metrics"
	"github.com/prn-tf/cipherproxy/internal/upstream"
)

// promauto registers every metric against the global default registry, so a
// second metrics.New() call in the same test binary panics on duplicate
// registration. All server tests share one instance.
var (
	sharedMetricsOnce sync.Once
	sharedMetricsVal  *metrics.Metrics
)

func sharedMetrics() *metrics.Metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetricsVal = metrics.New()
	})
	return sharedMetricsVal
}

func newTestKeyring(t *testing.T) *keyring.Keyring {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyring.toml")
	kr, err := keyring.Load(path, []byte("test-password"), []byte("test-salt"))
	if err != nil {
		t.Fatalf("keyring.Load: %v", err)
	}
	if _, err := kr.AddRandom(); err != nil {
		t.Fatalf("AddRandom: %v", err)
	}
	return kr
}

// newTestServer builds a Server pointed at an upstream base URL (typically
// an httptest.Server's URL) with a fresh keyring and no AWS signing.
func newTestServer(t *testing.T, upstreamBaseURL string) *Server {
	t.Helper()
	cfg := Config{
		UpstreamBaseURL:          upstreamBaseURL,
		ChunkSize:                64,
		LocalEncryptionDirectory: t.TempDir(),
	}
	client := upstream.New(2 * time.Second)
	return New(cfg, client, newTestKeyring(t), sharedMetrics(), zerolog.Nop())
}

func TestUpstreamURLResolvesOrdinaryName(t *testing.T) {
	s := newTestServer(t, "https://backend.example.com/bucket/")

	req := httptest.NewRequest(http.MethodGet, "/upstream/object.txt", nil)
	got, err := s.upstreamURL(req, "/upstream/")
	if err != nil {
		t.Fatalf("upstreamURL: %v", err)
	}
	if got == nil {
		t.Fatal("upstreamURL returned nil for a non-escaping name")
	}
	if got.String() != "https://backend.example.com/bucket/object.txt" {
		t.Fatalf("upstreamURL = %q, want %q", got.String(), "https://backend.example.com/bucket/object.txt")
	}
}

func TestUpstreamURLPreservesQueryString(t *testing.T) {
	s := newTestServer(t, "https://backend.example.com/bucket/")

	req := httptest.NewRequest(http.MethodGet, "/upstream/object.txt?X-Amz-Signature=abc", nil)
	got, err := s.upstreamURL(req, "/upstream/")
	if err != nil {
		t.Fatalf("upstreamURL: %v", err)
	}
	if got.RawQuery != "X-Amz-Signature=abc" {
		t.Fatalf("upstreamURL.RawQuery = %q, want %q", got.RawQuery, "X-Amz-Signature=abc")
	}
}

func TestUpstreamURLRejectsTraversalEscape(t *testing.T) {
	s := newTestServer(t, "https://backend.example.com/bucket/")

	req := httptest.NewRequest(http.MethodGet, "/upstream/../other-bucket/secret.txt", nil)
	got, err := s.upstreamURL(req, "/upstream/")
	if err != nil {
		t.Fatalf("upstreamURL: %v", err)
	}
	if got != nil {
		t.Fatalf("upstreamURL = %v, want nil for a traversal escape", got)
	}
}

func TestPingReportsOKByDefault(t *testing.T) {
	s := newTestServer(t, "https://backend.example.com/bucket/")

	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	s.handlePing(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestPingReportsNotFoundDuringMaintenance(t *testing.T) {
	s := newTestServer(t, "https://backend.example.com/bucket/")

	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	if err := os.WriteFile(filepath.Join(dir, "maintenance"), nil, 0o600); err != nil {
		t.Fatalf("writing maintenance marker: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	s.handlePing(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
