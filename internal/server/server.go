// Package server implements the proxy's HTTP surface: ping, upstream
// fetch/forward/simple_proxy, and local encrypt/fetch, per SPEC_FULL.md
// §4.9. Routing follows the teacher's net/http.ServeMux idiom.
package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/cipherproxy/internal/awssign"
	"github.com/prn-tf/cipherproxy/internal/coordination"
	"github.com/prn-tf/cipherproxy/internal/keyring"
	"github.com/prn-tf/cipherproxy/internal/metrics"
	"github.com/prn-tf/cipherproxy/internal/middleware"
	"github.com/prn-tf/cipherproxy/internal/upstream"
)

// Config collects everything a Server needs beyond the shared client and
// keyring: the pieces internal/config.ProxyConfig exposes, narrowed to
// what request handlers actually touch.
type Config struct {
	UpstreamBaseURL          string
	ChunkSize                uint64
	LocalEncryptionDirectory string
	AWSSign                  *awssign.Credentials
}

// Server holds everything shared across requests: the upstream client, the
// keyring, configuration, metrics, and a logger. Its Handler method builds
// the composed net/http.Handler for both the TCP and Unix-socket listeners.
type Server struct {
	cfg      Config
	client   *upstream.Client
	keyring  *keyring.Keyring
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	signer   *awssign.Signer
	verifier *awssign.Verifier
}

// New constructs a Server. signer/verifier are nil when cfg.AWSSign is nil
// (the proxy is not configured to sign or verify SigV4 requests).
func New(cfg Config, client *upstream.Client, kr *keyring.Keyring, m *metrics.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		client:  client,
		keyring: kr,
		metrics: m,
		logger:  logger.With().Str("component", "server").Logger(),
	}
	if cfg.AWSSign != nil {
		s.signer = awssign.NewSigner(*cfg.AWSSign)
		s.verifier = awssign.NewVerifier(*cfg.AWSSign, nil)
	}
	return s
}

// Handler builds the full routed, middleware-wrapped handler. writeOnce is
// false and coord may be nil when the proxy was started without --write-once.
func (s *Server) Handler(writeOnce bool, coord *coordination.Store) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /metrics", metrics.Handler().ServeHTTP)

	mux.HandleFunc("GET /upstream/", s.handleFetch)

	var forwardHandler http.HandlerFunc = s.handleForward
	if writeOnce && coord != nil {
		wrapped := middleware.WriteOnce(coord, s.metrics, s.logger)(http.HandlerFunc(s.handleForward))
		mux.Handle("PUT /upstream/", wrapped)
	} else {
		mux.HandleFunc("PUT /upstream/", forwardHandler)
	}
	mux.HandleFunc("/upstream/", s.handleSimpleProxy)

	mux.HandleFunc("PUT /local/encrypt/", s.handleLocalEncryptToFile)
	mux.HandleFunc("GET /local/encrypt/", s.handleLocalFetchFile)

	tracing := middleware.NewTracing(s.metrics, s.logger)
	inFlight := middleware.NewMetricsMiddleware(s.metrics)

	return tracing.Middleware(inFlight.Middleware(mux))
}

// ResponseTimeout exported for callers building http.Server instances for
// both the TCP and Unix-socket listeners.
const ResponseTimeout = upstream.ResponseTimeout

// hopByHopResponseHeaders are never forwarded from the upstream response to
// the client, matching FETCH_RESPONSE_HEADERS_TO_REMOVE / the analogous
// forward-response set in the reference implementation.
var hopByHopResponseHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Proxy-Connection":  {},
	"Transfer-Encoding": {},
}

func copyNonHopHeaders(dst http.Header, src http.Header, extraSkip map[string]struct{}) {
	for k, values := range src {
		if _, skip := hopByHopResponseHeaders[k]; skip {
			continue
		}
		if extraSkip != nil {
			if _, skip := extraSkip[k]; skip {
				continue
			}
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

var uploadTimeout = time.Hour
