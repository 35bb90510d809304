package middleware

import (
	"net/http"
	"strings"

	"github.com/prn-tf/cipherproxy/internal/coordination"
	"github.com/prn-tf/cipherproxy/internal/metrics"
	"github.com/rs/zerolog"
)

// statusRecorder captures the downstream handler's status code so
// WriteOnce can decide whether to release the lock after dispatch.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// WriteOnce enforces single-use access to presigned URLs, per
// SPEC_FULL.md §4.10. A request only participates when its query string
// carries temp_url_expires; every other request passes through untouched.
//
// Coordination-store failures are logged and do not block the request
// (degraded mode, matching the original implementation). If the handler
// panics or the request context is cancelled before the response tail
// runs, the lock is never released — the URL stays single-use, failing
// closed.
func WriteOnce(store *coordination.Store, m *metrics.Metrics, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.URL.RawQuery, "temp_url_expires") {
				next.ServeHTTP(w, r)
				return
			}

			uri := r.URL.RequestURI()

			acquired, err := store.TryAcquire(r.Context(), uri)
			if err != nil {
				logger.Warn().Err(err).Str("uri", uri).Msg("coordination store unavailable, proceeding without write-once enforcement")
				if m != nil {
					m.RecordWriteOnceDegraded()
				}
			} else if !acquired {
				logger.Warn().Str("uri", uri).Msg("access denied: presigned URL already consumed")
				if m != nil {
					m.RecordWriteOnceDenied()
				}
				http.Error(w, "Access denied", http.StatusForbidden)
				return
			} else if m != nil {
				m.RecordWriteOnceAcquired()
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status >= 300 {
				if err := store.Release(r.Context(), uri); err != nil {
					logger.Error().Err(err).Str("uri", uri).Msg("failed to release write-once lock after non-success response")
				} else if m != nil {
					m.RecordWriteOnceReleased()
				}
			}
		})
	}
}
