package metrics

import "testing"

// New is called exactly once across this package's test binary since it
// registers every metric against the global Prometheus registry.
var testMetrics = New()

func TestRecordersDoNotPanic(t *testing.T) {
	testMetrics.RecordHTTPRequest("GET", "/upstream/{path}", "200", 0.01, 1024)
	testMetrics.RecordCodecOperation("encrypt", "ok", 0.002, 4096)
	testMetrics.RecordCodecOperation("decrypt", "error", 0.001, 0)
	testMetrics.RecordCodecAuthFailure()
	testMetrics.RecordUpstreamRequest("PUT", "201", 0.05)
	testMetrics.RecordWriteOnceAcquired()
	testMetrics.RecordWriteOnceDenied()
	testMetrics.RecordWriteOnceReleased()
	testMetrics.RecordWriteOnceDegraded()
	testMetrics.RecordSignatureVerification("proxy", "valid")
	testMetrics.RecordKeyringOperation("load", "ok")
	testMetrics.RecordRateLimited("request")
}

func TestHandlerReturnsNonNilHTTPHandler(t *testing.T) {
	if Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
}
