package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHashKeyIsDeterministic(t *testing.T) {
	uri := "https://backend.example.com/bucket/object.txt?X-Amz-Signature=abc"
	a := HashKey(uri)
	b := HashKey(uri)
	if a != b {
		t.Fatalf("HashKey is not deterministic: %q != %q", a, b)
	}
	if got, want := a[:6], "locks:"; got != want {
		t.Fatalf("HashKey prefix = %q, want %q", got, want)
	}
	// "locks:" plus 64 hex characters for a SHA-256 digest.
	if len(a) != len("locks:")+64 {
		t.Fatalf("HashKey length = %d, want %d", len(a), len("locks:")+64)
	}
}

func TestHashKeyDistinguishesDifferentURIs(t *testing.T) {
	a := HashKey("https://backend.example.com/bucket/one.txt")
	b := HashKey("https://backend.example.com/bucket/two.txt")
	if a == b {
		t.Fatal("HashKey produced the same key for two different URIs")
	}
}

func TestNewRejectsInvalidRedisURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := New(ctx, Config{URL: "not-a-valid-redis-url://::::"}, zerolog.Nop())
	if err == nil {
		t.Fatal("New with an invalid redis URL succeeded, want an error")
	}
}

func TestNewFailsWhenRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// Port 1 is reserved and nothing will ever answer on it, so Ping must
	// fail within the deadline instead of hanging.
	_, err := New(ctx, Config{URL: "redis://127.0.0.1:1/0"}, zerolog.Nop())
	if err == nil {
		t.Fatal("New against an unreachable redis succeeded, want an error")
	}
}
