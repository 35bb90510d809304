package awssign

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// ErrMissingSignature is returned when a request carries neither a header
// Authorization nor a presigned query-string signature.
var ErrMissingSignature = errors.New("awssign: request carries no signature")

// ErrSignatureMismatch is returned when the recomputed signature does not
// match the one the request presented.
var ErrSignatureMismatch = errors.New("awssign: signature mismatch")

// ErrClockSkew is returned when a request's declared signing time falls
// outside the allowed window around the verifier's clock.
var ErrClockSkew = errors.New("awssign: signing time outside allowed window")

const amzDateLayout = "20060102T150405Z"

// Verifier checks inbound requests against a single static credential, in
// either of SigV4's two forms: an Authorization header, or a presigned query
// string (X-Amz-Signature and friends). Both are recomputed from the
// request's own declared parameters and compared byte-for-byte against what
// the request presented — per SPEC_FULL.md §4.7, the same StripSignatureParams
// function the Signer uses for outbound requests is used here to isolate the
// canonical request being verified.
type Verifier struct {
	creds  Credentials
	signer *v4.Signer
	now    func() time.Time
}

// NewVerifier returns a Verifier bound to creds. now defaults to time.Now if
// nil; tests may override it to pin the clock.
func NewVerifier(creds Credentials, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{creds: creds, signer: v4.NewSigner(), now: now}
}

// Verify checks req's signature. It does not mutate req.
func (v *Verifier) Verify(ctx context.Context, req *http.Request) error {
	if req.URL.Query().Get("X-Amz-Signature") != "" {
		return v.verifyPresigned(ctx, req)
	}
	if req.Header.Get("Authorization") != "" {
		return v.verifyHeader(ctx, req)
	}
	return ErrMissingSignature
}

func (v *Verifier) verifyHeader(ctx context.Context, req *http.Request) error {
	provided := req.Header.Get("Authorization")
	dateStr := req.Header.Get("x-amz-date")
	if dateStr == "" {
		return fmt.Errorf("%w: missing x-amz-date", ErrMissingSignature)
	}
	signedTime, err := time.Parse(amzDateLayout, dateStr)
	if err != nil {
		return fmt.Errorf("awssign: parsing x-amz-date: %w", err)
	}
	if !withinSkew(v.now(), signedTime, 0) {
		return ErrClockSkew
	}

	payloadHash := req.Header.Get("x-amz-content-sha256")
	if payloadHash == "" {
		payloadHash = unsignedPayload
	}

	signedHeaders := signedHeaderNames(extractSignedHeadersValue(provided))
	if len(signedHeaders) == 0 {
		return fmt.Errorf("%w: missing SignedHeaders", ErrMissingSignature)
	}

	clone := cloneForRecompute(req)
	clone.Header.Del("Authorization")
	restrictToSignedHeaders(clone.Header, signedHeaders)

	if err := v.signer.SignHTTP(ctx, v.creds.toAWS(), clone, payloadHash, "s3", v.creds.Region, signedTime); err != nil {
		return fmt.Errorf("awssign: recomputing signature: %w", err)
	}

	if !secureCompare(extractSignature(clone.Header.Get("Authorization")), extractSignature(provided)) {
		return ErrSignatureMismatch
	}
	return nil
}

func (v *Verifier) verifyPresigned(ctx context.Context, req *http.Request) error {
	q := req.URL.Query()
	provided := q.Get("X-Amz-Signature")
	dateStr := q.Get("X-Amz-Date")
	if dateStr == "" {
		return fmt.Errorf("%w: missing X-Amz-Date", ErrMissingSignature)
	}
	signedTime, err := time.Parse(amzDateLayout, dateStr)
	if err != nil {
		return fmt.Errorf("awssign: parsing X-Amz-Date: %w", err)
	}

	var expires time.Duration
	if expiresStr := q.Get("X-Amz-Expires"); expiresStr != "" {
		seconds, err := strconv.Atoi(expiresStr)
		if err != nil {
			return fmt.Errorf("awssign: parsing X-Amz-Expires: %w", err)
		}
		expires = time.Duration(seconds) * time.Second
	}
	if !withinSkew(v.now(), signedTime, expires) {
		return ErrClockSkew
	}

	signedHeadersRaw := q.Get("X-Amz-SignedHeaders")
	if signedHeadersRaw == "" {
		return fmt.Errorf("%w: missing X-Amz-SignedHeaders", ErrMissingSignature)
	}
	signedHeaders := signedHeaderNames(signedHeadersRaw)

	clone := cloneForRecompute(req)
	clone.URL.RawQuery = q.Encode()
	restrictToSignedHeaders(clone.Header, signedHeaders)

	presignedURL, _, err := v.signer.PresignHTTP(ctx, v.creds.toAWS(), clone, unsignedPayload, "s3", v.creds.Region, signedTime)
	if err != nil {
		return fmt.Errorf("awssign: recomputing presigned signature: %w", err)
	}
	recomputed, err := url.Parse(presignedURL)
	if err != nil {
		return fmt.Errorf("awssign: parsing recomputed presigned URL: %w", err)
	}

	if !secureCompare(recomputed.Query().Get("X-Amz-Signature"), provided) {
		return ErrSignatureMismatch
	}
	return nil
}

// withinSkew reports whether now falls within [signedTime - clockSkew,
// signedTime + extra + clockSkew], per SPEC_FULL.md §4.7's ±15-minute window
// extended by a presigned URL's own X-Amz-Expires.
func withinSkew(now, signedTime time.Time, extra time.Duration) bool {
	earliest := signedTime.Add(-clockSkew)
	latest := signedTime.Add(extra).Add(clockSkew)
	return !now.Before(earliest) && !now.After(latest)
}

// cloneForRecompute returns a shallow copy of req (distinct Header and URL
// maps) with SigV4 material stripped, suitable for re-signing without
// mutating the caller's request.
func cloneForRecompute(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	StripSignatureParams(clone.URL, clone.Header)
	return clone
}

// signedHeaderNames returns the lowercase set of names declared in raw, a
// semicolon-separated SignedHeaders value (from either the Authorization
// header or the X-Amz-SignedHeaders query parameter).
func signedHeaderNames(raw string) map[string]struct{} {
	names := make(map[string]struct{})
	for _, name := range strings.Split(raw, ";") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			names[name] = struct{}{}
		}
	}
	return names
}

// extractSignedHeadersValue pulls the SignedHeaders= component out of a
// SigV4 Authorization header value.
func extractSignedHeadersValue(authHeader string) string {
	const marker = "SignedHeaders="
	idx := indexOf(authHeader, marker)
	if idx < 0 {
		return ""
	}
	rest := authHeader[idx+len(marker):]
	if end := indexOf(rest, ","); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// restrictToSignedHeaders deletes every header from h whose name is not in
// signed, so SignHTTP/PresignHTTP recompute over exactly the pairs the
// request declared as signed rather than over every header that merely
// happens to be present. Mirrors extract_signed_pairs in the ground-truth
// original's verify_signature.rs.
func restrictToSignedHeaders(h http.Header, signed map[string]struct{}) {
	for k := range h {
		if _, ok := signed[strings.ToLower(k)]; !ok {
			h.Del(k)
		}
	}
}

// extractSignature pulls the Signature= component out of a SigV4
// Authorization header value.
func extractSignature(authHeader string) string {
	const marker = "Signature="
	idx := indexOf(authHeader, marker)
	if idx < 0 {
		return ""
	}
	return authHeader[idx+len(marker):]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
