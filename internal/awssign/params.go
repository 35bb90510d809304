package awssign

import (
	"net/http"
	"net/url"
	"strings"
)

// sigV4QueryParams is the fixed set of SigV4-related query parameter names
// (stored lowercase; matched case-insensitively) that the signer strips from
// an outbound URL before re-signing, and that the verifier strips from an
// inbound URL before recomputing — the same function serves both, per the
// design note in SPEC_FULL.md §9.
var sigV4QueryParams = map[string]struct{}{
	"x-amz-algorithm":      {},
	"x-amz-credential":     {},
	"x-amz-date":           {},
	"x-amz-expires":        {},
	"x-amz-signedheaders":  {},
	"x-amz-signature":      {},
	"x-amz-security-token": {},
}

// sigV4Headers is the analogous fixed set of request headers.
var sigV4Headers = map[string]struct{}{
	"authorization":        {},
	"x-amz-date":           {},
	"x-amz-content-sha256": {},
	"x-amz-security-token": {},
}

// StripSignatureParams removes every SigV4-related query parameter and
// header from u and header in place, so a presigned URL (or a previously
// signed request) can be safely re-signed or re-verified from scratch.
func StripSignatureParams(u *url.URL, header http.Header) {
	if u != nil {
		q := u.Query()
		cleaned := url.Values{}
		for k, v := range q {
			if _, skip := sigV4QueryParams[strings.ToLower(k)]; skip {
				continue
			}
			cleaned[k] = v
		}
		u.RawQuery = cleaned.Encode()
	}
	if header != nil {
		for k := range header {
			if _, skip := sigV4Headers[strings.ToLower(k)]; skip {
				header.Del(k)
			}
		}
	}
}
