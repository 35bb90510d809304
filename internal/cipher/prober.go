package cipher

import (
	"bytes"
	"fmt"
	"io"
)

// ProbeResult reports what Probe found: whether the stream is one of this
// system's containers and, if so, its decoded header.
type ProbeResult struct {
	Header    Header
	Encrypted bool

	// ReadError records a non-EOF error encountered while reading the
	// upstream body during probing. Per SPEC_FULL.md §4.4, such an error
	// never fails the probe itself — Encrypted is left false and the
	// residual reader is empty — but the caller should log it.
	ReadError error
}

// Probe peeks the leading bytes of r to classify it as an encrypted
// container (v1 or v2) or plaintext, per SPEC_FULL.md §4.4. It returns a
// reader that replays exactly the bytes still needed downstream: for
// plaintext, every byte consumed during probing is replayed in full; for an
// encrypted stream, the header has been fully consumed and the returned
// reader starts at the stream_header (nonce). A non-EOF read error from r is
// surfaced as ProbeResult.ReadError rather than as Probe's own error return:
// the body is treated as plaintext with an empty residue, and the caller is
// expected to log ReadError.
func Probe(r io.Reader) (ProbeResult, io.Reader, error) {
	buf := make([]byte, HeaderSizeV1)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return ProbeResult{Encrypted: false}, io.MultiReader(bytes.NewReader(buf[:n]), r), nil
		}
		return ProbeResult{Encrypted: false, ReadError: err}, bytes.NewReader(nil), nil
	}

	if !bytesEqual(buf[:prefixSize], Prefix) {
		return ProbeResult{Encrypted: false}, io.MultiReader(bytes.NewReader(buf), r), nil
	}

	hdr, err := DecodeHeader(buf)
	switch err {
	case nil:
		return ProbeResult{Header: hdr, Encrypted: true}, r, nil
	case ErrIncomplete:
		tail := make([]byte, keyIDSize)
		m, err := io.ReadFull(r, tail)
		if err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				return ProbeResult{Encrypted: false}, io.MultiReader(bytes.NewReader(append(buf, tail[:m]...)), r), nil
			}
			return ProbeResult{Encrypted: false, ReadError: err}, bytes.NewReader(nil), nil
		}
		hdr, err := DecodeHeader(append(buf, tail...))
		if err != nil {
			return ProbeResult{}, nil, fmt.Errorf("cipher: decoding v2 header: %w", err)
		}
		return ProbeResult{Header: hdr, Encrypted: true}, r, nil
	default:
		return ProbeResult{}, nil, fmt.Errorf("cipher: decoding header: %w", err)
	}
}
