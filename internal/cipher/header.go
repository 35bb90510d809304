// Package cipher implements the container format and streaming authenticated
// encryption used for every blob that passes through the proxy.
package cipher

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Prefix identifies a blob produced by this system. Any stream whose leading
// bytes do not match is treated as plaintext and passed through unchanged.
var Prefix = []byte("cipherproxy-container-magic-v1!!")

const (
	prefixSize    = 32
	versionSize   = 8
	chunkSizeSize = 8
	keyIDSize     = 8

	// HeaderSizeV1 is the on-wire size of a version-1 header (no key id).
	HeaderSizeV1 = prefixSize + versionSize + chunkSizeSize
	// HeaderSizeV2 is the on-wire size of a version-2 header.
	HeaderSizeV2 = HeaderSizeV1 + keyIDSize

	// StreamHeaderSize is the size of the per-blob nonce written immediately
	// after the container header (XChaCha20-Poly1305 nonce).
	StreamHeaderSize = 24

	// TagSize is the AEAD authentication tag size per frame.
	TagSize = 16

	// CurrentVersion is the version written by this implementation.
	CurrentVersion = 2
	// LegacyVersion is the only other version this implementation can read.
	LegacyVersion = 1
)

func init() {
	if len(Prefix) != prefixSize {
		panic(fmt.Sprintf("cipher: Prefix must be exactly %d bytes, got %d", prefixSize, len(Prefix)))
	}
}

// ErrWrongPrefix is returned when the leading bytes are not the magic
// prefix; callers should treat the blob as plaintext.
var ErrWrongPrefix = errors.New("cipher: prefix mismatch")

// ErrWrongVersion is returned when the header declares a version other than
// 1 or 2.
var ErrWrongVersion = errors.New("cipher: unsupported container version")

// ErrIncomplete is returned when fewer bytes than the minimum header size
// are available.
var ErrIncomplete = errors.New("cipher: incomplete header")

// Header is the decoded container preamble.
type Header struct {
	Version   uint64
	ChunkSize uint64
	KeyID     uint64
	// Consumed is the number of header bytes this decode consumed (HeaderSizeV1
	// or HeaderSizeV2); it does not include the stream_header that follows.
	Consumed int
}

// EncodeHeader concatenates the magic prefix, version (always
// CurrentVersion), chunk size and key id, little-endian, per §4.1.
func EncodeHeader(chunkSize uint64, keyID uint64) []byte {
	buf := make([]byte, HeaderSizeV2)
	n := copy(buf, Prefix)
	binary.LittleEndian.PutUint64(buf[n:], CurrentVersion)
	n += versionSize
	binary.LittleEndian.PutUint64(buf[n:], chunkSize)
	n += chunkSizeSize
	binary.LittleEndian.PutUint64(buf[n:], keyID)
	return buf
}

// DecodeHeader parses a header from the leading bytes of a blob. buf must
// contain at least HeaderSizeV1 bytes, and at least HeaderSizeV2 bytes if the
// declared version is 2 (the caller is responsible for buffering enough
// before calling for v2; see the header prober, which does this lazily).
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSizeV1 {
		return Header{}, ErrIncomplete
	}
	if !bytesEqual(buf[:prefixSize], Prefix) {
		return Header{}, ErrWrongPrefix
	}
	offset := prefixSize
	version := binary.LittleEndian.Uint64(buf[offset : offset+versionSize])
	offset += versionSize
	chunkSize := binary.LittleEndian.Uint64(buf[offset : offset+chunkSizeSize])
	offset += chunkSizeSize

	switch version {
	case LegacyVersion:
		return Header{Version: version, ChunkSize: chunkSize, KeyID: 0, Consumed: HeaderSizeV1}, nil
	case CurrentVersion:
		if len(buf) < HeaderSizeV2 {
			return Header{}, ErrIncomplete
		}
		keyID := binary.LittleEndian.Uint64(buf[offset : offset+keyIDSize])
		return Header{Version: version, ChunkSize: chunkSize, KeyID: keyID, Consumed: HeaderSizeV2}, nil
	default:
		return Header{}, ErrWrongVersion
	}
}

// HeaderSize returns the on-wire header size (excluding the stream_header)
// for a given version.
func HeaderSize(version uint64) int {
	if version == LegacyVersion {
		return HeaderSizeV1
	}
	return HeaderSizeV2
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
