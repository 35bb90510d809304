package cipher

import (
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // used as a content digest for ETag, not for security
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrAuthFailed is returned when a frame fails AEAD authentication: a
// tampered byte, a reordered frame, or a frame encrypted under a different
// key/stream_header.
var ErrAuthFailed = errors.New("cipher: frame authentication failed")

// ErrTruncated is returned when the ciphertext stream ends in the middle of
// the stream_header or mid-frame, shorter than any valid frame.
var ErrTruncated = errors.New("cipher: ciphertext stream truncated")

// Encoder wraps a plaintext io.Reader `U` and emits (header ‖ stream_header)
// followed by a sequence of AEAD frames, per §4.2. It implements io.Reader.
// The zero value is not usable; construct with NewEncoder.
type Encoder struct {
	source    io.Reader
	aead      cipher.AEAD
	chunkSize uint64
	keyID     uint64

	baseNonce [StreamHeaderSize]byte
	counter   uint64

	buf         []byte
	sourceDone  bool
	headerSent  bool
	finished    bool
	out         []byte
	md5         hashWriter
	sawAnything bool
}

type hashWriter interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

// NewEncoder derives an AEAD from key (32 bytes) and returns an Encoder that
// reads plaintext from source in chunks of chunkSize bytes.
func NewEncoder(source io.Reader, key []byte, keyID uint64, chunkSize uint64) (*Encoder, error) {
	if chunkSize == 0 {
		return nil, fmt.Errorf("cipher: chunk size must be positive")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to initialize AEAD: %w", err)
	}
	e := &Encoder{
		source:    source,
		aead:      aead,
		chunkSize: chunkSize,
		keyID:     keyID,
		md5:       md5.New(), //nolint:gosec
	}
	if _, err := rand.Read(e.baseNonce[:]); err != nil {
		return nil, fmt.Errorf("cipher: failed to generate stream header: %w", err)
	}
	return e, nil
}

// MD5 returns the running MD5 digest of the plaintext consumed so far. Call
// only after the source has been fully drained (io.EOF observed).
func (e *Encoder) MD5() [md5.Size]byte {
	var sum [md5.Size]byte
	copy(sum[:], e.md5.Sum(nil))
	return sum
}

// Read implements io.Reader.
func (e *Encoder) Read(p []byte) (int, error) {
	for len(e.out) == 0 {
		if e.finished {
			return 0, io.EOF
		}
		if err := e.produceNext(); err != nil {
			return 0, err
		}
	}
	n := copy(p, e.out)
	e.out = e.out[n:]
	return n, nil
}

func (e *Encoder) produceNext() error {
	frame, finalFlag, empty, err := e.nextChunk()
	if err != nil {
		return err
	}
	if empty {
		e.finished = true
		return nil
	}
	if !e.headerSent {
		e.headerSent = true
		e.out = append(e.out, EncodeHeader(e.chunkSize, e.keyID)...)
		e.out = append(e.out, e.baseNonce[:]...)
	}
	e.md5.Write(frame)
	sealed := e.sealFrame(frame, finalFlag)
	e.out = append(e.out, sealed...)
	if finalFlag {
		e.finished = true
	}
	return nil
}

// nextChunk returns the next plaintext chunk to seal, whether it is the
// final frame, and whether there was nothing left to produce at all (empty
// input, never emitted anything).
func (e *Encoder) nextChunk() ([]byte, bool, bool, error) {
	for {
		if uint64(len(e.buf)) > e.chunkSize {
			chunk := e.buf[:e.chunkSize]
			e.buf = e.buf[e.chunkSize:]
			return chunk, false, false, nil
		}
		if e.sourceDone {
			if len(e.buf) == 0 {
				return nil, false, true, nil
			}
			chunk := e.buf
			e.buf = nil
			return chunk, true, false, nil
		}
		tmp := make([]byte, e.chunkSize)
		n, err := e.source.Read(tmp)
		if n > 0 {
			e.buf = append(e.buf, tmp[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				e.sourceDone = true
				continue
			}
			return nil, false, false, fmt.Errorf("cipher: reading plaintext source: %w", err)
		}
	}
}

func (e *Encoder) sealFrame(plaintext []byte, final bool) []byte {
	nonce := deriveNonce(e.baseNonce, e.counter)
	aad := frameAAD(e.counter, final)
	e.counter++
	return e.aead.Seal(nil, nonce[:], plaintext, aad)
}

// Decoder wraps a ciphertext io.Reader positioned immediately after the
// container header has been classified by the prober, and reads the
// stream_header from it before producing plaintext. It implements io.Reader.
type Decoder struct {
	source    io.Reader
	aead      cipher.AEAD
	chunkSize uint64

	baseNonce [StreamHeaderSize]byte
	counter   uint64

	buf        []byte
	sourceDone bool
	finished   bool
	out        []byte
}

// NewDecoder reads the stream_header (blocking) and returns a Decoder that
// will decrypt frames from source using key.
func NewDecoder(source io.Reader, key []byte, chunkSize uint64) (*Decoder, error) {
	if chunkSize == 0 {
		return nil, fmt.Errorf("cipher: chunk size must be positive")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to initialize AEAD: %w", err)
	}
	d := &Decoder{source: source, aead: aead, chunkSize: chunkSize}
	if _, err := io.ReadFull(source, d.baseNonce[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: missing stream header", ErrTruncated)
		}
		return nil, fmt.Errorf("cipher: reading stream header: %w", err)
	}
	return d, nil
}

func (d *Decoder) frameWidth() int {
	return TagSize + int(d.chunkSize)
}

// Read implements io.Reader.
func (d *Decoder) Read(p []byte) (int, error) {
	for len(d.out) == 0 {
		if d.finished {
			return 0, io.EOF
		}
		if err := d.produceNext(); err != nil {
			return 0, err
		}
	}
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}

func (d *Decoder) produceNext() error {
	width := d.frameWidth()
	for {
		if len(d.buf) > width {
			frame := d.buf[:width]
			d.buf = d.buf[width:]
			plain, err := d.openFrame(frame, false)
			if err != nil {
				return err
			}
			d.out = append(d.out, plain...)
			return nil
		}
		if d.sourceDone {
			if len(d.buf) == 0 {
				d.finished = true
				return nil
			}
			if len(d.buf) <= TagSize {
				return fmt.Errorf("%w: final frame shorter than the authentication tag", ErrTruncated)
			}
			frame := d.buf
			d.buf = nil
			plain, err := d.openFrame(frame, true)
			if err != nil {
				return err
			}
			d.out = append(d.out, plain...)
			d.finished = true
			return nil
		}
		tmp := make([]byte, width)
		n, err := d.source.Read(tmp)
		if n > 0 {
			d.buf = append(d.buf, tmp[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				d.sourceDone = true
				continue
			}
			return fmt.Errorf("cipher: reading ciphertext source: %w", err)
		}
	}
}

func (d *Decoder) openFrame(frame []byte, final bool) ([]byte, error) {
	nonce := deriveNonce(d.baseNonce, d.counter)
	aad := frameAAD(d.counter, final)
	d.counter++
	plain, err := d.aead.Open(nil, nonce[:], frame, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plain, nil
}

// deriveNonce XORs the big-endian frame counter into the low 8 bytes of the
// stream_header nonce, the same technique used by the teacher's per-chunk
// ChaCha20-Poly1305 encryptor, generalized to a 24-byte XChaCha20-Poly1305
// nonce.
func deriveNonce(base [StreamHeaderSize]byte, counter uint64) [StreamHeaderSize]byte {
	nonce := base
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], counter)
	for i := 0; i < 8; i++ {
		nonce[StreamHeaderSize-8+i] ^= ctr[i]
	}
	return nonce
}

// frameAAD binds the frame's position and finality into the AEAD additional
// data, so reordering, dropping, or appending frames — and truncating the
// stream before a frame meant to be final — all break authentication.
func frameAAD(counter uint64, final bool) []byte {
	aad := make([]byte, 9)
	binary.BigEndian.PutUint64(aad[:8], counter)
	if final {
		aad[8] = 1
	}
	return aad
}
