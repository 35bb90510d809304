// Package buffer implements the memory-or-file buffer described in
// SPEC_FULL.md §4.5: a sink that holds a stream in memory up to a threshold,
// spills to a temp file beyond it, and re-emits either by replay.
package buffer

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
)

// MaxInMemorySize is the threshold above which the buffer spills to disk.
const MaxInMemorySize = 10 * 1024 * 1024 // 10 MiB

// Buffer accumulates bytes in memory until MaxInMemorySize is exceeded, then
// spills to a temp file and writes through. It tracks the total length and a
// running SHA-256 of everything appended. Callers must call Close to remove
// any temp file created — Go has no destructors, so this replaces the
// original implementation's Drop.
type Buffer struct {
	dir string

	mem      []byte
	file     *os.File
	spilled  bool
	length   int64
	digest   hash.Hash
	finished bool
}

// New returns an empty Buffer. Spilled temp files, if any are created, are
// opened in dir (the empty string uses the OS default temp directory).
func New(dir string) *Buffer {
	return &Buffer{dir: dir, digest: sha256.New()}
}

// Append adds bytes to the buffer, spilling to a temp file the first time
// the threshold is exceeded.
func (b *Buffer) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	b.digest.Write(p)
	b.length += int64(len(p))

	if !b.spilled && int64(len(b.mem))+int64(len(p)) <= MaxInMemorySize {
		b.mem = append(b.mem, p...)
		return nil
	}

	if !b.spilled {
		f, err := os.CreateTemp(b.dir, "cipherproxy-spill-*")
		if err != nil {
			return fmt.Errorf("buffer: creating temp file: %w", err)
		}
		if len(b.mem) > 0 {
			if _, err := f.Write(b.mem); err != nil {
				f.Close()
				os.Remove(f.Name())
				return fmt.Errorf("buffer: flushing in-memory buffer: %w", err)
			}
		}
		b.mem = nil
		b.file = f
		b.spilled = true
	}

	if _, err := b.file.Write(p); err != nil {
		return fmt.Errorf("buffer: writing to temp file: %w", err)
	}
	return nil
}

// ReadFrom implements io.ReaderFrom by draining r in chunks through Append.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, 64*1024)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if appendErr := b.Append(buf[:n]); appendErr != nil {
				return total, appendErr
			}
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}

// Len returns the total number of bytes appended so far.
func (b *Buffer) Len() int64 {
	return b.length
}

// SHA256 returns the running SHA-256 digest of everything appended so far.
func (b *Buffer) SHA256() [sha256.Size]byte {
	var sum [sha256.Size]byte
	copy(sum[:], b.digest.Sum(nil))
	return sum
}

// Reader rewinds a disk-backed buffer or wraps the in-memory bytes, and
// returns an io.Reader that replays the full content from the beginning.
func (b *Buffer) Reader() (io.Reader, error) {
	if b.spilled {
		if _, err := b.file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("buffer: rewinding temp file: %w", err)
		}
		return b.file, nil
	}
	return &memReader{data: b.mem}, nil
}

// Close removes the temp file, if one was created. Safe to call multiple
// times and on a Buffer that never spilled.
func (b *Buffer) Close() error {
	if b.finished {
		return nil
	}
	b.finished = true
	if b.file == nil {
		return nil
	}
	name := b.file.Name()
	closeErr := b.file.Close()
	removeErr := os.Remove(name)
	if closeErr != nil {
		return fmt.Errorf("buffer: closing temp file: %w", closeErr)
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("buffer: removing temp file: %w", removeErr)
	}
	return nil
}

type memReader struct {
	data []byte
	pos  int
}

func (m *memReader) Read(p []byte) (int, error) {
	if m.pos >= len(m.data) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += n
	return n, nil
}
