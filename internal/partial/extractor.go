// Package partial implements the range-extraction stream adapter used to
// serve HTTP Range requests over a decrypted plaintext stream.
package partial

import (
	"fmt"
	"io"
)

// Extractor wraps an inner io.Reader carrying L_p bytes of plaintext and
// emits only the inclusive byte range [start, end], per the component table
// in SPEC_FULL.md. It implements io.Reader.
type Extractor struct {
	inner    io.Reader
	start    int64
	end      int64
	position int64
	done     bool
}

// New returns an Extractor over inner that yields bytes [start, end]
// (inclusive) of the sequence inner would otherwise produce in full. The
// caller is responsible for ensuring 0 <= start <= end.
func New(inner io.Reader, start, end int64) (*Extractor, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("partial: invalid range [%d,%d]", start, end)
	}
	return &Extractor{inner: inner, start: start, end: end}, nil
}

// Len returns the number of bytes this extraction will yield.
func (e *Extractor) Len() int64 {
	return e.end - e.start + 1
}

// Read implements io.Reader.
func (e *Extractor) Read(p []byte) (int, error) {
	if e.done {
		return 0, io.EOF
	}

	buf := make([]byte, len(p))
	for {
		n, err := e.inner.Read(buf)
		if n > 0 {
			chunkStart := e.position
			chunkEnd := e.position + int64(n) - 1
			e.position += int64(n)

			if chunkEnd < e.start {
				// Entirely before the requested range: skip it.
				if err != nil {
					return e.finish(0, err)
				}
				continue
			}
			if chunkStart > e.end {
				// Past the requested range: nothing more to emit.
				return e.finish(0, io.EOF)
			}

			loOffset := int64(0)
			if chunkStart < e.start {
				loOffset = e.start - chunkStart
			}
			hiOffset := int64(n)
			if chunkEnd > e.end {
				hiOffset = e.end - chunkStart + 1
			}

			copied := copy(p, buf[loOffset:hiOffset])
			if e.position > e.end {
				e.done = true
				return copied, nil
			}
			if err != nil {
				return e.finish(copied, err)
			}
			return copied, nil
		}
		if err != nil {
			return e.finish(0, err)
		}
	}
}

func (e *Extractor) finish(n int, err error) (int, error) {
	e.done = true
	if err == io.EOF {
		return n, io.EOF
	}
	return n, err
}
