// Package hasher computes the content hash of a byte stream as it passes through.
package hasher

import (
	"crypto/sha256"
	"hash"
	"io"

	"github.com/pkg/errors"

	"github.com/bobg/pict"
)

// ErrIncomplete is returned by Sum when the wrapped reader has not yet reached EOF.
var ErrIncomplete = errors.New("stream not fully consumed")

// Reader is an io.Reader that hashes everything read through it.
// It does no buffering of its own.
type Reader struct {
	r    io.Reader
	h    hash.Hash
	n    int64
	done bool
}

var _ io.Reader = &Reader{}

// New wraps r.
func New(r io.Reader) *Reader {
	return &Reader{r: r, h: sha256.New()}
}

// Read implements io.Reader.
func (r *Reader) Read(buf []byte) (int, error) {
	n, err := r.r.Read(buf)
	if n > 0 {
		r.h.Write(buf[:n])
		r.n += int64(n)
	}
	if err == io.EOF {
		r.done = true
	}
	return n, err
}

// Len is the number of bytes read so far.
func (r *Reader) Len() int64 {
	return r.n
}

// Sum returns the hash of the complete stream.
// It fails with ErrIncomplete until the wrapped reader has returned io.EOF.
func (r *Reader) Sum() (pict.Hash, error) {
	if !r.done {
		return pict.Zero, ErrIncomplete
	}
	var out pict.Hash
	copy(out[:], r.h.Sum(nil))
	return out, nil
}
