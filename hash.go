package pict

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

// Hash is the sha256 hash of an upload's original bytes.
// It is the deduplication key for stored content.
type Hash [sha256.Size]byte

// Zero is the zero value of a Hash.
var Zero Hash

// HashBytes computes the Hash of b.
func HashBytes(b []byte) Hash {
	return sha256.Sum256(b)
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return append([]byte(nil), h[:]...)
}

func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

func (h Hash) IsZero() bool {
	return h == Zero
}

// HashFromBytes parses a Hash from its binary form.
func HashFromBytes(b []byte) (Hash, error) {
	var out Hash
	if len(b) != len(out) {
		return Zero, errors.Wrapf(ErrMalformed, "hash has length %d, want %d", len(b), len(out))
	}
	copy(out[:], b)
	return out, nil
}

// HashFromHex parses a Hash from its hex encoding.
func HashFromHex(s string) (Hash, error) {
	if len(s) != 2*sha256.Size {
		return Zero, errors.Wrapf(ErrMalformed, "hex hash has length %d", len(s))
	}
	var out Hash
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return Zero, errors.Wrapf(ErrMalformed, "decoding hex hash: %s", err)
	}
	return out, nil
}
