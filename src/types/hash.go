package types

import (
	"bytes"
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Hash32 is a 32-byte BLAKE3 digest.
type Hash32 [32]byte

// NewHash32 hashes the concatenation of the given chunks.
func NewHash32(chunks ...[]byte) Hash32 {
	h := blake3.New(32, nil)
	for _, c := range chunks {
		h.Write(c)
	}
	var out Hash32
	copy(out[:], h.Sum(nil))
	return out
}

// Bytes returns the digest as a slice.
func (h Hash32) Bytes() []byte { return h[:] }

// String returns the full hex encoding.
func (h Hash32) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first 4 bytes in hex, for logs.
func (h Hash32) Short() string { return hex.EncodeToString(h[:4]) }

// IsZero reports whether the digest is all zeroes.
func (h Hash32) IsZero() bool { return h == Hash32{} }

// Less imposes the lexicographic order used for deterministic tie-breaks.
func (h Hash32) Less(other Hash32) bool {
	return bytes.Compare(h[:], other[:]) < 0
}
