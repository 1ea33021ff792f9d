package types

import (
	"encoding/binary"
	"strconv"
)

// Epoch is the monotonic counter of tree state versions. Every structural
// change or key rotation advances it by one; it never goes backwards.
type Epoch uint64

// Next returns the following epoch.
func (e Epoch) Next() Epoch { return e + 1 }

// Bytes returns the 8-byte little-endian encoding used in binding messages
// and journal frames.
func (e Epoch) Bytes() []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(e))
	return b[:]
}

// String implements fmt.Stringer.
func (e Epoch) String() string { return strconv.FormatUint(uint64(e), 10) }

// EpochFromBytes decodes an 8-byte little-endian epoch.
func EpochFromBytes(b []byte) Epoch {
	return Epoch(binary.LittleEndian.Uint64(b))
}
