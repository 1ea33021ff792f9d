// Package crypto wraps the hash primitives used throughout Halo. All content
// addressing, commitments and binding messages use BLAKE3.
package crypto

import (
	"lukechampine.com/blake3"

	"github.com/halonetworks/halo/src/types"
)

// Blake3 returns the 32-byte BLAKE3 digest of data.
func Blake3(data []byte) types.Hash32 {
	return types.Hash32(blake3.Sum256(data))
}

// Blake3Concat hashes the concatenation of the chunks, with no separators.
// Binding messages are specified as concatenations, so the chunk boundaries
// themselves must already be unambiguous.
func Blake3Concat(chunks ...[]byte) types.Hash32 {
	return types.NewHash32(chunks...)
}

// KeyedMAC returns a 32-byte keyed BLAKE3 MAC over data. Used by the guard
// chain for capability token attenuation.
func KeyedMAC(key types.Hash32, data []byte) types.Hash32 {
	h := blake3.New(32, key[:])
	h.Write(data)
	var out types.Hash32
	copy(out[:], h.Sum(nil))
	return out
}

// DeriveKey derives a subkey for the given context string, per the BLAKE3
// key-derivation mode.
func DeriveKey(context string, material []byte) types.Hash32 {
	var out types.Hash32
	blake3.DeriveKey(out[:], context, material)
	return out
}
