// Package frost implements FROST threshold Schnorr signatures over the
// ristretto255 group, as used to attest Halo tree operations.
//
// The authority's signing key is dealt into n shares with threshold t; no
// device ever holds the composite secret. Signing is a two-round protocol:
// witnesses publish nonce commitments, then produce partial signatures bound
// to the full commitment list. Witnesses that keep a pre-published nonce
// commitment cached allow the first round to be skipped (the consensus fast
// path).
//
// Key rotation is two-phase: RotateKeys stages a new epoch and returns the
// per-participant packages, then CommitKeyRotation activates it atomically
// (or RollbackKeyRotation discards it). At most one staged epoch can exist
// per key store.
package frost
