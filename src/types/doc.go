// Package types defines the identifier and hash types shared by every Halo
// subsystem, and the left-balanced binary tree (LBBT) index arithmetic that
// the commitment tree is built on.
//
// Identifiers are opaque fixed-size byte arrays with a total order. Most are
// content-addressed: they are derived from a BLAKE3 digest of the content
// they identify, so two replicas computing an identifier for the same content
// always agree.
package types
