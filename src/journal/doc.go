// Package journal implements the replicated log of attested tree operations
// and the pool of pending intents.
//
// The journal is a join-semilattice CRDT: two replicas merge by taking the
// pairwise union of their ops, intents, tombstones and failure records, with
// a deterministic tie-break for competing ops within an epoch (the op whose
// content hash is lexicographically greatest wins). Merge is idempotent,
// commutative and associative, so replicas converge regardless of delivery
// order, duplication or grouping.
//
// Compaction retracts history below a snapshot, replacing it with a single
// synthetic snapshot fence op. Compaction is a semilattice morphism:
// compacting before or after a merge yields the same journal.
package journal
