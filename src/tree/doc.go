// Package tree implements the commitment tree: the left-balanced binary tree
// of devices and guardians that defines who can sign on behalf of an
// authority, under which policy, at which epoch.
//
// Leaves and branches live in two dense maps keyed by leaf and node index;
// parents are derived from the LBBT arithmetic in the types package, so the
// arena carries no back-pointers and snapshots are cheap shallow copies.
//
// Every mutation goes through an attested operation: a TreeOp carrying an
// aggregate threshold signature that satisfies the target branch's policy.
// The operation binds to the parent (epoch, root commitment) pair, which is
// the replay protection: an op signed against one state cannot be applied to
// another.
package tree
