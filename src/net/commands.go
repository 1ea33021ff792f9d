package net

import (
	"github.com/halonetworks/halo/src/consensus"
	"github.com/halonetworks/halo/src/frost"
	"github.com/halonetworks/halo/src/journal"
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// SyncRequest is the pull part of journal gossip: it asks a peer for the
// attested ops above KnownEpoch. The responder answers from its rolling
// window when it can.
type SyncRequest struct {
	FromID     types.DeviceID
	KnownEpoch int
}

// SyncResponse returns the ops a SyncRequest asked for. TooLate is true
// when the requested range fell out of the responder's window, in which
// case the requester falls back to a full merge.
type SyncResponse struct {
	FromID  types.DeviceID
	Ops     []*tree.AttestedOp
	TooLate bool
}

// MergeRequest is the push part of gossip: the full journal map, joined
// into the receiver's replica. This is also the repair path after a
// partition, since a join absorbs arbitrarily divergent histories.
type MergeRequest struct {
	FromID  types.DeviceID
	Journal *journal.Map
}

// MergeResponse reports whether the receiver's journal changed, and carries
// the receiver's map back so a single exchange converges both sides.
type MergeResponse struct {
	FromID  types.DeviceID
	Changed bool
	Journal *journal.Map
}

// NonceRequest is the fallback signing round 1: ask a witness for a fresh
// nonce commitment bound to an instance. A zero CID asks for the witness's
// standing fast-path commitment instead; gossip uses that to keep a quorum
// of cached commitments warm.
type NonceRequest struct {
	FromID types.DeviceID
	CID    types.ConsensusID
}

// NonceResponse carries the witness's fresh commitment.
type NonceResponse struct {
	FromID     types.DeviceID
	Commitment frost.Commitment
}

// ProposeRequest asks a witness to sign: the fast path's only round trip,
// or the fallback's round 2. The full commitment list and the data binding
// are included so the witness signs exactly what everyone else does.
type ProposeRequest struct {
	FromID      types.DeviceID
	CID         types.ConsensusID
	Path        consensus.Path
	Intent      *journal.Intent
	Message     []byte
	Commitments []frost.Commitment
	Binding     consensus.DataBinding
}

// ProposeResponse carries the witness's share proposal.
type ProposeResponse struct {
	FromID   types.DeviceID
	Proposal *consensus.ShareProposal
}

// CeremonyAction enumerates what a guardian RPC does to a ceremony.
type CeremonyAction uint8

const (
	// CeremonyApprove adds the guardian's approval.
	CeremonyApprove CeremonyAction = iota + 1
	// CeremonyDispute kills the ceremony.
	CeremonyDispute
)

// CeremonyRequest carries a guardian's approval or dispute to the
// coordinating node.
type CeremonyRequest struct {
	FromID   types.DeviceID
	Ceremony types.CeremonyID
	Action   CeremonyAction
	Guardian types.LeafID
	Reason   string
}

// CeremonyResponse reports the ceremony's status after the action.
type CeremonyResponse struct {
	FromID    types.DeviceID
	Status    string
	Approvals int
}
