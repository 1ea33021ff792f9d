package consensus

import (
	"bytes"
	"time"

	"github.com/halonetworks/halo/src/frost"
	"github.com/halonetworks/halo/src/journal"
	"github.com/halonetworks/halo/src/types"
)

// DataBinding ties a share to the exact computation it signs off on: the
// instance, the expected result and the tree state the op was evaluated
// against. Shares with a foreign binding are rejected before any
// cryptography runs.
type DataBinding struct {
	CID          types.ConsensusID `json:"cid"`
	ResultID     types.Hash32      `json:"result_id"`
	PrestateHash types.Hash32      `json:"prestate_hash"`
}

// ShareProposal is a witness's signed contribution to an instance.
type ShareProposal struct {
	Witness    types.DeviceID   `json:"witness"`
	Share      frost.SignShare  `json:"share"`
	Commitment frost.Commitment `json:"commitment"`
	Binding    DataBinding      `json:"binding"`
}

// equivalent reports whether two proposals from the same witness say the
// same thing. Anything else is equivocation.
func (p *ShareProposal) equivalent(other *ShareProposal) bool {
	return p.Binding == other.Binding &&
		p.Share.Index == other.Share.Index &&
		bytes.Equal(p.Share.Zi, other.Share.Zi)
}

// Instance is one in-flight signing round over an intent.
type Instance struct {
	CID       types.ConsensusID
	Intent    *journal.Intent
	Initiator types.DeviceID

	// Prestate is the tree root commitment the op was proposed against;
	// ResultID is the binding digest the witnesses sign.
	Prestate types.Hash32
	ResultID types.Hash32
	Message  []byte

	Path      Path
	Threshold uint16
	Deadline  time.Time

	phase       Phase
	commitments map[uint16]frost.Commitment
	proposals   map[types.DeviceID]*ShareProposal

	startedAt time.Time
	decidedAt time.Time
}

// Phase returns the instance's current phase.
func (i *Instance) Phase() Phase { return i.phase }

// DecidedAt returns when the instance reached a terminal phase.
func (i *Instance) DecidedAt() time.Time { return i.decidedAt }

// CommitmentList returns the round's commitments sorted by signer index.
func (i *Instance) CommitmentList() []frost.Commitment {
	out := make([]frost.Commitment, 0, len(i.commitments))
	for _, c := range i.commitments {
		out = append(out, c)
	}
	return frost.SortCommitments(out)
}

// ShareCount returns how many distinct witnesses contributed.
func (i *Instance) ShareCount() int { return len(i.proposals) }

// covered reports whether the round can aggregate: at least threshold shares,
// and one for every listed commitment. The group commitment folds the whole
// list, so an unmatched commitment can never verify.
func (i *Instance) covered() bool {
	if uint16(len(i.proposals)) < i.Threshold {
		return false
	}
	have := make(map[uint16]bool, len(i.proposals))
	for _, p := range i.proposals {
		have[p.Share.Index] = true
	}
	for index := range i.commitments {
		if !have[index] {
			return false
		}
	}
	return true
}

func (i *Instance) shares() []frost.SignShare {
	out := make([]frost.SignShare, 0, len(i.proposals))
	for _, p := range i.proposals {
		out = append(out, p.Share)
	}
	return out
}
