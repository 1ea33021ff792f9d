package journal

import (
	"fmt"

	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// FactType enumerates the kinds of facts the journal accepts.
type FactType uint8

const (
	// FactIntent adds a proposal to the intent pool.
	FactIntent FactType = iota + 1
	// FactOp records an attested op at its epoch.
	FactOp
	// FactCommit records the outcome of a committed consensus instance and
	// tombstones its gating intent.
	FactCommit
	// FactFailure records a failed consensus instance and tombstones its
	// gating intent.
	FactFailure
	// FactSnapshot compacts the journal below a snapshot.
	FactSnapshot
)

// String implements fmt.Stringer.
func (t FactType) String() string {
	switch t {
	case FactIntent:
		return "Intent"
	case FactOp:
		return "Op"
	case FactCommit:
		return "Commit"
	case FactFailure:
		return "Failure"
	case FactSnapshot:
		return "Snapshot"
	default:
		return "Unknown"
	}
}

// FailureReason classifies why a consensus instance failed.
type FailureReason uint8

const (
	// FailTimeout means the instance exceeded its deadline.
	FailTimeout FailureReason = iota + 1
	// FailConflict means a competing op won the epoch slot.
	FailConflict
	// FailInsufficientParticipation means too few witnesses responded.
	FailInsufficientParticipation
	// FailEquivocation means a witness signed two contradictory proposals.
	FailEquivocation
	// FailDisputed means a guardian disputed a recovery ceremony inside its
	// window.
	FailDisputed
)

// String implements fmt.Stringer.
func (r FailureReason) String() string {
	switch r {
	case FailTimeout:
		return "Timeout"
	case FailConflict:
		return "Conflict"
	case FailInsufficientParticipation:
		return "InsufficientParticipation"
	case FailEquivocation:
		return "Equivocation"
	case FailDisputed:
		return "Disputed"
	default:
		return "Unknown"
	}
}

// CommitFact is the durable record of a committed consensus instance.
type CommitFact struct {
	CID          types.ConsensusID `json:"cid"`
	ResultID     types.Hash32      `json:"result_id"`
	PrestateHash types.Hash32      `json:"prestate_hash"`
	Signature    []byte            `json:"signature"`
	IntentID     types.IntentID    `json:"intent_id"`
}

// FailureFact is the durable record of a failed consensus instance. For
// equivocation failures Witness names the equivocator.
type FailureFact struct {
	CID      types.ConsensusID `json:"cid"`
	Reason   FailureReason     `json:"reason"`
	Witness  types.DeviceID    `json:"witness,omitempty"`
	Message  string            `json:"message,omitempty"`
	IntentID types.IntentID    `json:"intent_id"`
}

// Fact is the tagged union fed to a journal. Exactly the field matching
// Type is set.
type Fact struct {
	Type     FactType          `json:"type"`
	Intent   *Intent           `json:"intent,omitempty"`
	Op       *tree.AttestedOp  `json:"op,omitempty"`
	Commit   *CommitFact       `json:"commit,omitempty"`
	Failure  *FailureFact      `json:"failure,omitempty"`
	Snapshot *Snapshot         `json:"snapshot,omitempty"`
}

// String implements fmt.Stringer.
func (f Fact) String() string {
	switch f.Type {
	case FactIntent:
		return fmt.Sprintf("Intent(%s)", f.Intent.IntentID.Short())
	case FactOp:
		return fmt.Sprintf("Op(%s)", f.Op.Op.Kind)
	case FactCommit:
		return fmt.Sprintf("Commit(%s)", f.Commit.CID.Short())
	case FactFailure:
		return fmt.Sprintf("Failure(%s, %s)", f.Failure.CID.Short(), f.Failure.Reason)
	case FactSnapshot:
		return fmt.Sprintf("Snapshot(epoch %s)", f.Snapshot.Epoch)
	default:
		return "Unknown"
	}
}

// IntentFact wraps an intent.
func IntentFact(intent *Intent) Fact { return Fact{Type: FactIntent, Intent: intent} }

// OpFact wraps an attested op.
func OpFact(op *tree.AttestedOp) Fact { return Fact{Type: FactOp, Op: op} }

// CommittedFact wraps a commit record.
func CommittedFact(c *CommitFact) Fact { return Fact{Type: FactCommit, Commit: c} }

// FailedFact wraps a failure record.
func FailedFact(f *FailureFact) Fact { return Fact{Type: FactFailure, Failure: f} }

// SnapshotFact wraps a compaction snapshot.
func SnapshotFact(s *Snapshot) Fact { return Fact{Type: FactSnapshot, Snapshot: s} }
