package recovery

import (
	"time"

	"github.com/halonetworks/halo/src/frost"
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// CeremonyStatus is the lifecycle state of a recovery ceremony.
type CeremonyStatus uint8

const (
	// CeremonyOpen means the ceremony is collecting approvals or waiting
	// out its dispute window.
	CeremonyOpen CeremonyStatus = iota
	// CeremonyFinalized is terminal: the window closed with enough
	// approvals and the key rotation was committed.
	CeremonyFinalized
	// CeremonyDisputed is terminal: a guardian objected inside the window.
	CeremonyDisputed
	// CeremonyExpired is terminal: the window closed without enough
	// approvals.
	CeremonyExpired
)

// String implements fmt.Stringer.
func (s CeremonyStatus) String() string {
	switch s {
	case CeremonyOpen:
		return "Open"
	case CeremonyFinalized:
		return "Finalized"
	case CeremonyDisputed:
		return "Disputed"
	case CeremonyExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status is final.
func (s CeremonyStatus) Terminal() bool { return s != CeremonyOpen }

// Dispute records a guardian's objection.
type Dispute struct {
	By     types.LeafID `json:"by"`
	Reason string       `json:"reason"`
	At     time.Time    `json:"at"`
}

// Ceremony is one recovery attempt. Approvals and the dispute are keyed by
// guardian leaf, so a guardian approving twice still counts once.
type Ceremony struct {
	CeremonyID types.CeremonyID  `json:"ceremony_id"`
	Authority  types.AuthorityID `json:"authority"`
	Initiator  types.LeafID      `json:"initiator"`

	// Op is the tree operation recovery will enact once finalized,
	// typically replacing the lost device's leaf.
	Op tree.Op `json:"op"`

	Threshold     uint16        `json:"threshold"`
	GuardianCount uint16        `json:"guardian_count"`
	DisputeWindow time.Duration `json:"dispute_window"`
	StartedAt     time.Time     `json:"started_at"`

	// NewEpoch is the epoch the staged key rotation activates at.
	NewEpoch types.Epoch `json:"new_epoch"`

	// dealt key material, retained until finalization delivers it
	packages []frost.KeyPackage
	groupKey []byte

	status       CeremonyStatus
	approvals    map[types.LeafID]time.Time
	dispute      *Dispute
	errorMessage string
	decidedAt    time.Time
}

// Status returns the ceremony's current status.
func (c *Ceremony) Status() CeremonyStatus { return c.status }

// Approvals returns how many distinct guardians approved.
func (c *Ceremony) Approvals() int { return len(c.approvals) }

// Dispute returns the recorded dispute, if any.
func (c *Ceremony) Dispute() *Dispute { return c.dispute }

// ErrorMessage returns why the ceremony failed, empty otherwise.
func (c *Ceremony) ErrorMessage() string { return c.errorMessage }

// NewGroupKey returns the group public key the ceremony's rotation installs.
func (c *Ceremony) NewGroupKey() []byte { return c.groupKey }

// KeyPackage returns the dealt key package for a signer index. Finalization
// installs the local one; the rest are delivered to the surviving
// participants over their secure channels.
func (c *Ceremony) KeyPackage(index uint16) (*frost.KeyPackage, bool) {
	for i := range c.packages {
		if c.packages[i].Index == index {
			return &c.packages[i], true
		}
	}
	return nil, false
}

// WindowClosesAt returns when the dispute window elapses.
func (c *Ceremony) WindowClosesAt() time.Time { return c.StartedAt.Add(c.DisputeWindow) }

// Finalizable reports whether the ceremony can finalize at the given
// instant: enough approvals, window fully elapsed, no dispute.
func (c *Ceremony) Finalizable(now time.Time) bool {
	return c.status == CeremonyOpen &&
		uint16(len(c.approvals)) >= c.Threshold &&
		!now.Before(c.WindowClosesAt())
}
