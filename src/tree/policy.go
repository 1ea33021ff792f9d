package tree

import (
	"encoding/binary"
	"fmt"

	"github.com/halonetworks/halo/src/crypto"
	"github.com/halonetworks/halo/src/types"
)

// PolicyKind enumerates the branch policy forms.
type PolicyKind uint8

const (
	// PolicyAny accepts a single signer. It is the default for branches
	// created implicitly by tree growth, and the only policy that can be
	// tightened into any other.
	PolicyAny PolicyKind = iota
	// PolicyAll requires every child to sign.
	PolicyAll
	// PolicyThreshold requires K of N signers.
	PolicyThreshold
)

// Policy is a branch's signing policy.
type Policy struct {
	Kind PolicyKind `json:"kind"`
	K    uint32     `json:"k,omitempty"`
	N    uint32     `json:"n,omitempty"`
}

// AnyPolicy returns the Any policy.
func AnyPolicy() Policy { return Policy{Kind: PolicyAny} }

// AllPolicy returns the All policy.
func AllPolicy() Policy { return Policy{Kind: PolicyAll} }

// ThresholdPolicy returns a K-of-N policy.
func ThresholdPolicy(k, n uint32) Policy {
	return Policy{Kind: PolicyThreshold, K: k, N: n}
}

// Validate checks the policy against the number of leaves governed by the
// branch. A threshold policy must name exactly that many participants, with
// K at least 1 and at most N.
func (p Policy) Validate(childCount uint32) error {
	switch p.Kind {
	case PolicyAny, PolicyAll:
		return nil
	case PolicyThreshold:
		if p.K == 0 || p.K > p.N {
			return fmt.Errorf("invalid threshold %d-of-%d", p.K, p.N)
		}
		if p.N != childCount {
			return fmt.Errorf("threshold names %d participants, branch has %d", p.N, childCount)
		}
		return nil
	default:
		return fmt.Errorf("unknown policy kind %d", p.Kind)
	}
}

// RequiredSigners resolves the policy against the current participant count.
func (p Policy) RequiredSigners(childCount uint32) uint32 {
	switch p.Kind {
	case PolicyAny:
		return 1
	case PolicyAll:
		return childCount
	case PolicyThreshold:
		return p.K
	default:
		return childCount
	}
}

// StricterOrEqual reports whether p is at least as restrictive as old. The
// policy lattice only admits tightening: Any can become anything, All can
// become nothing else, and a threshold can only raise its required
// proportion.
func (p Policy) StricterOrEqual(old Policy) bool {
	if p == old {
		return true
	}
	switch old.Kind {
	case PolicyAny:
		return true
	case PolicyAll:
		return false
	case PolicyThreshold:
		switch p.Kind {
		case PolicyAll:
			return true
		case PolicyThreshold:
			// K/N must not drop
			return uint64(p.K)*uint64(old.N) >= uint64(old.K)*uint64(p.N)
		default:
			return false
		}
	}
	return false
}

// Hash returns the policy's contribution to commitments and op
// serialisations.
func (p Policy) Hash() types.Hash32 {
	var buf [9]byte
	buf[0] = byte(p.Kind)
	binary.LittleEndian.PutUint32(buf[1:5], p.K)
	binary.LittleEndian.PutUint32(buf[5:9], p.N)
	return crypto.Blake3Concat([]byte("HALO_POLICY"), buf[:])
}

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p.Kind {
	case PolicyAny:
		return "Any"
	case PolicyAll:
		return "All"
	case PolicyThreshold:
		return fmt.Sprintf("Threshold(%d/%d)", p.K, p.N)
	default:
		return "Unknown"
	}
}
