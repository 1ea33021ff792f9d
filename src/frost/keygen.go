package frost

import (
	"fmt"
	"io"

	"github.com/cloudflare/circl/group"
)

// KeyPackage is one participant's slice of the group key: the secret share
// evaluated at the participant's index. It is delivered to exactly one
// device and never leaves it.
type KeyPackage struct {
	Index  uint16
	Secret group.Scalar
}

// PublicKeyPackage is the public counterpart of a dealt key: the group
// public key plus each participant's verification share. It is safe to
// replicate everywhere.
type PublicKeyPackage struct {
	Threshold          uint16
	MaxSigners         uint16
	GroupPublicKey     []byte
	VerificationShares map[uint16][]byte
}

// Deal splits a fresh random secret into n shares with threshold t, using
// Shamir sharing over the suite's scalar field. Signer indexes run from 1
// to n. The dealer must be a trusted context (the guardian ceremony or the
// genesis enrolment); it forgets the secret as soon as this returns.
func Deal(rnd io.Reader, t, n uint16) ([]KeyPackage, *PublicKeyPackage, error) {
	if t == 0 || n == 0 || t > n {
		return nil, nil, fmt.Errorf("invalid threshold %d-of-%d", t, n)
	}

	// f(0) is the group secret; a_1..a_{t-1} blind the shares
	coeffs := make([]group.Scalar, t)
	for i := range coeffs {
		coeffs[i] = Suite.RandomNonZeroScalar(rnd)
	}

	pub := &PublicKeyPackage{
		Threshold:          t,
		MaxSigners:         n,
		GroupPublicKey:     marshalElement(Suite.NewElement().MulGen(coeffs[0])),
		VerificationShares: make(map[uint16][]byte, n),
	}

	packages := make([]KeyPackage, 0, n)
	for i := uint16(1); i <= n; i++ {
		share := evalPoly(coeffs, scalarFromIndex(i))
		packages = append(packages, KeyPackage{Index: i, Secret: share})
		pub.VerificationShares[i] = marshalElement(Suite.NewElement().MulGen(share))
	}

	return packages, pub, nil
}

// evalPoly evaluates the polynomial with the given coefficients at x, by
// Horner's rule.
func evalPoly(coeffs []group.Scalar, x group.Scalar) group.Scalar {
	acc := Suite.NewScalar()
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc.Mul(acc, x)
		acc.Add(acc, coeffs[i])
	}
	return acc
}

// lagrangeCoefficient computes the Lagrange interpolation coefficient at
// zero for the signer at the given index, within the participant set.
func lagrangeCoefficient(index uint16, participants []uint16) (group.Scalar, error) {
	num := Suite.NewScalar()
	num.SetUint64(1)
	den := Suite.NewScalar()
	den.SetUint64(1)

	xi := scalarFromIndex(index)
	seen := false
	for _, j := range participants {
		if j == index {
			seen = true
			continue
		}
		xj := scalarFromIndex(j)
		num.Mul(num, xj)
		diff := Suite.NewScalar()
		diff.Sub(xj, xi)
		den.Mul(den, diff)
	}
	if !seen {
		return nil, fmt.Errorf("signer %d not in participant set", index)
	}

	out := Suite.NewScalar()
	out.Inv(den)
	out.Mul(out, num)
	return out, nil
}
