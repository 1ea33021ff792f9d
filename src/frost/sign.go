package frost

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cloudflare/circl/group"
)

// Commitment is a witness's public nonce commitment for one signing round:
// a hiding and a binding element.
type Commitment struct {
	Index   uint16
	Hiding  []byte
	Binding []byte
}

// SignShare is a witness's partial signature over a message, bound to the
// full commitment list of the round.
type SignShare struct {
	Index uint16
	Zi    []byte
}

// SortCommitments orders a commitment list by signer index. The transcript,
// the binding factors and the aggregation are all computed over this order,
// which makes the protocol insensitive to network arrival order.
func SortCommitments(commitments []Commitment) []Commitment {
	return sortCommitments(commitments)
}

func sortCommitments(commitments []Commitment) []Commitment {
	out := make([]Commitment, len(commitments))
	copy(out, commitments)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// transcript serialises the commitment list and message into the byte string
// both rho and the challenge are derived from.
func transcript(msg []byte, commitments []Commitment) []byte {
	var buf []byte
	var idx [2]byte
	for _, c := range commitments {
		binary.LittleEndian.PutUint16(idx[:], c.Index)
		buf = append(buf, idx[:]...)
		buf = append(buf, c.Hiding...)
		buf = append(buf, c.Binding...)
	}
	buf = append(buf, msg...)
	return buf
}

// bindingFactor derives the per-signer binding factor rho_i.
func bindingFactor(index uint16, msg []byte, commitments []Commitment) group.Scalar {
	var idx [2]byte
	binary.LittleEndian.PutUint16(idx[:], index)
	input := append(idx[:], transcript(msg, commitments)...)
	return Suite.HashToScalar(input, []byte(dstRho))
}

// groupCommitment folds the commitment list into the round's R value.
func groupCommitment(msg []byte, commitments []Commitment) (group.Element, error) {
	r := Suite.Identity()
	for _, c := range commitments {
		hiding, err := parseElement(c.Hiding)
		if err != nil {
			return nil, err
		}
		binding, err := parseElement(c.Binding)
		if err != nil {
			return nil, err
		}
		rho := bindingFactor(c.Index, msg, commitments)
		term := Suite.NewElement().Mul(binding, rho)
		term.Add(term, hiding)
		r.Add(r, term)
	}
	return r, nil
}

// challenge derives the Schnorr challenge c = H2(R || PK || msg).
func challenge(r group.Element, groupKey []byte, msg []byte) group.Scalar {
	input := append(marshalElement(r), groupKey...)
	input = append(input, msg...)
	return Suite.HashToScalar(input, []byte(dstChallenge))
}

// Sign produces this witness's partial signature for msg, given its key
// package, the nonce it committed with, and the full sorted commitment list
// of the round. The nonce must be the one matching the witness's entry in
// the commitment list; reusing a nonce across rounds is fatal to the key,
// which is why nonce handout is one-shot (see NonceSlot).
func Sign(pkg KeyPackage, nonce *Nonce, msg []byte, commitments []Commitment, pub *PublicKeyPackage) (SignShare, error) {
	commitments = sortCommitments(commitments)

	participants := make([]uint16, 0, len(commitments))
	found := false
	for _, c := range commitments {
		participants = append(participants, c.Index)
		if c.Index == pkg.Index {
			found = true
		}
	}
	if !found {
		return SignShare{}, fmt.Errorf("own index %d missing from commitment list", pkg.Index)
	}

	r, err := groupCommitment(msg, commitments)
	if err != nil {
		return SignShare{}, err
	}

	lambda, err := lagrangeCoefficient(pkg.Index, participants)
	if err != nil {
		return SignShare{}, err
	}

	rho := bindingFactor(pkg.Index, msg, commitments)
	c := challenge(r, pub.GroupPublicKey, msg)

	// z_i = d_i + e_i*rho_i + lambda_i*s_i*c
	zi := Suite.NewScalar()
	zi.Mul(nonce.binding, rho)
	zi.Add(zi, nonce.hiding)
	term := Suite.NewScalar()
	term.Mul(lambda, pkg.Secret)
	term.Mul(term, c)
	zi.Add(zi, term)

	return SignShare{Index: pkg.Index, Zi: marshalScalar(zi)}, nil
}

// VerifyShare checks a single partial signature against the witness's
// verification share. Used by the aggregator to attribute failures to a
// specific witness rather than discovering them after aggregation.
func VerifyShare(share SignShare, msg []byte, commitments []Commitment, pub *PublicKeyPackage) error {
	commitments = sortCommitments(commitments)

	var own *Commitment
	participants := make([]uint16, 0, len(commitments))
	for i, c := range commitments {
		participants = append(participants, c.Index)
		if c.Index == share.Index {
			own = &commitments[i]
		}
	}
	if own == nil {
		return fmt.Errorf("no commitment for signer %d", share.Index)
	}

	verShareBytes, ok := pub.VerificationShares[share.Index]
	if !ok {
		return fmt.Errorf("no verification share for signer %d", share.Index)
	}
	verShare, err := parseElement(verShareBytes)
	if err != nil {
		return err
	}

	zi, err := parseScalar(share.Zi)
	if err != nil {
		return err
	}
	hiding, err := parseElement(own.Hiding)
	if err != nil {
		return err
	}
	binding, err := parseElement(own.Binding)
	if err != nil {
		return err
	}

	r, err := groupCommitment(msg, commitments)
	if err != nil {
		return err
	}

	lambda, err := lagrangeCoefficient(share.Index, participants)
	if err != nil {
		return err
	}
	rho := bindingFactor(share.Index, msg, commitments)
	c := challenge(r, pub.GroupPublicKey, msg)

	// g^z_i == D_i * E_i^rho_i * Y_i^(c*lambda_i)
	lhs := Suite.NewElement().MulGen(zi)

	rhs := Suite.NewElement().Mul(binding, rho)
	rhs.Add(rhs, hiding)
	cl := Suite.NewScalar()
	cl.Mul(c, lambda)
	rhs.Add(rhs, Suite.NewElement().Mul(verShare, cl))

	if !lhs.IsEqual(rhs) {
		return fmt.Errorf("partial signature of signer %d does not verify", share.Index)
	}
	return nil
}

// Aggregate verifies each partial signature and folds them into the final
// 64-byte signature R || z. The result is deterministic for a given set of
// commitments and shares, whatever order they arrived in.
func Aggregate(msg []byte, commitments []Commitment, shares []SignShare, pub *PublicKeyPackage) ([]byte, error) {
	if len(shares) < int(pub.Threshold) {
		return nil, fmt.Errorf("have %d shares, need %d", len(shares), pub.Threshold)
	}
	commitments = sortCommitments(commitments)

	z := Suite.NewScalar()
	for _, share := range shares {
		if err := VerifyShare(share, msg, commitments, pub); err != nil {
			return nil, err
		}
		zi, err := parseScalar(share.Zi)
		if err != nil {
			return nil, err
		}
		z.Add(z, zi)
	}

	r, err := groupCommitment(msg, commitments)
	if err != nil {
		return nil, err
	}

	sig := make([]byte, 0, SignatureBytes)
	sig = append(sig, marshalElement(r)...)
	sig = append(sig, marshalScalar(z)...)
	return sig, nil
}

// Verify checks an aggregate signature R || z over msg under the group
// public key: g^z == R * PK^c.
func Verify(groupKey []byte, msg []byte, sig []byte) bool {
	if len(sig) != SignatureBytes {
		return false
	}
	r, err := parseElement(sig[:ElementBytes])
	if err != nil {
		return false
	}
	z, err := parseScalar(sig[ElementBytes:])
	if err != nil {
		return false
	}
	pk, err := parseElement(groupKey)
	if err != nil {
		return false
	}

	c := challenge(r, groupKey, msg)

	lhs := Suite.NewElement().MulGen(z)
	rhs := Suite.NewElement().Mul(pk, c)
	rhs.Add(rhs, r)

	return lhs.IsEqual(rhs)
}
