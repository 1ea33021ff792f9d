package frost

import (
	"fmt"

	"github.com/cloudflare/circl/group"
)

// Suite fixes the prime-order group and the domain-separation tags of the
// protocol. All Halo authorities use ristretto255.
var Suite = group.Ristretto255

const (
	dstRho       = "HALO-FROST-rho-v1"
	dstChallenge = "HALO-FROST-chal-v1"
)

// ScalarBytes is the length of a serialised scalar.
const ScalarBytes = 32

// ElementBytes is the length of a serialised group element.
const ElementBytes = 32

// SignatureBytes is the length of an aggregate signature: R || z.
const SignatureBytes = ElementBytes + ScalarBytes

func marshalElement(e group.Element) []byte {
	b, err := e.MarshalBinaryCompress()
	if err != nil {
		// ristretto255 marshalling of a valid element cannot fail
		panic(err)
	}
	return b
}

func marshalScalar(s group.Scalar) []byte {
	b, err := s.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}

func parseElement(b []byte) (group.Element, error) {
	e := Suite.NewElement()
	if err := e.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("invalid group element: %v", err)
	}
	return e, nil
}

func parseScalar(b []byte) (group.Scalar, error) {
	s := Suite.NewScalar()
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("invalid scalar: %v", err)
	}
	return s, nil
}

// scalarFromIndex maps a signer index to the field element it evaluates the
// sharing polynomial at. Index 0 is reserved for the secret itself.
func scalarFromIndex(index uint16) group.Scalar {
	s := Suite.NewScalar()
	s.SetUint64(uint64(index))
	return s
}
