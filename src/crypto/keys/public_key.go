package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/hex"

	"github.com/halonetworks/halo/src/types"
)

// ToPublicKey is a wrapper around elliptic.Unmarshal on the secp256k1 curve.
// The argument pub is expected to be the uncompressed form of a point on the
// curve, as returned by FromPublicKey.
func ToPublicKey(pub []byte) *ecdsa.PublicKey {
	if len(pub) == 0 {
		return nil
	}
	x, y := elliptic.Unmarshal(Curve(), pub)
	return &ecdsa.PublicKey{Curve: Curve(), X: x, Y: y}
}

// FromPublicKey is a wrapper around elliptic.Marshal on the secp256k1 curve.
// It outputs the point in uncompressed form.
func FromPublicKey(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return elliptic.Marshal(Curve(), pub.X, pub.Y)
}

// DeviceID derives the content-addressed device identifier from the
// uncompressed public key bytes.
func DeviceID(pubBytes []byte) types.DeviceID {
	return types.NewDeviceID(pubBytes)
}

// PublicKeyHex returns the hexadecimal representation of the uncompressed
// form of the public key, 0X-prefixed.
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return "0X" + hex.EncodeToString(FromPublicKey(pub))
}
