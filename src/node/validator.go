package node

import (
	"crypto/ecdsa"

	"github.com/halonetworks/halo/src/crypto/keys"
	"github.com/halonetworks/halo/src/types"
)

// Validator holds this node's device identity: the long-term ECDSA key that
// names the device, distinct from the threshold signing shares held in the
// frost key store.
type Validator struct {
	Key     *ecdsa.PrivateKey
	Moniker string

	id       types.DeviceID
	pubBytes []byte
	pubHex   string
}

// NewValidator is a factory method for a Validator.
func NewValidator(key *ecdsa.PrivateKey, moniker string) *Validator {
	return &Validator{
		Key:     key,
		Moniker: moniker,
	}
}

// ID returns the validator's device identifier.
func (v *Validator) ID() types.DeviceID {
	if v.id.IsZero() {
		v.id = types.NewDeviceID(v.PublicKeyBytes())
	}
	return v.id
}

// PublicKeyBytes returns the validator's public key as a byte array.
func (v *Validator) PublicKeyBytes() []byte {
	if len(v.pubBytes) == 0 {
		v.pubBytes = keys.FromPublicKey(&v.Key.PublicKey)
	}
	return v.pubBytes
}

// PublicKeyHex returns the validator's public key as a hex string.
func (v *Validator) PublicKeyHex() string {
	if len(v.pubHex) == 0 {
		v.pubHex = keys.PublicKeyHex(&v.Key.PublicKey)
	}
	return v.pubHex
}
