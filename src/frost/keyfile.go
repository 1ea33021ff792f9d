package frost

import (
	"encoding/json"
	"os"

	"github.com/halonetworks/halo/src/types"
)

// ShareFile is the on-disk form of one device's threshold key material: the
// group's public package, replicated on every device, plus this device's
// secret share. It is written once at enrolment and replaced on every
// committed key rotation.
type ShareFile struct {
	Epoch              types.Epoch       `json:"epoch"`
	Threshold          uint16            `json:"threshold"`
	MaxSigners         uint16            `json:"max_signers"`
	GroupPublicKey     []byte            `json:"group_public_key"`
	VerificationShares map[uint16][]byte `json:"verification_shares"`
	Index              uint16            `json:"index"`
	Secret             []byte            `json:"secret"`
}

// NewShareFile packages key material for writing.
func NewShareFile(epoch types.Epoch, pub *PublicKeyPackage, local *KeyPackage) *ShareFile {
	return &ShareFile{
		Epoch:              epoch,
		Threshold:          pub.Threshold,
		MaxSigners:         pub.MaxSigners,
		GroupPublicKey:     pub.GroupPublicKey,
		VerificationShares: pub.VerificationShares,
		Index:              local.Index,
		Secret:             marshalScalar(local.Secret),
	}
}

// KeyStore reconstitutes a KeyStore from the file's contents.
func (f *ShareFile) KeyStore() (*KeyStore, error) {
	secret, err := parseScalar(f.Secret)
	if err != nil {
		return nil, err
	}

	pub := &PublicKeyPackage{
		Threshold:          f.Threshold,
		MaxSigners:         f.MaxSigners,
		GroupPublicKey:     f.GroupPublicKey,
		VerificationShares: f.VerificationShares,
	}

	local := &KeyPackage{
		Index:  f.Index,
		Secret: secret,
	}

	return NewKeyStore(f.Epoch, pub, local), nil
}

// ReadShareFile loads a share file from disk.
func ReadShareFile(path string) (*ShareFile, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f ShareFile
	if err := json.Unmarshal(buf, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// WriteShareFile writes a share file to disk, readable by owner only since
// it holds the secret share.
func WriteShareFile(path string, f *ShareFile) error {
	buf, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0600)
}
