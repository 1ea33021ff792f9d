package frost

import (
	"io"
	"sync"

	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/types"
)

// KeyStore tracks the group key material of one authority across epochs.
// Readers are signature verifiers; the single writer is the rotation
// coordinator, hence the RW lock.
//
// Rotation is two-phase. RotateKeys deals a new key and stages it under the
// new epoch; the staged epoch only becomes active when CommitKeyRotation is
// called, or disappears on RollbackKeyRotation. At most one epoch can be
// staged at a time.
type KeyStore struct {
	mu sync.RWMutex

	active types.Epoch
	pub    map[types.Epoch]*PublicKeyPackage
	local  map[types.Epoch]*KeyPackage

	staged *stagedRotation
}

type stagedRotation struct {
	epoch    types.Epoch
	pub      *PublicKeyPackage
	packages []KeyPackage
}

// NewKeyStore creates a KeyStore with the genesis key material active at the
// given epoch.
func NewKeyStore(epoch types.Epoch, pub *PublicKeyPackage, local *KeyPackage) *KeyStore {
	ks := &KeyStore{
		active: epoch,
		pub:    map[types.Epoch]*PublicKeyPackage{epoch: pub},
		local:  map[types.Epoch]*KeyPackage{},
	}
	if local != nil {
		ks.local[epoch] = local
	}
	return ks
}

// ActiveEpoch returns the epoch of the currently active group key.
func (ks *KeyStore) ActiveEpoch() types.Epoch {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.active
}

// GroupKey returns the active group public key.
func (ks *KeyStore) GroupKey() []byte {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.pub[ks.active].GroupPublicKey
}

// PublicPackage returns the active public key package.
func (ks *KeyStore) PublicPackage() *PublicKeyPackage {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.pub[ks.active]
}

// PublicPackageAt returns the public key package of a given epoch.
func (ks *KeyStore) PublicPackageAt(epoch types.Epoch) (*PublicKeyPackage, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	pub, ok := ks.pub[epoch]
	return pub, ok
}

// LocalShare returns this device's key package at the active epoch.
func (ks *KeyStore) LocalShare() (*KeyPackage, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	pkg, ok := ks.local[ks.active]
	return pkg, ok
}

// SetLocalShare installs this device's key package for an epoch. Called when
// a rotation ceremony delivers the device its new share.
func (ks *KeyStore) SetLocalShare(epoch types.Epoch, pkg *KeyPackage) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.local[epoch] = pkg
}

// RotateKeys deals a fresh t-of-n key and stages it under newEpoch. The
// returned packages must be delivered to the participants over secure
// channels; the public package may be replicated freely. Fails with
// RotationInProgress if another epoch is already staged.
func (ks *KeyStore) RotateKeys(rnd io.Reader, newEpoch types.Epoch, t, n uint16) ([]KeyPackage, *PublicKeyPackage, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.staged != nil {
		return nil, nil, common.NewCodedErr(common.RotationInProgress, "KeyStore", ks.staged.epoch.String())
	}
	if newEpoch <= ks.active {
		return nil, nil, common.NewCodedErr(common.EpochMismatch, "KeyStore", newEpoch.String())
	}

	packages, pub, err := Deal(rnd, t, n)
	if err != nil {
		return nil, nil, err
	}

	ks.staged = &stagedRotation{epoch: newEpoch, pub: pub, packages: packages}
	return packages, pub, nil
}

// CommitKeyRotation atomically activates the staged epoch. Verification
// against older epochs remains possible; new signatures use the new key.
func (ks *KeyStore) CommitKeyRotation(newEpoch types.Epoch) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.staged == nil || ks.staged.epoch != newEpoch {
		return common.NewCodedErr(common.EpochMismatch, "KeyStore", newEpoch.String())
	}

	ks.pub[newEpoch] = ks.staged.pub
	ks.active = newEpoch
	ks.staged = nil
	return nil
}

// RollbackKeyRotation discards the staged epoch.
func (ks *KeyStore) RollbackKeyRotation(newEpoch types.Epoch) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.staged == nil || ks.staged.epoch != newEpoch {
		return common.NewCodedErr(common.EpochMismatch, "KeyStore", newEpoch.String())
	}
	ks.staged = nil
	return nil
}
