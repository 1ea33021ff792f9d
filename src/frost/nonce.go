package frost

import (
	"io"
	"sync"

	"github.com/cloudflare/circl/group"

	"github.com/halonetworks/halo/src/types"
)

// Nonce is a witness's secret nonce pair for one signing round. The public
// commitment is published; the scalars stay on the witness.
type Nonce struct {
	hiding  group.Scalar
	binding group.Scalar

	// Commitment is the public part, safe to gossip ahead of time.
	Commitment Commitment
}

// NewNonce draws a fresh nonce pair for the given signer index.
func NewNonce(rnd io.Reader, index uint16) (*Nonce, error) {
	hiding := Suite.RandomNonZeroScalar(rnd)
	binding := Suite.RandomNonZeroScalar(rnd)

	return &Nonce{
		hiding:  hiding,
		binding: binding,
		Commitment: Commitment{
			Index:   index,
			Hiding:  marshalElement(Suite.NewElement().MulGen(hiding)),
			Binding: marshalElement(Suite.NewElement().MulGen(binding)),
		},
	}, nil
}

// NonceSlot holds a witness's single pre-generated nonce for the next
// signing round. The slot is one-shot: Take consumes the nonce, so it can
// never be used in two rounds. An epoch bump invalidates the slot.
type NonceSlot struct {
	mu       sync.Mutex
	nonce    *Nonce
	cachedAt types.Epoch
}

// Fill generates a fresh nonce, stores it, and returns the commitment for
// gossiping. Any previously cached nonce is discarded.
func (s *NonceSlot) Fill(rnd io.Reader, index uint16, epoch types.Epoch) (Commitment, error) {
	nonce, err := NewNonce(rnd, index)
	if err != nil {
		return Commitment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce = nonce
	s.cachedAt = epoch
	return nonce.Commitment, nil
}

// Take consumes the cached nonce if it is still valid at currentEpoch under
// the given validity window. A stale or empty slot returns false; the caller
// must then fall back to generating a fresh nonce rather than refusing to
// sign.
func (s *NonceSlot) Take(currentEpoch types.Epoch, validityWindow types.Epoch) (*Nonce, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nonce == nil {
		return nil, false
	}
	if currentEpoch-s.cachedAt >= validityWindow {
		return nil, false
	}
	nonce := s.nonce
	s.nonce = nil
	return nonce, true
}

// Invalidate discards the cached nonce. Called on every epoch bump.
func (s *NonceSlot) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce = nil
}

// CachedAt returns the epoch the current nonce was cached at, and whether a
// nonce is cached at all.
func (s *NonceSlot) CachedAt() (types.Epoch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nonce == nil {
		return 0, false
	}
	return s.cachedAt, true
}
