package guard

import (
	"encoding/binary"

	"github.com/halonetworks/halo/src/crypto"
	"github.com/halonetworks/halo/src/types"
)

// Scope bounds what a token authorizes. A zero Peer means any peer in the
// context; Expiry 0 means no deadline.
type Scope struct {
	Context types.ContextID    `json:"context"`
	Peer    types.DeviceID     `json:"peer,omitempty"`
	Privacy types.PrivacyLevel `json:"privacy"`
	Expiry  int64              `json:"expiry,omitempty"`
}

func (s Scope) bytes() []byte {
	out := make([]byte, 0, 16+16+1+8)
	out = append(out, s.Context.Bytes()...)
	out = append(out, s.Peer.Bytes()...)
	out = append(out, byte(s.Privacy))
	var e [8]byte
	binary.LittleEndian.PutUint64(e[:], uint64(s.Expiry))
	return append(out, e[:]...)
}

// narrows reports whether s is at most as permissive as parent in every
// dimension.
func (s Scope) narrows(parent Scope) bool {
	if s.Context != parent.Context {
		return false
	}
	if !parent.Peer.IsZero() && s.Peer != parent.Peer {
		return false
	}
	if s.Privacy > parent.Privacy {
		return false
	}
	if parent.Expiry != 0 && (s.Expiry == 0 || s.Expiry > parent.Expiry) {
		return false
	}
	return true
}

// covers reports whether the scope authorizes a concrete send at an
// instant.
func (s Scope) covers(context types.ContextID, peer types.DeviceID, privacy types.PrivacyLevel, now int64) bool {
	if s.Context != context {
		return false
	}
	if !s.Peer.IsZero() && s.Peer != peer {
		return false
	}
	if privacy > s.Privacy {
		return false
	}
	if s.Expiry != 0 && now > s.Expiry {
		return false
	}
	return true
}

// Token is a macaroon-style capability: a root scope, zero or more
// attenuating caveats, and a keyed-hash tag folded over all of them. Anyone
// holding a token can attenuate it offline; only the minter can widen, by
// minting anew.
type Token struct {
	Root    Scope        `json:"root"`
	Caveats []Scope      `json:"caveats,omitempty"`
	Tag     types.Hash32 `json:"tag"`
}

// Attenuate derives a narrower token. The caveat must narrow the token's
// current effective scope.
func (t *Token) Attenuate(caveat Scope) (*Token, bool) {
	if !caveat.narrows(t.Effective()) {
		return nil, false
	}

	child := &Token{
		Root:    t.Root,
		Caveats: append(append([]Scope{}, t.Caveats...), caveat),
		Tag:     crypto.KeyedMAC(t.Tag, caveat.bytes()),
	}
	return child, true
}

// Effective returns the token's scope after all caveats.
func (t *Token) Effective() Scope {
	s := t.Root
	for _, c := range t.Caveats {
		s = c
	}
	return s
}

// Minter mints and verifies tokens from a root secret that never leaves the
// node.
type Minter struct {
	secret types.Hash32
}

// NewMinter derives a minter from the node's root secret material.
func NewMinter(material []byte) *Minter {
	return &Minter{secret: crypto.DeriveKey("HALO_GUARD_MINT", material)}
}

// Mint issues a token for a scope.
func (m *Minter) Mint(scope Scope) *Token {
	return &Token{Root: scope, Tag: crypto.KeyedMAC(m.secret, scope.bytes())}
}

// Verify recomputes the tag fold and checks every caveat narrows what came
// before it.
func (m *Minter) Verify(t *Token) bool {
	tag := crypto.KeyedMAC(m.secret, t.Root.bytes())

	effective := t.Root
	for _, c := range t.Caveats {
		if !c.narrows(effective) {
			return false
		}
		effective = c
		tag = crypto.KeyedMAC(tag, c.bytes())
	}

	return tag == t.Tag
}
