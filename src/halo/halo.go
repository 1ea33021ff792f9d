// Package halo assembles and runs a Halo node from a config object: peers,
// journal store, device key, threshold key share, transport, guard chain,
// node and HTTP service.
package halo

import (
	"fmt"
	"time"

	"github.com/halonetworks/halo/src/config"
	"github.com/halonetworks/halo/src/crypto/keys"
	"github.com/halonetworks/halo/src/frost"
	"github.com/halonetworks/halo/src/guard"
	"github.com/halonetworks/halo/src/journal"
	"github.com/halonetworks/halo/src/net"
	"github.com/halonetworks/halo/src/node"
	"github.com/halonetworks/halo/src/peers"
	"github.com/halonetworks/halo/src/scheduler"
	"github.com/halonetworks/halo/src/service"
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// Halo is a struct containing the key parts of a Halo node.
type Halo struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     journal.Store
	Peers     *peers.PeerSet
	KeyStore  *frost.KeyStore
	Service   *service.Service

	signerIndex uint16
}

// NewHalo is a factory method that returns a Halo object.
func NewHalo(config *config.Config) *Halo {
	engine := &Halo{
		Config: config,
	}

	return engine
}

// Init initialises the Halo engine. The device key, the peer roster and the
// threshold key share must already live in the data directory.
func (h *Halo) Init() error {
	if err := h.initPeers(); err != nil {
		h.Config.Logger().WithError(err).Error("halo.go:Init() initPeers")
		return err
	}

	if err := h.initStore(); err != nil {
		h.Config.Logger().WithError(err).Error("halo.go:Init() initStore")
		return err
	}

	if err := h.initTransport(); err != nil {
		h.Config.Logger().WithError(err).Error("halo.go:Init() initTransport")
		return err
	}

	if err := h.initKey(); err != nil {
		h.Config.Logger().WithError(err).Error("halo.go:Init() initKey")
		return err
	}

	if err := h.initKeyStore(); err != nil {
		h.Config.Logger().WithError(err).Error("halo.go:Init() initKeyStore")
		return err
	}

	if err := h.initNode(); err != nil {
		h.Config.Logger().WithError(err).Error("halo.go:Init() initNode")
		return err
	}

	if err := h.initService(); err != nil {
		h.Config.Logger().WithError(err).Error("halo.go:Init() initService")
		return err
	}

	return nil
}

// Run starts the node and the HTTP service.
func (h *Halo) Run() {
	if h.Service != nil && !h.Config.NoService {
		go h.Service.Serve()
	}

	h.Node.Run(true)
}

func (h *Halo) initPeers() error {
	peerStore := peers.NewJSONPeerSet(h.Config.DataDir)

	participants, err := peerStore.PeerSet()
	if err != nil {
		return err
	}

	if participants.Len() < 2 {
		return fmt.Errorf("peers.json should define at least two peers")
	}

	h.Peers = participants

	return nil
}

func (h *Halo) initStore() error {
	if !h.Config.Store {
		h.Store = journal.NewInmemStore(h.Config.CacheSize)

		h.Config.Logger().Debug("Created new in-mem store")
	} else {
		var err error

		h.Config.Logger().WithField("path", h.Config.DatabaseDir).Debug("Opening badger store")

		if h.Config.Bootstrap {
			h.Store, err = journal.LoadBadgerStore(h.Config.CacheSize, h.Config.DatabaseDir)
		} else {
			h.Store, err = journal.NewBadgerStore(h.Config.CacheSize, h.Config.DatabaseDir)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func (h *Halo) initTransport() error {
	transport, err := net.NewTCPTransport(
		h.Config.BindAddr,
		h.Config.AdvertiseAddr,
		h.Config.MaxPool,
		h.Config.TCPTimeout,
		h.Config.TCPTimeout,
		h.Config.Logger(),
	)
	if err != nil {
		return err
	}

	h.Transport = transport

	return nil
}

func (h *Halo) initKey() error {
	if h.Config.Key == nil {
		keyfile := keys.NewSimpleKeyfile(h.Config.Keyfile())

		privKey, err := keyfile.ReadKey()
		if err != nil {
			return fmt.Errorf("no private key under %s: %v", h.Config.Keyfile(), err)
		}

		h.Config.Key = privKey
	}
	return nil
}

func (h *Halo) initKeyStore() error {
	shareFile, err := frost.ReadShareFile(h.Config.ShareFile())
	if err != nil {
		return fmt.Errorf("no threshold key share under %s: %v", h.Config.ShareFile(), err)
	}

	keyStore, err := shareFile.KeyStore()
	if err != nil {
		return err
	}

	h.KeyStore = keyStore
	h.signerIndex = shareFile.Index

	return nil
}

func (h *Halo) initNode() error {
	validator := node.NewValidator(h.Config.Key, h.Config.Moniker)

	if _, ok := h.Peers.ByPubKey[validator.PublicKeyHex()]; !ok {
		return fmt.Errorf("cannot find self pubkey in peers.json")
	}

	// The authority is named after its genesis roster.
	authority := types.NewAuthorityID(h.Peers.Hash().Bytes())

	storage := scheduler.NewRetryStorage(
		scheduler.FileStorage{Dir: h.Config.DataDir},
		scheduler.OSTime{},
		3,
		50*time.Millisecond,
	)
	effects := scheduler.OSEffects(storage)

	chain, err := h.buildGuardChain(effects, types.NewContextID(authority, authority))
	if err != nil {
		return err
	}

	core, err := node.NewCore(
		validator,
		h.Peers,
		authority,
		h.Store,
		h.KeyStore,
		h.signerIndex,
		h.Config.NodeConfig(),
		effects,
		chain,
		h.Config.Logger(),
	)
	if err != nil {
		return err
	}

	// A fresh journal gets the genesis roster; replicas derive the same
	// roster from the same peers.json, so their genesis states agree.
	roster, err := genesisRoster(h.Peers)
	if err != nil {
		return err
	}
	if err := core.Genesis(roster); err != nil {
		return err
	}

	h.Node = node.NewNode(
		h.Config.NodeConfig(),
		core,
		h.Transport,
	)

	return h.Node.Init()
}

// genesisRoster maps the peer set onto founding device leaves, in peers.json
// order so every replica builds the same tree.
func genesisRoster(ps *peers.PeerSet) ([]*tree.Leaf, error) {
	leaves := make([]*tree.Leaf, 0, ps.Len())
	for i, p := range ps.Peers {
		pub, err := p.PubKeyBytes()
		if err != nil {
			return nil, err
		}
		leaf := &tree.Leaf{
			LeafID:     types.NewLeafID(pub),
			LeafIndex:  types.LeafIndex(i),
			Role:       tree.RoleDevice,
			KeyPackage: pub,
		}
		if p.Moniker != "" {
			leaf.Metadata = map[string]string{"moniker": p.Moniker}
		}
		leaves = append(leaves, leaf)
	}
	return leaves, nil
}

// buildGuardChain assembles the send-site guards. The minting secret is
// derived from the device's private key, so tokens are per-device. A root
// token for the authority's gossip context is installed up front; further
// contexts get their tokens installed by the application.
func (h *Halo) buildGuardChain(effects *scheduler.Effects, gossipContext types.ContextID) (*guard.Chain, error) {
	minter := guard.NewMinter(keys.DumpPrivateKey(h.Config.Key))
	auth := guard.NewAuthGuard(minter, effects.Time)

	if err := auth.Install(minter.Mint(guard.Scope{
		Context: gossipContext,
		Privacy: types.PrivacySealed,
	})); err != nil {
		return nil, err
	}

	return guard.NewChain(
		auth,
		guard.NewFlowGuard(guard.DefaultRate, guard.DefaultBurst, effects.Time),
		guard.NewJournalCoupler(h.Config.CacheSize, effects.Time),
		h.Config.Logger(),
	), nil
}

func (h *Halo) initService() error {
	if h.Config.ServiceAddr != "" {
		h.Service = service.NewService(h.Config.ServiceAddr, h.Node, h.Config.Logger())
	}
	return nil
}
