package node

import (
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/consensus"
	"github.com/halonetworks/halo/src/crypto/keys"
	"github.com/halonetworks/halo/src/frost"
	"github.com/halonetworks/halo/src/guard"
	"github.com/halonetworks/halo/src/journal"
	"github.com/halonetworks/halo/src/net"
	"github.com/halonetworks/halo/src/peers"
	"github.com/halonetworks/halo/src/scheduler"
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// initCluster assembles n nodes over in-memory transports, all members of
// one authority with a dealt 2-of-n threshold key and a common genesis
// roster. The caller shuts the nodes down.
func initCluster(t *testing.T, n int) []*Node {
	return initClusterWithGuards(t, n, nil)
}

func initClusterWithGuards(t *testing.T, n int, buildChain func(i int, effects *scheduler.Effects) *guard.Chain) []*Node {
	packages, pub, err := frost.Deal(rand.Reader, 2, uint16(n))
	if err != nil {
		t.Fatal(err)
	}

	validators := make([]*Validator, n)
	transports := make([]*net.InmemTransport, n)
	peerList := make([]*peers.Peer, n)
	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		validators[i] = NewValidator(key, fmt.Sprintf("node%d", i))

		addr, trans := net.NewInmemTransport("")
		transports[i] = trans
		peerList[i] = peers.NewPeer(validators[i].PublicKeyHex(), addr, validators[i].Moniker)
	}
	for i := range transports {
		for j := range transports {
			if i != j {
				transports[i].Connect(peerList[j].NetAddr, transports[j])
			}
		}
	}

	peerSet := peers.NewPeerSet(peerList)
	authority := types.NewAuthorityID(peerSet.Hash().Bytes())

	roster := make([]*tree.Leaf, n)
	for i, p := range peerList {
		pk, err := p.PubKeyBytes()
		if err != nil {
			t.Fatal(err)
		}
		roster[i] = &tree.Leaf{
			LeafID:     types.NewLeafID(pk),
			LeafIndex:  types.LeafIndex(i),
			Role:       tree.RoleDevice,
			KeyPackage: pk,
			Metadata:   map[string]string{"moniker": p.Moniker},
		}
	}

	nodes := make([]*Node, n)
	for i := 0; i < n; i++ {
		conf := TestConfig(t)
		keyStore := frost.NewKeyStore(0, pub, &packages[i])
		effects := scheduler.OSEffects(scheduler.FileStorage{Dir: t.TempDir()})

		var chain *guard.Chain
		if buildChain != nil {
			chain = buildChain(i, effects)
		}

		core, err := NewCore(
			validators[i],
			peerSet,
			authority,
			journal.NewInmemStore(conf.CacheSize),
			keyStore,
			packages[i].Index,
			conf,
			effects,
			chain,
			common.NewTestEntry(t, logrus.DebugLevel),
		)
		if err != nil {
			t.Fatal(err)
		}
		if err := core.Genesis(roster); err != nil {
			t.Fatal(err)
		}

		nodes[i] = NewNode(conf, core, transports[i])
		if err := nodes[i].Init(); err != nil {
			t.Fatal(err)
		}
	}
	return nodes
}

func shutdownCluster(nodes []*Node) {
	for _, n := range nodes {
		n.Shutdown()
	}
}

// addLeafOp builds the op a new device would join with, against a node's
// current state.
func addLeafOp(n *Node) tree.Op {
	state := n.core.Journal().State()
	keyPackage := []byte("late joiner")
	leaf := &tree.Leaf{
		LeafID:     types.NewLeafID(keyPackage),
		LeafIndex:  types.LeafIndex(state.NumLeaves()),
		Role:       tree.RoleDevice,
		KeyPackage: keyPackage,
	}
	return tree.Op{
		ParentEpoch:      state.Epoch(),
		ParentCommitment: state.RootCommitment(),
		Kind:             tree.AddLeafOp(leaf, types.RootNode(state.NumLeaves())),
		Version:          tree.OpVersion,
	}
}

func TestClusterGenesisAgrees(t *testing.T) {
	nodes := initCluster(t, 3)
	defer shutdownCluster(nodes)

	first := nodes[0].core.Journal().State().RootCommitment()
	for _, n := range nodes[1:] {
		if n.core.Journal().State().RootCommitment() != first {
			t.Fatal("replicas of the same authority should derive the same genesis state")
		}
	}

	// the roster view recomputes on the scheduler's batch clock
	deadline := time.After(5 * time.Second)
	for {
		stats := nodes[0].GetStats()
		if stats["roster_size"] == "3" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("the commitment view should report 3 founding leaves, got %s", stats["roster_size"])
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSignAndConverge(t *testing.T) {
	nodes := initCluster(t, 3)
	defer shutdownCluster(nodes)

	// the initiator serves RPCs but does not gossip: its commitment cache
	// stays below the threshold, which pins the round to the fallback path
	// whose per-instance nonces cannot be invalidated by concurrent gossip
	nodes[0].RunAsync(false)
	for _, n := range nodes[1:] {
		n.RunAsync(true)
	}

	inst, err := nodes[0].Sign(addLeafOp(nodes[0]))
	if err != nil {
		t.Fatal(err)
	}
	if inst.Path != consensus.FallbackPath {
		t.Fatalf("expected the fallback path, got %s", inst.Path)
	}
	if inst.Phase() != consensus.Committed {
		t.Fatalf("the signing round should commit, got %s", inst.Phase())
	}

	want := nodes[0].core.Journal().State().RootCommitment()

	// gossip carries the committed op to every replica
	deadline := time.After(5 * time.Second)
	for _, n := range nodes[1:] {
		for {
			n.coreLock.Lock()
			got := n.core.Journal().State().RootCommitment()
			n.coreLock.Unlock()
			if got == want {
				break
			}
			select {
			case <-deadline:
				t.Fatalf("node %s did not converge", n.core.ID().Short())
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

func TestSuspendedNodeServesReadsOnly(t *testing.T) {
	nodes := initCluster(t, 3)
	defer shutdownCluster(nodes)

	for _, n := range nodes {
		n.RunAsync(false)
	}

	nodes[1].Suspend()
	time.Sleep(50 * time.Millisecond)

	target := nodes[1].GetPeers()[1].NetAddr

	// journal reads still work
	var syncResp net.SyncResponse
	err := nodes[0].trans.Sync(target, &net.SyncRequest{
		FromID:     nodes[0].core.ID(),
		KnownEpoch: nodes[0].core.KnownEpoch(),
	}, &syncResp)
	if err != nil {
		t.Fatal(err)
	}
	if syncResp.FromID != nodes[1].core.ID() {
		t.Fatal("the suspended node should answer sync requests itself")
	}

	// signing requests are refused
	var nonceResp net.NonceResponse
	err = nodes[0].trans.Nonce(target, &net.NonceRequest{FromID: nodes[0].core.ID()}, &nonceResp)
	if err == nil {
		t.Fatal("a suspended node must not hand out nonce commitments")
	}
}

func TestGossipRunsThroughGuardChain(t *testing.T) {
	minters := make([]*guard.Minter, 2)
	chains := make([]*guard.Chain, 2)
	nodes := initClusterWithGuards(t, 2, func(i int, effects *scheduler.Effects) *guard.Chain {
		minters[i] = guard.NewMinter([]byte(fmt.Sprintf("device secret %d", i)))
		chains[i] = guard.NewChain(
			guard.NewAuthGuard(minters[i], effects.Time),
			guard.NewFlowGuard(guard.DefaultRate, guard.DefaultBurst, effects.Time),
			guard.NewJournalCoupler(100, effects.Time),
			common.NewTestEntry(t, logrus.DebugLevel),
		)
		return chains[i]
	})
	defer shutdownCluster(nodes)

	nodes[1].RunAsync(false)

	peer := nodes[0].witnesses()[0]

	// no token installed yet, so the exchange is denied before any send
	err := nodes[0].gossip(peer)
	if !common.IsCoded(err, common.AuthorizationDenied) {
		t.Fatalf("an unauthorized gossip exchange should be denied, got %v", err)
	}

	token := minters[0].Mint(guard.Scope{
		Context: nodes[0].core.GossipContext(),
		Privacy: types.PrivacySealed,
	})
	if err := chains[0].Auth().Install(token); err != nil {
		t.Fatal(err)
	}

	if err := nodes[0].gossip(peer); err != nil {
		t.Fatal(err)
	}

	// one receipt per outbound RPC: the journal pull and the nonce swap
	receipts, err := chains[0].Coupler().Receipts(-1)
	if err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 2 {
		t.Fatalf("the admitted exchange should leave two receipts, got %d", len(receipts))
	}
	for i, r := range receipts {
		if r.Seq != uint64(i) {
			t.Fatalf("receipt %d should carry sequence %d, got %d", i, i, r.Seq)
		}
		if r.Digest.IsZero() {
			t.Fatal("each receipt should commit to the bytes sent")
		}
	}
}

func TestSigningRunsThroughGuardChain(t *testing.T) {
	minters := make([]*guard.Minter, 3)
	chains := make([]*guard.Chain, 3)
	nodes := initClusterWithGuards(t, 3, func(i int, effects *scheduler.Effects) *guard.Chain {
		minters[i] = guard.NewMinter([]byte(fmt.Sprintf("device secret %d", i)))
		chains[i] = guard.NewChain(
			guard.NewAuthGuard(minters[i], effects.Time),
			guard.NewFlowGuard(guard.DefaultRate, guard.DefaultBurst, effects.Time),
			guard.NewJournalCoupler(100, effects.Time),
			common.NewTestEntry(t, logrus.DebugLevel),
		)
		return chains[i]
	})
	defer shutdownCluster(nodes)

	for _, n := range nodes[1:] {
		n.RunAsync(false)
	}

	// without a token every witness request is denied at the boundary, so
	// the round starves instead of signing off the books
	_, err := nodes[0].Sign(addLeafOp(nodes[0]))
	if !common.IsCoded(err, common.InsufficientSigners) {
		t.Fatalf("an unauthorized round should starve, got %v", err)
	}
	if chains[0].Coupler().LastSeq() != 0 {
		t.Fatal("a denied round must not leave receipts")
	}

	token := minters[0].Mint(guard.Scope{
		Context: nodes[0].core.GossipContext(),
		Privacy: types.PrivacySealed,
	})
	if err := chains[0].Auth().Install(token); err != nil {
		t.Fatal(err)
	}

	inst, err := nodes[0].Sign(addLeafOp(nodes[0]))
	if err != nil {
		t.Fatal(err)
	}
	if inst.Phase() != consensus.Committed {
		t.Fatalf("the authorized round should commit, got %s", inst.Phase())
	}
	if chains[0].Coupler().LastSeq() == 0 {
		t.Fatal("every witness exchange should leave a receipt")
	}
}

func TestSignDegradesToFallbackOnStaleCache(t *testing.T) {
	nodes := initCluster(t, 3)
	defer shutdownCluster(nodes)

	for _, n := range nodes {
		n.RunAsync(false)
	}

	// cache every witness's commitment, then spend their one-shot slots
	// behind the initiator's back
	for _, w := range nodes[1:] {
		c, err := w.core.RefreshNonce()
		if err != nil {
			t.Fatal(err)
		}
		nodes[0].core.Consensus().CacheCommitment(w.core.ID(), c)
		w.core.Consensus().InvalidateNonce()
	}

	inst, err := nodes[0].Sign(addLeafOp(nodes[0]))
	if err != nil {
		t.Fatal(err)
	}
	if inst.Path != consensus.FallbackPath {
		t.Fatalf("a starved fast path should re-drive through the fallback, got %s", inst.Path)
	}
	if inst.Phase() != consensus.Committed {
		t.Fatalf("the degraded round should commit, got %s", inst.Phase())
	}
}

func TestSubmitDrivesSigning(t *testing.T) {
	nodes := initCluster(t, 3)
	defer shutdownCluster(nodes)

	nodes[0].RunAsync(false)
	for _, n := range nodes[1:] {
		n.RunAsync(true)
	}

	before := nodes[0].core.Journal().State().NumLeaves()
	nodes[0].Submit(addLeafOp(nodes[0]))

	deadline := time.After(5 * time.Second)
	for {
		nodes[0].coreLock.Lock()
		grown := nodes[0].core.Journal().State().NumLeaves() == before+1
		nodes[0].coreLock.Unlock()
		if grown {
			break
		}
		select {
		case <-deadline:
			t.Fatal("the submitted op should have been signed and applied")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
