package consensus

import (
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/frost"
	"github.com/halonetworks/halo/src/journal"
	"github.com/halonetworks/halo/src/scheduler"
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// testRing is a single-process cluster of one initiator and two witnesses
// sharing a journal, a dealt 2-of-3 key and a sim clock.
type testRing struct {
	journal  *journal.Journal
	clock    *scheduler.SimClock
	devices  []types.DeviceID
	managers []*Manager
	pub      *frost.PublicKeyPackage
}

func newTestRing(t *testing.T) *testRing {
	packages, pub, err := frost.Deal(rand.Reader, 2, 3)
	if err != nil {
		t.Fatal(err)
	}

	roster := make([]*tree.Leaf, 3)
	for i := range roster {
		keyPackage := []byte(fmt.Sprintf("device key %d", i))
		roster[i] = &tree.Leaf{
			LeafID:     types.NewLeafID(keyPackage),
			LeafIndex:  types.LeafIndex(i),
			Role:       tree.RoleDevice,
			KeyPackage: keyPackage,
		}
	}

	authority := types.NewAuthorityID([]byte("consensus test"))
	j, err := journal.New(authority, journal.NewInmemStore(100), common.NewTestEntry(t, logrus.DebugLevel))
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Genesis(roster, pub.GroupPublicKey); err != nil {
		t.Fatal(err)
	}

	ring := &testRing{
		journal: j,
		clock:   scheduler.NewSimClock(time.Unix(0, 0)),
		pub:     pub,
	}
	for i := range packages {
		device := types.NewDeviceID([]byte(fmt.Sprintf("device %d", i)))
		keys := frost.NewKeyStore(j.State().Epoch(), pub, &packages[i])
		ring.devices = append(ring.devices, device)
		ring.managers = append(ring.managers, NewManager(
			device, packages[i].Index, j, keys, rand.Reader, ring.clock, 0,
			common.NewTestEntry(t, logrus.DebugLevel),
		))
	}
	return ring
}

func (r *testRing) initiator() *Manager { return r.managers[0] }

func (r *testRing) newIntent() *journal.Intent {
	state := r.journal.State()
	keyPackage := []byte("late joiner")
	leaf := &tree.Leaf{
		LeafID:     types.NewLeafID(keyPackage),
		LeafIndex:  types.LeafIndex(state.NumLeaves()),
		Role:       tree.RoleDevice,
		KeyPackage: keyPackage,
	}
	return journal.NewIntent(r.devices[0], tree.Op{
		ParentEpoch:      state.Epoch(),
		ParentCommitment: state.RootCommitment(),
		Kind:             tree.AddLeafOp(leaf, types.RootNode(state.NumLeaves())),
		Version:          tree.OpVersion,
	}, r.clock.Now().Unix())
}

func (r *testRing) binding(inst *Instance) DataBinding {
	return DataBinding{CID: inst.CID, ResultID: inst.ResultID, PrestateHash: inst.Prestate}
}

func TestFastPathCommits(t *testing.T) {
	ring := newTestRing(t)

	// witnesses publish ahead-of-time commitments; the initiator caches them
	for _, w := range ring.managers[1:] {
		c, err := w.PublishCommitment()
		if err != nil {
			t.Fatal(err)
		}
		ring.initiator().CacheCommitment(w.deviceID, c)
	}

	leavesBefore := ring.journal.State().NumLeaves()

	inst, err := ring.initiator().Start(ring.newIntent())
	if err != nil {
		t.Fatal(err)
	}
	if inst.Path != FastPath || inst.Phase() != FastPathActive {
		t.Fatalf("two cached commitments should select the fast path, got %s/%s", inst.Path, inst.Phase())
	}
	if len(ring.journal.PendingIntents()) != 1 {
		t.Fatal("starting an instance should journal the intent")
	}

	// one round trip: each witness signs with its slot nonce
	for _, w := range ring.managers[1:] {
		p, err := w.WitnessSign(inst.CID, FastPath, inst.Message, inst.CommitmentList(), ring.binding(inst))
		if err != nil {
			t.Fatal(err)
		}
		if err := ring.initiator().HandleShare(inst.CID, p); err != nil {
			t.Fatal(err)
		}
	}

	if inst.Phase() != Committed {
		t.Fatalf("the instance should have committed, got %s", inst.Phase())
	}
	if ring.journal.State().NumLeaves() != leavesBefore+1 {
		t.Fatal("the committed op should have grown the roster")
	}
	if len(ring.journal.PendingIntents()) != 0 {
		t.Fatal("the commit should have retired the intent")
	}
}

func TestFastPathWithFullCacheCommits(t *testing.T) {
	ring := newTestRing(t)

	// every device's commitment is cached, the initiator's own included
	for i, m := range ring.managers {
		c, err := m.PublishCommitment()
		if err != nil {
			t.Fatal(err)
		}
		ring.initiator().CacheCommitment(ring.devices[i], c)
	}

	inst, err := ring.initiator().Start(ring.newIntent())
	if err != nil {
		t.Fatal(err)
	}
	if inst.Path != FastPath {
		t.Fatalf("a full cache should select the fast path, got %s", inst.Path)
	}

	// the round runs over exactly threshold commitments, the initiator's
	// own among them so its share counts towards the quorum
	list := inst.CommitmentList()
	if uint16(len(list)) != ring.pub.Threshold {
		t.Fatalf("the round should open over %d commitments, got %d", ring.pub.Threshold, len(list))
	}
	ownListed := false
	for _, c := range list {
		if c.Index == ring.initiator().index {
			ownListed = true
		}
	}
	if !ownListed {
		t.Fatal("the initiator's own commitment should be in the round")
	}
	if len(ring.initiator().cached) != 1 {
		t.Fatal("the unpicked commitment should stay cached for the next round")
	}

	// the initiator's slot nonce signs first, then each listed witness
	p, err := ring.initiator().WitnessSign(inst.CID, FastPath, inst.Message, list, ring.binding(inst))
	if err != nil {
		t.Fatal(err)
	}
	if err := ring.initiator().HandleShare(inst.CID, p); err != nil {
		t.Fatal(err)
	}
	for _, w := range ring.managers[1:] {
		if inst.Phase().Terminal() {
			break
		}
		listed := false
		for _, c := range list {
			if c.Index == w.index {
				listed = true
			}
		}
		if !listed {
			continue
		}
		p, err := w.WitnessSign(inst.CID, FastPath, inst.Message, list, ring.binding(inst))
		if err != nil {
			t.Fatal(err)
		}
		if err := ring.initiator().HandleShare(inst.CID, p); err != nil {
			t.Fatal(err)
		}
	}

	if inst.Phase() != Committed {
		t.Fatalf("the instance should have committed, got %s", inst.Phase())
	}
}

func TestStarvedFastPathDegrades(t *testing.T) {
	ring := newTestRing(t)

	// the witnesses publish commitments, then lose their one-shot slots
	// behind the initiator's back: the cache is now stale
	for i, w := range ring.managers[1:] {
		c, err := w.PublishCommitment()
		if err != nil {
			t.Fatal(err)
		}
		ring.initiator().CacheCommitment(ring.devices[i+1], c)
		w.InvalidateNonce()
	}

	inst, err := ring.initiator().Start(ring.newIntent())
	if err != nil {
		t.Fatal(err)
	}
	if inst.Path != FastPath {
		t.Fatalf("the stale cache still selects the fast path, got %s", inst.Path)
	}

	// every witness refuses: its slot nonce is gone
	for _, w := range ring.managers[1:] {
		_, err := w.WitnessSign(inst.CID, FastPath, inst.Message, inst.CommitmentList(), ring.binding(inst))
		if !common.IsCoded(err, common.KeyNotFound) {
			t.Fatalf("a witness without its slot nonce should refuse, got %v", err)
		}
	}
	if inst.Phase().Terminal() {
		t.Fatal("a starved round must not decide by itself")
	}

	// the initiator re-drives the instance through the fallback rounds
	if err := ring.initiator().Degrade(inst.CID); err != nil {
		t.Fatal(err)
	}
	if inst.Path != FallbackPath || inst.Phase() != FallbackActive {
		t.Fatalf("degrading should reopen the round on the fallback path, got %s/%s", inst.Path, inst.Phase())
	}

	for i, w := range ring.managers[1:] {
		c, err := w.WitnessCommit(inst.CID)
		if err != nil {
			t.Fatal(err)
		}
		if err := ring.initiator().HandleCommitment(inst.CID, ring.devices[i+1], c); err != nil {
			t.Fatal(err)
		}
	}
	for _, w := range ring.managers[1:] {
		p, err := w.WitnessSign(inst.CID, FallbackPath, inst.Message, inst.CommitmentList(), ring.binding(inst))
		if err != nil {
			t.Fatal(err)
		}
		if err := ring.initiator().HandleShare(inst.CID, p); err != nil {
			t.Fatal(err)
		}
	}

	if inst.Phase() != Committed {
		t.Fatalf("the degraded round should commit, got %s", inst.Phase())
	}

	// only a starved fast path degrades
	err = ring.initiator().Degrade(inst.CID)
	if !common.IsCoded(err, common.ValidationFailed) {
		t.Fatalf("a terminal instance must not degrade, got %v", err)
	}
}

func TestFallbackPathCommits(t *testing.T) {
	ring := newTestRing(t)

	// no cached commitments, so Start picks the two-round-trip path
	inst, err := ring.initiator().Start(ring.newIntent())
	if err != nil {
		t.Fatal(err)
	}
	if inst.Path != FallbackPath || inst.Phase() != FallbackActive {
		t.Fatalf("an empty cache should select the fallback path, got %s/%s", inst.Path, inst.Phase())
	}
	if ring.initiator().ReadyToSign(inst.CID) {
		t.Fatal("the instance cannot be ready before round 1")
	}

	// round 1: fresh commitments
	for i, w := range ring.managers[1:] {
		c, err := w.WitnessCommit(inst.CID)
		if err != nil {
			t.Fatal(err)
		}
		if err := ring.initiator().HandleCommitment(inst.CID, ring.devices[i+1], c); err != nil {
			t.Fatal(err)
		}
	}
	if !ring.initiator().ReadyToSign(inst.CID) {
		t.Fatal("a threshold of commitments should make the instance ready")
	}

	// round 2: shares
	for _, w := range ring.managers[1:] {
		p, err := w.WitnessSign(inst.CID, FallbackPath, inst.Message, inst.CommitmentList(), ring.binding(inst))
		if err != nil {
			t.Fatal(err)
		}
		if err := ring.initiator().HandleShare(inst.CID, p); err != nil {
			t.Fatal(err)
		}
	}

	if inst.Phase() != Committed {
		t.Fatalf("the instance should have committed, got %s", inst.Phase())
	}
}

func TestStartIsIdempotent(t *testing.T) {
	ring := newTestRing(t)
	intent := ring.newIntent()

	a, err := ring.initiator().Start(intent)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ring.initiator().Start(intent)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("starting the same intent twice should return the same instance")
	}
}

func TestEquivocationFailsAndExcludes(t *testing.T) {
	ring := newTestRing(t)

	inst, err := ring.initiator().Start(ring.newIntent())
	if err != nil {
		t.Fatal(err)
	}

	witness := ring.managers[1]
	c, err := witness.WitnessCommit(inst.CID)
	if err != nil {
		t.Fatal(err)
	}
	if err := ring.initiator().HandleCommitment(inst.CID, ring.devices[1], c); err != nil {
		t.Fatal(err)
	}

	p, err := witness.WitnessSign(inst.CID, FallbackPath, inst.Message, inst.CommitmentList(), ring.binding(inst))
	if err != nil {
		t.Fatal(err)
	}
	if err := ring.initiator().HandleShare(inst.CID, p); err != nil {
		t.Fatal(err)
	}

	// the same witness proposes a different result
	forged := *p
	forged.Share.Zi = append([]byte{}, p.Share.Zi...)
	forged.Share.Zi[0] ^= 0xff

	err = ring.initiator().HandleShare(inst.CID, &forged)
	if !common.IsCoded(err, common.Equivocation) {
		t.Fatalf("a conflicting proposal should fail with Equivocation, got %v", err)
	}

	if inst.Phase() != Failed {
		t.Fatalf("equivocation should fail the instance, got %s", inst.Phase())
	}
	if !ring.initiator().Excluded(ring.devices[1]) {
		t.Fatal("the equivocator should be excluded")
	}
	if len(ring.journal.PendingIntents()) != 0 {
		t.Fatal("the failure should tombstone the intent")
	}

	var reason journal.FailureReason
	for _, f := range ring.journal.Map().Failures {
		reason = f.Reason
	}
	if reason != journal.FailEquivocation {
		t.Fatalf("the journal should hold an equivocation failure, got %s", reason)
	}

	// excluded devices cannot contribute to later rounds
	err = ring.initiator().HandleCommitment(inst.CID, ring.devices[1], c)
	if !common.IsCoded(err, common.ValidationFailed) && !common.IsCoded(err, common.AuthorizationDenied) {
		t.Fatalf("contributions after exclusion should be refused, got %v", err)
	}
}

func TestShareBindingIsChecked(t *testing.T) {
	ring := newTestRing(t)

	inst, err := ring.initiator().Start(ring.newIntent())
	if err != nil {
		t.Fatal(err)
	}

	witness := ring.managers[1]
	c, err := witness.WitnessCommit(inst.CID)
	if err != nil {
		t.Fatal(err)
	}
	if err := ring.initiator().HandleCommitment(inst.CID, ring.devices[1], c); err != nil {
		t.Fatal(err)
	}

	binding := ring.binding(inst)
	binding.ResultID[0] ^= 0xff

	p, err := witness.WitnessSign(inst.CID, FallbackPath, inst.Message, inst.CommitmentList(), binding)
	if err != nil {
		t.Fatal(err)
	}
	err = ring.initiator().HandleShare(inst.CID, p)
	if !common.IsCoded(err, common.ValidationFailed) {
		t.Fatalf("a foreign binding should be refused, got %v", err)
	}
}

func TestWitnessSignWithoutNonceFallsBack(t *testing.T) {
	ring := newTestRing(t)
	witness := ring.managers[1]

	cid := types.NewConsensusID(ring.devices[0], types.Hash32{}, []byte("op"))

	// no slot nonce was ever published
	_, err := witness.WitnessSign(cid, FastPath, []byte("msg"), nil, DataBinding{CID: cid})
	if !common.IsCoded(err, common.KeyNotFound) {
		t.Fatalf("a fast-path request without a cached nonce should fail with KeyNotFound, got %v", err)
	}

	// a published nonce that was invalidated is gone too
	if _, err := witness.PublishCommitment(); err != nil {
		t.Fatal(err)
	}
	witness.InvalidateNonce()
	_, err = witness.WitnessSign(cid, FastPath, []byte("msg"), nil, DataBinding{CID: cid})
	if !common.IsCoded(err, common.KeyNotFound) {
		t.Fatalf("an invalidated nonce should not sign, got %v", err)
	}
}

func TestExpireFailsOverdueInstances(t *testing.T) {
	ring := newTestRing(t)

	inst, err := ring.initiator().Start(ring.newIntent())
	if err != nil {
		t.Fatal(err)
	}

	ring.initiator().Expire()
	if inst.Phase() != FallbackActive {
		t.Fatal("an instance inside its deadline must not expire")
	}

	ring.clock.Advance(DefaultTimeout + time.Second)
	ring.initiator().Expire()

	if inst.Phase() != Failed {
		t.Fatalf("an overdue instance should fail, got %s", inst.Phase())
	}

	var reason journal.FailureReason
	for _, f := range ring.journal.Map().Failures {
		reason = f.Reason
	}
	if reason != journal.FailTimeout {
		t.Fatalf("the journal should hold a timeout failure, got %s", reason)
	}
}

func TestGCDropsOldTerminalInstances(t *testing.T) {
	ring := newTestRing(t)

	inst, err := ring.initiator().Start(ring.newIntent())
	if err != nil {
		t.Fatal(err)
	}

	ring.clock.Advance(DefaultTimeout + time.Second)
	ring.initiator().Expire()

	// still visible inside the retention period
	ring.initiator().GC()
	if _, ok := ring.initiator().Get(inst.CID); !ok {
		t.Fatal("a freshly decided instance should survive GC")
	}

	ring.clock.Advance(DefaultRetention + time.Second)
	ring.initiator().GC()
	if _, ok := ring.initiator().Get(inst.CID); ok {
		t.Fatal("an old terminal instance should be collected")
	}
}
