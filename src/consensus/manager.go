package consensus

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/frost"
	"github.com/halonetworks/halo/src/journal"
	"github.com/halonetworks/halo/src/scheduler"
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

const (
	// DefaultTimeout bounds how long an instance may stay active.
	DefaultTimeout = 10 * time.Second
	// DefaultNonceWindow is how many epochs a cached nonce commitment stays
	// usable for the fast path.
	DefaultNonceWindow types.Epoch = 2
	// DefaultRetention is how long terminal instances are kept for status
	// queries before GC collects them.
	DefaultRetention = 5 * time.Minute
)

// Manager runs the consensus instances of one device. It is both initiator
// (Start, HandleCommitment, HandleShare) and witness (PublishCommitment,
// WitnessCommit, WitnessSign) depending on who proposed the intent.
type Manager struct {
	sync.Mutex

	deviceID types.DeviceID
	index    uint16

	journal *journal.Journal
	keys    *frost.KeyStore
	slot    *frost.NonceSlot
	rnd     io.Reader

	clock       scheduler.TimeEffects
	timeout     time.Duration
	nonceWindow types.Epoch
	retention   time.Duration

	// cached fast-path nonce commitments, one per witness, gossiped ahead
	// of any instance
	cached map[uint16]cachedCommitment

	// witness-side fresh nonces held between fallback rounds
	pendingNonces map[types.ConsensusID]*frost.Nonce

	instances map[types.ConsensusID]*Instance
	excluded  map[types.DeviceID]bool

	logger *logrus.Entry
}

type cachedCommitment struct {
	commitment frost.Commitment
	witness    types.DeviceID
	epoch      types.Epoch
}

// NewManager creates a Manager.
func NewManager(
	deviceID types.DeviceID,
	index uint16,
	j *journal.Journal,
	keys *frost.KeyStore,
	rnd io.Reader,
	clock scheduler.TimeEffects,
	timeout time.Duration,
	logger *logrus.Entry,
) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	return &Manager{
		deviceID:      deviceID,
		index:         index,
		journal:       j,
		keys:          keys,
		slot:          &frost.NonceSlot{},
		rnd:           rnd,
		clock:         clock,
		timeout:       timeout,
		nonceWindow:   DefaultNonceWindow,
		retention:     DefaultRetention,
		cached:        make(map[uint16]cachedCommitment),
		pendingNonces: make(map[types.ConsensusID]*frost.Nonce),
		instances:     make(map[types.ConsensusID]*Instance),
		excluded:      make(map[types.DeviceID]bool),
		logger:        logger.WithField("component", "consensus"),
	}
}

// Excluded reports whether a device was caught equivocating. Excluded
// devices never participate in subsequent instances.
func (m *Manager) Excluded(d types.DeviceID) bool {
	m.Lock()
	defer m.Unlock()
	return m.excluded[d]
}

// Get returns an instance by ID.
func (m *Manager) Get(cid types.ConsensusID) (*Instance, bool) {
	m.Lock()
	defer m.Unlock()
	inst, ok := m.instances[cid]
	return inst, ok
}

/*
 * Witness side
 */

// PublishCommitment draws a fresh nonce into the one-shot slot and returns
// its commitment for gossiping. Initiators that hold a quorum of such
// commitments can run the fast path.
func (m *Manager) PublishCommitment() (frost.Commitment, error) {
	return m.slot.Fill(m.rnd, m.index, m.journal.State().Epoch())
}

// InvalidateNonce discards the cached nonce. Called on every epoch bump so
// a commitment never outlives the state it was published under.
func (m *Manager) InvalidateNonce() {
	m.slot.Invalidate()
}

// CacheCommitment records another witness's gossiped commitment.
func (m *Manager) CacheCommitment(witness types.DeviceID, c frost.Commitment) {
	m.Lock()
	defer m.Unlock()
	if m.excluded[witness] {
		return
	}
	m.cached[c.Index] = cachedCommitment{
		commitment: c,
		witness:    witness,
		epoch:      m.journal.State().Epoch(),
	}
}

// WitnessCommit answers a fallback round-1 request: draw a fresh nonce for
// this instance and return its commitment. The nonce is retained until the
// round-2 signing request or instance expiry.
func (m *Manager) WitnessCommit(cid types.ConsensusID) (frost.Commitment, error) {
	nonce, err := frost.NewNonce(m.rnd, m.index)
	if err != nil {
		return frost.Commitment{}, err
	}

	m.Lock()
	m.pendingNonces[cid] = nonce
	m.Unlock()

	return nonce.Commitment, nil
}

// WitnessSign produces this witness's share for an instance. On the fast
// path the one-shot slot supplies the nonce matching the commitment the
// initiator used; on the fallback path the nonce retained by WitnessCommit
// does. A missing nonce fails with KeyNotFound, which tells the initiator
// to fall back.
func (m *Manager) WitnessSign(cid types.ConsensusID, path Path, msg []byte, commitments []frost.Commitment, binding DataBinding) (*ShareProposal, error) {
	pkg, ok := m.keys.LocalShare()
	if !ok {
		return nil, common.NewCodedErr(common.MissingSigningKey, "Consensus", m.deviceID.Short())
	}

	var nonce *frost.Nonce
	switch path {
	case FastPath:
		n, ok := m.slot.Take(m.journal.State().Epoch(), m.nonceWindow)
		if !ok {
			return nil, common.NewCodedErr(common.KeyNotFound, "NonceSlot", cid.Short())
		}
		nonce = n
	case FallbackPath:
		m.Lock()
		n, ok := m.pendingNonces[cid]
		delete(m.pendingNonces, cid)
		m.Unlock()
		if !ok {
			return nil, common.NewCodedErr(common.KeyNotFound, "PendingNonce", cid.Short())
		}
		nonce = n
	}

	share, err := frost.Sign(*pkg, nonce, msg, commitments, m.keys.PublicPackage())
	if err != nil {
		return nil, err
	}

	return &ShareProposal{
		Witness:    m.deviceID,
		Share:      share,
		Commitment: nonce.Commitment,
		Binding:    binding,
	}, nil
}

/*
 * Initiator side
 */

// Start opens an instance for an intent. The path is chosen here: enough
// usable cached commitments for the branch's threshold and the fast path
// runs in one round trip, otherwise the fallback collects fresh commitments
// first. Starting the same intent twice returns the existing instance.
func (m *Manager) Start(intent *journal.Intent) (*Instance, error) {
	state := m.journal.State()
	prestate := state.RootCommitment()
	opBytes := intent.Op.Kind.Serialize()
	cid := types.NewConsensusID(intent.Initiator, prestate, opBytes)

	m.Lock()
	defer m.Unlock()

	if inst, ok := m.instances[cid]; ok {
		return inst, nil
	}

	target := state.SigningNode(intent.Op.Kind)
	branch, ok := state.Branch(target)
	if !ok || branch.SigningKey == nil {
		return nil, common.NewCodedErr(common.MissingSigningKey, "Consensus", target.String())
	}

	pub := m.keys.PublicPackage()
	threshold := pub.Threshold

	msg := intent.Op.BindingMessage(state.Epoch(), branch.SigningKey.GroupPublicKey)

	inst := &Instance{
		CID:         cid,
		Intent:      intent,
		Initiator:   intent.Initiator,
		Prestate:    prestate,
		ResultID:    msg,
		Message:     msg.Bytes(),
		Threshold:   threshold,
		Deadline:    m.clock.Now().Add(m.timeout),
		phase:       Pending,
		commitments: make(map[uint16]frost.Commitment),
		proposals:   make(map[types.DeviceID]*ShareProposal),
		startedAt:   m.clock.Now(),
	}

	usable := m.usableCommitments(state.Epoch())
	if uint16(len(usable)) >= threshold {
		inst.Path = FastPath
		inst.phase = FastPathActive
		// the aggregate folds every listed commitment into the group
		// commitment, so the round opens over exactly threshold entries:
		// our own first so the local share can join, the rest by index
		picked := pickCommitments(usable, m.index, threshold)
		for _, c := range picked {
			inst.commitments[c.Index] = c
		}
		// consumed: a cached commitment backs exactly one round
		for _, c := range picked {
			delete(m.cached, c.Index)
		}
	} else {
		inst.Path = FallbackPath
		inst.phase = FallbackActive
	}

	m.instances[cid] = inst

	m.logger.WithFields(logrus.Fields{
		"cid":  cid.Short(),
		"path": inst.Path,
	}).Debug("Instance started")

	if err := m.journal.Record(journal.IntentFact(intent)); err != nil {
		return nil, err
	}

	return inst, nil
}

// pickCommitments selects the threshold commitments a fast-path round runs
// over, preferring own so the initiator's share counts, then ascending index
// so every replica picks deterministically.
func pickCommitments(usable []frost.Commitment, own, threshold uint16) []frost.Commitment {
	sorted := frost.SortCommitments(usable)
	picked := make([]frost.Commitment, 0, threshold)
	for _, c := range sorted {
		if c.Index == own {
			picked = append(picked, c)
		}
	}
	for _, c := range sorted {
		if uint16(len(picked)) == threshold {
			break
		}
		if c.Index != own {
			picked = append(picked, c)
		}
	}
	return picked
}

// usableCommitments returns cached commitments from non-excluded witnesses
// that are still inside the nonce validity window. Callers hold the lock.
func (m *Manager) usableCommitments(epoch types.Epoch) []frost.Commitment {
	out := []frost.Commitment{}
	for _, c := range m.cached {
		if m.excluded[c.witness] {
			continue
		}
		if epoch-c.epoch >= m.nonceWindow {
			continue
		}
		out = append(out, c.commitment)
	}
	return out
}

// Degrade moves a starved fast-path instance onto the fallback rounds. Stale
// caches starve the fast path when a witness already spent its one-shot
// nonce; the round then re-collects fresh commitments instead of timing out.
func (m *Manager) Degrade(cid types.ConsensusID) error {
	m.Lock()
	defer m.Unlock()

	inst, ok := m.instances[cid]
	if !ok {
		return common.NewCodedErr(common.KeyNotFound, "Instance", cid.Short())
	}
	if inst.phase != FastPathActive {
		return common.NewCodedErr(common.ValidationFailed, "Instance", inst.phase.String())
	}

	inst.Path = FallbackPath
	inst.phase = FallbackActive
	inst.commitments = make(map[uint16]frost.Commitment)
	inst.proposals = make(map[types.DeviceID]*ShareProposal)

	m.logger.WithField("cid", cid.Short()).Debug("Instance degraded to fallback")
	return nil
}

// HandleCommitment records a fallback round-1 response. Once the threshold
// is reached the caller proceeds to round 2 with CommitmentList.
func (m *Manager) HandleCommitment(cid types.ConsensusID, witness types.DeviceID, c frost.Commitment) error {
	m.Lock()
	defer m.Unlock()

	inst, ok := m.instances[cid]
	if !ok {
		return common.NewCodedErr(common.KeyNotFound, "Instance", cid.Short())
	}
	if inst.phase != FallbackActive {
		return common.NewCodedErr(common.ValidationFailed, "Instance", inst.phase.String())
	}
	if m.excluded[witness] {
		return common.NewCodedErr(common.AuthorizationDenied, "Instance", witness.Short())
	}

	inst.commitments[c.Index] = c
	return nil
}

// ReadyToSign reports whether a fallback instance collected enough
// commitments for round 2.
func (m *Manager) ReadyToSign(cid types.ConsensusID) bool {
	m.Lock()
	defer m.Unlock()

	inst, ok := m.instances[cid]
	return ok && inst.phase == FallbackActive && uint16(len(inst.commitments)) >= inst.Threshold
}

// HandleShare ingests a witness's share. Equivocation, a second proposal
// from the same witness that says something different, fails the instance
// immediately, journals the failure and bans the witness from every later
// instance. Reaching the threshold aggregates, verifies, and commits.
func (m *Manager) HandleShare(cid types.ConsensusID, p *ShareProposal) error {
	m.Lock()
	defer m.Unlock()

	inst, ok := m.instances[cid]
	if !ok {
		return common.NewCodedErr(common.KeyNotFound, "Instance", cid.Short())
	}
	if inst.phase.Terminal() {
		return nil
	}
	if m.excluded[p.Witness] {
		return common.NewCodedErr(common.AuthorizationDenied, "Instance", p.Witness.Short())
	}

	if prev, ok := inst.proposals[p.Witness]; ok {
		if prev.equivalent(p) {
			return nil
		}
		m.failLocked(inst, journal.FailEquivocation, p.Witness, "witness signed two different results")
		return common.NewCodedErr(common.Equivocation, "Instance", p.Witness.Short())
	}

	if p.Binding.CID != cid || p.Binding.ResultID != inst.ResultID || p.Binding.PrestateHash != inst.Prestate {
		return common.NewCodedErr(common.ValidationFailed, "Instance", "share binding does not match instance")
	}
	if _, ok := inst.commitments[p.Share.Index]; !ok {
		// a fast-path witness that had to redraw; admit its commitment
		// only if the round has not fixed the list yet
		if len(inst.proposals) > 0 {
			return common.NewCodedErr(common.ValidationFailed, "Instance", "commitment missing from round")
		}
		inst.commitments[p.Share.Index] = p.Commitment
	}

	inst.proposals[p.Witness] = p

	if inst.covered() {
		return m.commitLocked(inst)
	}
	return nil
}

// commitLocked aggregates the collected shares and records the result.
// Callers hold the lock.
func (m *Manager) commitLocked(inst *Instance) error {
	pub := m.keys.PublicPackage()

	sig, err := frost.Aggregate(inst.Message, inst.CommitmentList(), inst.shares(), pub)
	if err != nil {
		m.failLocked(inst, journal.FailInsufficientParticipation, types.DeviceID{}, err.Error())
		return err
	}

	attested := &tree.AttestedOp{
		Op:          inst.Intent.Op,
		AggSig:      sig,
		SignerCount: uint32(len(inst.proposals)),
	}

	if err := m.journal.Record(journal.OpFact(attested)); err != nil {
		m.failLocked(inst, journal.FailConflict, types.DeviceID{}, err.Error())
		return err
	}

	// the op may have lost the epoch tie-break to a concurrent commit
	epoch := inst.Intent.Op.ParentEpoch.Next()
	if h, err := m.journal.Store().OpHash(epoch); err == nil && h != attested.Hash() {
		m.failLocked(inst, journal.FailConflict, types.DeviceID{}, "competing op won the epoch slot")
		return common.NewCodedErr(common.EpochMismatch, "Instance", epoch.String())
	}

	inst.phase = Committed
	inst.decidedAt = m.clock.Now()

	m.logger.WithFields(logrus.Fields{
		"cid":     inst.CID.Short(),
		"signers": len(inst.proposals),
	}).Debug("Instance committed")

	return m.journal.Record(journal.CommittedFact(&journal.CommitFact{
		CID:          inst.CID,
		ResultID:     inst.ResultID,
		PrestateHash: inst.Prestate,
		Signature:    sig,
		IntentID:     inst.Intent.IntentID,
	}))
}

// failLocked moves an instance to Failed and journals the failure fact.
// Equivocators are excluded from all subsequent instances. Callers hold the
// lock.
func (m *Manager) failLocked(inst *Instance, reason journal.FailureReason, witness types.DeviceID, msg string) {
	if inst.phase.Terminal() {
		return
	}
	inst.phase = Failed
	inst.decidedAt = m.clock.Now()

	if reason == journal.FailEquivocation && !witness.IsZero() {
		m.excluded[witness] = true
		delete(m.cached, m.indexOf(inst, witness))
	}

	m.logger.WithFields(logrus.Fields{
		"cid":    inst.CID.Short(),
		"reason": reason,
	}).Warning("Instance failed")

	if err := m.journal.Record(journal.FailedFact(&journal.FailureFact{
		CID:      inst.CID,
		Reason:   reason,
		Witness:  witness,
		Message:  msg,
		IntentID: inst.Intent.IntentID,
	})); err != nil {
		m.logger.WithError(err).Error("Recording failure fact")
	}
}

func (m *Manager) indexOf(inst *Instance, witness types.DeviceID) uint16 {
	if p, ok := inst.proposals[witness]; ok {
		return p.Share.Index
	}
	return 0
}

// Expire fails every active instance whose deadline passed. Called
// periodically by the node loop.
func (m *Manager) Expire() {
	m.Lock()
	defer m.Unlock()

	now := m.clock.Now()
	for _, inst := range m.instances {
		if !inst.phase.Terminal() && now.After(inst.Deadline) {
			m.failLocked(inst, journal.FailTimeout, types.DeviceID{}, "deadline exceeded")
			delete(m.pendingNonces, inst.CID)
		}
	}
}

// GC drops terminal instances older than the retention period.
func (m *Manager) GC() {
	m.Lock()
	defer m.Unlock()

	cutoff := m.clock.Now().Add(-m.retention)
	for cid, inst := range m.instances {
		if inst.phase.Terminal() && inst.decidedAt.Before(cutoff) {
			delete(m.instances, cid)
			delete(m.pendingNonces, cid)
		}
	}
}
