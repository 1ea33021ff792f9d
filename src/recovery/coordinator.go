package recovery

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

// DefaultDisputeWindow is how long a ceremony must stay open before it can
// finalize.
const DefaultDisputeWindow = 24 * time.Hour

// Coordinator runs the recovery ceremonies of one authority. Opening a
// ceremony stages a key rotation in the key store; finalizing commits it,
// any other outcome rolls it back. Because the key store stages at most one
// rotation, at most one ceremony is open at a time.
type Coordinator struct {
	sync.Mutex

	journal *journal.Journal
	keys    *frost.KeyStore
	index   uint16
	rnd     io.Reader
	clock   scheduler.TimeEffects
	window  time.Duration

	ceremonies map[types.CeremonyID]*Ceremony

	logger *logrus.Entry
}

// NewCoordinator creates a Coordinator. The index is this device's signer
// index, used to claim its dealt share when a ceremony finalizes. A zero
// window falls back to the default.
func NewCoordinator(
	j *journal.Journal,
	keys *frost.KeyStore,
	index uint16,
	rnd io.Reader,
	clock scheduler.TimeEffects,
	window time.Duration,
	logger *logrus.Entry,
) *Coordinator {
	if window <= 0 {
		window = DefaultDisputeWindow
	}
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	return &Coordinator{
		journal:    j,
		keys:       keys,
		index:      index,
		rnd:        rnd,
		clock:      clock,
		window:     window,
		ceremonies: make(map[types.CeremonyID]*Ceremony),
		logger:     logger.WithField("component", "recovery"),
	}
}

// Get returns a ceremony by ID.
func (co *Coordinator) Get(id types.CeremonyID) (*Ceremony, bool) {
	co.Lock()
	defer co.Unlock()
	c, ok := co.ceremonies[id]
	return c, ok
}

// guardians returns the guardian leaves of the current tree.
func (co *Coordinator) guardians() []*tree.Leaf {
	out := []*tree.Leaf{}
	for _, l := range co.journal.State().Roster() {
		if l.Role == tree.RoleGuardian {
			out = append(out, l)
		}
	}
	return out
}

// isGuardian reports whether a leaf is one of the authority's guardians.
func (co *Coordinator) isGuardian(id types.LeafID) bool {
	for _, g := range co.guardians() {
		if g.LeafID == id {
			return true
		}
	}
	return false
}

// Initiate opens a ceremony for a recovery op with a k-of-n guardian
// quorum, staging the key rotation that finalization will commit. Fails
// with RotationInProgress while another ceremony is open.
func (co *Coordinator) Initiate(initiator types.LeafID, op tree.Op, threshold uint16) (*Ceremony, error) {
	co.Lock()
	defer co.Unlock()

	if !co.isGuardian(initiator) {
		return nil, common.NewCodedErr(common.AuthorizationDenied, "Ceremony", initiator.Short())
	}

	guardians := co.guardians()
	n := uint16(len(guardians))
	if threshold == 0 || threshold > n {
		return nil, common.NewCodedErr(common.ValidationFailed, "Ceremony", "threshold out of range")
	}

	state := co.journal.State()
	newEpoch := state.Epoch().Next()

	packages, pub, err := co.keys.RotateKeys(co.rnd, newEpoch, threshold, n)
	if err != nil {
		return nil, err
	}

	now := co.clock.Now()
	c := &Ceremony{
		CeremonyID:    types.NewCeremonyID(state.Authority(), op.Kind.Serialize()),
		Authority:     state.Authority(),
		Initiator:     initiator,
		Op:            op,
		Threshold:     threshold,
		GuardianCount: n,
		DisputeWindow: co.window,
		StartedAt:     now,
		NewEpoch:      newEpoch,
		packages:      packages,
		groupKey:      pub.GroupPublicKey,
		status:        CeremonyOpen,
		approvals:     map[types.LeafID]time.Time{initiator: now},
	}
	co.ceremonies[c.CeremonyID] = c

	co.logger.WithFields(logrus.Fields{
		"ceremony": c.CeremonyID.Short(),
		"quorum":   threshold,
		"closes":   c.WindowClosesAt(),
	}).Debug("Ceremony opened")

	return c, nil
}

// Approve records a guardian's approval. Approvals never finalize by
// themselves; the window has to elapse first.
func (co *Coordinator) Approve(id types.CeremonyID, guardian types.LeafID) error {
	co.Lock()
	defer co.Unlock()

	c, ok := co.ceremonies[id]
	if !ok {
		return common.NewCodedErr(common.KeyNotFound, "Ceremony", id.Short())
	}
	if c.status.Terminal() {
		return common.NewCodedErr(common.ValidationFailed, "Ceremony", c.status.String())
	}
	if !co.isGuardian(guardian) {
		return common.NewCodedErr(common.AuthorizationDenied, "Ceremony", guardian.Short())
	}

	c.approvals[guardian] = co.clock.Now()
	return nil
}

// RaiseDispute kills an open ceremony. Any guardian can dispute at any
// point before finalization, which is the whole point of the window.
func (co *Coordinator) RaiseDispute(id types.CeremonyID, guardian types.LeafID, reason string) error {
	co.Lock()
	defer co.Unlock()

	c, ok := co.ceremonies[id]
	if !ok {
		return common.NewCodedErr(common.KeyNotFound, "Ceremony", id.Short())
	}
	if c.status.Terminal() {
		return common.NewCodedErr(common.ValidationFailed, "Ceremony", c.status.String())
	}
	if !co.isGuardian(guardian) {
		return common.NewCodedErr(common.AuthorizationDenied, "Ceremony", guardian.Short())
	}

	now := co.clock.Now()
	c.status = CeremonyDisputed
	c.dispute = &Dispute{By: guardian, Reason: reason, At: now}
	c.errorMessage = "disputed by guardian " + guardian.Short() + ": " + reason
	c.decidedAt = now

	if err := co.keys.RollbackKeyRotation(c.NewEpoch); err != nil {
		co.logger.WithError(err).Error("Rolling back disputed rotation")
	}

	co.logger.WithFields(logrus.Fields{
		"ceremony": id.Short(),
		"guardian": guardian.Short(),
	}).Warning("Ceremony disputed")

	return co.journal.Record(journal.FailedFact(&journal.FailureFact{
		CID:     c.CeremonyID,
		Reason:  journal.FailDisputed,
		Message: c.errorMessage,
	}))
}

// Finalize commits an open ceremony. Before the window closes it fails with
// DisputeWindowOpen regardless of approvals; with the window closed but the
// quorum missing it fails with InsufficientSigners.
func (co *Coordinator) Finalize(id types.CeremonyID) (*Ceremony, error) {
	co.Lock()
	defer co.Unlock()

	c, ok := co.ceremonies[id]
	if !ok {
		return nil, common.NewCodedErr(common.KeyNotFound, "Ceremony", id.Short())
	}
	if c.status.Terminal() {
		return nil, common.NewCodedErr(common.ValidationFailed, "Ceremony", c.status.String())
	}

	now := co.clock.Now()
	if now.Before(c.WindowClosesAt()) {
		return nil, common.NewCodedErr(common.DisputeWindowOpen, "Ceremony", c.WindowClosesAt().String())
	}
	if uint16(len(c.approvals)) < c.Threshold {
		return nil, common.NewCodedErr(common.InsufficientSigners, "Ceremony", id.Short())
	}

	// enact the recovery op and re-key the root before anything commits, so
	// a failing op leaves both the tree and the key store untouched
	recovered := co.journal.State().Clone()
	if err := recovered.Apply(&tree.AttestedOp{Op: c.Op, SignerCount: uint32(len(c.approvals))}); err != nil {
		return nil, err
	}
	root := types.RootNode(recovered.NumLeaves())
	if err := recovered.SetSigningKey(root, c.groupKey); err != nil {
		return nil, err
	}

	if pkg, ok := c.KeyPackage(co.index); ok {
		co.keys.SetLocalShare(c.NewEpoch, pkg)
	}
	if err := co.keys.CommitKeyRotation(c.NewEpoch); err != nil {
		return nil, err
	}

	if err := co.journal.Adopt(recovered); err != nil {
		return nil, err
	}

	c.status = CeremonyFinalized
	c.decidedAt = now

	co.logger.WithFields(logrus.Fields{
		"ceremony":  id.Short(),
		"approvals": len(c.approvals),
		"new_epoch": c.NewEpoch,
	}).Debug("Ceremony finalized")

	return c, co.journal.Record(journal.CommittedFact(&journal.CommitFact{
		CID:      c.CeremonyID,
		ResultID: c.Op.BindingMessage(c.NewEpoch, co.keys.GroupKey()),
	}))
}

// Expire sweeps open ceremonies whose window closed without a quorum,
// rolling their staged rotations back.
func (co *Coordinator) Expire() {
	co.Lock()
	defer co.Unlock()

	now := co.clock.Now()
	for id, c := range co.ceremonies {
		if c.status != CeremonyOpen || now.Before(c.WindowClosesAt()) {
			continue
		}
		if uint16(len(c.approvals)) >= c.Threshold {
			continue
		}

		c.status = CeremonyExpired
		c.errorMessage = "dispute window closed without a guardian quorum"
		c.decidedAt = now

		if err := co.keys.RollbackKeyRotation(c.NewEpoch); err != nil {
			co.logger.WithError(err).Error("Rolling back expired rotation")
		}

		if err := co.journal.Record(journal.FailedFact(&journal.FailureFact{
			CID:     id,
			Reason:  journal.FailTimeout,
			Message: c.errorMessage,
		})); err != nil {
			co.logger.WithError(err).Error("Recording expiry fact")
		}
	}
}
