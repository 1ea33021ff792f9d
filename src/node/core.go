package node

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/consensus"
	"github.com/halonetworks/halo/src/frost"
	"github.com/halonetworks/halo/src/guard"
	"github.com/halonetworks/halo/src/journal"
	"github.com/halonetworks/halo/src/peers"
	"github.com/halonetworks/halo/src/recovery"
	"github.com/halonetworks/halo/src/scheduler"
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// Core is the kernel of a Halo node. It assembles the journal, the threshold
// key store, the consensus manager, the recovery coordinator, the reactive
// scheduler and the guard chain, and exposes the operations the node's event
// loop drives. The node serialises access through coreLock, so Core methods
// do not take their own top-level lock.
type Core struct {
	validator *Validator
	peers     *peers.PeerSet

	journal   *journal.Journal
	keys      *frost.KeyStore
	consensus *consensus.Manager
	recovery  *recovery.Coordinator
	scheduler *scheduler.Scheduler
	guard     *guard.Chain
	effects   *scheduler.Effects

	// derived values maintained by scheduler views
	viewMu         sync.RWMutex
	viewEpoch      types.Epoch
	viewCommitment types.Hash32
	viewRoster     int
	viewGuardians  int

	logger *logrus.Entry
}

// stateView adapts a closure to the scheduler's View interface.
type stateView struct {
	id   string
	deps []string
	fn   func(*scheduler.Effects) error
}

func (v *stateView) ViewID() string                       { return v.id }
func (v *stateView) Dependencies() []string               { return v.deps }
func (v *stateView) Recompute(e *scheduler.Effects) error { return v.fn(e) }

// NewCore assembles a Core around an open journal store. The index is this
// device's signer index in the threshold group.
func NewCore(
	validator *Validator,
	peerSet *peers.PeerSet,
	authority types.AuthorityID,
	store journal.Store,
	keys *frost.KeyStore,
	index uint16,
	conf *Config,
	effects *scheduler.Effects,
	chain *guard.Chain,
	logger *logrus.Entry,
) (*Core, error) {

	j, err := journal.New(authority, store, logger)
	if err != nil {
		return nil, err
	}

	core := &Core{
		validator: validator,
		peers:     peerSet,
		journal:   j,
		keys:      keys,
		effects:   effects,
		guard:     chain,
		logger:    logger,
	}

	core.consensus = consensus.NewManager(
		validator.ID(),
		index,
		j,
		keys,
		effects.Rand,
		effects.Time,
		conf.ConsensusTimeout,
		logger,
	)

	core.recovery = recovery.NewCoordinator(
		j,
		keys,
		index,
		effects.Rand,
		effects.Time,
		conf.DisputeWindow,
		logger,
	)

	core.scheduler = scheduler.NewScheduler(
		effects,
		scheduler.DefaultBatchWindow,
		scheduler.DefaultMaxBatch,
		logger,
	)

	if err := core.registerViews(); err != nil {
		return nil, err
	}

	return core, nil
}

// registerViews wires the derived views the node's stats and peers read
// from. The commitment view has no dependencies; roster and guardians hang
// off it so one journal change recomputes all three exactly once, in order.
func (c *Core) registerViews() error {
	commitment := &stateView{
		id: "commitment",
		fn: func(e *scheduler.Effects) error {
			s := c.journal.State()
			root := s.RootCommitment()

			c.viewMu.Lock()
			c.viewEpoch = s.Epoch()
			c.viewCommitment = root
			c.viewMu.Unlock()

			// leave the latest commitment on disk for crash inspection
			if e.Storage != nil {
				return e.Storage.Persist("root_commitment", []byte(root.String()))
			}
			return nil
		},
	}

	roster := &stateView{
		id:   "roster",
		deps: []string{"commitment"},
		fn: func(*scheduler.Effects) error {
			n := len(c.journal.State().Roster())
			c.viewMu.Lock()
			c.viewRoster = n
			c.viewMu.Unlock()
			return nil
		},
	}

	guardians := &stateView{
		id:   "guardians",
		deps: []string{"roster"},
		fn: func(*scheduler.Effects) error {
			n := 0
			for _, leaf := range c.journal.State().Roster() {
				if leaf.Role == tree.RoleGuardian {
					n++
				}
			}
			c.viewMu.Lock()
			c.viewGuardians = n
			c.viewMu.Unlock()
			return nil
		},
	}

	for _, v := range []*stateView{commitment, roster, guardians} {
		if err := c.scheduler.Register(v); err != nil {
			return err
		}
	}
	return nil
}

// ID returns this device's identifier.
func (c *Core) ID() types.DeviceID { return c.validator.ID() }

// Journal returns the journal.
func (c *Core) Journal() *journal.Journal { return c.journal }

// Consensus returns the consensus manager.
func (c *Core) Consensus() *consensus.Manager { return c.consensus }

// Recovery returns the recovery coordinator.
func (c *Core) Recovery() *recovery.Coordinator { return c.recovery }

// Scheduler returns the reactive scheduler.
func (c *Core) Scheduler() *scheduler.Scheduler { return c.scheduler }

// Guard returns the send-site guard chain, nil when the node runs unguarded.
func (c *Core) Guard() *guard.Chain { return c.guard }

// Peers returns the peer set.
func (c *Core) Peers() *peers.PeerSet { return c.peers }

// GossipContext returns the intra-authority context gossip sends run under.
func (c *Core) GossipContext() types.ContextID {
	a := c.journal.Authority()
	return types.NewContextID(a, a)
}

// Genesis seeds an empty journal with the founding roster, keyed at the
// root by this device's threshold group key. A journal that already holds
// history is left alone.
func (c *Core) Genesis(roster []*tree.Leaf) error {
	if err := c.journal.Genesis(roster, c.keys.GroupKey()); err != nil {
		return err
	}
	c.scheduler.Mark("commitment")
	return nil
}

// KnownEpoch returns the last epoch this replica holds an op for.
func (c *Core) KnownEpoch() int {
	return int(c.journal.Store().LastEpoch())
}

// RecentOps answers a sync pull: the ops above knownEpoch, or tooLate when
// the range fell out of the rolling window and the peer must do a full
// merge instead.
func (c *Core) RecentOps(knownEpoch int) ([]*tree.AttestedOp, bool) {
	ops, err := c.journal.Store().RecentOps(knownEpoch)
	if err != nil {
		if common.IsCoded(err, common.TooLate) {
			return nil, true
		}
		c.logger.WithError(err).Error("Reading recent ops")
		return nil, true
	}
	return ops, false
}

// ApplyOps records synced ops. Each op is verified against the tree state
// before it lands; a tie-break loss is silently absorbed by the journal.
func (c *Core) ApplyOps(ops []*tree.AttestedOp) error {
	before := c.journal.State().Epoch()
	for _, op := range ops {
		if err := c.journal.Record(journal.OpFact(op)); err != nil {
			return err
		}
	}
	c.noteChange(before)
	return nil
}

// MergeJournal joins a remote replica's map into ours.
func (c *Core) MergeJournal(remote *journal.Map) (bool, error) {
	before := c.journal.State().Epoch()
	changed, err := c.journal.Merge(remote)
	if err != nil {
		return false, err
	}
	if changed {
		c.noteChange(before)
	}
	return changed, nil
}

// noteChange marks the derived views dirty and, when the epoch advanced,
// invalidates the cached fast-path nonce so a stale commitment is never
// reused under a new tree state.
func (c *Core) noteChange(before types.Epoch) {
	if c.journal.State().Epoch() != before {
		c.consensus.InvalidateNonce()
	}
	c.scheduler.Mark("commitment")
}

// RefreshNonce draws a fresh fast-path nonce, publishes its commitment and
// self-caches it so this device counts towards its own fast-path quorum.
// Returns the commitment for gossiping.
func (c *Core) RefreshNonce() (frost.Commitment, error) {
	commitment, err := c.consensus.PublishCommitment()
	if err != nil {
		return frost.Commitment{}, err
	}
	c.consensus.CacheCommitment(c.validator.ID(), commitment)
	return commitment, nil
}

// NewIntent wraps a tree op in an intent initiated by this device.
func (c *Core) NewIntent(op tree.Op) *journal.Intent {
	return journal.NewIntent(c.validator.ID(), op, c.effects.Time.Now().Unix())
}

// Binding builds the data binding witnesses attach their shares to.
func (c *Core) Binding(inst *consensus.Instance) consensus.DataBinding {
	return consensus.DataBinding{
		CID:          inst.CID,
		ResultID:     inst.ResultID,
		PrestateHash: inst.Prestate,
	}
}

// SweepTimers runs the periodic expiry work: consensus deadlines, terminal
// instance GC and ceremony windows.
func (c *Core) SweepTimers() {
	c.consensus.Expire()
	c.consensus.GC()
	c.recovery.Expire()
}

// Compact folds the journal below the current snapshot into a fence op.
func (c *Core) Compact() error {
	return c.journal.Compact()
}

// Stats returns the core's headline numbers.
func (c *Core) Stats() map[string]string {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()

	return map[string]string{
		"id":              c.validator.ID().Short(),
		"moniker":         c.validator.Moniker,
		"epoch":           c.viewEpoch.String(),
		"root_commitment": c.viewCommitment.Short(),
		"roster_size":     fmt.Sprint(c.viewRoster),
		"guardians":       fmt.Sprint(c.viewGuardians),
		"pending_intents": fmt.Sprint(len(c.journal.PendingIntents())),
		"num_peers":       fmt.Sprint(len(c.peers.Peers)),
	}
}
