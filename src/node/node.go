package node

import (
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/consensus"
	"github.com/halonetworks/halo/src/frost"
	"github.com/halonetworks/halo/src/guard"
	"github.com/halonetworks/halo/src/journal"
	"github.com/halonetworks/halo/src/net"
	"github.com/halonetworks/halo/src/peers"
	"github.com/halonetworks/halo/src/recovery"
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// Node is the top-level component of a Halo device. It runs the event loop
// that serves RPCs from other devices, gossips the journal, and drives
// locally-submitted intents through threshold signing rounds.
type Node struct {
	// The node is implemented as a state machine. The embedded state object
	// is updated by the different background routines.
	state

	conf *Config

	logger *logrus.Entry

	// core is the kernel: journal, consensus, recovery, scheduler, guards.
	core     *Core
	coreLock sync.Mutex

	trans net.Transport
	netCh <-chan net.RPC

	peerSelector PeerSelector
	selectorLock sync.Mutex

	// submitCh feeds locally-submitted tree ops into the signing pipeline.
	submitCh chan tree.Op

	sigintCh   chan os.Signal
	shutdownCh chan struct{}

	controlTimer *ControlTimer

	start time.Time
}

// NewNode instantiates a new Node.
func NewNode(conf *Config, core *Core, trans net.Transport) *Node {
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGTERM)

	node := &Node{
		conf:         conf,
		core:         core,
		logger:       conf.Logger.WithField("this_id", core.ID().Short()),
		trans:        trans,
		netCh:        trans.Consumer(),
		peerSelector: NewRandomPeerSelector(core.Peers(), trans.AdvertiseAddr()),
		submitCh:     make(chan tree.Op, 10),
		sigintCh:     sigintCh,
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
	}

	return node
}

// Init starts the scheduler, publishes an initial fast-path nonce
// commitment, and sets the starting state.
func (n *Node) Init() error {
	n.logger.WithFields(logrus.Fields{
		"peers":     len(n.core.Peers().Peers),
		"epoch":     n.core.KnownEpoch(),
		"suspended": n.conf.Suspended,
	}).Debug("Init node")

	n.start = time.Now()

	n.core.Scheduler().Run()
	n.core.Scheduler().Mark("commitment")

	if _, err := n.core.RefreshNonce(); err != nil {
		n.logger.WithError(err).Error("Publishing initial nonce commitment")
	}

	if n.conf.Suspended {
		n.setState(Suspended)
	} else {
		n.setState(Running)
	}

	return nil
}

// Run invokes the main loop of the node. The gossip parameter controls
// whether to actively participate in gossip or not.
func (n *Node) Run(gossip bool) {
	// The ControlTimer allows the background routines to control the
	// heartbeat timer when the node is in the Running state. The timer should
	// only be running when there are undecided intents or outdated peers.
	go n.controlTimer.Run(n.conf.HeartbeatTimeout)

	// Execute some background work regardless of the state of the node.
	n.goFunc(n.doBackgroundWork)

	// Execute Node State Machine
	for {
		switch n.getState() {
		case Running:
			n.running(gossip)
		case Suspended:
			n.suspended()
		case Shutdown:
			return
		}
	}
}

// RunAsync runs the node in a separate goroutine.
func (n *Node) RunAsync(gossip bool) {
	n.logger.WithField("gossip", gossip).Debug("RunAsync")
	go n.Run(gossip)
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case op := <-n.submitCh:
			n.logger.Debug("Adding Intent")
			if _, err := n.Sign(op); err != nil {
				n.logger.WithError(err).Error("Signing submitted op")
			}
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT - Shutdown")
			n.Shutdown()
		case <-n.shutdownCh:
			return
		}
	}
}

// running is the Running state: process RPCs, and on every heartbeat gossip
// with a random peer and sweep the consensus and ceremony timers.
func (n *Node) running(gossip bool) {
	select {
	case rpc := <-n.netCh:
		n.goFunc(func() {
			n.logger.Debug("Processing RPC")
			n.processRPC(rpc)
		})
	case <-n.controlTimer.tickCh:
		if gossip {
			if peer := n.nextPeer(); peer != nil {
				n.goFunc(func() {
					if err := n.gossip(peer); err != nil {
						n.logger.WithError(err).Debug("Gossip")
					}
				})
			}
		}

		n.coreLock.Lock()
		n.core.SweepTimers()
		n.coreLock.Unlock()

		n.resetTimer()
	case <-n.shutdownCh:
		return
	}
}

// suspended is the Suspended state: keep serving journal reads so peers can
// still converge, but initiate nothing.
func (n *Node) suspended() {
	select {
	case rpc := <-n.netCh:
		n.goFunc(func() {
			n.processRPC(rpc)
		})
	case <-n.shutdownCh:
		return
	}
}

func (n *Node) resetTimer() {
	if !n.controlTimer.set {
		n.controlTimer.resetCh <- n.conf.HeartbeatTimeout
	}
}

func (n *Node) nextPeer() *peers.Peer {
	n.selectorLock.Lock()
	defer n.selectorLock.Unlock()
	return n.peerSelector.Next()
}

func (n *Node) updateLastPeer(addr string) {
	n.selectorLock.Lock()
	defer n.selectorLock.Unlock()
	n.peerSelector.UpdateLast(addr)
}

/*
 * RPC handling
 */

func (n *Node) processRPC(rpc net.RPC) {
	// Only sync and merge are served while suspended.
	if n.getState() == Suspended {
		switch rpc.Command.(type) {
		case *net.SyncRequest, *net.MergeRequest:
		default:
			rpc.Respond(nil, common.NewCodedErr(common.AuthorizationDenied, "Node", "suspended"))
			return
		}
	}

	switch cmd := rpc.Command.(type) {
	case *net.SyncRequest:
		n.processSyncRequest(rpc, cmd)
	case *net.MergeRequest:
		n.processMergeRequest(rpc, cmd)
	case *net.NonceRequest:
		n.processNonceRequest(rpc, cmd)
	case *net.ProposeRequest:
		n.processProposeRequest(rpc, cmd)
	case *net.CeremonyRequest:
		n.processCeremonyRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, common.NewCodedErr(common.ValidationFailed, "RPC", "unexpected command"))
	}
}

func (n *Node) processSyncRequest(rpc net.RPC, cmd *net.SyncRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id":     cmd.FromID.Short(),
		"known_epoch": cmd.KnownEpoch,
	}).Debug("process SyncRequest")

	n.coreLock.Lock()
	ops, tooLate := n.core.RecentOps(cmd.KnownEpoch)
	n.coreLock.Unlock()

	resp := &net.SyncResponse{
		FromID:  n.core.ID(),
		Ops:     ops,
		TooLate: tooLate,
	}
	rpc.Respond(resp, nil)
}

func (n *Node) processMergeRequest(rpc net.RPC, cmd *net.MergeRequest) {
	n.logger.WithField("from_id", cmd.FromID.Short()).Debug("process MergeRequest")

	n.coreLock.Lock()
	changed, err := n.core.MergeJournal(cmd.Journal)
	local := n.core.Journal().Map()
	n.coreLock.Unlock()

	resp := &net.MergeResponse{
		FromID:  n.core.ID(),
		Changed: changed,
		Journal: local,
	}
	rpc.Respond(resp, err)
}

func (n *Node) processNonceRequest(rpc net.RPC, cmd *net.NonceRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID.Short(),
		"cid":     cmd.CID.Short(),
	}).Debug("process NonceRequest")

	n.coreLock.Lock()
	var resp net.NonceResponse
	var err error
	if cmd.CID.IsZero() {
		// proactive refresh: hand out the one-shot slot's commitment
		resp.Commitment, err = n.core.RefreshNonce()
	} else {
		resp.Commitment, err = n.core.Consensus().WitnessCommit(cmd.CID)
	}
	n.coreLock.Unlock()

	resp.FromID = n.core.ID()
	rpc.Respond(&resp, err)
}

func (n *Node) processProposeRequest(rpc net.RPC, cmd *net.ProposeRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID.Short(),
		"cid":     cmd.CID.Short(),
		"path":    cmd.Path.String(),
	}).Debug("process ProposeRequest")

	n.coreLock.Lock()
	proposal, err := n.core.Consensus().WitnessSign(
		cmd.CID,
		cmd.Path,
		cmd.Message,
		cmd.Commitments,
		cmd.Binding,
	)
	n.coreLock.Unlock()

	resp := &net.ProposeResponse{
		FromID:   n.core.ID(),
		Proposal: proposal,
	}
	rpc.Respond(resp, err)
}

func (n *Node) processCeremonyRequest(rpc net.RPC, cmd *net.CeremonyRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id":  cmd.FromID.Short(),
		"ceremony": cmd.Ceremony.Short(),
		"action":   cmd.Action,
	}).Debug("process CeremonyRequest")

	n.coreLock.Lock()
	var err error
	switch cmd.Action {
	case net.CeremonyApprove:
		err = n.core.Recovery().Approve(cmd.Ceremony, cmd.Guardian)
	case net.CeremonyDispute:
		err = n.core.Recovery().RaiseDispute(cmd.Ceremony, cmd.Guardian, cmd.Reason)
	default:
		err = common.NewCodedErr(common.ValidationFailed, "Ceremony", "unknown action")
	}

	resp := &net.CeremonyResponse{FromID: n.core.ID()}
	if ceremony, ok := n.core.Recovery().Get(cmd.Ceremony); ok {
		resp.Status = ceremony.Status().String()
		resp.Approvals = ceremony.Approvals()
	}
	n.coreLock.Unlock()

	rpc.Respond(resp, err)
}

/*
 * Gossip
 */

// guardedSend runs one outbound RPC through the guard chain. The request's
// wire encoding is framed as an envelope so the coupler's receipt digest
// covers the exact bytes the transport sends, and the receipt is only issued
// once the send itself succeeded. Nodes running without a guard chain send
// freely.
func (n *Node) guardedSend(peer *peers.Peer, req interface{}, send func() error) error {
	chain := n.core.Guard()
	if chain == nil {
		return send()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	env := &net.Envelope{
		Sender:    n.core.ID(),
		Context:   n.core.GossipContext(),
		Recipient: peer.ID(),
		Privacy:   types.PrivacyPseudonymous,
		Payload:   payload,
	}

	_, err = chain.AdmitThen(&guard.Send{
		Context: env.Context,
		Peer:    env.Recipient,
		Privacy: env.Privacy,
		Payload: env.Marshal(),
	}, send)
	return err
}

// gossip performs a pull-based journal exchange with a peer. When the peer
// can no longer serve our range from its rolling window, it degrades to a
// full merge, which also heals partitions of arbitrary depth. The exchange
// finishes by swapping fast-path nonce commitments.
func (n *Node) gossip(peer *peers.Peer) error {
	defer n.updateLastPeer(peer.NetAddr)

	n.coreLock.Lock()
	known := n.core.KnownEpoch()
	n.coreLock.Unlock()

	req := &net.SyncRequest{
		FromID:     n.core.ID(),
		KnownEpoch: known,
	}
	var resp net.SyncResponse
	err := n.guardedSend(peer, req, func() error {
		return n.trans.Sync(peer.NetAddr, req, &resp)
	})
	if err != nil {
		return err
	}

	if resp.TooLate {
		n.logger.WithField("peer", peer.NetAddr).Debug("Sync too late, merging")
		if err := n.merge(peer); err != nil {
			return err
		}
	} else if len(resp.Ops) > 0 {
		n.coreLock.Lock()
		err = n.core.ApplyOps(resp.Ops)
		n.coreLock.Unlock()
		if err != nil {
			return err
		}
	}

	return n.swapNonce(peer)
}

// merge runs the push half of gossip: send our whole map, join theirs back.
// A single exchange converges both replicas.
func (n *Node) merge(peer *peers.Peer) error {
	n.coreLock.Lock()
	local := n.core.Journal().Map()
	n.coreLock.Unlock()

	req := &net.MergeRequest{
		FromID:  n.core.ID(),
		Journal: local,
	}
	var resp net.MergeResponse
	err := n.guardedSend(peer, req, func() error {
		return n.trans.Merge(peer.NetAddr, req, &resp)
	})
	if err != nil {
		return err
	}

	n.coreLock.Lock()
	_, err = n.core.MergeJournal(resp.Journal)
	n.coreLock.Unlock()

	return err
}

// swapNonce asks the peer for a fresh fast-path commitment and caches it,
// keeping the fast-path quorum warm between signing rounds.
func (n *Node) swapNonce(peer *peers.Peer) error {
	req := &net.NonceRequest{FromID: n.core.ID()}
	var resp net.NonceResponse
	err := n.guardedSend(peer, req, func() error {
		return n.trans.Nonce(peer.NetAddr, req, &resp)
	})
	if err != nil {
		return err
	}

	n.core.Consensus().CacheCommitment(peer.ID(), resp.Commitment)
	return nil
}

/*
 * Signing
 */

// Submit queues a tree op for asynchronous signing.
func (n *Node) Submit(op tree.Op) {
	n.submitCh <- op
}

// Sign drives a tree op through a full signing round and returns the
// instance in its terminal phase. The path is picked by the consensus
// manager: one round trip when enough cached nonce commitments are on hand,
// two otherwise.
func (n *Node) Sign(op tree.Op) (*consensus.Instance, error) {
	n.coreLock.Lock()
	intent := n.core.NewIntent(op)
	inst, err := n.core.Consensus().Start(intent)
	n.coreLock.Unlock()
	if err != nil {
		return nil, err
	}

	switch inst.Path {
	case consensus.FastPath:
		err = n.runFastPath(inst)
		// stale caches starve the fast path: witnesses that already spent
		// their one-shot nonce refuse to sign. Re-drive the round through
		// the fallback's fresh commitments instead of timing out.
		if err == nil && !inst.Phase().Terminal() {
			if err = n.core.Consensus().Degrade(inst.CID); err == nil {
				err = n.runFallback(inst)
			}
		}
	case consensus.FallbackPath:
		err = n.runFallback(inst)
	}
	if err != nil {
		return inst, err
	}

	if inst.Phase() != consensus.Committed {
		return inst, common.NewCodedErr(common.InsufficientSigners, "Instance", inst.Phase().String())
	}
	return inst, nil
}

// runFastPath collects shares against the cached commitments in a single
// round trip.
func (n *Node) runFastPath(inst *consensus.Instance) error {
	binding := n.core.Binding(inst)
	commitments := inst.CommitmentList()

	// our own share first
	n.coreLock.Lock()
	proposal, err := n.core.Consensus().WitnessSign(inst.CID, consensus.FastPath, inst.Message, commitments, binding)
	if err == nil {
		err = n.core.Consensus().HandleShare(inst.CID, proposal)
	}
	n.coreLock.Unlock()
	if err != nil {
		n.logger.WithError(err).Debug("Local fast-path share")
	}

	return n.collectShares(inst, consensus.FastPath, commitments, binding)
}

// runFallback collects fresh commitments in round 1, then shares in round 2.
func (n *Node) runFallback(inst *consensus.Instance) error {
	// round 1: our own fresh commitment
	n.coreLock.Lock()
	commitment, err := n.core.Consensus().WitnessCommit(inst.CID)
	if err == nil {
		err = n.core.Consensus().HandleCommitment(inst.CID, n.core.ID(), commitment)
	}
	n.coreLock.Unlock()
	if err != nil {
		return err
	}

	for _, peer := range n.witnesses() {
		if n.core.Consensus().ReadyToSign(inst.CID) {
			break
		}

		req := &net.NonceRequest{
			FromID: n.core.ID(),
			CID:    inst.CID,
		}
		var resp net.NonceResponse
		err := n.guardedSend(peer, req, func() error {
			return n.trans.Nonce(peer.NetAddr, req, &resp)
		})
		if err != nil {
			n.logger.WithError(err).WithField("peer", peer.NetAddr).Debug("Fallback round 1")
			continue
		}

		n.coreLock.Lock()
		err = n.core.Consensus().HandleCommitment(inst.CID, peer.ID(), resp.Commitment)
		n.coreLock.Unlock()
		if err != nil {
			n.logger.WithError(err).Debug("Handling fallback commitment")
		}
	}

	if !n.core.Consensus().ReadyToSign(inst.CID) {
		return common.NewCodedErr(common.InsufficientSigners, "Instance", inst.CID.Short())
	}

	// round 2
	binding := n.core.Binding(inst)
	commitments := inst.CommitmentList()

	n.coreLock.Lock()
	proposal, err := n.core.Consensus().WitnessSign(inst.CID, consensus.FallbackPath, inst.Message, commitments, binding)
	if err == nil {
		err = n.core.Consensus().HandleShare(inst.CID, proposal)
	}
	n.coreLock.Unlock()
	if err != nil {
		n.logger.WithError(err).Debug("Local fallback share")
	}

	return n.collectShares(inst, consensus.FallbackPath, commitments, binding)
}

// collectShares asks every witness for a share until the instance decides.
func (n *Node) collectShares(inst *consensus.Instance, path consensus.Path, commitments []frost.Commitment, binding consensus.DataBinding) error {
	for _, peer := range n.witnesses() {
		if inst.Phase().Terminal() {
			break
		}

		req := &net.ProposeRequest{
			FromID:      n.core.ID(),
			CID:         inst.CID,
			Path:        path,
			Intent:      inst.Intent,
			Message:     inst.Message,
			Commitments: commitments,
			Binding:     binding,
		}
		var resp net.ProposeResponse
		err := n.guardedSend(peer, req, func() error {
			return n.trans.Propose(peer.NetAddr, req, &resp)
		})
		if err != nil || resp.Proposal == nil {
			n.logger.WithError(err).WithField("peer", peer.NetAddr).Debug("Propose")
			continue
		}

		n.coreLock.Lock()
		err = n.core.Consensus().HandleShare(inst.CID, resp.Proposal)
		n.coreLock.Unlock()
		if err != nil {
			n.logger.WithError(err).Debug("Handling share")
		}
	}
	return nil
}

// witnesses returns every peer except ourselves.
func (n *Node) witnesses() []*peers.Peer {
	_, others := peers.ExcludePeer(n.peerSelector.Peers().Peers, n.trans.AdvertiseAddr())
	return others
}

/*
 * Lifecycle
 */

// Suspend puts the node in the Suspended state: it keeps serving journal
// reads but initiates nothing.
func (n *Node) Suspend() {
	n.logger.Debug("Suspend")
	n.setState(Suspended)
}

// Shutdown attempts to cleanly shutdown the node.
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		// Exit any non-shutdown state immediately
		n.setState(Shutdown)

		// Stop and wait for concurrent operations
		close(n.shutdownCh)
		n.waitRoutines()

		// For some reason this needs to be called after closing the shutdownCh
		// Not entirely sure why...
		n.controlTimer.Shutdown()

		// transport, scheduler and store should only be closed once all
		// concurrent operations are finished, otherwise they can panic trying
		// to use close objects
		n.trans.Close()
		n.core.Scheduler().Shutdown()
		if err := n.core.Journal().Store().Close(); err != nil {
			n.logger.WithError(err).Error("Closing store")
		}
	}
}

// GetStats returns the node's current stats.
func (n *Node) GetStats() map[string]string {
	n.coreLock.Lock()
	stats := n.core.Stats()
	n.coreLock.Unlock()

	stats["state"] = n.getState().String()
	stats["uptime"] = time.Since(n.start).String()
	return stats
}

// GetState returns the node's current state.
func (n *Node) GetState() State {
	return n.getState()
}

// GetPeers returns the current peer set.
func (n *Node) GetPeers() []*peers.Peer {
	return n.core.Peers().Peers
}

// GetOp returns the attested op that produced the given epoch.
func (n *Node) GetOp(epoch types.Epoch) (*tree.AttestedOp, error) {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.core.Journal().Store().GetOp(epoch)
}

// GetPendingIntents returns the undecided intents, sorted by ID.
func (n *Node) GetPendingIntents() []*journal.Intent {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.core.Journal().PendingIntents()
}

// GetCeremony returns a recovery ceremony by ID.
func (n *Node) GetCeremony(id types.CeremonyID) (*recovery.Ceremony, bool) {
	return n.core.Recovery().Get(id)
}

// InitiateCeremony opens a guardian recovery ceremony for a tree op.
func (n *Node) InitiateCeremony(initiator types.LeafID, op tree.Op, threshold uint16) (*recovery.Ceremony, error) {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.core.Recovery().Initiate(initiator, op, threshold)
}

// FinalizeCeremony finalizes a ceremony once its dispute window has closed.
func (n *Node) FinalizeCeremony(id types.CeremonyID) (*recovery.Ceremony, error) {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.core.Recovery().Finalize(id)
}

// GetReceipts returns guard-chain receipts above skipSeq. Returns nil when
// the node runs without a guard chain.
func (n *Node) GetReceipts(skipSeq int) ([]*guard.Receipt, error) {
	chain := n.core.Guard()
	if chain == nil {
		return nil, nil
	}
	return chain.Coupler().Receipts(skipSeq)
}
