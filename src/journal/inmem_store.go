package journal

import (
	"sync"

	cm "github.com/hashicorp/golang-lru"

	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// InmemStore keeps the journal entirely in memory. A rolling window over the
// op sequence serves incremental sync, and an LRU caches op content hashes so
// the epoch tie-break does not rehash on every merge.
type InmemStore struct {
	cacheSize int

	sync.RWMutex
	m         *Map
	recent    *common.RollingWindow[*tree.AttestedOp]
	hashCache *cm.Cache
}

// NewInmemStore creates a fresh in-memory journal store.
func NewInmemStore(cacheSize int) *InmemStore {
	hashCache, _ := cm.New(cacheSize)
	return &InmemStore{
		cacheSize: cacheSize,
		m:         NewMap(),
		recent:    common.NewRollingWindow[*tree.AttestedOp]("OpWindow", cacheSize),
		hashCache: hashCache,
	}
}

// CacheSize returns the nominal size of the store's caches.
func (s *InmemStore) CacheSize() int { return s.cacheSize }

// Map returns the replicated map. Callers treat it as read-only.
func (s *InmemStore) Map() *Map {
	s.RLock()
	defer s.RUnlock()
	return s.m
}

// SetOp records an op at an epoch, returning whether it won the slot.
func (s *InmemStore) SetOp(epoch types.Epoch, op *tree.AttestedOp) (bool, error) {
	s.Lock()
	defer s.Unlock()

	accepted := s.m.AddOp(epoch, op)
	if accepted {
		s.hashCache.Add(epoch, op.Hash())
		s.refreshWindow()
	}
	return accepted, nil
}

// OpHash returns the content hash of the op recorded at an epoch. Served
// from the LRU when possible; sync uses it to compare slots without moving
// op bodies.
func (s *InmemStore) OpHash(epoch types.Epoch) (types.Hash32, error) {
	s.RLock()
	defer s.RUnlock()

	if cached, ok := s.hashCache.Get(epoch); ok {
		return cached.(types.Hash32), nil
	}

	op, ok := s.m.Ops[epoch]
	if !ok {
		return types.Hash32{}, common.NewCodedErr(common.KeyNotFound, "AttestedOp", epoch.String())
	}

	h := op.Hash()
	s.hashCache.Add(epoch, h)
	return h, nil
}

// GetOp returns the op recorded at an epoch.
func (s *InmemStore) GetOp(epoch types.Epoch) (*tree.AttestedOp, error) {
	s.RLock()
	defer s.RUnlock()

	op, ok := s.m.Ops[epoch]
	if !ok {
		return nil, common.NewCodedErr(common.KeyNotFound, "AttestedOp", epoch.String())
	}
	return op, nil
}

// LastEpoch returns the highest recorded epoch.
func (s *InmemStore) LastEpoch() types.Epoch {
	s.RLock()
	defer s.RUnlock()
	return s.m.MaxEpoch()
}

// RecentOps returns the ops above skipEpoch, from the rolling window. A
// skipEpoch below the window fails with TooLate; the caller falls back to a
// full map exchange.
func (s *InmemStore) RecentOps(skipEpoch int) ([]*tree.AttestedOp, error) {
	s.RLock()
	defer s.RUnlock()
	return s.recent.Get(skipEpoch)
}

// AddIntent adds an intent to the pool.
func (s *InmemStore) AddIntent(intent *Intent) error {
	s.Lock()
	defer s.Unlock()
	s.m.AddIntent(intent)
	return nil
}

// TombstoneIntent marks an intent resolved.
func (s *InmemStore) TombstoneIntent(id types.IntentID) error {
	s.Lock()
	defer s.Unlock()
	s.m.Tombstone(id)
	return nil
}

// RecordFailure records a consensus failure.
func (s *InmemStore) RecordFailure(f *FailureFact) error {
	s.Lock()
	defer s.Unlock()
	s.m.RecordFailure(f)
	return nil
}

// Merge joins a remote map in.
func (s *InmemStore) Merge(remote *Map) (bool, error) {
	s.Lock()
	defer s.Unlock()

	changed := s.m.Join(remote)
	if changed {
		s.refreshWindow()
	}
	return changed, nil
}

// Compact retracts history below a snapshot.
func (s *InmemStore) Compact(snap *Snapshot) error {
	s.Lock()
	defer s.Unlock()

	s.m.Compact(snap)
	s.hashCache.Purge()
	s.refreshWindow()
	return nil
}

// LatestSnapshot returns the map's compaction snapshot, if any. The snapshot
// can arrive through a local Compact or through a merge with a compacted
// replica.
func (s *InmemStore) LatestSnapshot() (*Snapshot, error) {
	s.RLock()
	defer s.RUnlock()

	if s.m.Snapshot == nil {
		return nil, common.NewCodedErr(common.KeyNotFound, "Snapshot", "none taken")
	}
	return s.m.Snapshot, nil
}

// NeedBootstrap is always false for a memory-only store.
func (s *InmemStore) NeedBootstrap() bool { return false }

// StorePath returns the empty string; nothing is on disk.
func (s *InmemStore) StorePath() string { return "" }

// Close is a no-op.
func (s *InmemStore) Close() error { return nil }

// refreshWindow rebuilds the rolling window from the tail of the ordered op
// sequence. A merge or a compaction can rewrite arbitrary slots, so append
// maintenance is not enough. Callers hold the write lock.
func (s *InmemStore) refreshWindow() {
	s.recent = common.NewRollingWindow[*tree.AttestedOp]("OpWindow", s.cacheSize)

	ops := s.m.OrderedOps()
	if len(ops) > s.cacheSize {
		ops = ops[len(ops)-s.cacheSize:]
	}

	for _, op := range ops {
		epoch := op.Op.ParentEpoch.Next()
		if op.Op.Kind.Tag == tree.TagSnapshot {
			epoch = op.Op.Kind.Snapshot.Epoch
		}
		if err := s.recent.Set(op, int(epoch)); err != nil {
			// a gap in the tail; sync serves from the gap onward
			s.recent = common.NewRollingWindow[*tree.AttestedOp]("OpWindow", s.cacheSize)
			s.recent.Set(op, int(epoch)) //nolint:errcheck
		}
	}
}
