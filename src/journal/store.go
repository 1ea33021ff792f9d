package journal

import (
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// Store abstracts the journal's persistence. Both implementations keep the
// full replicated map in memory; the Badger store additionally writes every
// mutation down so a node can reopen its journal after a restart.
type Store interface {
	CacheSize() int
	Map() *Map
	SetOp(epoch types.Epoch, op *tree.AttestedOp) (bool, error)
	GetOp(epoch types.Epoch) (*tree.AttestedOp, error)
	OpHash(epoch types.Epoch) (types.Hash32, error)
	LastEpoch() types.Epoch
	RecentOps(skipEpoch int) ([]*tree.AttestedOp, error)
	AddIntent(intent *Intent) error
	TombstoneIntent(id types.IntentID) error
	RecordFailure(f *FailureFact) error
	Merge(remote *Map) (bool, error)
	Compact(s *Snapshot) error
	LatestSnapshot() (*Snapshot, error)
	NeedBootstrap() bool
	StorePath() string
	Close() error
}
