package journal

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger"
	"github.com/ugorji/go/codec"

	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

const (
	opPrefix     = "op"
	intentPrefix = "intent"
	tombPrefix   = "tomb"
	failPrefix   = "fail"
	snapshotKey  = "snapshot"
)

// BadgerStore is an InmemStore shadowed by a Badger database. Every accepted
// mutation is written through; LoadBadgerStore replays the database into a
// fresh map, re-running the epoch tie-break, so the in-memory view after a
// restart equals the view before it.
type BadgerStore struct {
	inmemStore    *InmemStore
	db            *badger.DB
	path          string
	needBootstrap bool
}

// NewBadgerStore creates a brand new store with a new database.
func NewBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	inmemStore := NewInmemStore(cacheSize)
	opts := badger.DefaultOptions(path).WithSyncWrites(false).WithLogger(nil)
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{
		inmemStore: inmemStore,
		db:         handle,
		path:       path,
	}, nil
}

// LoadBadgerStore opens an existing database and replays it.
func LoadBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).WithSyncWrites(false).WithLogger(nil)
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore:    NewInmemStore(cacheSize),
		db:            handle,
		path:          path,
		needBootstrap: true,
	}

	if err := store.replay(); err != nil {
		store.db.Close()
		return nil, err
	}

	return store, nil
}

// CacheSize returns the nominal size of the store's caches.
func (s *BadgerStore) CacheSize() int { return s.inmemStore.CacheSize() }

// Map returns the replicated map.
func (s *BadgerStore) Map() *Map { return s.inmemStore.Map() }

// SetOp records an op and, if it won the slot, writes its frame through.
func (s *BadgerStore) SetOp(epoch types.Epoch, op *tree.AttestedOp) (bool, error) {
	accepted, err := s.inmemStore.SetOp(epoch, op)
	if err != nil || !accepted {
		return accepted, err
	}
	return true, s.dbSetOp(epoch, op)
}

// OpHash returns the content hash of the op at an epoch.
func (s *BadgerStore) OpHash(epoch types.Epoch) (types.Hash32, error) {
	return s.inmemStore.OpHash(epoch)
}

// GetOp returns the op recorded at an epoch.
func (s *BadgerStore) GetOp(epoch types.Epoch) (*tree.AttestedOp, error) {
	return s.inmemStore.GetOp(epoch)
}

// LastEpoch returns the highest recorded epoch.
func (s *BadgerStore) LastEpoch() types.Epoch { return s.inmemStore.LastEpoch() }

// RecentOps returns the ops above skipEpoch.
func (s *BadgerStore) RecentOps(skipEpoch int) ([]*tree.AttestedOp, error) {
	return s.inmemStore.RecentOps(skipEpoch)
}

// AddIntent adds an intent to the pool and writes it through.
func (s *BadgerStore) AddIntent(intent *Intent) error {
	if err := s.inmemStore.AddIntent(intent); err != nil {
		return err
	}
	return s.dbSetJSON(intentKey(intent.IntentID), intent)
}

// TombstoneIntent marks an intent resolved and writes the tombstone through.
func (s *BadgerStore) TombstoneIntent(id types.IntentID) error {
	if err := s.inmemStore.TombstoneIntent(id); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tombKey(id), []byte{1})
	})
}

// RecordFailure records a consensus failure and writes it through.
func (s *BadgerStore) RecordFailure(f *FailureFact) error {
	if err := s.inmemStore.RecordFailure(f); err != nil {
		return err
	}
	return s.dbSetJSON(failKey(f.CID), f)
}

// Merge joins a remote map in and writes through everything that changed.
func (s *BadgerStore) Merge(remote *Map) (bool, error) {
	changed, err := s.inmemStore.Merge(remote)
	if err != nil || !changed {
		return changed, err
	}

	// write the merged view through; Join already resolved tie-breaks
	merged := s.inmemStore.Map()
	for e, op := range merged.Ops {
		if err := s.dbSetOp(e, op); err != nil {
			return true, err
		}
	}
	for _, in := range merged.Intents {
		if err := s.dbSetJSON(intentKey(in.IntentID), in); err != nil {
			return true, err
		}
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for id := range merged.Tombstones {
			if err := txn.Set(tombKey(id), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return true, err
	}
	for _, f := range merged.Failures {
		if err := s.dbSetJSON(failKey(f.CID), f); err != nil {
			return true, err
		}
	}
	if merged.Snapshot != nil {
		if err := s.dbSetJSON([]byte(snapshotKey), merged.Snapshot); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Compact retracts history below a snapshot, in memory and on disk.
func (s *BadgerStore) Compact(snap *Snapshot) error {
	if err := s.inmemStore.Compact(snap); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(opPrefix + "_")
		drop := [][]byte{}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			epoch := types.Epoch(binary.BigEndian.Uint64(key[len(prefix):]))
			if epoch <= snap.Epoch {
				drop = append(drop, append([]byte{}, key...))
			}
		}
		for _, key := range drop {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.dbSetOp(snap.Epoch, snap.FenceOp()); err != nil {
		return err
	}
	return s.dbSetJSON([]byte(snapshotKey), snap)
}

// LatestSnapshot returns the last compaction snapshot.
func (s *BadgerStore) LatestSnapshot() (*Snapshot, error) {
	return s.inmemStore.LatestSnapshot()
}

// NeedBootstrap reports whether the store was loaded from an existing
// database.
func (s *BadgerStore) NeedBootstrap() bool { return s.needBootstrap }

// StorePath returns the database directory.
func (s *BadgerStore) StorePath() string { return s.path }

// Close flushes and closes the database.
func (s *BadgerStore) Close() error { return s.db.Close() }

/*
 * DB serialisation
 */

func opKey(epoch types.Epoch) []byte {
	// big-endian so keys iterate in epoch order
	key := make([]byte, 0, len(opPrefix)+1+8)
	key = append(key, []byte(opPrefix+"_")...)
	var e [8]byte
	binary.BigEndian.PutUint64(e[:], uint64(epoch))
	return append(key, e[:]...)
}

func intentKey(id types.IntentID) []byte {
	return append([]byte(intentPrefix+"_"), id[:]...)
}

func tombKey(id types.IntentID) []byte {
	return append([]byte(tombPrefix+"_"), id[:]...)
}

func failKey(cid types.ConsensusID) []byte {
	return append([]byte(failPrefix+"_"), cid[:]...)
}

func (s *BadgerStore) dbSetOp(epoch types.Epoch, op *tree.AttestedOp) error {
	frame, err := EncodeFrame(epoch, op)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(opKey(epoch), frame)
	})
}

func (s *BadgerStore) dbSetJSON(key []byte, v interface{}) error {
	body := []byte{}
	jh := new(codec.JsonHandle)
	enc := codec.NewEncoderBytes(&body, jh)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, body)
	})
}

// replay folds the whole database back into the in-memory map, via the same
// Join path a network merge takes.
func (s *BadgerStore) replay() error {
	remote := NewMap()
	var snap *Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		jh := new(codec.JsonHandle)
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			switch {
			case strings.HasPrefix(key, opPrefix+"_"):
				epoch, hash, op, err := DecodeFrame(val)
				if err != nil {
					return err
				}
				if op.Hash() != hash {
					return fmt.Errorf("op frame at epoch %s is corrupt", epoch)
				}
				remote.AddOp(epoch, op)

			case strings.HasPrefix(key, intentPrefix+"_"):
				in := new(Intent)
				if err := codec.NewDecoderBytes(val, jh).Decode(in); err != nil {
					return err
				}
				remote.AddIntent(in)

			case strings.HasPrefix(key, tombPrefix+"_"):
				var id types.IntentID
				copy(id[:], key[len(tombPrefix)+1:])
				remote.Tombstone(id)

			case strings.HasPrefix(key, failPrefix+"_"):
				f := new(FailureFact)
				if err := codec.NewDecoderBytes(val, jh).Decode(f); err != nil {
					return err
				}
				remote.RecordFailure(f)

			case key == snapshotKey:
				snap = new(Snapshot)
				if err := codec.NewDecoderBytes(val, jh).Decode(snap); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// the snapshot rides the map, so the ordinary Join path re-fences any
	// ops the iteration picked up from below the compaction point
	remote.Snapshot = snap

	_, err = s.inmemStore.Merge(remote)
	return err
}
