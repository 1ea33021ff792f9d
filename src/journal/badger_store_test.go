package journal

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/halonetworks/halo/src/common"
)

func TestBadgerStoreSurvivesReload(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "badger_db")

	store, err := NewBadgerStore(100, dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if store.NeedBootstrap() {
		t.Fatal("a brand new store should not claim an existing database")
	}

	j, packages, pub := testJournal(t, store)

	attested := attestOp(t, j, addLeafKind(j, 3), packages, pub)
	if err := j.Record(OpFact(attested)); err != nil {
		t.Fatal(err)
	}

	commitment := j.State().RootCommitment()
	authority := j.Authority()

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadBadgerStore(100, dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()

	if !reloaded.NeedBootstrap() {
		t.Fatal("a reloaded store should report an existing database")
	}

	rj, err := New(authority, reloaded, common.NewTestEntry(t, logrus.DebugLevel))
	if err != nil {
		t.Fatal(err)
	}

	if rj.State().NumLeaves() != 4 {
		t.Fatalf("the reloaded journal should hold 4 leaves, not %d", rj.State().NumLeaves())
	}
	if rj.State().RootCommitment() != commitment {
		t.Fatal("the reloaded journal should reproduce the commitment")
	}
}

func TestBadgerStoreReloadAfterCompact(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "badger_db")

	store, err := NewBadgerStore(100, dbPath)
	if err != nil {
		t.Fatal(err)
	}

	j, packages, pub := testJournal(t, store)

	attested := attestOp(t, j, addLeafKind(j, 3), packages, pub)
	if err := j.Record(OpFact(attested)); err != nil {
		t.Fatal(err)
	}
	if err := j.Compact(); err != nil {
		t.Fatal(err)
	}

	commitment := j.State().RootCommitment()
	fence := j.Map().Snapshot.Epoch
	authority := j.Authority()

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadBadgerStore(100, dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()

	snap, err := reloaded.LatestSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Epoch != fence {
		t.Fatalf("the snapshot should survive the reload at epoch %s, not %s", fence, snap.Epoch)
	}

	rj, err := New(authority, reloaded, common.NewTestEntry(t, logrus.DebugLevel))
	if err != nil {
		t.Fatal(err)
	}

	if rj.State().RootCommitment() != commitment {
		t.Fatal("a journal rebuilt from the compacted database should reproduce the commitment")
	}
	root, ok := rj.State().Root()
	if !ok || root.SigningKey == nil {
		t.Fatal("the rebuilt journal should still know the root signing key")
	}
}

func TestLoadBadgerStoreMissingPath(t *testing.T) {
	if _, err := LoadBadgerStore(100, filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("loading a database that does not exist should fail")
	}
}
