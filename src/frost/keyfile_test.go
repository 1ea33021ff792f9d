package frost

import (
	"bytes"
	"crypto/rand"
	"path/filepath"
	"testing"
)

func TestShareFileRoundTrip(t *testing.T) {
	packages, pub, err := Deal(rand.Reader, 2, 3)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "frost.json")

	share := NewShareFile(3, pub, &packages[1])
	if err := WriteShareFile(path, share); err != nil {
		t.Fatal(err)
	}

	read, err := ReadShareFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if read.Epoch != 3 || read.Index != packages[1].Index {
		t.Fatalf("share file lost its identity: epoch %s index %d", read.Epoch, read.Index)
	}
	if !bytes.Equal(read.GroupPublicKey, pub.GroupPublicKey) {
		t.Fatal("share file lost the group public key")
	}

	ks, err := read.KeyStore()
	if err != nil {
		t.Fatal(err)
	}
	if ks.ActiveEpoch() != 3 {
		t.Fatalf("reconstituted key store should be active at epoch 3, not %s", ks.ActiveEpoch())
	}
	if !bytes.Equal(ks.GroupKey(), pub.GroupPublicKey) {
		t.Fatal("reconstituted key store should carry the group key")
	}

	local, ok := ks.LocalShare()
	if !ok {
		t.Fatal("reconstituted key store should carry the local share")
	}
	if local.Secret.IsEqual(packages[1].Secret) == false {
		t.Fatal("reconstituted secret share should equal the original")
	}
}

func TestReadShareFileMissing(t *testing.T) {
	if _, err := ReadShareFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("reading a missing share file should fail")
	}
}
