package types

import (
	"testing"
)

func TestIDDerivationIsDeterministic(t *testing.T) {
	a := NewDeviceID([]byte("pubkey"))
	b := NewDeviceID([]byte("pubkey"))
	if a != b {
		t.Fatalf("same input should derive the same DeviceID: %s / %s", a, b)
	}
	if a.IsZero() {
		t.Fatal("derived DeviceID should not be zero")
	}
}

func TestIDDomainsAreSeparated(t *testing.T) {
	content := []byte("same content")
	if NewDeviceID(content) == NewLeafID(content) {
		t.Fatal("device and leaf identifiers should live in separate domains")
	}
	if NewAuthorityID(content) == NewDeviceID(content) {
		t.Fatal("authority and device identifiers should live in separate domains")
	}
}

func TestContextIDIsSymmetric(t *testing.T) {
	a := NewAuthorityID([]byte("alice"))
	b := NewAuthorityID([]byte("bob"))

	if NewContextID(a, b) != NewContextID(b, a) {
		t.Fatal("both endpoints should derive the same ContextID")
	}
}

func TestEpochBytesRoundTrip(t *testing.T) {
	e := Epoch(123456789)
	if got := EpochFromBytes(e.Bytes()); got != e {
		t.Fatalf("epoch round trip: expected %s, got %s", e, got)
	}
	if Epoch(3).Next() != 4 {
		t.Fatal("Next should advance the epoch by one")
	}
}

func TestHash32Order(t *testing.T) {
	lo := Hash32{}
	hi := Hash32{}
	hi[0] = 1

	if !lo.Less(hi) || hi.Less(lo) {
		t.Fatal("Less should impose the lexicographic order")
	}
	if !lo.IsZero() || hi.IsZero() {
		t.Fatal("IsZero should only report the all-zero digest")
	}
}
