package net

import (
	"errors"
	"testing"

	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// serveSync answers every RPC on the transport with a canned sync response
// until the stop channel closes.
func serveSync(trans *InmemTransport, resp SyncResponse, stop <-chan struct{}) {
	for {
		select {
		case rpc := <-trans.Consumer():
			out := resp
			rpc.Respond(&out, nil)
		case <-stop:
			return
		}
	}
}

func TestInmemTransportSync(t *testing.T) {
	addrA, a := NewInmemTransport("")
	addrB, b := NewInmemTransport("")
	defer a.Close()
	defer b.Close()

	if addrA == addrB {
		t.Fatal("generated addresses should be unique")
	}

	a.Connect(addrB, b)

	want := SyncResponse{
		FromID: types.NewDeviceID([]byte("bob")),
		Ops: []*tree.AttestedOp{{
			Op:          tree.Op{ParentEpoch: 4, Kind: tree.RemoveLeafOp(0, tree.RemoveLost), Version: tree.OpVersion},
			AggSig:      []byte("sig"),
			SignerCount: 2,
		}},
	}

	stop := make(chan struct{})
	defer close(stop)
	go serveSync(b, want, stop)

	var resp SyncResponse
	err := a.Sync(addrB, &SyncRequest{FromID: types.NewDeviceID([]byte("alice")), KnownEpoch: 3}, &resp)
	if err != nil {
		t.Fatal(err)
	}

	if resp.FromID != want.FromID {
		t.Fatal("the response should carry the responder's ID")
	}
	if len(resp.Ops) != 1 || resp.Ops[0].Hash() != want.Ops[0].Hash() {
		t.Fatal("the response should carry the responder's ops")
	}
}

func TestInmemTransportUnknownPeer(t *testing.T) {
	_, a := NewInmemTransport("")
	defer a.Close()

	var resp SyncResponse
	if err := a.Sync("nowhere", &SyncRequest{}, &resp); err == nil {
		t.Fatal("a sync to an unconnected peer should fail")
	}
}

func TestInmemTransportPropagatesErrors(t *testing.T) {
	_, a := NewInmemTransport("")
	addrB, b := NewInmemTransport("")
	defer a.Close()
	defer b.Close()

	a.Connect(addrB, b)

	go func() {
		rpc := <-b.Consumer()
		rpc.Respond(&MergeResponse{}, errors.New("journal unavailable"))
	}()

	var resp MergeResponse
	err := a.Merge(addrB, &MergeRequest{FromID: types.NewDeviceID([]byte("alice"))}, &resp)
	if err == nil || err.Error() != "journal unavailable" {
		t.Fatalf("the responder's error should surface at the caller, got %v", err)
	}
}

func TestInmemTransportDisconnect(t *testing.T) {
	_, a := NewInmemTransport("")
	addrB, b := NewInmemTransport("")
	defer a.Close()
	defer b.Close()

	a.Connect(addrB, b)
	a.Disconnect(addrB)

	var resp SyncResponse
	if err := a.Sync(addrB, &SyncRequest{}, &resp); err == nil {
		t.Fatal("a sync after disconnect should fail")
	}
}
