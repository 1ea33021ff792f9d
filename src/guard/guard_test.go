package guard

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/crypto"
	"github.com/halonetworks/halo/src/scheduler"
	"github.com/halonetworks/halo/src/types"
)

func testContext() types.ContextID {
	return types.NewContextID(types.NewDeviceID([]byte("alice")), types.NewDeviceID([]byte("bob")))
}

func testPeer() types.DeviceID {
	return types.NewDeviceID([]byte("bob"))
}

func TestMintVerifyAttenuate(t *testing.T) {
	minter := NewMinter([]byte("root secret"))
	root := Scope{Context: testContext(), Privacy: types.PrivacySealed}

	token := minter.Mint(root)
	if !minter.Verify(token) {
		t.Fatal("a freshly minted token should verify")
	}

	// anyone can narrow offline
	narrowed, ok := token.Attenuate(Scope{
		Context: testContext(),
		Peer:    testPeer(),
		Privacy: types.PrivacyPublic,
		Expiry:  100,
	})
	if !ok {
		t.Fatal("narrowing in every dimension should be allowed")
	}
	if !minter.Verify(narrowed) {
		t.Fatal("an attenuated token should verify")
	}

	// but nobody can widen
	if _, ok := narrowed.Attenuate(Scope{
		Context: testContext(),
		Peer:    testPeer(),
		Privacy: types.PrivacyPseudonymous,
		Expiry:  100,
	}); ok {
		t.Fatal("raising the privacy ceiling is a widening and must be refused")
	}
	if _, ok := narrowed.Attenuate(Scope{
		Context: testContext(),
		Peer:    testPeer(),
		Privacy: types.PrivacyPublic,
	}); ok {
		t.Fatal("dropping the expiry is a widening and must be refused")
	}

	// forging a caveat without the tag fold fails verification
	forged := &Token{
		Root:    narrowed.Root,
		Caveats: append([]Scope{}, narrowed.Caveats...),
		Tag:     narrowed.Tag,
	}
	forged.Caveats[0].Privacy = types.PrivacySealed
	if minter.Verify(forged) {
		t.Fatal("a tampered caveat chain must not verify")
	}

	// a different minter rejects the token outright
	other := NewMinter([]byte("other secret"))
	if other.Verify(token) {
		t.Fatal("a foreign minter must not verify the token")
	}
}

func TestAuthGuard(t *testing.T) {
	minter := NewMinter([]byte("root secret"))
	clock := scheduler.NewSimClock(time.Unix(1000, 0))
	auth := NewAuthGuard(minter, clock)

	send := &Send{Context: testContext(), Peer: testPeer(), Privacy: types.PrivacyPublic}

	err := auth.Allow(send)
	if !common.IsCoded(err, common.AuthorizationDenied) {
		t.Fatalf("a context without a token should be denied, got %v", err)
	}

	token := minter.Mint(Scope{Context: testContext(), Privacy: types.PrivacyPseudonymous, Expiry: 2000})
	if err := auth.Install(token); err != nil {
		t.Fatal(err)
	}
	if err := auth.Allow(send); err != nil {
		t.Fatal(err)
	}

	// privacy above the token's ceiling is denied
	leaky := &Send{Context: testContext(), Peer: testPeer(), Privacy: types.PrivacySealed}
	if err := auth.Allow(leaky); !common.IsCoded(err, common.AuthorizationDenied) {
		t.Fatalf("a send above the privacy ceiling should be denied, got %v", err)
	}

	// revocation takes effect immediately
	auth.Revoke(testContext())
	if err := auth.Allow(send); !common.IsCoded(err, common.AuthorizationDenied) {
		t.Fatalf("a revoked context should be denied, got %v", err)
	}

	// expired tokens stop working
	if err := auth.Install(token); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2000 * time.Second)
	if err := auth.Allow(send); !common.IsCoded(err, common.AuthorizationDenied) {
		t.Fatalf("a send after token expiry should be denied, got %v", err)
	}
}

func TestAuthGuardRejectsForgedInstall(t *testing.T) {
	minter := NewMinter([]byte("root secret"))
	auth := NewAuthGuard(minter, scheduler.NewSimClock(time.Unix(0, 0)))

	forged := NewMinter([]byte("other secret")).Mint(Scope{Context: testContext()})
	if err := auth.Install(forged); !common.IsCoded(err, common.AuthorizationDenied) {
		t.Fatalf("installing a foreign token should fail, got %v", err)
	}
}

func TestFlowGuardBudget(t *testing.T) {
	clock := scheduler.NewSimClock(time.Unix(0, 0))
	flow := NewFlowGuard(1, 3, clock)

	send := &Send{Context: testContext(), Peer: testPeer()}

	// the burst admits three sends back to back
	for i := 0; i < 3; i++ {
		if err := flow.Allow(send); err != nil {
			t.Fatalf("send %d should fit the burst: %v", i, err)
		}
	}
	err := flow.Allow(send)
	if !common.IsCoded(err, common.FlowBudgetExhausted) {
		t.Fatalf("the fourth send should exhaust the budget, got %v", err)
	}

	// one second refills one unit
	clock.Advance(time.Second)
	if err := flow.Allow(send); err != nil {
		t.Fatal(err)
	}
	if err := flow.Allow(send); !common.IsCoded(err, common.FlowBudgetExhausted) {
		t.Fatalf("the refill is one unit, not more, got %v", err)
	}

	// budgets are per (context, peer)
	other := &Send{Context: testContext(), Peer: types.NewDeviceID([]byte("carol"))}
	if err := flow.Allow(other); err != nil {
		t.Fatal(err)
	}

	// the bucket never refills past the burst
	clock.Advance(time.Hour)
	if got := flow.Budget(send.Context, send.Peer); got != 3 {
		t.Fatalf("the budget should cap at the burst of 3, got %v", got)
	}
}

func TestCouplerReceiptsAreGapless(t *testing.T) {
	clock := scheduler.NewSimClock(time.Unix(0, 0))
	coupler := NewJournalCoupler(10, clock)

	payloads := []string{"one", "two", "three"}
	for i, p := range payloads {
		r, err := coupler.Couple(&Send{Context: testContext(), Peer: testPeer(), Payload: []byte(p)})
		if err != nil {
			t.Fatal(err)
		}
		if r.Seq != uint64(i) {
			t.Fatalf("receipt %d should carry sequence %d, got %d", i, i, r.Seq)
		}
		if r.Digest != crypto.Blake3([]byte(p)) {
			t.Fatal("the receipt digest should commit to the payload")
		}
	}

	receipts, err := coupler.Receipts(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 2 {
		t.Fatalf("expected the receipts above sequence 0, got %d", len(receipts))
	}
	if coupler.LastSeq() != 3 {
		t.Fatalf("the next sequence should be 3, got %d", coupler.LastSeq())
	}
}

func TestChainOrder(t *testing.T) {
	minter := NewMinter([]byte("root secret"))
	clock := scheduler.NewSimClock(time.Unix(0, 0))

	auth := NewAuthGuard(minter, clock)
	flow := NewFlowGuard(1, 1, clock)
	coupler := NewJournalCoupler(10, clock)
	chain := NewChain(auth, flow, coupler, common.NewTestEntry(t, logrus.DebugLevel))

	send := &Send{Context: testContext(), Peer: testPeer(), Privacy: types.PrivacyPublic, Payload: []byte("hi")}

	// unauthorized sends never burn flow budget
	if _, err := chain.Admit(send); !common.IsCoded(err, common.AuthorizationDenied) {
		t.Fatalf("an unauthorized send should be denied, got %v", err)
	}
	if got := flow.Budget(send.Context, send.Peer); got != 1 {
		t.Fatalf("a denied send must not consume budget, got %v", got)
	}

	if err := auth.Install(minter.Mint(Scope{Context: testContext(), Privacy: types.PrivacySealed})); err != nil {
		t.Fatal(err)
	}

	r, err := chain.Admit(send)
	if err != nil {
		t.Fatal(err)
	}
	if r.Seq != 0 {
		t.Fatalf("the first admitted send should get sequence 0, got %d", r.Seq)
	}

	// the burst of 1 is now gone; denial comes from the flow guard and no
	// receipt is issued
	if _, err := chain.Admit(send); !common.IsCoded(err, common.FlowBudgetExhausted) {
		t.Fatalf("the second send should exhaust the flow budget, got %v", err)
	}
	if chain.Coupler().LastSeq() != 1 {
		t.Fatal("a denied send must not produce a receipt")
	}
}

func TestAdmitThenCouplesReceiptToTransfer(t *testing.T) {
	minter := NewMinter([]byte("root secret"))
	clock := scheduler.NewSimClock(time.Unix(0, 0))

	auth := NewAuthGuard(minter, clock)
	flow := NewFlowGuard(DefaultRate, DefaultBurst, clock)
	coupler := NewJournalCoupler(10, clock)
	chain := NewChain(auth, flow, coupler, common.NewTestEntry(t, logrus.DebugLevel))

	if err := auth.Install(minter.Mint(Scope{Context: testContext(), Privacy: types.PrivacySealed})); err != nil {
		t.Fatal(err)
	}

	send := &Send{Context: testContext(), Peer: testPeer(), Privacy: types.PrivacyPublic, Payload: []byte("hi")}

	// a transfer that never happens leaves no receipt behind
	wantErr := fmt.Errorf("connection refused")
	if _, err := chain.AdmitThen(send, func() error { return wantErr }); err != wantErr {
		t.Fatalf("a failed transfer should surface its error, got %v", err)
	}
	if coupler.LastSeq() != 0 {
		t.Fatal("a send that never occurred must not be journaled")
	}

	// guards still run first: a denied send never reaches the transfer
	transferred := false
	denied := &Send{Context: testContext(), Peer: testPeer(), Privacy: types.PrivacySealed, Payload: []byte("hi")}
	auth.Revoke(testContext())
	if _, err := chain.AdmitThen(denied, func() error { transferred = true; return nil }); err == nil {
		t.Fatal("a send without a token should be denied")
	}
	if transferred {
		t.Fatal("a denied send must not reach the transport")
	}
	if err := auth.Install(minter.Mint(Scope{Context: testContext(), Privacy: types.PrivacySealed})); err != nil {
		t.Fatal(err)
	}

	// a completed transfer gets the next receipt
	r, err := chain.AdmitThen(send, func() error { transferred = true; return nil })
	if err != nil {
		t.Fatal(err)
	}
	if !transferred {
		t.Fatal("an admitted send should reach the transport")
	}
	if r.Seq != 0 || r.Digest != crypto.Blake3(send.Payload) {
		t.Fatal("the receipt should commit to the sent payload")
	}
}
