package guard

import (
	"sync"
	"time"

	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/crypto"
	"github.com/halonetworks/halo/src/scheduler"
	"github.com/halonetworks/halo/src/types"
)

// Receipt is the durable trace of one admitted send: a gapless sequence
// number and a payload digest. The sequence makes silent drops detectable
// by audit; the digest ties the receipt to exactly one payload.
type Receipt struct {
	Seq     uint64             `json:"seq"`
	At      time.Time          `json:"at"`
	Context types.ContextID    `json:"context"`
	Peer    types.DeviceID     `json:"peer"`
	Privacy types.PrivacyLevel `json:"privacy"`
	Digest  types.Hash32       `json:"digest"`
}

// JournalCoupler issues receipts for admitted sends and keeps a window of
// recent ones for audit queries. The sequence is per node and never skips.
type JournalCoupler struct {
	sync.Mutex
	seq    uint64
	window *common.RollingWindow[*Receipt]
	clock  scheduler.TimeEffects
}

// NewJournalCoupler creates a coupler retaining windowSize recent receipts.
func NewJournalCoupler(windowSize int, clock scheduler.TimeEffects) *JournalCoupler {
	return &JournalCoupler{
		window: common.NewRollingWindow[*Receipt]("ReceiptWindow", windowSize),
		clock:  clock,
	}
}

// Couple issues the next receipt for a send.
func (j *JournalCoupler) Couple(s *Send) (*Receipt, error) {
	j.Lock()
	defer j.Unlock()

	r := &Receipt{
		Seq:     j.seq,
		At:      j.clock.Now(),
		Context: s.Context,
		Peer:    s.Peer,
		Privacy: s.Privacy,
		Digest:  crypto.Blake3(s.Payload),
	}
	if err := j.window.Set(r, int(j.seq)); err != nil {
		return nil, err
	}
	j.seq++
	return r, nil
}

// Receipts returns the receipts above skipSeq still inside the window.
func (j *JournalCoupler) Receipts(skipSeq int) ([]*Receipt, error) {
	j.Lock()
	defer j.Unlock()
	return j.window.Get(skipSeq)
}

// LastSeq returns the next sequence number to be issued.
func (j *JournalCoupler) LastSeq() uint64 {
	j.Lock()
	defer j.Unlock()
	return j.seq
}
