package journal

import (
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// Intent is a proposal for the next tree operation, pending until a
// consensus instance commits or fails it.
type Intent struct {
	IntentID    types.IntentID `json:"intent_id"`
	Initiator   types.DeviceID `json:"initiator"`
	Op          tree.Op        `json:"op"`
	SubmittedAt int64          `json:"submitted_at"`
}

// NewIntent builds an intent with a content-derived identifier, so the same
// proposal submitted twice collapses to one pool entry.
func NewIntent(initiator types.DeviceID, op tree.Op, submittedAt int64) *Intent {
	content := append(initiator.Bytes(), op.Kind.Serialize()...)
	content = append(content, op.ParentEpoch.Bytes()...)
	content = append(content, op.ParentCommitment.Bytes()...)
	return &Intent{
		IntentID:    types.NewIntentID(content),
		Initiator:   initiator,
		Op:          op,
		SubmittedAt: submittedAt,
	}
}
