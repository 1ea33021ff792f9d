package common

import "fmt"

// ErrKind classifies an error according to how the caller is expected to
// recover from it.
type ErrKind uint32

const (
	// ValidationFailed means the input was malformed; the caller fixes it.
	ValidationFailed ErrKind = iota
	// InsufficientSigners means an attested operation did not carry enough
	// signatures for the target branch's policy.
	InsufficientSigners
	// MissingSigningKey means the target branch has no signing key.
	MissingSigningKey
	// ParentCommitmentMismatch means an operation referenced a parent state
	// that is not the current one; the caller re-reads state and retries.
	ParentCommitmentMismatch
	// SignatureFailed means an aggregate signature did not verify.
	SignatureFailed
	// EpochMismatch means the caller's view of the epoch is behind; the
	// caller fast-forwards and retries.
	EpochMismatch
	// Equivocation means a witness produced two contradictory proposals in
	// the same consensus instance.
	Equivocation
	// Timeout means a consensus instance ran out of time.
	Timeout
	// RotationInProgress means a key rotation is already staged; the caller
	// must commit or roll it back first.
	RotationInProgress
	// DisputeWindowOpen means a recovery ceremony cannot finalize yet; the
	// caller waits the window out, however many approvals it holds.
	DisputeWindowOpen
	// FlowBudgetExhausted means the flow budget for a (context, peer) pair
	// is depleted; the caller must wait for back-pressure to clear.
	FlowBudgetExhausted
	// AuthorizationDenied means the capability token did not cover the
	// attempted send. Fatal for the send.
	AuthorizationDenied
	// StorageUnavailable means the persistence layer is temporarily down.
	StorageUnavailable
	// KeyNotFound means a store lookup missed.
	KeyNotFound
	// KeyAlreadyExists means a store insert collided.
	KeyAlreadyExists
	// TooLate means the requested item was evicted from a rolling window.
	TooLate
	// SkippedIndex means an insert would leave a gap in a rolling window.
	SkippedIndex
)

// CodedErr is the error type that crosses subsystem boundaries. The kind
// determines the recovery strategy; the context strings are for logs.
type CodedErr struct {
	kind    ErrKind
	subject string
	detail  string
}

// NewCodedErr builds a CodedErr for the given subject (usually a data type
// or component name) and detail (usually a key or a short explanation).
func NewCodedErr(kind ErrKind, subject string, detail string) CodedErr {
	return CodedErr{kind: kind, subject: subject, detail: detail}
}

// Kind returns the error's kind.
func (e CodedErr) Kind() ErrKind { return e.kind }

// Error implements the error interface.
func (e CodedErr) Error() string {
	m := ""
	switch e.kind {
	case ValidationFailed:
		m = "Validation Failed"
	case InsufficientSigners:
		m = "Insufficient Signers"
	case MissingSigningKey:
		m = "Missing Signing Key"
	case ParentCommitmentMismatch:
		m = "Parent Commitment Mismatch"
	case SignatureFailed:
		m = "Signature Failed"
	case EpochMismatch:
		m = "Epoch Mismatch"
	case Equivocation:
		m = "Equivocation"
	case Timeout:
		m = "Timeout"
	case RotationInProgress:
		m = "Rotation In Progress"
	case DisputeWindowOpen:
		m = "Dispute Window Open"
	case FlowBudgetExhausted:
		m = "Flow Budget Exhausted"
	case AuthorizationDenied:
		m = "Authorization Denied"
	case StorageUnavailable:
		m = "Storage Unavailable"
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case TooLate:
		m = "Too Late"
	case SkippedIndex:
		m = "Skipped Index"
	}
	return fmt.Sprintf("%s, %s, %s", e.subject, e.detail, m)
}

// IsCoded checks that an error is a CodedErr of the given kind.
func IsCoded(err error, kind ErrKind) bool {
	codedErr, ok := err.(CodedErr)
	return ok && codedErr.kind == kind
}
