package consensus

// Phase is the lifecycle state of a consensus instance.
type Phase uint8

const (
	// Pending means the instance exists but no round has started.
	Pending Phase = iota
	// FastPathActive means the single-round-trip path is in flight, built
	// on nonce commitments the witnesses published ahead of time.
	FastPathActive
	// FallbackActive means the two-round-trip path is in flight: collect
	// fresh commitments, then collect shares.
	FallbackActive
	// Committed is terminal: a valid aggregate signature was produced.
	Committed
	// Failed is terminal: timeout, conflict or equivocation.
	Failed
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case Pending:
		return "Pending"
	case FastPathActive:
		return "FastPathActive"
	case FallbackActive:
		return "FallbackActive"
	case Committed:
		return "Committed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the phase is final.
func (p Phase) Terminal() bool {
	return p == Committed || p == Failed
}

// Path selects between the two signing flows.
type Path uint8

const (
	// FastPath is one round trip on cached nonce commitments.
	FastPath Path = iota
	// FallbackPath is two round trips with fresh commitments.
	FallbackPath
)

// String implements fmt.Stringer.
func (p Path) String() string {
	if p == FastPath {
		return "FastPath"
	}
	return "FallbackPath"
}
