package types

// PrivacyLevel classifies how much an envelope's transport metadata may
// reveal. Levels are ordered; a send may be carried at a level at or above
// what its authorization grants, never below.
type PrivacyLevel uint8

const (
	// PrivacyPublic permits plaintext routing metadata.
	PrivacyPublic PrivacyLevel = iota
	// PrivacyPseudonymous hides the sender's identity behind a context
	// keyed alias.
	PrivacyPseudonymous
	// PrivacySealed hides everything but the recipient context.
	PrivacySealed
)

// String implements fmt.Stringer.
func (p PrivacyLevel) String() string {
	switch p {
	case PrivacyPublic:
		return "Public"
	case PrivacyPseudonymous:
		return "Pseudonymous"
	case PrivacySealed:
		return "Sealed"
	default:
		return "Unknown"
	}
}
