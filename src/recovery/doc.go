// Package recovery implements guardian-assisted key recovery.
//
// A ceremony collects approvals from k of the authority's n guardians, but
// cannot finalize before its dispute window has fully elapsed, no matter how
// many approvals it holds. A coerced owner therefore always has the window
// to raise a dispute from another device, which kills the ceremony and rolls
// back the staged key rotation. Finalization commits the rotation the
// ceremony staged when it opened.
package recovery
