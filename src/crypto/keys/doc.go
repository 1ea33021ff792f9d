// Package keys implements the device identity keys used by Halo.
//
// Each device owns an ECDSA key-pair on the secp256k1 curve. The device key
// identifies the device on the transport and authenticates the intents and
// proposals it emits. It is distinct from, and never mixed with, the
// threshold group keys managed by the frost package: a device key belongs to
// one device, a group key belongs to the authority as a whole.
package keys
