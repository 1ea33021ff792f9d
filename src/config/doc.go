// Package config defines the configuration for a Halo node.
//
// Regardless of how Halo is started, directly from Go code or as a standalone
// process from the command line, it uses the Config object defined in this
// package to store and forward configuration options. On top of these
// configuration options, Halo relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//	priv_key    // a plain text file containing the device's raw private key (cf. halo keygen).
//	peers.json  // a JSON file containing the authority's device roster.
//	frost.json  // this device's threshold key share and the group's public key package.
package config
