// Package net implements the transports Halo nodes use to exchange journal
// state and run signing rounds.
//
// This package contains the implementations of the Transport interface,
// which nodes use to send and receive RPC requests (SyncRequest,
// MergeRequest, ProposeRequest, etc.). There are two implementations:
//
// - Inmem: in-memory transport used only for testing
//
// - TCP: communicating over plain TCP
//
// The TCP transport is suitable when nodes are in the same local network, or
// when users are able to configure their connections appropriately to avoid
// NAT issues. NAT traversal is out of scope; deployments behind NATs front
// the node with their own tunnels.
package net
