package net

import (
	gonet "net"
	"time"
)

// Transport provides an interface for network transports to allow a node to
// communicate with other nodes.
type Transport interface {

	// Listen starts the transport listening.
	Listen()

	// Consumer returns a channel that can be used to consume and respond to
	// RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address.
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other
	// peers can reach us.
	AdvertiseAddr() string

	// Sync, Merge, Nonce, Propose and Ceremony send the appropriate RPC to
	// the target node.

	Sync(target string, args *SyncRequest, resp *SyncResponse) error

	Merge(target string, args *MergeRequest, resp *MergeResponse) error

	Nonce(target string, args *NonceRequest, resp *NonceResponse) error

	Propose(target string, args *ProposeRequest, resp *ProposeResponse) error

	Ceremony(target string, args *CeremonyRequest, resp *CeremonyResponse) error

	// Close permanently closes a transport, stopping any associated
	// goroutines and freeing other resources.
	Close() error
}

// StreamLayer is used with the NetworkTransport to provide the low level
// stream abstraction.
type StreamLayer interface {
	gonet.Listener

	// Dial is used to create a new outgoing connection.
	Dial(address string, timeout time.Duration) (gonet.Conn, error)

	// AdvertiseAddr returns the publicly-reachable address of the stream.
	AdvertiseAddr() string
}
