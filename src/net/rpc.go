package net

// RPCResponse carries a reply and a potential error back to the transport.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// RPC is one inbound request off the transport's consumer channel. Command
// is one of the request types in commands.go; the node answers through
// RespChan exactly once.
type RPC struct {
	Command  interface{}
	RespChan chan<- RPCResponse
}

// Respond sends the reply. A non-nil err travels back to the caller as a
// remote error string.
func (r *RPC) Respond(resp interface{}, err error) {
	r.RespChan <- RPCResponse{Response: resp, Error: err}
}
