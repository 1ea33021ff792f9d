package net

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/halonetworks/halo/src/types"
)

// Envelope is the canonical unit of application traffic between authorities.
// The privacy level is part of the wire format so a relay can never silently
// downgrade it.
type Envelope struct {
	Sender    types.DeviceID     `json:"sender"`
	Context   types.ContextID    `json:"context"`
	Recipient types.DeviceID     `json:"recipient"`
	Privacy   types.PrivacyLevel `json:"privacy"`
	Payload   []byte             `json:"payload"`
}

// maxEnvelopePayload bounds what Unmarshal will allocate.
const maxEnvelopePayload = 1 << 24

// Marshal returns the canonical framing: the three identifiers, the privacy
// byte, then the length-prefixed payload.
func (e *Envelope) Marshal() []byte {
	out := make([]byte, 0, 16+16+16+1+4+len(e.Payload))
	out = append(out, e.Sender.Bytes()...)
	out = append(out, e.Context.Bytes()...)
	out = append(out, e.Recipient.Bytes()...)
	out = append(out, byte(e.Privacy))

	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(e.Payload)))
	out = append(out, l[:]...)
	return append(out, e.Payload...)
}

// Unmarshal parses a framed envelope.
func (e *Envelope) Unmarshal(data []byte) error {
	const header = 16 + 16 + 16 + 1 + 4
	if len(data) < header {
		return fmt.Errorf("envelope too short: %d bytes", len(data))
	}

	copy(e.Sender[:], data[0:16])
	copy(e.Context[:], data[16:32])
	copy(e.Recipient[:], data[32:48])
	e.Privacy = types.PrivacyLevel(data[48])

	l := binary.LittleEndian.Uint32(data[49:53])
	if l > maxEnvelopePayload {
		return fmt.Errorf("envelope payload too large: %d bytes", l)
	}
	if uint32(len(data)-header) != l {
		return fmt.Errorf("envelope payload length mismatch: header says %d, got %d", l, len(data)-header)
	}

	e.Payload = append([]byte{}, data[header:]...)
	return nil
}

// WriteTo writes the length-prefixed envelope to a stream.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	body := e.Marshal()
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(body)))

	n1, err := w.Write(l[:])
	if err != nil {
		return int64(n1), err
	}
	n2, err := w.Write(body)
	return int64(n1 + n2), err
}

// ReadEnvelope reads one length-prefixed envelope from a stream.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(l[:])
	if size > maxEnvelopePayload+64 {
		return nil, fmt.Errorf("envelope frame too large: %d bytes", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	e := new(Envelope)
	if err := e.Unmarshal(body); err != nil {
		return nil, err
	}
	return e, nil
}
