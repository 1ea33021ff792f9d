package journal

import (
	"encoding/binary"
	"fmt"

	"github.com/ugorji/go/codec"

	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// An op frame is the on-disk record of one epoch slot:
//
//	epoch (8B LE) || op hash (32B) || body length (4B LE) || body
//
// The hash is stored alongside the body so replay can re-run the epoch
// tie-break without re-serialising the op.
const frameHeaderLen = 8 + 32 + 4

// EncodeFrame serialises an op frame.
func EncodeFrame(epoch types.Epoch, op *tree.AttestedOp) ([]byte, error) {
	body := []byte{}
	jh := new(codec.JsonHandle)
	enc := codec.NewEncoderBytes(&body, jh)
	if err := enc.Encode(op); err != nil {
		return nil, err
	}

	out := make([]byte, frameHeaderLen, frameHeaderLen+len(body))
	binary.LittleEndian.PutUint64(out[0:8], uint64(epoch))
	copy(out[8:40], op.Hash().Bytes())
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(body)))
	return append(out, body...), nil
}

// DecodeFrame parses an op frame.
func DecodeFrame(data []byte) (types.Epoch, types.Hash32, *tree.AttestedOp, error) {
	if len(data) < frameHeaderLen {
		return 0, types.Hash32{}, nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	epoch := types.Epoch(binary.LittleEndian.Uint64(data[0:8]))

	var hash types.Hash32
	copy(hash[:], data[8:40])

	bodyLen := binary.LittleEndian.Uint32(data[40:44])
	if uint32(len(data)-frameHeaderLen) != bodyLen {
		return 0, types.Hash32{}, nil, fmt.Errorf("frame body length mismatch: header says %d, got %d",
			bodyLen, len(data)-frameHeaderLen)
	}

	op := new(tree.AttestedOp)
	jh := new(codec.JsonHandle)
	dec := codec.NewDecoderBytes(data[frameHeaderLen:], jh)
	if err := dec.Decode(op); err != nil {
		return 0, types.Hash32{}, nil, err
	}

	return epoch, hash, op, nil
}
