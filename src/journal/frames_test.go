package journal

import (
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	op := fakeOp(5, "frame")

	frame, err := EncodeFrame(5, op)
	if err != nil {
		t.Fatal(err)
	}

	epoch, hash, decoded, err := DecodeFrame(frame)
	if err != nil {
		t.Fatal(err)
	}

	if epoch != 5 {
		t.Fatalf("frame epoch should be 5, not %d", epoch)
	}
	if hash != op.Hash() {
		t.Fatal("frame should carry the op's content hash")
	}
	if decoded.Hash() != op.Hash() {
		t.Fatal("decoded op should hash like the original")
	}
}

func TestDecodeFrameRejectsCorruption(t *testing.T) {
	if _, _, _, err := DecodeFrame([]byte("short")); err == nil {
		t.Fatal("a truncated frame should be rejected")
	}

	op := fakeOp(1, "x")
	frame, err := EncodeFrame(1, op)
	if err != nil {
		t.Fatal(err)
	}

	// chop the body so the length header no longer matches
	if _, _, _, err := DecodeFrame(frame[:len(frame)-2]); err == nil {
		t.Fatal("a frame with a mismatched body length should be rejected")
	}
}
