package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/dschor5/delayproxy/internal/packet"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := Codec{}
	bodies := [][]byte{
		[]byte("hello"),
		[]byte{0x01},
		bytes.Repeat([]byte{0xAB}, packet.MaxBodySize),
	}
	for _, body := range bodies {
		wire, err := codec.Encode(body)
		if err != nil {
			t.Fatalf("Encode(%d bytes): %v", len(body), err)
		}
		got, err := codec.Decode(bytes.NewReader(wire))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("round trip mismatch: got %x, want %x", got, body)
		}
	}
}

func TestCodecEncodeRejectsEmptyPayload(t *testing.T) {
	codec := Codec{}
	if _, err := codec.Encode(nil); !errors.Is(err, packet.ErrEmptyPayload) {
		t.Fatalf("err = %v, want ErrEmptyPayload", err)
	}
}

func TestCodecEncodeRejectsOversizePayload(t *testing.T) {
	codec := Codec{}
	body := make([]byte, packet.MaxBodySize+1)
	if _, err := codec.Encode(body); !errors.Is(err, packet.ErrOversizePayload) {
		t.Fatalf("err = %v, want ErrOversizePayload", err)
	}
}

func TestCodecDecodeEndOfStream(t *testing.T) {
	codec := Codec{}
	if _, err := codec.Decode(bytes.NewReader(nil)); !errors.Is(err, packet.ErrEndOfStream) {
		t.Fatalf("err = %v, want ErrEndOfStream", err)
	}
}

func TestCodecDecodeTruncatedHeader(t *testing.T) {
	codec := Codec{}
	if _, err := codec.Decode(bytes.NewReader([]byte{0, 0})); !errors.Is(err, packet.ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestCodecDecodeTruncatedBody(t *testing.T) {
	codec := Codec{}
	wire, err := codec.Encode([]byte("hello world"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := codec.Decode(bytes.NewReader(wire[:len(wire)-3])); !errors.Is(err, packet.ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestCodecDecodeInvalidLength(t *testing.T) {
	codec := Codec{}
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], packet.MaxLength+1)
	buf.Write(hdr[:])
	if _, err := codec.Decode(&buf); !errors.Is(err, packet.ErrInvalidLength) {
		t.Fatalf("err = %v, want ErrInvalidLength", err)
	}

	buf.Reset()
	binary.BigEndian.PutUint32(hdr[:], 0)
	buf.Write(hdr[:])
	if _, err := codec.Decode(&buf); !errors.Is(err, packet.ErrInvalidLength) {
		t.Fatalf("err = %v, want ErrInvalidLength for zero length", err)
	}
}

func TestCodecDecodeCrcMismatch(t *testing.T) {
	codec := Codec{}
	wire, err := codec.Encode([]byte("payload"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wire[len(wire)-1] ^= 0xFF
	if _, err := codec.Decode(bytes.NewReader(wire)); !errors.Is(err, packet.ErrCrcMismatch) {
		t.Fatalf("err = %v, want ErrCrcMismatch", err)
	}
}

func TestCodecDecodeConsecutiveFramesFromOneStream(t *testing.T) {
	codec := Codec{}
	var buf bytes.Buffer
	want := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for _, body := range want {
		wire, err := codec.Encode(body)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		buf.Write(wire)
	}
	for _, body := range want {
		got, err := codec.Decode(&buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("got %x, want %x", got, body)
		}
	}
	if _, err := codec.Decode(&buf); !errors.Is(err, packet.ErrEndOfStream) {
		t.Fatalf("err = %v, want ErrEndOfStream after last frame", err)
	}
}
