package pomelo

import (
	"bytes"
	"testing"

	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/payload"
)

func TestPingHeader(t *testing.T) {
	pp := &pingPong{sequence: 0x12}
	p := payload.New(16)
	if err := pp.encode(p); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(p.Pack(), []byte{0x00, 0x12}) {
		t.Errorf("encoding = % x", p.Pack())
	}
}

func TestPongHeaderWithTime(t *testing.T) {
	pp := &pingPong{pong: true, sequence: 0x1234, time: 0xABCDEF, hasTime: true}
	p := payload.New(16)
	if err := pp.encode(p); err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0x4A, 0x34, 0x12, 0xEF, 0xCD, 0xAB}
	if !bytes.Equal(p.Pack(), want) {
		t.Errorf("encoding = % x, want % x", p.Pack(), want)
	}

	var dec pingPong
	if err := dec.decode(p.Pack()); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !dec.pong || dec.sequence != 0x1234 || !dec.hasTime || dec.time != 0xABCDEF {
		t.Errorf("decoded %+v", dec)
	}
}

func TestPongWithoutTime(t *testing.T) {
	// A client pong carries only the sequence; the time body is absent and
	// the width bits stay zero.
	pp := &pingPong{pong: true, sequence: 7}
	p := payload.New(16)
	if err := pp.encode(p); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(p.Pack(), []byte{0x40, 0x07}) {
		t.Errorf("encoding = % x", p.Pack())
	}

	var dec pingPong
	if err := dec.decode(p.Pack()); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !dec.pong || dec.sequence != 7 || dec.hasTime {
		t.Errorf("decoded %+v", dec)
	}
}

func TestSystemFrameErrors(t *testing.T) {
	var pp pingPong
	if err := pp.decode(nil); err == nil {
		t.Errorf("empty frame decoded")
	}
	// Header promises two sequence bytes but only one follows.
	if err := pp.decode([]byte{1 << 3, 0x01}); err == nil {
		t.Errorf("truncated sequence decoded")
	}
}

func TestPingRoundTrip(t *testing.T) {
	for _, seq := range []uint16{0, 0x12, 0xFF, 0x100, 0xFFFF} {
		pp := &pingPong{sequence: seq}
		p := payload.New(16)
		if err := pp.encode(p); err != nil {
			t.Fatalf("encode %d: %v", seq, err)
		}
		var dec pingPong
		if err := dec.decode(p.Pack()); err != nil {
			t.Fatalf("decode %d: %v", seq, err)
		}
		if dec.pong || dec.sequence != seq {
			t.Errorf("decoded %+v, want sequence %d", dec, seq)
		}
	}
}
