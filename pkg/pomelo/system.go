package pomelo

import (
	"errors"

	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/payload"
)

// System-channel messages are at least one byte. The first byte packs the
// opcode in the top two bits, the packed sequence width minus one in the next
// three, and (PONG only) the packed time width minus one in the low three:
//
//	opcode    = H >> 6         0 = PING, 1 = PONG
//	seq bytes = ((H>>3)&7) + 1
//	time bytes = (H&7) + 1
//
// The body is the packed sequence, then for PONG the packed peer time. A
// client PONG echoes only the sequence; the peer has no use for our send
// time, so the time body is omitted and the width bits stay zero.
const (
	opPing = 0
	opPong = 1
)

var errSystemFrame = errors.New("malformed system frame")

// pingPong is one decoded or to-be-encoded system message.
type pingPong struct {
	pong     bool
	sequence uint16
	time     uint64
	hasTime  bool
}

func (pp *pingPong) reset() {
	*pp = pingPong{}
}

// encode writes the message into p, which must have room for up to 11 bytes.
func (pp *pingPong) encode(p *payload.Payload) error {
	seqBytes := payload.PackedUint64Bytes(uint64(pp.sequence))
	header := uint8(seqBytes-1) << 3
	if pp.pong {
		header |= opPong << 6
		if pp.hasTime {
			header |= uint8(payload.PackedUint64Bytes(pp.time) - 1)
		}
	}
	if err := p.WriteUint8(header); err != nil {
		return err
	}
	if err := p.WritePackedUint64(seqBytes, uint64(pp.sequence)); err != nil {
		return err
	}
	if pp.pong && pp.hasTime {
		return p.WritePackedUint64(payload.PackedUint64Bytes(pp.time), pp.time)
	}
	return nil
}

// decode parses one system message. A PONG whose time body is absent decodes
// with hasTime false.
func (pp *pingPong) decode(b []byte) error {
	pp.reset()
	if len(b) < 1 {
		return errSystemFrame
	}
	p := payload.Wrap(b)
	header, _ := p.ReadUint8()

	switch header >> 6 {
	case opPing:
	case opPong:
		pp.pong = true
	default:
		return errSystemFrame
	}

	seqBytes := int((header>>3)&7) + 1
	seq, err := p.ReadPackedUint64(seqBytes)
	if err != nil {
		return errSystemFrame
	}
	pp.sequence = uint16(seq)

	if pp.pong {
		timeBytes := int(header&7) + 1
		if p.Position()+timeBytes <= len(b) {
			t, err := p.ReadPackedUint64(timeBytes)
			if err != nil {
				return errSystemFrame
			}
			pp.time = t
			pp.hasTime = true
		}
	}
	return nil
}
