// Package payload implements the little-endian binary cursor used for message
// bodies, connect tokens, and system-channel frames.
package payload

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrOverflow is returned when a write would pass the end of the buffer.
	ErrOverflow = errors.New("payload buffer overflow")

	// ErrUnderflow is returned when a read would pass the end of the buffer.
	ErrUnderflow = errors.New("payload buffer underflow")
)

// Payload is a random-access cursor over a byte buffer. All multi-byte values
// are little-endian. Reads and writes are bounds-checked against the buffer
// capacity and never grow it; Prepare rebinds or grows the buffer up front.
type Payload struct {
	buf []byte
	pos int
}

// New creates a payload with its own zeroed buffer of the given capacity.
func New(capacity int) *Payload {
	return &Payload{buf: make([]byte, capacity)}
}

// Wrap creates a payload over an existing buffer without copying.
func Wrap(b []byte) *Payload {
	return &Payload{buf: b}
}

// Prepare rebinds the payload to buf without copying and resets the position.
func (p *Payload) Prepare(buf []byte) {
	p.buf = buf
	p.pos = 0
}

// PrepareSize ensures the payload holds at least capacity bytes, growing the
// buffer if the held one is smaller, and resets the position.
func (p *Payload) PrepareSize(capacity int) {
	if len(p.buf) < capacity {
		p.buf = make([]byte, capacity)
	}
	p.pos = 0
}

// Capacity returns the size of the held buffer.
func (p *Payload) Capacity() int { return len(p.buf) }

// Position returns the cursor position.
func (p *Payload) Position() int { return p.pos }

// Seek moves the cursor. Positions past the capacity are rejected.
func (p *Payload) Seek(pos int) error {
	if pos < 0 || pos > len(p.buf) {
		return ErrUnderflow
	}
	p.pos = pos
	return nil
}

// Pack returns a view over the bytes written so far, [0, position).
func (p *Payload) Pack() []byte { return p.buf[:p.pos] }

func (p *Payload) ensureRead(n int) error {
	if p.pos+n > len(p.buf) {
		return ErrUnderflow
	}
	return nil
}

func (p *Payload) ensureWrite(n int) error {
	if p.pos+n > len(p.buf) {
		return ErrOverflow
	}
	return nil
}

func (p *Payload) WriteUint8(v uint8) error {
	if err := p.ensureWrite(1); err != nil {
		return err
	}
	p.buf[p.pos] = v
	p.pos++
	return nil
}

func (p *Payload) ReadUint8() (uint8, error) {
	if err := p.ensureRead(1); err != nil {
		return 0, err
	}
	v := p.buf[p.pos]
	p.pos++
	return v, nil
}

func (p *Payload) WriteUint16(v uint16) error {
	if err := p.ensureWrite(2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(p.buf[p.pos:], v)
	p.pos += 2
	return nil
}

func (p *Payload) ReadUint16() (uint16, error) {
	if err := p.ensureRead(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(p.buf[p.pos:])
	p.pos += 2
	return v, nil
}

func (p *Payload) WriteUint32(v uint32) error {
	if err := p.ensureWrite(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(p.buf[p.pos:], v)
	p.pos += 4
	return nil
}

func (p *Payload) ReadUint32() (uint32, error) {
	if err := p.ensureRead(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v, nil
}

func (p *Payload) WriteUint64(v uint64) error {
	if err := p.ensureWrite(8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(p.buf[p.pos:], v)
	p.pos += 8
	return nil
}

func (p *Payload) ReadUint64() (uint64, error) {
	if err := p.ensureRead(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v, nil
}

func (p *Payload) WriteInt8(v int8) error   { return p.WriteUint8(uint8(v)) }
func (p *Payload) WriteInt16(v int16) error { return p.WriteUint16(uint16(v)) }
func (p *Payload) WriteInt32(v int32) error { return p.WriteUint32(uint32(v)) }
func (p *Payload) WriteInt64(v int64) error { return p.WriteUint64(uint64(v)) }

func (p *Payload) ReadInt8() (int8, error) {
	v, err := p.ReadUint8()
	return int8(v), err
}

func (p *Payload) ReadInt16() (int16, error) {
	v, err := p.ReadUint16()
	return int16(v), err
}

func (p *Payload) ReadInt32() (int32, error) {
	v, err := p.ReadUint32()
	return int32(v), err
}

func (p *Payload) ReadInt64() (int64, error) {
	v, err := p.ReadUint64()
	return int64(v), err
}

func (p *Payload) WriteFloat32(v float32) error { return p.WriteUint32(math.Float32bits(v)) }
func (p *Payload) WriteFloat64(v float64) error { return p.WriteUint64(math.Float64bits(v)) }

func (p *Payload) ReadFloat32() (float32, error) {
	v, err := p.ReadUint32()
	return math.Float32frombits(v), err
}

func (p *Payload) ReadFloat64() (float64, error) {
	v, err := p.ReadUint64()
	return math.Float64frombits(v), err
}

// Write copies b into the buffer verbatim.
func (p *Payload) Write(b []byte) error {
	if err := p.ensureWrite(len(b)); err != nil {
		return err
	}
	copy(p.buf[p.pos:], b)
	p.pos += len(b)
	return nil
}

// Read returns a view of the next n bytes and advances past them.
func (p *Payload) Read(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrUnderflow
	}
	if err := p.ensureRead(n); err != nil {
		return nil, err
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

// ReadString consumes bytes up to (not including) the first 0x00 and advances
// past the terminator. If no terminator exists in the remaining buffer, it
// returns an empty string and does not advance.
func (p *Payload) ReadString() string {
	for i := p.pos; i < len(p.buf); i++ {
		if p.buf[i] == 0 {
			s := string(p.buf[p.pos:i])
			p.pos = i + 1
			return s
		}
	}
	return ""
}

// WriteString writes s followed by a 0x00 terminator.
func (p *Payload) WriteString(s string) error {
	if err := p.ensureWrite(len(s) + 1); err != nil {
		return err
	}
	copy(p.buf[p.pos:], s)
	p.pos += len(s)
	p.buf[p.pos] = 0
	p.pos++
	return nil
}

// PackedUint64Bytes returns the minimal number of bytes in 1..=8 needed to
// encode v, i.e. one plus the position of the highest non-zero octet.
func PackedUint64Bytes(v uint64) int {
	n := 1
	for v >>= 8; v != 0; v >>= 8 {
		n++
	}
	return n
}

// WritePackedUint64 writes exactly n bytes of v, least-significant byte first.
func (p *Payload) WritePackedUint64(n int, v uint64) error {
	if n < 1 || n > 8 {
		return ErrOverflow
	}
	if err := p.ensureWrite(n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		p.buf[p.pos+i] = byte(v >> (8 * i))
	}
	p.pos += n
	return nil
}

// ReadPackedUint64 reads exactly n bytes, least-significant byte first.
func (p *Payload) ReadPackedUint64(n int) (uint64, error) {
	if n < 1 || n > 8 {
		return 0, ErrUnderflow
	}
	if err := p.ensureRead(n); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(p.buf[p.pos+i]) << (8 * i)
	}
	p.pos += n
	return v, nil
}
