package payload

import (
	"bytes"
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	p := New(64)

	if err := p.WriteUint8(0xAB); err != nil {
		t.Fatalf("write u8: %v", err)
	}
	if err := p.WriteUint16(0xBEEF); err != nil {
		t.Fatalf("write u16: %v", err)
	}
	if err := p.WriteUint32(0xDEADBEEF); err != nil {
		t.Fatalf("write u32: %v", err)
	}
	if err := p.WriteUint64(0x0102030405060708); err != nil {
		t.Fatalf("write u64: %v", err)
	}
	if err := p.WriteInt8(-5); err != nil {
		t.Fatalf("write i8: %v", err)
	}
	if err := p.WriteInt16(-30000); err != nil {
		t.Fatalf("write i16: %v", err)
	}
	if err := p.WriteInt32(-2000000000); err != nil {
		t.Fatalf("write i32: %v", err)
	}
	if err := p.WriteInt64(-9000000000000000000); err != nil {
		t.Fatalf("write i64: %v", err)
	}
	if err := p.WriteFloat32(3.5); err != nil {
		t.Fatalf("write f32: %v", err)
	}
	if err := p.WriteFloat64(-1234.5678); err != nil {
		t.Fatalf("write f64: %v", err)
	}

	if err := p.Seek(0); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if v, _ := p.ReadUint8(); v != 0xAB {
		t.Errorf("u8 = %#x", v)
	}
	if v, _ := p.ReadUint16(); v != 0xBEEF {
		t.Errorf("u16 = %#x", v)
	}
	if v, _ := p.ReadUint32(); v != 0xDEADBEEF {
		t.Errorf("u32 = %#x", v)
	}
	if v, _ := p.ReadUint64(); v != 0x0102030405060708 {
		t.Errorf("u64 = %#x", v)
	}
	if v, _ := p.ReadInt8(); v != -5 {
		t.Errorf("i8 = %d", v)
	}
	if v, _ := p.ReadInt16(); v != -30000 {
		t.Errorf("i16 = %d", v)
	}
	if v, _ := p.ReadInt32(); v != -2000000000 {
		t.Errorf("i32 = %d", v)
	}
	if v, _ := p.ReadInt64(); v != -9000000000000000000 {
		t.Errorf("i64 = %d", v)
	}
	if v, _ := p.ReadFloat32(); v != 3.5 {
		t.Errorf("f32 = %v", v)
	}
	if v, _ := p.ReadFloat64(); v != -1234.5678 {
		t.Errorf("f64 = %v", v)
	}
}

func TestLittleEndian(t *testing.T) {
	p := New(8)
	p.WriteUint32(0x0A0B0C0D)
	if !bytes.Equal(p.Pack(), []byte{0x0D, 0x0C, 0x0B, 0x0A}) {
		t.Errorf("encoding = % x", p.Pack())
	}
}

func TestBounds(t *testing.T) {
	p := New(2)
	if err := p.WriteUint32(1); !errors.Is(err, ErrOverflow) {
		t.Errorf("write past end: %v", err)
	}
	if _, err := p.ReadUint32(); !errors.Is(err, ErrUnderflow) {
		t.Errorf("read past end: %v", err)
	}
	p.Seek(2)
	if _, err := p.ReadUint8(); !errors.Is(err, ErrUnderflow) {
		t.Errorf("read at end: %v", err)
	}
}

func TestReadString(t *testing.T) {
	p := Wrap([]byte{'a', 'b', 'c', 0, 'd'})
	if s := p.ReadString(); s != "abc" {
		t.Errorf("string = %q", s)
	}
	if p.Position() != 4 {
		t.Errorf("position = %d", p.Position())
	}

	// No terminator: empty, no advance.
	q := Wrap([]byte{'x', 'y'})
	if s := q.ReadString(); s != "" {
		t.Errorf("unterminated string = %q", s)
	}
	if q.Position() != 0 {
		t.Errorf("position advanced to %d", q.Position())
	}
}

func TestPackedUint64Bytes(t *testing.T) {
	for _, tt := range []struct {
		v uint64
		n int
	}{
		{0, 1},
		{0xFF, 1},
		{0x100, 2},
		{0xFFFF, 2},
		{0x10000, 3},
		{0xFFFFFF, 3},
		{0x0102030405, 5},
		{1 << 56, 8},
		{^uint64(0), 8},
	} {
		if n := PackedUint64Bytes(tt.v); n != tt.n {
			t.Errorf("PackedUint64Bytes(%#x) = %d, want %d", tt.v, n, tt.n)
		}
	}
}

func TestPackedRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 0xFF, 0x100, 0xABCD, 0x0102030405, 1 << 40, ^uint64(0)} {
		n := PackedUint64Bytes(v)
		p := New(8)
		if err := p.WritePackedUint64(n, v); err != nil {
			t.Fatalf("write packed %#x: %v", v, err)
		}
		p.Seek(0)
		got, err := p.ReadPackedUint64(n)
		if err != nil {
			t.Fatalf("read packed %#x: %v", v, err)
		}
		if got != v {
			t.Errorf("packed round trip %#x = %#x over %d bytes", v, got, n)
		}
	}
}

func TestPackedFixedWidth(t *testing.T) {
	p := New(8)
	if err := p.WritePackedUint64(5, 0x0102030405); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(p.Pack(), []byte{0x05, 0x04, 0x03, 0x02, 0x01}) {
		t.Errorf("encoding = % x", p.Pack())
	}
	p.Seek(0)
	if v, _ := p.ReadPackedUint64(5); v != 0x0102030405 {
		t.Errorf("decoded %#x", v)
	}
}

func TestPrepareSize(t *testing.T) {
	p := New(4)
	p.WriteUint32(1)
	p.PrepareSize(16)
	if p.Capacity() < 16 || p.Position() != 0 {
		t.Errorf("capacity = %d position = %d", p.Capacity(), p.Position())
	}
	p.PrepareSize(8) // smaller: keep the buffer
	if p.Capacity() < 16 {
		t.Errorf("buffer shrank to %d", p.Capacity())
	}
}
