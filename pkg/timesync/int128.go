package timesync

import "math/bits"

// uint128 is an unsigned 128-bit accumulator. Squared nanosecond samples
// overflow int64 for offsets above ~3 seconds, so the sum of squares is kept
// at full width. Interpreted as two's complement it also serves as the signed
// sum accumulator.
type uint128 struct {
	hi, lo uint64
}

func (x uint128) add(y uint128) uint128 {
	lo, c := bits.Add64(x.lo, y.lo, 0)
	hi, _ := bits.Add64(x.hi, y.hi, c)
	return uint128{hi, lo}
}

func (x uint128) sub(y uint128) uint128 {
	lo, b := bits.Sub64(x.lo, y.lo, 0)
	hi, _ := bits.Sub64(x.hi, y.hi, b)
	return uint128{hi, lo}
}

// square returns v*v at full width. Always non-negative.
func square(v int64) uint128 {
	m := uint64(v)
	if v < 0 {
		m = uint64(-v)
	}
	hi, lo := bits.Mul64(m, m)
	return uint128{hi, lo}
}

// sext sign-extends v to 128 bits.
func sext(v int64) uint128 {
	return uint128{uint64(v >> 63), uint64(v)}
}

// divSmall divides x by a small positive divisor.
func (x uint128) divSmall(n uint64) uint128 {
	qhi := x.hi / n
	r := x.hi % n
	qlo, _ := bits.Div64(r, x.lo, n)
	return uint128{qhi, qlo}
}

// sdivSmall treats x as two's complement and divides by a small positive
// divisor, truncating toward zero.
func (x uint128) sdivSmall(n uint64) int64 {
	neg := x.hi>>63 != 0
	if neg {
		x = uint128{}.sub(x)
	}
	q := x.divSmall(n)
	v := int64(q.lo)
	if neg {
		v = -v
	}
	return v
}

// int64Sat clamps an unsigned value to the int64 range.
func (x uint128) int64Sat() int64 {
	if x.hi != 0 || x.lo > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(x.lo)
}

func (x uint128) less(y uint128) bool {
	if x.hi != y.hi {
		return x.hi < y.hi
	}
	return x.lo < y.lo
}
