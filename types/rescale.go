// rescale.go implements overflow-safe timestamp rescaling between time bases.

package types

import (
	"math"
	"math/bits"
)

type Rounding int

const (
	// RoundZero rounds toward zero.
	RoundZero = Rounding(0)
	// RoundInf rounds away from zero.
	RoundInf = Rounding(1)
	// RoundDown rounds toward -infinity.
	RoundDown = Rounding(2)
	// RoundUp rounds toward +infinity.
	RoundUp = Rounding(3)
	// RoundNearInf rounds to nearest and halfway cases away from zero.
	RoundNearInf = Rounding(5)
	// RoundPassMinMax passes math.MinInt64 and math.MaxInt64 through
	// unchanged, so NoPTSValue survives rescaling.
	RoundPassMinMax = Rounding(8192)
)

// RescaleRnd computes a*b/c with the given rounding, without
// intermediate overflow. It returns math.MinInt64 on invalid
// arguments or if the result does not fit into int64.
func RescaleRnd(a, b, c int64, rnd Rounding) int64 {
	if c <= 0 || b < 0 {
		return math.MinInt64
	}
	if rnd&RoundPassMinMax != 0 {
		if a == math.MinInt64 || a == math.MaxInt64 {
			return a
		}
		rnd &^= RoundPassMinMax
	}
	if rnd < 0 || rnd > 5 || rnd == 4 {
		return math.MinInt64
	}

	if a < 0 {
		return -RescaleRnd(-max(a, -math.MaxInt64), b, c, rnd^((rnd>>1)&1))
	}

	var r uint64
	switch {
	case rnd == RoundNearInf:
		r = uint64(c / 2)
	case rnd&1 != 0:
		r = uint64(c - 1)
	}

	hi, lo := bits.Mul64(uint64(a), uint64(b))
	lo, carry := bits.Add64(lo, r, 0)
	hi += carry
	if hi >= uint64(c) {
		return math.MinInt64
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		return math.MinInt64
	}
	return int64(q)
}

// Rescale computes a*b/c rounding to nearest.
func Rescale(a, b, c int64) int64 {
	return RescaleRnd(a, b, c, RoundNearInf)
}

// RescaleQRnd converts ts from time base bq to time base cq.
func RescaleQRnd(ts int64, bq, cq Rational, rnd Rounding) int64 {
	b := int64(bq.Num) * int64(cq.Den)
	c := int64(cq.Num) * int64(bq.Den)
	return RescaleRnd(ts, b, c, rnd)
}

// RescaleQ converts ts from time base bq to time base cq, rounding to nearest.
func RescaleQ(ts int64, bq, cq Rational) int64 {
	return RescaleQRnd(ts, bq, cq, RoundNearInf)
}

// CompareTS compares two timestamps expressed in different time bases
// without losing precision: -1 if a is before b, 1 if after, 0 if equal.
func CompareTS(tsA int64, tbA Rational, tsB int64, tbB Rational) int {
	a := int64(tbA.Num) * int64(tbB.Den)
	b := int64(tbB.Num) * int64(tbA.Den)
	if absU64(tsA)|uint64(a)|absU64(tsB)|uint64(b) <= math.MaxInt32 {
		l, r := tsA*a, tsB*b
		switch {
		case l > r:
			return 1
		case l < r:
			return -1
		default:
			return 0
		}
	}
	if RescaleRnd(tsA, a, b, RoundDown) < tsB {
		return -1
	}
	if RescaleRnd(tsB, b, a, RoundDown) < tsA {
		return 1
	}
	return 0
}

func absU64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
