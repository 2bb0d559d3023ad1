package internal

import (
	"golang.org/x/exp/constraints"
)

func Clip[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Abs[T constraints.Signed | constraints.Float](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

// MidPred returns the median of three values.
func MidPred[T constraints.Ordered](a, b, c T) T {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
		if a > b {
			b = a
		}
	}
	return b
}

// Log2 returns floor(log2(v)) for v > 0 and 0 otherwise.
func Log2[T constraints.Integer](v T) int {
	n := 0
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}
