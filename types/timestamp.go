// timestamp.go defines the timestamp sentinels and the internal time bases.

package types

import (
	"fmt"
	"math"
)

const (
	// NoPTSValue marks an unset timestamp.
	NoPTSValue = int64(math.MinInt64)

	// TimeBase is the number of ticks per second of the internal time base.
	TimeBase = 1000000
)

var (
	// TimeBaseQ is the internal time base (1/TimeBase) used for
	// container-level times like start time or timestamp offsets.
	TimeBaseQ = Rational{Num: 1, Den: TimeBase}

	// MicrosecondQ is the time base of wall-clock readings. It is kept
	// separate from TimeBaseQ even if both currently have the same value.
	MicrosecondQ = Rational{Num: 1, Den: 1000000}
)

// Timestamp is a value together with the time base it is expressed in.
type Timestamp struct {
	TS int64
	TB Rational
}

func (ts Timestamp) IsSet() bool {
	return ts.TS != NoPTSValue
}

// Rescale returns the timestamp expressed in the time base tb.
func (ts Timestamp) Rescale(tb Rational) int64 {
	if ts.TS == NoPTSValue {
		return NoPTSValue
	}
	return RescaleQ(ts.TS, ts.TB, tb)
}

// Compare compares two timestamps across time bases.
func (ts Timestamp) Compare(other Timestamp) int {
	return CompareTS(ts.TS, ts.TB, other.TS, other.TB)
}

func (ts Timestamp) Seconds() float64 {
	if ts.TS == NoPTSValue {
		return math.NaN()
	}
	return float64(ts.TS) * ts.TB.Float64()
}

func (ts Timestamp) String() string {
	if ts.TS == NoPTSValue {
		return "NOPTS"
	}
	return fmt.Sprintf("%d (%s, %.6fs)", ts.TS, ts.TB, ts.Seconds())
}

// TSString formats a raw timestamp, printing NOPTS for unset values.
func TSString(ts int64) string {
	if ts == NoPTSValue {
		return "NOPTS"
	}
	return fmt.Sprintf("%d", ts)
}
