package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rational is a fraction, mostly used as a time base or a frame rate.
//
// The zero value (0/0) means "unknown".
type Rational struct {
	Num int
	Den int
}

func NewRational(num, den int) Rational {
	return Rational{Num: num, Den: den}
}

// Valid returns true if both parts are strictly positive.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

func (r Rational) IsZero() bool {
	return r.Num == 0
}

func (r Rational) Inv() Rational {
	return Rational{
		Num: r.Den,
		Den: r.Num,
	}
}

func (r Rational) Mul(other Rational) Rational {
	return Rational{
		Num: r.Num * other.Num,
		Den: r.Den * other.Den,
	}
}

func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return math.NaN()
	}
	return float64(r.Num) / float64(r.Den)
}

// Cmp compares two rationals: -1 if r < other, 0 if equal, 1 if r > other.
func (r Rational) Cmp(other Rational) int {
	tmp := int64(r.Num)*int64(other.Den) - int64(other.Num)*int64(r.Den)
	switch {
	case tmp == 0:
		return 0
	case (tmp < 0) != ((r.Den < 0) != (other.Den < 0)):
		return -1
	default:
		return 1
	}
}

// NearerTo returns 1 if q1 is nearer to r than q2, -1 if q2 is nearer,
// and 0 if they are equally near.
func (r Rational) NearerTo(q1, q2 Rational) int {
	a := int64(q1.Num)*int64(q2.Den) + int64(q2.Num)*int64(q1.Den)
	b := 2 * int64(q1.Den) * int64(q2.Den)

	xUp := RescaleRnd(a, int64(r.Den), b, RoundUp)
	xDown := RescaleRnd(a, int64(r.Den), b, RoundDown)

	var s int
	if xUp > int64(r.Num) {
		s++
	}
	if xDown < int64(r.Num) {
		s--
	}
	return s * q2.Cmp(q1)
}

// FindNearestIdx returns the index of the value in list which is the
// nearest to r.
func (r Rational) FindNearestIdx(list []Rational) int {
	nearest := 0
	for idx, q := range list {
		if q.Den == 0 {
			break
		}
		if r.NearerTo(q, list[nearest]) > 0 {
			nearest = idx
		}
	}
	return nearest
}

// Reduce returns num/den reduced so that both parts are not larger than max.
// The boolean is true if the result is exact.
func Reduce(num, den, max int64) (Rational, bool) {
	a0 := [2]int64{0, 1}
	a1 := [2]int64{1, 0}
	sign := (num < 0) != (den < 0)
	num, den = abs64(num), abs64(den)
	if g := gcd64(num, den); g != 0 {
		num /= g
		den /= g
	}
	if num <= max && den <= max {
		a1 = [2]int64{num, den}
		den = 0
	}

	for den != 0 {
		x := num / den
		nextDen := num - den*x
		a2n := x*a1[0] + a0[0]
		a2d := x*a1[1] + a0[1]

		if a2n > max || a2d > max {
			if a1[0] != 0 {
				x = (max - a0[0]) / a1[0]
			}
			if a1[1] != 0 {
				x = min(x, (max-a0[1])/a1[1])
			}
			if den*(2*x*a1[1]+a0[1]) > num*a1[1] {
				a1 = [2]int64{x*a1[0] + a0[0], x*a1[1] + a0[1]}
			}
			break
		}

		a0 = a1
		a1 = [2]int64{a2n, a2d}
		num = den
		den = nextDen
	}

	if sign {
		a1[0] = -a1[0]
	}
	return Rational{Num: int(a1[0]), Den: int(a1[1])}, den == 0
}

// RationalFromFloat64 converts a float to the closest rational whose
// parts do not exceed max.
func RationalFromFloat64(d float64, max int) Rational {
	switch {
	case math.IsNaN(d):
		return Rational{}
	case math.Abs(d) > math.MaxInt32+3:
		if d < 0 {
			return Rational{Num: -1}
		}
		return Rational{Num: 1}
	}
	_, exponent := math.Frexp(d)
	exponent = max0(exponent - 1)
	den := int64(1) << (62 - exponent)
	r, _ := Reduce(int64(math.Floor(d*float64(den)+0.5)), den, int64(max))
	if (r.Num == 0 || r.Den == 0) && d != 0 && max > 0 && max < math.MaxInt32 {
		r, _ = Reduce(int64(math.Floor(d*float64(den)+0.5)), den, math.MaxInt32)
	}
	return r
}

func rationalFromNTSC(fps float64) (Rational, bool) {
	num := math.Round(fps*1.001) * 1000
	r := Rational{Num: int(num), Den: 1001}
	if math.Abs(fps-r.Float64()) < 1e-2 {
		return r, true
	}
	return Rational{}, false
}

// RationalFromString parses "num/den", a decimal number or
// an approximate decimal number prefixed with '~' (NTSC rates are
// snapped to their exact x/1001 form).
func RationalFromString(s string) (*Rational, error) {
	var r Rational
	switch {
	case len(s) == 0:
		return nil, fmt.Errorf("unable to parse Rational from empty string")
	case strings.Contains(s, "/"):
		parts := strings.SplitN(s, "/", 2)
		num, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("unable to parse the numerator of %q: %w", s, err)
		}
		den, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("unable to parse the denominator of %q: %w", s, err)
		}
		r = Rational{Num: num, Den: den}
	case s[0] == '~':
		fps, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse Rational from %q: %w", s, err)
		}
		if fps == math.Trunc(fps) {
			r = Rational{Num: int(fps), Den: 1}
			break
		}
		if ntsc, ok := rationalFromNTSC(fps); ok {
			r = ntsc
			break
		}
		r = RationalFromFloat64(fps, 1000)
	default:
		fps, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse Rational from %q: %w", s, err)
		}
		r = RationalFromFloat64(fps, 1000000)
	}
	if r.Den == 0 {
		return nil, fmt.Errorf("denominator cannot be zero")
	}
	return &r, nil
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

func (r Rational) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Rational) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("unable to unmarshal Rational from JSON '%s': %w", b, err)
	}
	return r.parse(s)
}

func (r Rational) MarshalYAML() (any, error) {
	return r.String(), nil
}

func (r *Rational) UnmarshalYAML(node *yaml.Node) error {
	return r.parse(node.Value)
}

func (r *Rational) parse(s string) error {
	v, err := RationalFromString(s)
	if err != nil {
		return fmt.Errorf("unable to unmarshal Rational from string %q: %w", s, err)
	}
	*r = *v
	return nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func gcd64(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
