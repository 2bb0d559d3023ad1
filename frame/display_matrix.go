package frame

import (
	"math"
)

// DisplayMatrix is a 3x3 affine transformation in row-major order:
// 16.16 fixed point for the first two columns and 2.30 for the last one.
type DisplayMatrix [9]int32

func fixedToFloat(v int32) float64 {
	return float64(v) / (1 << 16)
}

func floatToFixed(v float64) int32 {
	return int32(v * (1 << 16))
}

// RotationCCW returns the counter-clockwise rotation angle in degrees
// in the range [-180, 180], or NaN if the matrix is singular.
func (m *DisplayMatrix) RotationCCW() float64 {
	scale0 := math.Hypot(fixedToFloat(m[0]), fixedToFloat(m[3]))
	scale1 := math.Hypot(fixedToFloat(m[1]), fixedToFloat(m[4]))
	if scale0 == 0 || scale1 == 0 {
		return math.NaN()
	}
	rotation := math.Atan2(fixedToFloat(m[1])/scale1, fixedToFloat(m[0])/scale0) * 180 / math.Pi
	return -rotation
}

// Rotation returns the clockwise rotation (in degrees, normalized
// to [0, 360)) that must be applied to present the frame.
func (m *DisplayMatrix) Rotation() float64 {
	theta := 0.0
	if m != nil {
		theta = -math.Round(m.RotationCCW())
	}
	theta -= 360 * math.Floor(theta/360+0.9/360)
	return theta
}

// SetRotation initializes the matrix with a pure clockwise
// rotation by the given angle in degrees.
func (m *DisplayMatrix) SetRotation(angle float64) {
	radians := -angle * math.Pi / 180
	c, s := math.Cos(radians), math.Sin(radians)
	*m = DisplayMatrix{}
	m[0] = floatToFixed(c)
	m[1] = floatToFixed(-s)
	m[3] = floatToFixed(s)
	m[4] = floatToFixed(c)
	m[8] = 1 << 30
}

// Flip applies a horizontal and/or vertical flip to the matrix.
func (m *DisplayMatrix) Flip(hflip, vflip bool) {
	if !hflip && !vflip {
		return
	}
	flip := [3]int32{1, 1, 1}
	if hflip {
		flip[0] = -1
	}
	if vflip {
		flip[1] = -1
	}
	for i := range m {
		m[i] *= flip[i%3]
	}
}
