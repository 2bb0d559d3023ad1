package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisplayMatrixRotation(t *testing.T) {
	for _, angle := range []float64{0, 90, 180, 270, 45} {
		t.Run("", func(t *testing.T) {
			var m DisplayMatrix
			m.SetRotation(angle)
			require.Equal(t, angle, m.Rotation())
		})
	}

	var m DisplayMatrix
	m.SetRotation(0)
	m.Flip(false, true)
	require.Less(t, m[4], int32(0))
	require.Greater(t, m[0], int32(0))

	var nilMatrix *DisplayMatrix
	require.Equal(t, 0.0, nilMatrix.Rotation())
}
