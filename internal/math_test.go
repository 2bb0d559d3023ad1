package internal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMidPred(t *testing.T) {
	for _, tc := range []struct {
		a, b, c int
		want    int
	}{
		{0, 0, 0, 0},
		{1, 2, 3, 2},
		{3, 2, 1, 2},
		{2, 3, 1, 2},
		{5, 1, 5, 5},
		{-1, 7, 0, 0},
	} {
		require.Equal(t, tc.want, MidPred(tc.a, tc.b, tc.c), "%d %d %d", tc.a, tc.b, tc.c)
	}
}

func TestClipLog2(t *testing.T) {
	require.Equal(t, 16, Clip(40, 0, 16))
	require.Equal(t, 0, Clip(-3, 0, 16))
	require.Equal(t, 7, Clip(7, 0, 16))
	require.Equal(t, 0, Log2(1))
	require.Equal(t, 4, Log2(30))
	require.Equal(t, 15, Log2(48000))
	require.Equal(t, 2.5, Abs(-2.5))
}
