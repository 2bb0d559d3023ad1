package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRationalFromString(t *testing.T) {
	for _, tc := range []struct {
		input   string
		want    Rational
		wantErr bool
	}{
		{input: "30", want: NewRational(30, 1)},
		{input: "30/1", want: NewRational(30, 1)},
		{input: "30000/1001", want: NewRational(30000, 1001)},
		{input: "0.5", want: NewRational(1, 2)},
		{input: "~23.976", want: NewRational(24000, 1001)},
		{input: "~29.97", want: NewRational(30000, 1001)},
		{input: "~59.94", want: NewRational(60000, 1001)},
		{input: "~25", want: NewRational(25, 1)},
		{input: "~12.5", want: NewRational(25, 2)},
		{input: "0/1", want: NewRational(0, 1)},
		{input: "", wantErr: true},
		{input: "1/0", wantErr: true},
		{input: "invalid", wantErr: true},
		{input: "10/invalid", wantErr: true},
	} {
		t.Run(tc.input, func(t *testing.T) {
			r, err := RationalFromString(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, *r)
		})
	}
}

func TestRationalCmp(t *testing.T) {
	require.Equal(t, 0, NewRational(1, 2).Cmp(NewRational(2, 4)))
	require.Equal(t, -1, NewRational(1, 3).Cmp(NewRational(1, 2)))
	require.Equal(t, 1, NewRational(30, 1).Cmp(NewRational(30000, 1001)))
}

func TestRationalFindNearestIdx(t *testing.T) {
	list := []Rational{
		NewRational(24, 1),
		NewRational(25, 1),
		NewRational(30000, 1001),
		NewRational(60, 1),
	}
	require.Equal(t, 2, NewRational(30, 1).FindNearestIdx(list))
	require.Equal(t, 1, NewRational(25, 1).FindNearestIdx(list))
	require.Equal(t, 3, NewRational(50, 1).FindNearestIdx(list))
}

func TestReduce(t *testing.T) {
	r, exact := Reduce(6, 4, 100)
	require.True(t, exact)
	require.Equal(t, NewRational(3, 2), r)

	r, exact = Reduce(-6, 4, 100)
	require.True(t, exact)
	require.Equal(t, NewRational(-3, 2), r)

	_, exact = Reduce(30000, 1001, 1000)
	require.False(t, exact)
}

func TestRescale(t *testing.T) {
	require.Equal(t, int64(3000), RescaleQ(1, NewRational(1, 30), NewRational(1, 90000)))
	require.Equal(t, int64(1600), RescaleQ(1, NewRational(1, 30), NewRational(1, 48000)))
	require.Equal(t, 0, CompareTS(1, NewRational(1, 30), 3000, NewRational(1, 90000)))
	require.Equal(t, 1, CompareTS(1, NewRational(1, 25), 3000, NewRational(1, 90000)))
	require.Equal(t, -1, CompareTS(0, NewRational(1, 25), 1, NewRational(1, 90000)))
}
