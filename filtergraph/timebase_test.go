package filtergraph

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

func TestChooseOutTimeBase(t *testing.T) {
	ctx := testCtx(t)
	tbIn := types.NewRational(1, 90000)

	for _, tc := range []struct {
		name          string
		modify        func(opts *OutputOptions)
		sinkFrameRate types.Rational
		tb            types.Rational
		frameRate     types.Rational
	}{
		{
			name:      "fallback_to_25fps",
			tb:        types.NewRational(1, 25),
			frameRate: types.NewRational(25, 1),
		},
		{
			name:          "from_the_sink",
			sinkFrameRate: types.NewRational(30000, 1001),
			tb:            types.NewRational(1001, 30000),
			frameRate:     types.NewRational(30000, 1001),
		},
		{
			name:          "forced",
			modify:        func(opts *OutputOptions) { opts.FrameRate = types.NewRational(50, 1) },
			sinkFrameRate: types.NewRational(25, 1),
			tb:            types.NewRational(1, 50),
			frameRate:     types.NewRational(50, 1),
		},
		{
			name:          "limited_by_max",
			modify:        func(opts *OutputOptions) { opts.MaxFrameRate = types.NewRational(30, 1) },
			sinkFrameRate: types.NewRational(60, 1),
			tb:            types.NewRational(1, 30),
			frameRate:     types.NewRational(30, 1),
		},
		{
			name: "nearest_supported",
			modify: func(opts *OutputOptions) {
				opts.SupportedFrameRate = []types.Rational{
					types.NewRational(24, 1),
					types.NewRational(25, 1),
					types.NewRational(30, 1),
				}
			},
			sinkFrameRate: types.NewRational(30000, 1001),
			tb:            types.NewRational(1, 30),
			frameRate:     types.NewRational(30, 1),
		},
		{
			name:          "vfr_keeps_the_filter_time_base_without_a_rate",
			modify:        func(opts *OutputOptions) { opts.VSync = VSyncVFR },
			tb:            tbIn,
			sinkFrameRate: types.Rational{},
		},
		{
			name: "explicit_value",
			modify: func(opts *OutputOptions) {
				opts.EncTimeBase = EncTimeBase{Kind: EncTimeBaseValue, Value: types.NewRational(1, 1000)}
			},
			sinkFrameRate: types.NewRational(25, 1),
			tb:            types.NewRational(1, 1000),
			frameRate:     types.NewRational(25, 1),
		},
		{
			name:          "filter",
			modify:        func(opts *OutputOptions) { opts.EncTimeBase = EncTimeBase{Kind: EncTimeBaseFilter} },
			sinkFrameRate: types.NewRational(25, 1),
			tb:            tbIn,
			frameRate:     types.NewRational(25, 1),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOutputOptions()
			if tc.modify != nil {
				tc.modify(&opts)
			}
			ofp := newOutputFilter(0, "out", types.MediaTypeVideo, opts)

			f := newVideoFrame(0, tbIn, 16, 16)
			defer f.Free()
			require.NoError(t, ofp.chooseOutTimeBase(ctx, f, tc.sinkFrameRate))
			require.True(t, ofp.tbOutLocked)
			require.Equal(t, tc.tb, ofp.TimeBaseOut)
			require.Equal(t, tc.frameRate, ofp.FrameRate())
		})
	}
}

func TestChooseOutTimeBaseDemux(t *testing.T) {
	ctx := testCtx(t)
	opts := DefaultOutputOptions()
	opts.EncTimeBase = EncTimeBase{Kind: EncTimeBaseDemux}
	ofp := newOutputFilter(0, "out", types.MediaTypeVideo, opts)

	f := newVideoFrame(0, types.NewRational(1, 25), 16, 16)
	defer f.Free()
	err := ofp.chooseOutTimeBase(ctx, f, types.NewRational(25, 1))
	require.ErrorIs(t, err, types.ErrInvalidArgument)
	require.False(t, ofp.tbOutLocked)

	f.DecoderTimeBase = types.NewRational(1, 90000)
	require.NoError(t, ofp.chooseOutTimeBase(ctx, f, types.NewRational(25, 1)))
	require.Equal(t, types.NewRational(1, 90000), ofp.TimeBaseOut)
}

func TestChooseOutTimeBaseAudio(t *testing.T) {
	ctx := testCtx(t)
	ofp := newOutputFilter(0, "out", types.MediaTypeAudio, DefaultOutputOptions())

	f := frame.New()
	defer f.Free()
	f.MediaType = types.MediaTypeAudio
	f.SampleRate = 48000
	f.TimeBase = types.NewRational(1, 44100)

	require.NoError(t, ofp.chooseOutTimeBase(ctx, f, types.Rational{}))
	require.Equal(t, types.NewRational(1, 48000), ofp.TimeBaseOut)
}
