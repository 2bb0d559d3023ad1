package filtergraph

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

func TestAutorotateFilters(t *testing.T) {
	for _, tc := range []struct {
		angle float64
		chain []string
	}{
		{angle: 0, chain: nil},
		{angle: 90, chain: []string{"transpose=clock"}},
		{angle: 180, chain: []string{"hflip", "vflip"}},
		{angle: 270, chain: []string{"transpose=cclock"}},
		{angle: 45, chain: []string{"rotate=45.000000*PI/180"}},
	} {
		t.Run(fmt.Sprint(tc.angle), func(t *testing.T) {
			var dm frame.DisplayMatrix
			dm.SetRotation(tc.angle)
			require.Equal(t, tc.chain, autorotateFilters(&dm))
		})
	}
}

func TestAppendTrim(t *testing.T) {
	require.Nil(t, appendTrim(nil, types.MediaTypeVideo, types.NoPTSValue, math.MaxInt64))
	require.Equal(t,
		[]string{"null", "trim=durationi=2000000us:starti=1000000us"},
		appendTrim([]string{"null"}, types.MediaTypeVideo, 1_000_000, 2_000_000),
	)
	require.Equal(t,
		[]string{"atrim=starti=500us"},
		appendTrim(nil, types.MediaTypeAudio, 500, math.MaxInt64),
	)
}

func TestInputChain(t *testing.T) {
	stream := &fakeStream{mediaType: types.MediaTypeVideo, autorotate: true}
	opts := DefaultInputOptions()
	opts.TrimDuration = 3_000_000
	ifp := newInputFilter(0, "in", stream, opts)

	ifp.Params.DisplayMatrix = &frame.DisplayMatrix{}
	ifp.Params.DisplayMatrix.SetRotation(90)
	require.Equal(t, []string{"transpose=clock", "trim=durationi=3000000us"}, ifp.inputChain())
	require.True(t, ifp.displayMatrixApplied)

	stream.autorotate = false
	require.Equal(t, []string{"trim=durationi=3000000us"}, ifp.inputChain())
	require.False(t, ifp.displayMatrixApplied)
}

func TestOutputChain(t *testing.T) {
	t.Run("video", func(t *testing.T) {
		opts := DefaultOutputOptions()
		opts.Width = 1280
		opts.Height = 720
		opts.Format = "yuv420p"
		ofp := newOutputFilter(0, "out", types.MediaTypeVideo, opts)
		require.Equal(t, []string{"scale=1280:720", "format=pix_fmts=yuv420p"}, ofp.outputChain())

		ofp.Options.Autoscale = false
		require.Equal(t, []string{"format=pix_fmts=yuv420p"}, ofp.outputChain())
	})
	t.Run("mjpeg", func(t *testing.T) {
		opts := DefaultOutputOptions()
		opts.CodecName = "mjpeg"
		ofp := newOutputFilter(0, "out", types.MediaTypeVideo, opts)
		require.Equal(t, []string{"format=pix_fmts=yuvj420p|yuvj422p|yuvj444p"}, ofp.outputChain())

		ofp.Options.Strict = StrictUnofficial
		require.Equal(t,
			[]string{"format=pix_fmts=yuvj420p|yuvj422p|yuvj444p|yuv420p|yuv422p|yuv444p"},
			ofp.outputChain(),
		)
	})
	t.Run("audio", func(t *testing.T) {
		opts := DefaultOutputOptions()
		opts.Formats = []string{"fltp", "s16"}
		opts.SampleRate = 48000
		opts.ChannelLayout = "stereo"
		opts.APad = "whole_dur=2"
		ofp := newOutputFilter(0, "out", types.MediaTypeAudio, opts)
		require.Equal(t, []string{
			"aformat=sample_fmts=fltp|s16:sample_rates=48000:channel_layouts=stereo",
			"apad=whole_dur=2",
		}, ofp.outputChain())
	})
}

func TestSimpleGraphDescription(t *testing.T) {
	ctx := testCtx(t)
	backend := &fakeBackend{}
	stream := &fakeStream{mediaType: types.MediaTypeVideo, timeBase: types.NewRational(1, 25)}
	fg, err := New(0, backend, Config{
		Simple:  true,
		Inputs:  []InputConfig{{Stream: stream, Options: DefaultInputOptions()}},
		Outputs: []OutputConfig{{MediaType: types.MediaTypeVideo, Options: DefaultOutputOptions()}},
	})
	require.NoError(t, err)
	fg.Inputs[0].Params = FrameParams{Format: "yuv420p", Width: 16, Height: 16, TimeBase: types.NewRational(1, 25)}

	require.NoError(t, fg.configure(ctx))
	defer fg.Close(ctx)
	require.Len(t, backend.configs, 1)
	require.Equal(t,
		"[graph_src_0]null[in];[in]null[out];[out]null[graph_sink_0]",
		backend.configs[0].Description,
	)
}
