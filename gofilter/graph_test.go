package gofilter

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"testing"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avtranscode/filtergraph"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
)

func testCtx(t *testing.T) context.Context {
	l := logrus.Default().WithLevel(logger.LevelDebug)
	ctx := logger.CtxWithLogger(context.Background(), l)
	t.Cleanup(func() { belt.Flush(ctx) })
	return ctx
}

func videoSource(label string, w, h int) filtergraph.SourceConfig {
	return filtergraph.SourceConfig{
		Label:     label,
		MediaType: types.MediaTypeVideo,
		Params: filtergraph.FrameParams{
			Format:            "rgba",
			Width:             w,
			Height:            h,
			SampleAspectRatio: types.NewRational(1, 1),
			TimeBase:          types.NewRational(1, 25),
			FrameRate:         types.NewRational(25, 1),
		},
	}
}

func audioSource(label string, sampleRate int) filtergraph.SourceConfig {
	return filtergraph.SourceConfig{
		Label:     label,
		MediaType: types.MediaTypeAudio,
		Params: filtergraph.FrameParams{
			Format:        "fltp",
			SampleRate:    sampleRate,
			ChannelLayout: frame.ChannelLayoutMono,
			TimeBase:      types.NewRational(1, sampleRate),
		},
	}
}

func videoSink(label string) filtergraph.SinkConfig {
	return filtergraph.SinkConfig{Label: label, MediaType: types.MediaTypeVideo}
}

func audioSink(label string) filtergraph.SinkConfig {
	return filtergraph.SinkConfig{Label: label, MediaType: types.MediaTypeAudio}
}

func newTestGraph(
	t *testing.T,
	ctx context.Context,
	desc string,
	sources []filtergraph.SourceConfig,
	sinks []filtergraph.SinkConfig,
) *Graph {
	g, err := NewBackend().NewGraph(ctx, filtergraph.GraphConfig{
		Description: desc,
		Sources:     sources,
		Sinks:       sinks,
	})
	require.NoError(t, err)
	t.Cleanup(func() { g.Close(ctx) })
	return g.(*Graph)
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func pictureFrame(pts int64, img image.Image) *frame.Frame {
	f := frame.New()
	f.MediaType = types.MediaTypeVideo
	f.Format = "rgba"
	f.Width = img.Bounds().Dx()
	f.Height = img.Bounds().Dy()
	f.SampleAspectRatio = types.NewRational(1, 1)
	f.PTS = pts
	f.Duration = 1
	f.TimeBase = types.NewRational(1, 25)
	f.Image = img
	return f
}

// samplesFrame returns a mono frame whose samples are their global index.
func samplesFrame(pts int64, nbSamples int, sampleRate int) *frame.Frame {
	samples := make([]float32, nbSamples)
	for i := range samples {
		samples[i] = float32(pts) + float32(i)
	}
	f := frame.New()
	f.MediaType = types.MediaTypeAudio
	f.Format = "fltp"
	f.SampleRate = sampleRate
	f.ChannelLayout = frame.ChannelLayoutMono
	f.PTS = pts
	f.Duration = int64(nbSamples)
	f.TimeBase = types.NewRational(1, sampleRate)
	f.NbSamples = nbSamples
	f.Samples = [][]float32{samples}
	return f
}

// drain pulls everything buffered in the sink.
func drain(t *testing.T, ctx context.Context, sink filtergraph.Sink) ([]*frame.Frame, bool) {
	var frames []*frame.Frame
	for {
		f, err := sink.PullFrame(ctx)
		switch {
		case err == nil:
			frames = append(frames, f)
			continue
		case errors.Is(err, io.EOF):
			return frames, true
		}
		require.ErrorIs(t, err, types.ErrWouldBlock)
		return frames, false
	}
}

// generateAll requests the graph until it ends.
func generateAll(t *testing.T, ctx context.Context, g *Graph) []*frame.Frame {
	var frames []*frame.Frame
	for i := 0; i < 100; i++ {
		err := g.RequestOldest(ctx)
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		got, _ := drain(t, ctx, g.sinks[0])
		frames = append(frames, got...)
	}
	require.FailNow(t, "the graph did not end")
	return nil
}

func ptsOf(frames []*frame.Frame) []int64 {
	result := make([]int64, len(frames))
	for i, f := range frames {
		result[i] = f.PTS
	}
	return result
}

func TestNewGraphErrors(t *testing.T) {
	ctx := testCtx(t)
	for _, tc := range []struct {
		name string
		desc string
	}{
		{name: "unknown_filter", desc: "[in]nope[out]"},
		{name: "unconnected_output_pad", desc: "[in]split[out]"},
		{name: "unconnected_label", desc: "[in]null[x]"},
		{name: "media_type_mismatch", desc: "[in]anull[out]"},
		{name: "cycle", desc: "[in][b]overlay[a];[a]split[out][b]"},
		{name: "duplicate_label", desc: "[in]null[out];[in]null[out]"},
		{name: "bad_option", desc: "[in]scale=q=1[out]"},
		{name: "too_many_inputs", desc: "[in][in2]null[out]"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBackend().NewGraph(ctx, filtergraph.GraphConfig{
				Description: tc.desc,
				Sources:     []filtergraph.SourceConfig{videoSource("in", 4, 4)},
				Sinks:       []filtergraph.SinkConfig{videoSink("out")},
			})
			require.Error(t, err)
		})
	}
}

func TestPassthrough(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "[in]null,copy[out]",
		[]filtergraph.SourceConfig{videoSource("in", 4, 4)},
		[]filtergraph.SinkConfig{videoSink("out")},
	)
	require.False(t, g.IsMeta())
	require.False(t, g.HasSourceFilters())
	src, sink := g.Sources()[0], g.Sinks()[0]
	require.Equal(t, 4, sink.Params().Width)

	require.ErrorIs(t, g.RequestOldest(ctx), types.ErrWouldBlock)
	require.Equal(t, 1, src.NbFailedRequests())

	for pts := int64(0); pts < 3; pts++ {
		require.NoError(t, src.PushFrame(ctx, pictureFrame(pts, solidImage(4, 4, red))))
	}
	require.NoError(t, g.RequestOldest(ctx))
	frames, eof := drain(t, ctx, sink)
	require.False(t, eof)
	require.Equal(t, []int64{0, 1, 2}, ptsOf(frames))

	require.NoError(t, src.Close(ctx, 3))
	require.NoError(t, g.RequestOldest(ctx))
	frames, eof = drain(t, ctx, sink)
	require.True(t, eof)
	require.Empty(t, frames)
	require.ErrorIs(t, g.RequestOldest(ctx), io.EOF)
	require.Equal(t, 1, src.NbFailedRequests())
}

func TestIsMeta(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "[in]null,setpts=PTS-STARTPTS,trim=duration=1[out]",
		[]filtergraph.SourceConfig{videoSource("in", 4, 4)},
		[]filtergraph.SinkConfig{videoSink("out")},
	)
	require.True(t, g.IsMeta())
}

func TestTrimVideo(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "[in]trim=starti=40000us:durationi=80000us[out]",
		[]filtergraph.SourceConfig{videoSource("in", 4, 4)},
		[]filtergraph.SinkConfig{videoSink("out")},
	)
	src, sink := g.Sources()[0], g.Sinks()[0]

	for pts := int64(0); pts < 4; pts++ {
		require.NoError(t, src.PushFrame(ctx, pictureFrame(pts, solidImage(4, 4, red))))
	}
	// nothing downstream wants the input anymore
	require.ErrorIs(t, src.PushFrame(ctx, pictureFrame(4, solidImage(4, 4, red))), io.EOF)

	frames, eof := drain(t, ctx, sink)
	require.True(t, eof)
	require.Equal(t, []int64{1, 2}, ptsOf(frames))
}

func TestTrimAudioIsSampleAccurate(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "[in]atrim=starti=150000us:durationi=200000us[out]",
		[]filtergraph.SourceConfig{audioSource("in", 1000)},
		[]filtergraph.SinkConfig{audioSink("out")},
	)
	src, sink := g.Sources()[0], g.Sinks()[0]

	for pts := int64(0); pts < 400; pts += 100 {
		require.NoError(t, src.PushFrame(ctx, samplesFrame(pts, 100, 1000)))
	}
	require.ErrorIs(t, src.PushFrame(ctx, samplesFrame(400, 100, 1000)), io.EOF)

	frames, eof := drain(t, ctx, sink)
	require.True(t, eof)
	require.Equal(t, []int64{150, 200, 300}, ptsOf(frames))

	var nbSamples []int
	var firstSamples []float32
	for _, f := range frames {
		nbSamples = append(nbSamples, f.NbSamples)
		firstSamples = append(firstSamples, f.Samples[0][0])
		require.Len(t, f.Samples[0], f.NbSamples)
	}
	require.Equal(t, []int{50, 100, 50}, nbSamples)
	require.Equal(t, []float32{150, 200, 300}, firstSamples)
}

func TestSetPTSStartAtZero(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "[in]setpts=PTS-STARTPTS[out]",
		[]filtergraph.SourceConfig{videoSource("in", 4, 4)},
		[]filtergraph.SinkConfig{videoSink("out")},
	)
	src, sink := g.Sources()[0], g.Sinks()[0]
	for _, pts := range []int64{10, 11, 13} {
		require.NoError(t, src.PushFrame(ctx, pictureFrame(pts, solidImage(4, 4, red))))
	}
	require.NoError(t, src.Close(ctx, 14))
	frames, eof := drain(t, ctx, sink)
	require.True(t, eof)
	require.Equal(t, []int64{0, 1, 3}, ptsOf(frames))
	require.Equal(t, int64(4), g.sinks[0].input().eofPTS)
}

func TestOverlay(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "[main][logo]overlay=x=1:y=1[out]",
		[]filtergraph.SourceConfig{videoSource("main", 4, 4), videoSource("logo", 2, 2)},
		[]filtergraph.SinkConfig{videoSink("out")},
	)
	mainSrc, logoSrc, sink := g.Sources()[0], g.Sources()[1], g.Sinks()[0]

	require.NoError(t, mainSrc.PushFrame(ctx, pictureFrame(0, solidImage(4, 4, blue))))
	// the main picture waits for the overlay
	require.ErrorIs(t, g.RequestOldest(ctx), types.ErrWouldBlock)
	require.Equal(t, 0, mainSrc.NbFailedRequests())
	require.Equal(t, 1, logoSrc.NbFailedRequests())

	require.NoError(t, logoSrc.PushFrame(ctx, pictureFrame(0, solidImage(2, 2, red))))
	frames, _ := drain(t, ctx, sink)
	require.Empty(t, frames)

	require.NoError(t, logoSrc.PushFrame(ctx, pictureFrame(5, solidImage(2, 2, green))))
	require.NoError(t, logoSrc.Close(ctx, 6))
	require.NoError(t, mainSrc.PushFrame(ctx, pictureFrame(1, solidImage(4, 4, blue))))
	require.NoError(t, mainSrc.PushFrame(ctx, pictureFrame(6, solidImage(4, 4, blue))))
	require.NoError(t, mainSrc.Close(ctx, 7))

	frames, eof := drain(t, ctx, sink)
	require.True(t, eof)
	require.Equal(t, []int64{0, 1, 6}, ptsOf(frames))

	for idx, expected := range []color.RGBA{red, red, green} {
		img := frames[idx].Image
		require.Equal(t, blue, img.At(0, 0), idx)
		require.Equal(t, expected, img.At(1, 1), idx)
		require.Equal(t, expected, img.At(2, 2), idx)
		require.Equal(t, blue, img.At(3, 3), idx)
	}
}

func TestSplit(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "[in]split[a][b];[a]hflip[out0];[b]null[out1]",
		[]filtergraph.SourceConfig{videoSource("in", 2, 1)},
		[]filtergraph.SinkConfig{videoSink("out0"), videoSink("out1")},
	)
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, red)
	img.SetRGBA(1, 0, blue)
	require.NoError(t, g.Sources()[0].PushFrame(ctx, pictureFrame(0, img)))

	flipped, _ := drain(t, ctx, g.Sinks()[0])
	require.Len(t, flipped, 1)
	require.Equal(t, blue, flipped[0].Image.At(0, 0))
	require.Equal(t, red, flipped[0].Image.At(1, 0))

	original, _ := drain(t, ctx, g.Sinks()[1])
	require.Len(t, original, 1)
	require.Equal(t, red, original[0].Image.At(0, 0))
}

func TestRequestOldestBlamesTheSlowestSink(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "[a]null[x];[b]null[y]",
		[]filtergraph.SourceConfig{videoSource("a", 4, 4), videoSource("b", 4, 4)},
		[]filtergraph.SinkConfig{videoSink("x"), videoSink("y")},
	)
	a, b := g.Sources()[0], g.Sources()[1]
	require.NoError(t, a.PushFrame(ctx, pictureFrame(0, solidImage(4, 4, red))))
	require.NoError(t, a.PushFrame(ctx, pictureFrame(1, solidImage(4, 4, red))))
	frames, _ := drain(t, ctx, g.Sinks()[0])
	require.Len(t, frames, 2)

	require.ErrorIs(t, g.RequestOldest(ctx), types.ErrWouldBlock)
	require.Equal(t, 0, a.NbFailedRequests())
	require.Equal(t, 1, b.NbFailedRequests())
}

func TestColorSource(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "color=c=red:s=4x2:r=10:d=0.3[out]", nil,
		[]filtergraph.SinkConfig{videoSink("out")},
	)
	require.True(t, g.HasSourceFilters())
	params := g.Sinks()[0].Params()
	require.Equal(t, 4, params.Width)
	require.Equal(t, 2, params.Height)
	require.Equal(t, types.NewRational(1, 10), params.TimeBase)

	frames := generateAll(t, ctx, g)
	require.Equal(t, []int64{0, 1, 2}, ptsOf(frames))
	require.Equal(t, red, frames[0].Image.At(3, 1))
}

func TestSineAndAPad(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "sine=f=250:r=1000:d=0.25:samples_per_frame=100,apad=whole_dur=0.5[out]", nil,
		[]filtergraph.SinkConfig{audioSink("out")},
	)
	frames := generateAll(t, ctx, g)
	require.Equal(t, []int64{0, 100, 200, 250}, ptsOf(frames))

	var nbSamples []int
	for _, f := range frames {
		nbSamples = append(nbSamples, f.NbSamples)
	}
	require.Equal(t, []int{100, 100, 50, 250}, nbSamples)

	tone := frames[0].Samples[0]
	require.InDelta(t, 0, tone[0], 1e-6)
	require.InDelta(t, 1, tone[1], 1e-6)
	require.InDelta(t, 0, tone[2], 1e-6)
	require.InDelta(t, -1, tone[3], 1e-6)
	for _, v := range frames[3].Samples[0] {
		require.Zero(t, v)
	}
}

func TestPixelFormat(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "[in]format=pix_fmts=nv12|yuv420p|gray[out]",
		[]filtergraph.SourceConfig{videoSource("in", 2, 2)},
		[]filtergraph.SinkConfig{videoSink("out")},
	)
	require.Equal(t, "yuv420p", g.Sinks()[0].Params().Format)
	require.NoError(t, g.Sources()[0].PushFrame(ctx, pictureFrame(0, solidImage(2, 2, red))))
	frames, _ := drain(t, ctx, g.Sinks()[0])
	require.Len(t, frames, 1)
	require.Equal(t, "yuv420p", frames[0].Format)
	ycbcr, ok := frames[0].Image.(*image.YCbCr)
	require.True(t, ok)
	require.Equal(t, image.YCbCrSubsampleRatio420, ycbcr.SubsampleRatio)

	_, err := NewBackend().NewGraph(ctx, filtergraph.GraphConfig{
		Description:        "[in]format=pix_fmts=yuv420p[out]",
		Sources:            []filtergraph.SourceConfig{videoSource("in", 2, 2)},
		Sinks:              []filtergraph.SinkConfig{videoSink("out")},
		DisableAutoConvert: true,
	})
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestSampleFormat(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "[in]aformat=sample_fmts=s16:sample_rates=2000:channel_layouts=stereo[out]",
		[]filtergraph.SourceConfig{audioSource("in", 1000)},
		[]filtergraph.SinkConfig{audioSink("out")},
	)
	params := g.Sinks()[0].Params()
	require.Equal(t, "s16", params.Format)
	require.Equal(t, 2000, params.SampleRate)
	require.Equal(t, frame.ChannelLayoutStereo, params.ChannelLayout)
	require.Equal(t, types.NewRational(1, 2000), params.TimeBase)

	src, sink := g.Sources()[0], g.Sinks()[0]
	require.NoError(t, src.PushFrame(ctx, samplesFrame(0, 100, 1000)))
	require.NoError(t, src.PushFrame(ctx, samplesFrame(100, 100, 1000)))
	frames, _ := drain(t, ctx, sink)
	require.Equal(t, []int64{0, 200}, ptsOf(frames))
	for _, f := range frames {
		require.Equal(t, 200, f.NbSamples)
		require.Len(t, f.Samples, 2)
		require.Equal(t, f.Samples[0], f.Samples[1])
	}
	// every other output sample lies between two input ones
	require.InDelta(t, 0.5, frames[0].Samples[0][1], 1e-6)
	require.InDelta(t, 100, frames[1].Samples[0][0], 1e-6)
}

func TestScaleGeometry(t *testing.T) {
	for _, tc := range []struct {
		name       string
		scale      scale
		inW, inH   int
		inSAR      types.Rational
		outW, outH int
		outSAR     types.Rational
	}{
		{name: "keep_aspect", scale: scale{w: 640, h: -1}, inW: 1280, inH: 720, inSAR: types.NewRational(1, 1), outW: 640, outH: 360, outSAR: types.NewRational(1, 1)},
		{name: "even", scale: scale{w: -2, h: 270}, inW: 1280, inH: 720, inSAR: types.NewRational(1, 1), outW: 480, outH: 270, outSAR: types.NewRational(1, 1)},
		{name: "unchanged", scale: scale{}, inW: 320, inH: 240, inSAR: types.NewRational(1, 1), outW: 320, outH: 240, outSAR: types.NewRational(1, 1)},
		{name: "anamorphic", scale: scale{w: 720, h: 480}, inW: 720, inH: 576, inSAR: types.NewRational(16, 15), outW: 720, outH: 480, outSAR: types.NewRational(8, 9)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w, h, sar := tc.scale.geometry(tc.inW, tc.inH, tc.inSAR)
			require.Equal(t, tc.outW, w)
			require.Equal(t, tc.outH, h)
			require.Equal(t, tc.outSAR, sar)
		})
	}
}

func TestTranspose(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	at := func(x, y int) color.RGBA {
		return color.RGBA{R: uint8(x), G: uint8(y), A: 255}
	}

	for _, tc := range []struct {
		dir    string
		checks map[image.Point]color.RGBA
	}{
		{dir: "clock", checks: map[image.Point]color.RGBA{image.Pt(0, 0): at(0, 1), image.Pt(1, 0): at(0, 0), image.Pt(0, 2): at(2, 1)}},
		{dir: "cclock", checks: map[image.Point]color.RGBA{image.Pt(0, 0): at(2, 0), image.Pt(1, 2): at(0, 1)}},
		{dir: "cclock_flip", checks: map[image.Point]color.RGBA{image.Pt(0, 0): at(0, 0), image.Pt(1, 2): at(2, 1)}},
		{dir: "clock_flip", checks: map[image.Point]color.RGBA{image.Pt(0, 0): at(2, 1), image.Pt(1, 2): at(0, 0)}},
	} {
		t.Run(tc.dir, func(t *testing.T) {
			ctx := testCtx(t)
			g := newTestGraph(t, ctx, "[in]transpose="+tc.dir+"[out]",
				[]filtergraph.SourceConfig{videoSource("in", 3, 2)},
				[]filtergraph.SinkConfig{videoSink("out")},
			)
			require.Equal(t, 2, g.Sinks()[0].Params().Width)
			require.Equal(t, 3, g.Sinks()[0].Params().Height)

			require.NoError(t, g.Sources()[0].PushFrame(ctx, pictureFrame(0, src)))
			frames, _ := drain(t, ctx, g.Sinks()[0])
			require.Len(t, frames, 1)
			require.Equal(t, image.Rect(0, 0, 2, 3), frames[0].Image.Bounds())
			for pt, c := range tc.checks {
				require.Equal(t, c, frames[0].Image.At(pt.X, pt.Y), pt)
			}
		})
	}
}

func TestCommands(t *testing.T) {
	ctx := testCtx(t)
	g := newTestGraph(t, ctx, "[in]scale@big=4:4[out]",
		[]filtergraph.SourceConfig{videoSource("in", 2, 2)},
		[]filtergraph.SinkConfig{videoSink("out")},
	)
	_, err := g.SendCommand(ctx, "scale@big", "w", "8", false)
	require.NoError(t, err)
	require.Equal(t, 8, g.Sinks()[0].Params().Width)

	_, err = g.SendCommand(ctx, "all", "unknown", "1", true)
	var errNotImplemented types.ErrNotImplemented
	require.ErrorAs(t, err, &errNotImplemented)

	require.NoError(t, g.QueueCommand(ctx, "scale", "h", "8", false, 0.05))

	src := g.Sources()[0]
	for pts := int64(0); pts < 3; pts++ {
		require.NoError(t, src.PushFrame(ctx, pictureFrame(pts, solidImage(2, 2, red))))
	}
	frames, _ := drain(t, ctx, g.Sinks()[0])
	require.Len(t, frames, 3)
	sizes := make([]image.Point, len(frames))
	for i, f := range frames {
		sizes[i] = image.Pt(f.Width, f.Height)
	}
	require.Equal(t, []image.Point{image.Pt(8, 4), image.Pt(8, 4), image.Pt(8, 8)}, sizes)
}
