package libav

import (
	"context"
	"errors"
	"image"
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

func testCtx(t *testing.T) context.Context {
	l := logrus.Default().WithLevel(logger.LevelDebug)
	ctx := logger.CtxWithLogger(context.Background(), l)
	t.Cleanup(func() { belt.Flush(ctx) })
	return ctx
}

func newYUVFrame(pts int64, tb types.Rational) *frame.Frame {
	f := frame.New()
	f.MediaType = types.MediaTypeVideo
	f.Format = "yuv420p"
	f.Width, f.Height = 16, 16
	f.SampleAspectRatio = types.NewRational(1, 1)
	f.Image = image.NewYCbCr(image.Rect(0, 0, 16, 16), image.YCbCrSubsampleRatio420)
	f.PTS = pts
	f.Duration = 1
	f.TimeBase = tb
	return f
}

// drainSink collects the timestamps of everything the graph outputs
// until its only sink reaches EOF.
func drainSink(ctx context.Context, t *testing.T, g filtergraph.Graph) []int64 {
	var pts []int64
	sink := g.Sinks()[0]
	for i := 0; i < 100; i++ {
		f, err := sink.PullFrame(ctx)
		switch {
		case err == nil:
			pts = append(pts, f.PTS)
			f.Free()
			continue
		case errors.Is(err, io.EOF):
			return pts
		case errors.Is(err, types.ErrWouldBlock):
		default:
			require.NoError(t, err)
		}
		err = g.RequestOldest(ctx)
		if errors.Is(err, io.EOF) {
			return pts
		}
		require.NoError(t, err)
	}
	t.Fatalf("the graph did not reach EOF")
	return nil
}

func TestFilterSourceCloseAtTimestamp(t *testing.T) {
	ctx := testCtx(t)
	tb := types.NewRational(1, 25)

	g, err := NewFilterBackend().NewGraph(ctx, filtergraph.GraphConfig{
		Description: "[graph_src_0]fps=25[graph_sink_0]",
		Sources: []filtergraph.SourceConfig{{
			Label:     "graph_src_0",
			MediaType: types.MediaTypeVideo,
			Params: filtergraph.FrameParams{
				Format:            "yuv420p",
				Width:             16,
				Height:            16,
				SampleAspectRatio: types.NewRational(1, 1),
				TimeBase:          tb,
			},
		}},
		Sinks: []filtergraph.SinkConfig{{
			Label:     "graph_sink_0",
			MediaType: types.MediaTypeVideo,
		}},
	})
	require.NoError(t, err)
	defer g.Close(ctx)

	src := g.Sources()[0]
	require.NoError(t, src.PushFrame(ctx, newYUVFrame(0, tb)))
	require.NoError(t, src.Close(ctx, 5))
	require.ErrorIs(t, src.PushFrame(ctx, newYUVFrame(1, tb)), io.EOF)

	// the last picture is repeated up to the end timestamp
	require.Equal(t, []int64{0, 1, 2, 3, 4}, drainSink(ctx, t, g))
}
