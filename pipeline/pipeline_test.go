package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avtranscode/config"
	"github.com/xaionaro-go/avtranscode/helpers/closuresignaler"
	"github.com/xaionaro-go/avtranscode/types"
)

func parseConfig(t *testing.T, yaml string) *config.Config {
	cfg, err := config.Parse(strings.NewReader(yaml))
	require.NoError(t, err)
	return cfg
}

const loopedAVConfig = `
filter_backend: go
inputs:
  - url: "synthetic://av"
    loop: 1
outputs:
  - name: video
    stream: "0:v:0"
    r: "30/1"
  - name: audio
    stream: "0:a:0"
`

func TestRunLoopedInput(t *testing.T) {
	ctx := testCtx(t)

	opener := &syntheticOpener{nbFrames: 100}
	sink := &recordingSink{}
	c, err := New(ctx, parseConfig(t, loopedAVConfig), opener, Options{Sink: sink})
	require.NoError(t, err)
	defer c.Close(ctx)
	c.Muxer.MaxQueueSize = 0

	require.Len(t, c.Outputs, 2)
	require.Equal(t, types.MediaTypeVideo, c.Outputs[0].MediaType)
	require.Equal(t, types.MediaTypeAudio, c.Outputs[1].MediaType)

	require.NoError(t, c.Run(ctx))

	video := sink.stream(c.Outputs[0].muxerIdx)
	require.Len(t, video, 200)
	for idx := 1; idx < len(video); idx++ {
		require.Greater(t, video[idx].PTS, video[idx-1].PTS, "packet %d", idx)
	}
	require.Equal(t, uint64(200), c.Outputs[0].FramesEncoded.Load())

	require.Equal(t, uint64(2*100*syntheticSamplesPerFrame), c.Outputs[1].SamplesEncoded.Load())
	var samples int64
	for _, pkt := range sink.stream(c.Outputs[1].muxerIdx) {
		samples += types.RescaleQ(pkt.Duration, pkt.TimeBase, types.NewRational(1, syntheticSampleRate))
	}
	require.Equal(t, int64(2*100*syntheticSamplesPerFrame), samples)

	sink.locker.Lock()
	prevDTS := types.NoPTSValue
	for idx, pkt := range sink.packets {
		dts := types.RescaleQ(pkt.DTS, pkt.TimeBase, types.TimeBaseQ)
		if prevDTS != types.NoPTSValue {
			require.GreaterOrEqual(t, dts, prevDTS, "packet %d", idx)
		}
		prevDTS = dts
	}
	sink.locker.Unlock()

	for _, d := range opener.decoders {
		require.Equal(t, 1, d.resets)
	}

	summary := c.Summary(ctx)
	require.Contains(t, summary, "(video)")
	require.Contains(t, summary, "320,000 samples")
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx := testCtx(t)

	cfg := parseConfig(t, `
filter_backend: go
inputs: [{url: "synthetic://av", loop: -1}]
outputs: [{stream: "0:a:0"}]
`)
	c, err := New(ctx, cfg, &syntheticOpener{nbFrames: 10}, Options{})
	require.NoError(t, err)
	defer c.Close(ctx)

	runCtx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Run(runCtx)
	}()

	for c.Outputs[0].FramesEncoded.Load() < 50 {
		select {
		case err := <-errCh:
			t.Fatalf("an endless input has ended: %v", err)
		case <-time.After(time.Millisecond):
		}
	}
	cancelFn()
	require.Error(t, <-errCh)
}

func TestNewOutputResolution(t *testing.T) {
	for _, tc := range []struct {
		name      string
		outputs   string
		nbOutputs int
		wantErr   bool
	}{
		{
			name:      "optional_missing_stream_is_skipped",
			outputs:   `[{stream: "0:a:0"}, {stream: "0:s:0", optional: true}]`,
			nbOutputs: 1,
		},
		{
			name:    "missing_stream",
			outputs: `[{stream: "0:a:0"}, {stream: "0:s:0"}]`,
			wantErr: true,
		},
		{
			name:    "nothing_bound",
			outputs: `[{stream: "0:s:0", optional: true}]`,
			wantErr: true,
		},
		{
			name:      "specifier_matching_several_streams",
			outputs:   `[{stream: "0"}]`,
			nbOutputs: 2,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testCtx(t)
			cfg := parseConfig(t, "filter_backend: go\ninputs: [{url: 'synthetic://av'}]\noutputs: "+tc.outputs+"\n")
			opener := &syntheticOpener{nbFrames: 1}
			c, err := New(ctx, cfg, opener, Options{})
			if tc.wantErr {
				require.Error(t, err)
				require.Len(t, opener.inputs, 1)
				require.True(t, opener.inputs[0].closed)
				return
			}
			require.NoError(t, err)
			defer c.Close(ctx)
			require.Len(t, c.Outputs, tc.nbOutputs)
			require.Len(t, c.Graphs, tc.nbOutputs)
		})
	}
}

func TestNewDecodesOnlyConsumedStreams(t *testing.T) {
	ctx := testCtx(t)

	cfg := parseConfig(t, `
filter_backend: go
inputs: [{url: "synthetic://av"}]
outputs: [{stream: "0:a:0"}]
`)
	opener := &syntheticOpener{nbFrames: 1}
	c, err := New(ctx, cfg, opener, Options{})
	require.NoError(t, err)
	defer c.Close(ctx)

	require.Len(t, opener.decoders, 1)
	in := c.Inputs[0]
	require.Nil(t, in.Decoded[0])
	require.NotNil(t, in.Decoded[1])
	require.True(t, in.Demuxer.Streams[0].Config.Discard)
	require.True(t, in.Demuxer.Streams[1].Config.DecodingNeeded)
}

func TestRunAfterClose(t *testing.T) {
	ctx := testCtx(t)

	cfg := parseConfig(t, `
filter_backend: go
inputs: [{url: "synthetic://av"}]
outputs: [{stream: "0:a:0"}]
`)
	c, err := New(ctx, cfg, &syntheticOpener{nbFrames: 1}, Options{})
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))
	require.ErrorIs(t, c.Run(ctx), closuresignaler.ErrClosed)
}
