package demux

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/types"
)

func testCtx(t *testing.T) context.Context {
	l := logrus.Default().WithLevel(logger.LevelDebug)
	ctx := logger.CtxWithLogger(context.Background(), l)
	t.Cleanup(func() { belt.Flush(ctx) })
	return ctx
}

type fakeReader struct {
	info       ContainerInfo
	streams    []StreamInfo
	packets    []*packet.Packet
	pos        int
	wouldBlock int
	seeks      int
}

var _ ContainerReader = (*fakeReader)(nil)

func (r *fakeReader) ReadPacket(ctx context.Context) (*packet.Packet, error) {
	if r.wouldBlock > 0 {
		r.wouldBlock--
		return nil, types.ErrWouldBlock
	}
	if r.pos >= len(r.packets) {
		return nil, io.EOF
	}
	pkt := r.packets[r.pos].Clone()
	r.pos++
	return pkt, nil
}

func (r *fakeReader) SeekToStart(ctx context.Context, ts int64) error {
	r.pos = 0
	r.seeks++
	return nil
}

func (r *fakeReader) RepeatPict(streamIndex int) (int, bool) {
	return 0, true
}

func (r *fakeReader) Info() ContainerInfo {
	return r.info
}

func (r *fakeReader) Streams() []StreamInfo {
	return r.streams
}

func newPacket(streamIdx int, ts, dur int64) *packet.Packet {
	pkt := packet.New()
	pkt.StreamIndex = streamIdx
	pkt.PTS = ts
	pkt.DTS = ts
	pkt.Duration = dur
	pkt.Data = make([]byte, 10)
	return pkt
}

func videoStream() StreamInfo {
	return StreamInfo{
		MediaType:    types.MediaTypeVideo,
		TimeBase:     types.NewRational(1, 25),
		PTSWrapBits:  64,
		AvgFrameRate: types.NewRational(25, 1),
	}
}

func newFakeReader(streams []StreamInfo, packets ...*packet.Packet) *fakeReader {
	return &fakeReader{
		info: ContainerInfo{
			URL:          "fake://input",
			FormatName:   "fake",
			HasIOContext: true,
			Seekable:     true,
			StartTime:    types.NoPTSValue,
		},
		streams: streams,
		packets: packets,
	}
}

// readAll reads until a terminal error, retrying on ErrWouldBlock.
func readAll(ctx context.Context, t *testing.T, d *Demuxer) (pts []int64, loops int, err error) {
	for {
		pkt, err := d.GetPacket(ctx)
		switch {
		case errors.Is(err, ErrLooping):
			loops++
			continue
		case errors.Is(err, types.ErrWouldBlock):
			time.Sleep(time.Millisecond)
			continue
		case err != nil:
			return pts, loops, err
		}
		pts = append(pts, pkt.PTS)
		pkt.Free()
	}
}

func TestDemuxerLoopMonotonic(t *testing.T) {
	ctx := testCtx(t)

	r := newFakeReader(
		[]StreamInfo{videoStream()},
		newPacket(0, 0, 1),
		newPacket(0, 1, 1),
		newPacket(0, 2, 1),
	)
	r.wouldBlock = 2
	cfg := DefaultConfig()
	cfg.Loop = 2
	d := New(ctx, r, cfg)

	pts, loops, err := readAll(ctx, t, d)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, d.Close(ctx))

	require.Equal(t, 2, loops)
	require.Equal(t, 2, r.seeks)
	require.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8}, pts)
	for i := 1; i < len(pts); i++ {
		require.GreaterOrEqual(t, pts[i], pts[i-1])
	}
	require.Equal(t, types.Timestamp{TS: 6, TB: types.NewRational(1, 25)}, d.Duration())
}

func TestDemuxerLoopAudioDurations(t *testing.T) {
	ctx := testCtx(t)

	r := newFakeReader(
		[]StreamInfo{{
			MediaType:   types.MediaTypeAudio,
			TimeBase:    types.NewRational(1, 48000),
			PTSWrapBits: 64,
		}},
		newPacket(0, 0, 1024),
		newPacket(0, 1024, 1024),
		newPacket(0, 2048, 1024),
	)
	cfg := DefaultConfig()
	cfg.Loop = 1
	cfg.Streams = []StreamConfig{{DecodingNeeded: true}}
	d := New(ctx, r, cfg)
	defer d.Close(ctx)

	var pts []int64
	for {
		pkt, err := d.GetPacket(ctx)
		if errors.Is(err, ErrLooping) {
			require.NoError(t, d.SendLastFrameDuration(ctx, 0, 1024))
			continue
		}
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		pts = append(pts, pkt.PTS)
		pkt.Free()
	}
	require.Equal(t, []int64{0, 1024, 2048, 3072, 4096, 5120}, pts)
}

func TestFixupTimestampsWrapIdempotent(t *testing.T) {
	ctx := testCtx(t)

	const wrapBits = 33
	r := newFakeReader([]StreamInfo{{
		MediaType:   types.MediaTypeVideo,
		TimeBase:    types.NewRational(1, 90000),
		PTSWrapBits: wrapBits,
	}})
	r.info.StartTime = 0
	d := New(ctx, r, DefaultConfig())
	st := d.Streams[0]

	const epsilon = 5
	pkt := newPacket(0, (1<<wrapBits)+epsilon, 1)
	require.Equal(t, 0, d.fixupTimestamps(st, pkt))
	require.Equal(t, int64(epsilon), pkt.PTS)
	require.Equal(t, int64(epsilon), pkt.DTS)
	require.False(t, st.wrapCorrectionDone)

	d.fixupTimestamps(st, pkt)
	require.Equal(t, int64(epsilon), pkt.PTS)
	require.Equal(t, int64(epsilon), pkt.DTS)
	require.True(t, st.wrapCorrectionDone)

	require.Equal(t, int64(epsilon), st.MinPTS)
	require.Equal(t, int64(epsilon), st.MaxPTS)
}

func TestFixupTimestampsOffsetAndScale(t *testing.T) {
	ctx := testCtx(t)

	r := newFakeReader([]StreamInfo{{
		MediaType:   types.MediaTypeAudio,
		TimeBase:    types.NewRational(1, 1000),
		PTSWrapBits: 64,
	}})
	cfg := DefaultConfig()
	cfg.InputTSOffset = 2 * types.TimeBase
	cfg.Streams = []StreamConfig{{TSScale: 2}}
	d := New(ctx, r, cfg)

	pkt := newPacket(0, 100, 10)
	pkt.DTS = types.NoPTSValue
	require.Equal(t, -1, d.fixupTimestamps(d.Streams[0], pkt))
	require.Equal(t, int64((100+2000)*2), pkt.PTS)
	require.Equal(t, types.NoPTSValue, pkt.DTS)
}

func TestDemuxerCorruptPacket(t *testing.T) {
	for _, exitOnError := range []bool{false, true} {
		t.Run("", func(t *testing.T) {
			ctx := testCtx(t)

			corrupt := newPacket(0, 1, 1)
			corrupt.Flags |= packet.FlagCorrupt
			r := newFakeReader([]StreamInfo{videoStream()}, newPacket(0, 0, 1), corrupt, newPacket(0, 2, 1))
			cfg := DefaultConfig()
			cfg.ExitOnError = exitOnError
			d := New(ctx, r, cfg)
			defer d.Close(ctx)

			pts, _, err := readAll(ctx, t, d)
			if exitOnError {
				require.ErrorIs(t, err, types.ErrInvalidData{})
				require.Equal(t, []int64{0}, pts)
			} else {
				require.ErrorIs(t, err, io.EOF)
				require.Equal(t, []int64{0, 1, 2}, pts)
			}
		})
	}
}

func TestDemuxerUnknownAndDiscardedStreams(t *testing.T) {
	ctx := testCtx(t)

	r := newFakeReader(
		[]StreamInfo{videoStream(), videoStream()},
		newPacket(0, 0, 1),
		newPacket(3, 0, 1),
		newPacket(1, 0, 1),
		newPacket(3, 1, 1),
		newPacket(1, 1, 1),
		newPacket(0, 1, 1),
	)
	cfg := DefaultConfig()
	cfg.Streams = []StreamConfig{{}, {Discard: true}}
	d := New(ctx, r, cfg)

	pts, _, err := readAll(ctx, t, d)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, d.Close(ctx))

	require.Equal(t, []int64{0, 1}, pts)
	require.Equal(t, 4, d.nbStreamsWarn)
	require.Equal(t, uint64(2), d.Streams[0].Packets.Count.Load())
	require.Equal(t, uint64(0), d.Streams[1].Packets.Count.Load())
	require.Equal(t, uint64(0), d.Streams[0].NbDiscarded.Load())
	require.Equal(t, uint64(2), d.Streams[1].NbDiscarded.Load())
	require.Contains(t, d.Summary(), "Total: 2 packets (20 B) demuxed")
	require.Contains(t, d.Summary(), "2 packets discarded;")
}

func TestDemuxerNonBlockingMode(t *testing.T) {
	for _, tc := range []struct {
		name         string
		nbInputs     int
		hasIOContext bool
		seekable     bool
		formatName   string
		want         bool
	}{
		{"single-input", 1, true, false, "mpegts", false},
		{"seekable", 2, true, true, "mp4", false},
		{"live", 2, true, false, "mpegts", true},
		{"lavfi", 2, false, false, "lavfi", false},
		{"device", 2, false, false, "v4l2", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testCtx(t)

			var packets []*packet.Packet
			for i := int64(0); i < 5; i++ {
				packets = append(packets, newPacket(0, i, 1))
			}
			r := newFakeReader([]StreamInfo{videoStream()}, packets...)
			r.info.HasIOContext = tc.hasIOContext
			r.info.Seekable = tc.seekable
			r.info.FormatName = tc.formatName
			cfg := DefaultConfig()
			cfg.NbInputFiles = tc.nbInputs
			cfg.ThreadQueueSize = 1
			d := New(ctx, r, cfg)
			defer d.Close(ctx)

			pts, _, err := readAll(ctx, t, d)
			require.ErrorIs(t, err, io.EOF)
			require.Equal(t, tc.want, d.IsNonBlocking())
			require.Equal(t, []int64{0, 1, 2, 3, 4}, pts)
		})
	}
}

func TestDemuxerReadRate(t *testing.T) {
	ctx := testCtx(t)

	r := newFakeReader(
		[]StreamInfo{{
			MediaType:   types.MediaTypeVideo,
			TimeBase:    types.NewRational(1, 1000),
			PTSWrapBits: 64,
		}},
		newPacket(0, 0, 1000),
		newPacket(0, 1000, 1000),
		newPacket(0, 2000, 1000),
	)
	cfg := DefaultConfig()
	cfg.RateEmu = true
	d := New(ctx, r, cfg)
	defer d.Close(ctx)

	now := time.Unix(100, 0)
	d.now = func() time.Time { return now }

	for _, want := range []int64{0, 1000} {
		pkt, err := d.GetPacket(ctx)
		require.NoError(t, err)
		require.Equal(t, want, pkt.PTS)
		pkt.Free()
	}

	_, err := d.GetPacket(ctx)
	require.ErrorIs(t, err, types.ErrWouldBlock)

	now = now.Add(time.Second)
	pkt, err := d.GetPacket(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2000), pkt.PTS)
	pkt.Free()

	d.Config.ReadRateInitialBurst = 1
	_, err = d.GetPacket(ctx)
	require.ErrorIs(t, err, io.EOF)
}
