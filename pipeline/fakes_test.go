package pipeline

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"testing"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/xaionaro-go/avtranscode/config"
	"github.com/xaionaro-go/avtranscode/demux"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/types"
)

func testCtx(t *testing.T) context.Context {
	l := logrus.Default().WithLevel(logger.LevelDebug)
	ctx := logger.CtxWithLogger(context.Background(), l)
	t.Cleanup(func() { belt.Flush(ctx) })
	return ctx
}

const (
	syntheticSampleRate      = 48000
	syntheticSamplesPerFrame = syntheticSampleRate / 30
)

// syntheticInput is a 30fps video stream interleaved with a 48kHz
// audio stream, one audio frame per video frame.
type syntheticInput struct {
	nbFrames int
	streams  []demux.StreamInfo
	pos      int
	closed   bool
}

var _ Input = (*syntheticInput)(nil)

func newSyntheticInput(nbFrames int) *syntheticInput {
	return &syntheticInput{
		nbFrames: nbFrames,
		streams: []demux.StreamInfo{
			{
				MediaType:    types.MediaTypeVideo,
				CodecName:    "rawvideo",
				TimeBase:     types.NewRational(1, 30),
				PTSWrapBits:  64,
				FrameRate:    types.NewRational(30, 1),
				AvgFrameRate: types.NewRational(30, 1),
			},
			{
				MediaType:   types.MediaTypeAudio,
				CodecName:   "pcm_f32le",
				TimeBase:    types.NewRational(1, syntheticSampleRate),
				PTSWrapBits: 64,
			},
		},
	}
}

func (in *syntheticInput) ReadPacket(ctx context.Context) (*packet.Packet, error) {
	if in.pos >= 2*in.nbFrames {
		return nil, io.EOF
	}
	idx := in.pos / 2
	pkt := packet.New()
	pkt.StreamIndex = in.pos % 2
	switch pkt.StreamIndex {
	case 0:
		pkt.PTS = int64(idx)
		pkt.Duration = 1
	default:
		pkt.PTS = int64(idx * syntheticSamplesPerFrame)
		pkt.Duration = syntheticSamplesPerFrame
	}
	pkt.DTS = pkt.PTS
	pkt.Flags |= packet.FlagKey
	pkt.Data = make([]byte, 16)
	in.pos++
	return pkt, nil
}

func (in *syntheticInput) SeekToStart(ctx context.Context, ts int64) error {
	in.pos = 0
	return nil
}

func (in *syntheticInput) RepeatPict(int) (int, bool) {
	return 0, true
}

func (in *syntheticInput) Info() demux.ContainerInfo {
	return demux.ContainerInfo{
		URL:          "synthetic://av",
		FormatName:   "synthetic",
		HasIOContext: true,
		Seekable:     true,
		StartTime:    types.NoPTSValue,
	}
}

func (in *syntheticInput) Streams() []demux.StreamInfo {
	return in.streams
}

func (in *syntheticInput) Close(ctx context.Context) error {
	in.closed = true
	return nil
}

// stubDecoder turns every packet into one frame of the same timing.
type stubDecoder struct {
	info     demux.StreamInfo
	pending  []*frame.Frame
	draining bool
	resets   int
	closed   bool
}

var _ Decoder = (*stubDecoder)(nil)

func (d *stubDecoder) SendPacket(ctx context.Context, pkt *packet.Packet) error {
	if pkt == nil {
		d.draining = true
		return nil
	}
	if d.draining {
		return fmt.Errorf("a packet while draining: %w", types.ErrInvalidArgument)
	}

	f := frame.New()
	f.MediaType = d.info.MediaType
	f.PTS = pkt.PTS
	f.Duration = pkt.Duration
	f.TimeBase = pkt.TimeBase
	f.DecoderTimeBase = d.info.TimeBase
	f.SetKey(true)
	switch d.info.MediaType {
	case types.MediaTypeVideo:
		f.Format = "rgba"
		f.Width, f.Height = 4, 4
		f.SampleAspectRatio = types.NewRational(1, 1)
		f.Image = image.NewRGBA(image.Rect(0, 0, 4, 4))
	case types.MediaTypeAudio:
		f.Format = "fltp"
		f.SampleRate = syntheticSampleRate
		f.ChannelLayout = frame.ChannelLayoutMono
		f.NbSamples = int(pkt.Duration)
		f.Samples = [][]float32{make([]float32, f.NbSamples)}
	}
	d.pending = append(d.pending, f)
	return nil
}

func (d *stubDecoder) ReceiveFrame(ctx context.Context) (*frame.Frame, error) {
	if len(d.pending) > 0 {
		f := d.pending[0]
		d.pending = d.pending[1:]
		return f, nil
	}
	if d.draining {
		return nil, io.EOF
	}
	return nil, types.ErrWouldBlock
}

func (d *stubDecoder) Reset(ctx context.Context) error {
	d.draining = false
	d.resets++
	return nil
}

func (d *stubDecoder) Close(ctx context.Context) error {
	for _, f := range d.pending {
		f.Free()
	}
	d.pending = nil
	d.closed = true
	return nil
}

type syntheticOpener struct {
	nbFrames int
	inputs   []*syntheticInput
	decoders []*stubDecoder
}

var _ Opener = (*syntheticOpener)(nil)

func (o *syntheticOpener) OpenInput(ctx context.Context, inputIdx int, cfg config.InputConfig) (Input, error) {
	in := newSyntheticInput(o.nbFrames)
	o.inputs = append(o.inputs, in)
	return in, nil
}

func (o *syntheticOpener) NewDecoder(ctx context.Context, in Input, streamIdx int, cfg DecoderConfig) (Decoder, error) {
	if !cfg.CopyPayload {
		return nil, fmt.Errorf("the Go filters need the payload: %w", types.ErrInvalidArgument)
	}
	d := &stubDecoder{info: in.Streams()[streamIdx]}
	o.decoders = append(o.decoders, d)
	return d, nil
}

type writtenPacket struct {
	StreamIdx int
	PTS       int64
	DTS       int64
	Duration  int64
	TimeBase  types.Rational
}

type recordingSink struct {
	locker  sync.Mutex
	packets []writtenPacket
}

func (s *recordingSink) WritePacket(ctx context.Context, streamIdx int, pkt *packet.Packet) error {
	s.locker.Lock()
	defer s.locker.Unlock()
	s.packets = append(s.packets, writtenPacket{
		StreamIdx: streamIdx,
		PTS:       pkt.PTS,
		DTS:       pkt.DTS,
		Duration:  pkt.Duration,
		TimeBase:  pkt.TimeBase,
	})
	pkt.Free()
	return nil
}

func (s *recordingSink) stream(streamIdx int) []writtenPacket {
	s.locker.Lock()
	defer s.locker.Unlock()
	var result []writtenPacket
	for _, pkt := range s.packets {
		if pkt.StreamIdx == streamIdx {
			result = append(result, pkt)
		}
	}
	return result
}
