package pipeline

import (
	"context"

	"github.com/xaionaro-go/avtranscode/filtergraph"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/types"
)

// Encoder turns the filtered frames of one output into packets.
type Encoder interface {
	// Encode consumes the frame; a nil frame flushes the encoder.
	Encode(ctx context.Context, f *frame.Frame) ([]*packet.Packet, error)
	Close(ctx context.Context) error
}

// NullEncoder emits one empty packet per frame, carrying the frame
// timing. It is what the benchmark mode encodes with.
type NullEncoder struct {
	// Params is the shape of the first frame received.
	Params filtergraph.FrameParams
}

var _ Encoder = (*NullEncoder)(nil)

func NewNullEncoder() *NullEncoder {
	return &NullEncoder{}
}

func (e *NullEncoder) Encode(ctx context.Context, f *frame.Frame) ([]*packet.Packet, error) {
	if f == nil {
		return nil, nil
	}
	defer f.Free()

	if !e.Params.IsFormatKnown() {
		e.Params = filtergraph.FrameParamsFromFrame(f)
	}
	if f.Flags.Has(frame.FlagParamsOnly) {
		return nil, nil
	}

	pkt := packet.New()
	pkt.PTS = f.PTS
	pkt.DTS = f.PTS
	pkt.Duration = f.Duration
	pkt.TimeBase = f.TimeBase
	if f.MediaType == types.MediaTypeAudio && pkt.Duration == 0 && f.SampleRate > 0 {
		pkt.Duration = types.RescaleQ(int64(f.NbSamples), types.NewRational(1, f.SampleRate), f.TimeBase)
	}
	if f.IsKey() || f.MediaType != types.MediaTypeVideo {
		pkt.Flags |= packet.FlagKey
	}
	return []*packet.Packet{pkt}, nil
}

func (e *NullEncoder) Close(ctx context.Context) error {
	return nil
}
