package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/xaionaro-go/avtranscode/config"
	"github.com/xaionaro-go/avtranscode/demux"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/libav"
	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/types"
)

// Input is an opened input file.
type Input interface {
	demux.ContainerReader
	Close(ctx context.Context) error
}

// Decoder turns the packets of one stream into frames.
type Decoder interface {
	// SendPacket feeds the decoder; a nil packet starts draining it.
	// types.ErrWouldBlock means the frames must be received first.
	SendPacket(ctx context.Context, pkt *packet.Packet) error
	// ReceiveFrame returns types.ErrWouldBlock if more packets are
	// needed and io.EOF once the decoder is drained.
	ReceiveFrame(ctx context.Context) (*frame.Frame, error)
	// Reset makes a drained decoder accept packets again.
	Reset(ctx context.Context) error
	Close(ctx context.Context) error
}

type DecoderConfig struct {
	CodecName   string
	ThreadCount int
	// CopyPayload requests the pictures and the samples as Go values.
	CopyPayload bool
}

// Opener opens the inputs and the decoders of their streams.
type Opener interface {
	OpenInput(ctx context.Context, inputIdx int, cfg config.InputConfig) (Input, error)
	NewDecoder(ctx context.Context, in Input, streamIdx int, cfg DecoderConfig) (Decoder, error)
}

// LibAV opens the inputs and the decoders with the FFmpeg libraries.
type LibAV struct{}

var _ Opener = LibAV{}

func (LibAV) OpenInput(ctx context.Context, inputIdx int, cfg config.InputConfig) (Input, error) {
	opts := cfg.Options
	if cfg.ProbeSize > 0 {
		opts = append(append(types.DictionaryItems{}, opts...), types.DictionaryItem{
			Key:   "probesize",
			Value: strconv.FormatUint(uint64(cfg.ProbeSize), 10),
		})
	}
	r, err := libav.NewFormatReader(ctx, cfg.URL.SecretString(), libav.FormatReaderConfig{
		FormatName:    cfg.Format,
		CustomOptions: opts,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (LibAV) NewDecoder(ctx context.Context, in Input, streamIdx int, cfg DecoderConfig) (Decoder, error) {
	r, ok := in.(*libav.FormatReader)
	if !ok {
		return nil, fmt.Errorf("%T is not opened by libav: %w", in, types.ErrInvalidArgument)
	}
	d, err := libav.NewDecoder(ctx, r, streamIdx, libav.DecoderConfig{
		CodecName:   cfg.CodecName,
		ThreadCount: cfg.ThreadCount,
		CopyPayload: cfg.CopyPayload,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}
