package libav

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/types"
	"github.com/xaionaro-go/xsync"
)

type DecoderConfig struct {
	// CodecName forces a decoder; empty picks the default one for the stream.
	CodecName     string
	CustomOptions types.DictionaryItems
	ThreadCount   int

	// CopyPayload exposes the decoded pictures and samples as Go values
	// (frame.Frame.Image and frame.Frame.Samples); the pure-Go filters
	// need them.
	CopyPayload bool
}

// Decoder decodes the packets of one stream of a FormatReader.
type Decoder struct {
	locker       xsync.Mutex
	codec        *astiav.Codec
	params       *astiav.CodecParameters
	codecContext *astiav.CodecContext
	mediaType    types.MediaType
	timeBase     types.Rational
	frameRate    types.Rational
	config       DecoderConfig

	receivedKeyFrame bool

	// decoded subtitles waiting for ReceiveFrame
	subtitles []*frame.Frame
	draining  bool
}

func NewDecoder(
	ctx context.Context,
	r *FormatReader,
	streamIndex int,
	cfg DecoderConfig,
) (_ *Decoder, _err error) {
	logger.Debugf(ctx, "NewDecoder(ctx, %s, %d)", r, streamIndex)
	defer func() { logger.Debugf(ctx, "/NewDecoder(ctx, %s, %d): %v", r, streamIndex, _err) }()

	params, err := r.CodecParameters(streamIndex)
	if err != nil {
		return nil, err
	}

	var codec *astiav.Codec
	if cfg.CodecName != "" {
		codec = astiav.FindDecoderByName(cfg.CodecName)
	} else {
		codec = astiav.FindDecoder(params.CodecID())
	}
	if codec == nil {
		return nil, fmt.Errorf("unable to find a decoder for stream %d (codec '%s', requested '%s')", streamIndex, params.CodecID().Name(), cfg.CodecName)
	}

	d := &Decoder{
		codec:     codec,
		params:    params,
		mediaType: mediaTypeFromAstiav(params.MediaType()),
		timeBase:  r.streams[streamIndex].TimeBase,
		frameRate: r.streams[streamIndex].FrameRate,
		config:    cfg,
	}
	if err := d.open(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Decoder) open(ctx context.Context) (_err error) {
	closer := astikit.NewCloser()
	defer func() {
		if _err != nil {
			closer.Close()
		}
	}()

	codecContext := astiav.AllocCodecContext(d.codec)
	if codecContext == nil {
		return types.ErrOutOfMemory{Err: fmt.Errorf("unable to allocate a codec context")}
	}
	closer.Add(codecContext.Free)

	if err := d.params.ToCodecContext(codecContext); err != nil {
		return fmt.Errorf("unable to copy the codec parameters: %w", err)
	}
	codecContext.SetTimeBase(rationalToAstiav(d.timeBase))
	codecContext.SetPktTimebase(rationalToAstiav(d.timeBase))
	if d.mediaType == types.MediaTypeVideo && d.frameRate.Valid() {
		codecContext.SetFramerate(rationalToAstiav(d.frameRate))
	}
	if d.config.ThreadCount > 0 {
		codecContext.SetThreadCount(d.config.ThreadCount)
	}

	dict := dictionaryFromItems(ctx, d.config.CustomOptions)
	if dict != nil {
		defer dict.Free()
	}
	if err := codecContext.Open(d.codec, dict); err != nil {
		return fmt.Errorf("unable to open the decoder '%s': %w", d.codec.Name(), err)
	}
	d.codecContext = codecContext
	d.receivedKeyFrame = false
	d.draining = false
	return nil
}

// Reset makes the decoder ready to decode the stream from its start
// again, after it was drained. The codec context is reopened.
func (d *Decoder) Reset(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Reset: %s", d)
	defer func() { logger.Debugf(ctx, "/Reset: %s: %v", d, _err) }()
	return xsync.DoR1(ctx, &d.locker, func() error {
		if d.codecContext != nil {
			d.codecContext.Free()
			d.codecContext = nil
		}
		d.freeSubtitles()
		return d.open(ctx)
	})
}

func (d *Decoder) String() string {
	return fmt.Sprintf("Decoder(%s)", d.mediaType)
}

func (d *Decoder) MediaType() types.MediaType {
	return d.mediaType
}

// SendPacket feeds the decoder; a nil packet starts draining it.
// Video packets preceding the first key frame are dropped.
func (d *Decoder) SendPacket(ctx context.Context, pkt *packet.Packet) error {
	return xsync.DoA2R1(xsync.WithNoLogging(ctx, true), &d.locker, d.sendPacket, ctx, pkt)
}

func (d *Decoder) sendPacket(ctx context.Context, pkt *packet.Packet) error {
	if d.mediaType == types.MediaTypeSubtitle {
		return d.sendSubtitlePacket(ctx, pkt)
	}
	if pkt == nil {
		return d.codecContext.SendPacket(nil)
	}
	if !d.receivedKeyFrame {
		if d.mediaType == types.MediaTypeVideo && !pkt.Flags.Has(packet.FlagKey) {
			logger.Debugf(ctx, "dropping %s: no key frame yet", pkt)
			return nil
		}
		d.receivedKeyFrame = true
	}

	avPkt, owned, err := packetToAstiav(pkt)
	if err != nil {
		return err
	}
	if owned {
		defer avPkt.Free()
	}
	err = d.codecContext.SendPacket(avPkt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, astiav.ErrEagain):
		return types.ErrWouldBlock
	case errors.Is(err, astiav.ErrInvaliddata):
		return types.ErrInvalidData{Reason: err.Error()}
	default:
		return fmt.Errorf("unable to send %s: %w", pkt, err)
	}
}

// ReceiveFrame returns types.ErrWouldBlock if the decoder needs more
// packets and io.EOF once it is drained.
func (d *Decoder) ReceiveFrame(ctx context.Context) (*frame.Frame, error) {
	return xsync.DoA1R2(xsync.WithNoLogging(ctx, true), &d.locker, d.receiveFrame, ctx)
}

func (d *Decoder) receiveFrame(ctx context.Context) (*frame.Frame, error) {
	if d.mediaType == types.MediaTypeSubtitle {
		if len(d.subtitles) > 0 {
			f := d.subtitles[0]
			d.subtitles = d.subtitles[1:]
			return f, nil
		}
		if d.draining {
			return nil, io.EOF
		}
		return nil, types.ErrWouldBlock
	}

	avf := astiav.AllocFrame()
	if avf == nil {
		return nil, types.ErrOutOfMemory{Err: fmt.Errorf("unable to allocate a frame")}
	}
	err := d.codecContext.ReceiveFrame(avf)
	switch {
	case err == nil:
	case errors.Is(err, astiav.ErrEagain):
		avf.Free()
		return nil, types.ErrWouldBlock
	case errors.Is(err, astiav.ErrEof):
		avf.Free()
		return nil, io.EOF
	default:
		avf.Free()
		return nil, fmt.Errorf("unable to receive a frame: %w", err)
	}
	if ts := avf.BestEffortTimestamp(); ts != astiav.NoPtsValue {
		avf.SetPts(ts)
	}
	f := frameFromAstiav(ctx, avf, d.mediaType, d.timeBase, d.config.CopyPayload)
	f.DecoderTimeBase = d.timeBase
	f.BitsPerRawSample = d.codecContext.BitsPerRawSample()
	return f, nil
}

// sendSubtitlePacket decodes the packet right away: libav has no
// send/receive API for subtitles.
func (d *Decoder) sendSubtitlePacket(ctx context.Context, pkt *packet.Packet) error {
	if d.draining {
		return fmt.Errorf("the subtitle decoder is draining: %w", types.ErrInvalidArgument)
	}
	var avPkt *astiav.Packet
	if pkt == nil {
		// flushes the decoders that delay their output
		avPkt = astiav.AllocPacket()
		if avPkt == nil {
			return types.ErrOutOfMemory{Err: fmt.Errorf("unable to allocate a packet")}
		}
		defer avPkt.Free()
		d.draining = true
	} else {
		var (
			owned bool
			err   error
		)
		avPkt, owned, err = packetToAstiav(pkt)
		if err != nil {
			return err
		}
		if owned {
			defer avPkt.Free()
		}
	}

	sub, nbSkipped, ok, err := decodeSubtitle(d.codecContext, avPkt)
	switch {
	case err != nil && pkt == nil:
		logger.Debugf(ctx, "flushing the subtitle decoder: %v", err)
		return nil
	case errors.Is(err, astiav.ErrInvaliddata):
		return types.ErrInvalidData{Reason: err.Error()}
	case err != nil:
		return fmt.Errorf("unable to decode the subtitle %s: %w", pkt, err)
	case !ok:
		return nil
	}
	if nbSkipped > 0 {
		logger.Debugf(ctx, "%d non-bitmap subtitle rectangle(s) ignored", nbSkipped)
	}
	if sub.PTS == types.NoPTSValue && pkt != nil && pkt.PTS != types.NoPTSValue {
		sub.PTS = types.RescaleQ(pkt.PTS, d.timeBase, types.TimeBaseQ)
	}

	f := frame.New()
	f.MediaType = types.MediaTypeSubtitle
	f.PTS = sub.PTS
	f.TimeBase = types.TimeBaseQ
	f.DecoderTimeBase = d.timeBase
	f.Subtitle = sub
	d.subtitles = append(d.subtitles, f)
	return nil
}

func (d *Decoder) freeSubtitles() {
	for _, f := range d.subtitles {
		f.Free()
	}
	d.subtitles = nil
}

func (d *Decoder) Close(ctx context.Context) error {
	return xsync.DoR1(ctx, &d.locker, func() error {
		d.freeSubtitles()
		if d.codecContext != nil {
			d.codecContext.Free()
			d.codecContext = nil
		}
		return nil
	})
}

// packetToAstiav returns the libav packet of pkt; owned is true if it
// was allocated for the call.
func packetToAstiav(pkt *packet.Packet) (avPkt *astiav.Packet, owned bool, _ error) {
	if buf, ok := pkt.Buf.(*avPacket); ok {
		avPkt = buf.Packet
	} else {
		avPkt = astiav.AllocPacket()
		if avPkt == nil {
			return nil, false, types.ErrOutOfMemory{Err: fmt.Errorf("unable to allocate a packet")}
		}
		if err := avPkt.FromData(pkt.Data); err != nil {
			avPkt.Free()
			return nil, false, fmt.Errorf("unable to copy the packet data: %w", err)
		}
		owned = true
	}
	// the timestamps may have been fixed up since the packet was read
	avPkt.SetPts(pkt.PTS)
	avPkt.SetDts(pkt.DTS)
	avPkt.SetDuration(pkt.Duration)
	avPkt.SetStreamIndex(pkt.StreamIndex)
	if pkt.Flags.Has(packet.FlagKey) {
		avPkt.SetFlags(avPkt.Flags().Add(astiav.PacketFlagKey))
	}
	return avPkt, owned, nil
}
