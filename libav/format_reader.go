// format_reader.go implements the container reader on top of libavformat.

// Package libav binds the demuxer, the decoders and the filter graphs
// to the FFmpeg libraries through go-astiav.
package libav

import (
	"context"
	"errors"
	"fmt"
	"io"
	neturl "net/url"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/davecgh/go-spew/spew"
	"github.com/xaionaro-go/avtranscode/demux"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/types"
	"github.com/xaionaro-go/secret"
)

type FormatReaderConfig struct {
	// FormatName forces the input format ("-f").
	FormatName    string
	CustomOptions types.DictionaryItems
}

// FormatReader is a demux.ContainerReader reading a file or a stream
// through libavformat.
type FormatReader struct {
	closer        *astikit.Closer
	formatContext *astiav.FormatContext
	url           string
	info          demux.ContainerInfo
	streams       []demux.StreamInfo
}

var _ demux.ContainerReader = (*FormatReader)(nil)

// NewFormatReader opens the input. The URL may carry credentials, so
// only its redacted form is ever logged.
func NewFormatReader(
	ctx context.Context,
	url secret.String,
	cfg FormatReaderConfig,
) (_ *FormatReader, _err error) {
	displayURL := RedactURL(url.Get())
	logger.Debugf(ctx, "NewFormatReader(ctx, '%s', cfg)", displayURL)
	defer func() { logger.Debugf(ctx, "/NewFormatReader(ctx, '%s', cfg): %v", displayURL, _err) }()

	if url.Get() == "" {
		return nil, fmt.Errorf("the provided URL is empty: %w", types.ErrInvalidArgument)
	}

	r := &FormatReader{
		closer: astikit.NewCloser(),
		url:    displayURL,
	}
	defer func() {
		if _err != nil {
			r.closer.Close()
		}
	}()

	var inputFormat *astiav.InputFormat
	if cfg.FormatName != "" {
		inputFormat = astiav.FindInputFormat(cfg.FormatName)
		if inputFormat == nil {
			return nil, fmt.Errorf("unable to find input format by name '%s'", cfg.FormatName)
		}
		logger.Debugf(ctx, "using format '%s'", inputFormat.Name())
	}

	dict := dictionaryFromItems(ctx, cfg.CustomOptions)
	if dict != nil {
		r.closer.Add(dict.Free)
	}

	r.formatContext = astiav.AllocFormatContext()
	if r.formatContext == nil {
		return nil, types.ErrOutOfMemory{Err: fmt.Errorf("unable to allocate a format context")}
	}
	r.closer.Add(r.formatContext.Free)

	if err := r.formatContext.OpenInput(url.Get(), inputFormat, dict); err != nil {
		return nil, fmt.Errorf("unable to open input by URL '%s': %w", displayURL, err)
	}
	r.closer.Add(r.formatContext.CloseInput)

	if err := r.formatContext.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("unable to get stream info: %w", err)
	}

	r.info = demux.ContainerInfo{
		URL:          displayURL,
		HasIOContext: r.formatContext.Pb() != nil,
		Seekable:     r.formatContext.Pb() != nil,
		StartTime:    r.formatContext.StartTime(),
	}
	if f := r.formatContext.InputFormat(); f != nil {
		r.info.FormatName = f.Name()
	}
	for _, stream := range r.formatContext.Streams() {
		params := stream.CodecParameters()
		info := demux.StreamInfo{
			MediaType:    mediaTypeFromAstiav(params.MediaType()),
			CodecName:    params.CodecID().Name(),
			TimeBase:     rationalFromAstiav(stream.TimeBase()),
			PTSWrapBits:  ptsWrapBits(r.info.FormatName),
			AvgFrameRate: rationalFromAstiav(stream.AvgFrameRate()),
		}
		if info.MediaType == types.MediaTypeVideo {
			info.FrameRate = rationalFromAstiav(r.formatContext.GuessFrameRate(stream, nil))
		}
		logger.Debugf(ctx, "input stream #%d: %s", stream.Index(), spew.Sdump(info))
		r.streams = append(r.streams, info)
	}
	return r, nil
}

// RedactURL hides the credentials and the query of a URL.
func RedactURL(s string) string {
	u, err := neturl.Parse(s)
	if err != nil || u.Scheme == "" {
		return s
	}
	if u.User != nil {
		u.User = neturl.User("<HIDDEN>")
	}
	if u.RawQuery != "" {
		u.RawQuery = "<HIDDEN>"
	}
	return u.String()
}

// ptsWrapBits returns the timestamp width of the container; only the
// MPEG transport formats wrap in practice.
func ptsWrapBits(formatName string) int {
	switch formatName {
	case "mpegts", "mpeg", "mpegvideo":
		return 33
	}
	return 64
}

func (r *FormatReader) Info() demux.ContainerInfo {
	return r.info
}

func (r *FormatReader) Streams() []demux.StreamInfo {
	return r.streams
}

// CodecParameters returns the decoder configuration of a stream.
func (r *FormatReader) CodecParameters(streamIndex int) (*astiav.CodecParameters, error) {
	streams := r.formatContext.Streams()
	if streamIndex < 0 || streamIndex >= len(streams) {
		return nil, fmt.Errorf("stream %d: %w", streamIndex, types.ErrInvalidArgument)
	}
	return streams[streamIndex].CodecParameters(), nil
}

func (r *FormatReader) ReadPacket(ctx context.Context) (*packet.Packet, error) {
	avPkt := astiav.AllocPacket()
	if avPkt == nil {
		return nil, types.ErrOutOfMemory{Err: fmt.Errorf("unable to allocate a packet")}
	}
	err := r.formatContext.ReadFrame(avPkt)
	switch {
	case err == nil:
	case errors.Is(err, astiav.ErrEagain):
		avPkt.Free()
		return nil, types.ErrWouldBlock
	case errors.Is(err, astiav.ErrEof), errors.Is(err, astiav.ErrEio):
		avPkt.Free()
		return nil, io.EOF
	default:
		avPkt.Free()
		return nil, fmt.Errorf("unable to read a frame: %T:%w", err, err)
	}

	pkt := packet.New()
	pkt.Data = avPkt.Data()
	pkt.Buf = &avPacket{Packet: avPkt}
	pkt.StreamIndex = avPkt.StreamIndex()
	pkt.PTS = avPkt.Pts()
	pkt.DTS = avPkt.Dts()
	pkt.Duration = avPkt.Duration()
	pkt.Pos = avPkt.Pos()
	if pkt.StreamIndex >= 0 && pkt.StreamIndex < len(r.streams) {
		pkt.TimeBase = r.streams[pkt.StreamIndex].TimeBase
	}
	if avPkt.Flags().Has(astiav.PacketFlagKey) {
		pkt.Flags |= packet.FlagKey
	}
	if avPkt.Flags().Has(astiav.PacketFlagCorrupt) {
		pkt.Flags |= packet.FlagCorrupt
	}
	if avPkt.Flags().Has(astiav.PacketFlagDiscard) {
		pkt.Flags |= packet.FlagDiscard
	}
	logger.Tracef(ctx, "received %s", pkt)
	return pkt, nil
}

func (r *FormatReader) SeekToStart(ctx context.Context, ts int64) (_err error) {
	logger.Debugf(ctx, "SeekToStart(ctx, %d)", ts)
	defer func() { logger.Debugf(ctx, "/SeekToStart(ctx, %d): %v", ts, _err) }()
	if err := r.formatContext.SeekFrame(-1, ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("unable to seek to %d: %w", ts, err)
	}
	return nil
}

// RepeatPict is not exposed by libavformat through astiav.
func (r *FormatReader) RepeatPict(int) (int, bool) {
	return 0, false
}

func (r *FormatReader) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close(): %s", r.url)
	return r.closer.Close()
}

func (r *FormatReader) String() string {
	return fmt.Sprintf("FormatReader(%s)", r.url)
}

// avPacket is the libav payload of a packet.Packet.
type avPacket struct {
	*astiav.Packet
}

var _ packet.Freer = (*avPacket)(nil)
