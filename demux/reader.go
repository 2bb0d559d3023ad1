package demux

import (
	"context"

	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/types"
)

// ContainerReader is the container-level parser a Demuxer pulls packets from.
type ContainerReader interface {
	// ReadPacket returns the next packet. It returns types.ErrWouldBlock
	// if no packet is available right now and io.EOF at the end of
	// the input.
	ReadPacket(ctx context.Context) (*packet.Packet, error)

	// SeekToStart repositions the reader to the given timestamp (in types.TimeBaseQ).
	SeekToStart(ctx context.Context, ts int64) error

	// RepeatPict returns the field-repeat count reported by the parser
	// of the given stream, if the stream has a parser attached.
	RepeatPict(streamIndex int) (int, bool)

	Info() ContainerInfo
	Streams() []StreamInfo
}

type ContainerInfo struct {
	URL        string
	FormatName string

	// HasIOContext is false for inputs not backed by a byte stream
	// (e.g. device or synthetic sources).
	HasIOContext bool
	Seekable     bool

	// StartTime is in types.TimeBaseQ, or types.NoPTSValue if unknown.
	StartTime int64
}

type StreamInfo struct {
	MediaType    types.MediaType
	CodecName    string
	TimeBase     types.Rational
	PTSWrapBits  int
	FrameRate    types.Rational
	AvgFrameRate types.Rational
}
