package demux

import (
	"fmt"
	"math"

	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/types"
	"go.uber.org/atomic"
)

// StreamConfig is the per-stream user configuration.
type StreamConfig struct {
	Discard        bool
	DecodingNeeded bool

	// TSScale multiplies every timestamp; zero means 1.
	TSScale float64

	// FrameRate forces the input frame rate (-r as an input option).
	FrameRate types.Rational

	Autorotate              bool
	ReinitFilters           bool
	HWAccel                 string
	FixSubDurationHeartbeat bool
}

// Stream is one demuxed elementary stream.
//
// Timestamp extrema and the wrap-correction flag are owned by the
// worker goroutine of the Demuxer; decoding-related fields are owned by
// the consumer.
type Stream struct {
	InputIndex int
	Index      int
	Info       StreamInfo
	Config     StreamConfig

	MinPTS               int64
	MaxPTS               int64
	wrapCorrectionDone   bool
	LastPacketRepeatPict int

	// read-rate state, in types.TimeBaseQ
	firstDTS  int64
	dts       int64
	gotOutput atomic.Bool

	Packets        types.CountersItem
	FramesDecoded  atomic.Uint64
	SamplesDecoded atomic.Uint64

	// NbDiscarded counts the packets dropped because of Config.Discard.
	NbDiscarded atomic.Uint64
}

func newStream(inputIdx, idx int, info StreamInfo, cfg StreamConfig) *Stream {
	if cfg.TSScale == 0 {
		cfg.TSScale = 1
	}
	return &Stream{
		InputIndex:           inputIdx,
		Index:                idx,
		Info:                 info,
		Config:               cfg,
		MinPTS:               math.MaxInt64,
		MaxPTS:               math.MinInt64,
		LastPacketRepeatPict: -1,
		firstDTS:             types.NoPTSValue,
		dts:                  types.NoPTSValue,
	}
}

func (st *Stream) GetMediaType() types.MediaType {
	return st.Info.MediaType
}

func (st *Stream) GetTimeBase() types.Rational {
	return st.Info.TimeBase
}

// GetFrameRate returns the forced frame rate if any, otherwise the
// frame rate guessed by the container.
func (st *Stream) GetFrameRate() types.Rational {
	if st.Config.FrameRate.Num != 0 {
		return st.Config.FrameRate
	}
	return st.Info.FrameRate
}

func (st *Stream) IsDecodingNeeded() bool {
	return st.Config.DecodingNeeded
}

func (st *Stream) IsAutorotate() bool {
	return st.Config.Autorotate
}

func (st *Stream) IsReinitFilters() bool {
	return st.Config.ReinitFilters
}

func (st *Stream) IsFixSubDurationHeartbeat() bool {
	return st.Config.FixSubDurationHeartbeat
}

// SetGotOutput marks that the decoder of this stream produced at
// least one frame. Read-rate emulation ignores streams without output.
func (st *Stream) SetGotOutput() {
	st.gotOutput.Store(true)
}

func (st *Stream) String() string {
	return fmt.Sprintf("%d:%d", st.InputIndex, st.Index)
}

// updateDTS tracks the DTS (in types.TimeBaseQ) of the last packet
// handed to the consumer.
func (st *Stream) updateDTS(pkt *packet.Packet) {
	if pkt.DTS != types.NoPTSValue {
		st.dts = types.RescaleQ(pkt.DTS, st.Info.TimeBase, types.TimeBaseQ)
		if st.firstDTS == types.NoPTSValue {
			st.firstDTS = st.dts
		}
		return
	}
	if st.dts != types.NoPTSValue && pkt.Duration > 0 {
		st.dts += types.RescaleQ(pkt.Duration, st.Info.TimeBase, types.TimeBaseQ)
	}
}
