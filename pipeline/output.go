package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/xaionaro-go/avtranscode/config"
	"github.com/xaionaro-go/avtranscode/filtergraph"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/scheduler"
	"github.com/xaionaro-go/avtranscode/types"
	"go.uber.org/atomic"
)

// OutputStream is one encoded output: the encoder task fed by a
// filter graph output and writing to the muxer.
type OutputStream struct {
	Index     int
	Config    *config.OutputConfig
	MediaType types.MediaType
	Encoder   Encoder

	// Filter is the graph output pad feeding the stream.
	Filter *filtergraph.OutputFilter

	FramesEncoded  atomic.Uint64
	SamplesEncoded atomic.Uint64

	encoderIdx int
	muxerIdx   int
}

func (ost *OutputStream) String() string {
	if ost.Config.Name != "" {
		return fmt.Sprintf("#%d (%s)", ost.Index, ost.Config.Name)
	}
	return fmt.Sprintf("#%d", ost.Index)
}

// run is the encoder task: it pulls the frames the scheduler routes
// to the stream until the feeding graph output is closed.
func (ost *OutputStream) run(
	ctx context.Context,
	sch *scheduler.Scheduler,
	mux *Muxer,
) (_err error) {
	logger.Debugf(ctx, "output %s", ost)
	defer func() { logger.Debugf(ctx, "/output %s: %v", ost, _err) }()

	for {
		f, err := sch.EncReceive(ctx, ost.encoderIdx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if !f.Flags.Has(frame.FlagParamsOnly) {
			ost.FramesEncoded.Add(1)
			ost.SamplesEncoded.Add(uint64(f.NbSamples))
		}
		pkts, err := ost.Encoder.Encode(ctx, f)
		if err != nil {
			return fmt.Errorf("unable to encode a frame of output %s: %w", ost, err)
		}
		if err := ost.writePackets(ctx, mux, pkts); err != nil {
			return err
		}
	}

	pkts, err := ost.Encoder.Encode(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to flush the encoder of output %s: %w", ost, err)
	}
	if err := ost.writePackets(ctx, mux, pkts); err != nil {
		return err
	}
	return mux.CloseStream(ctx, ost.muxerIdx)
}

func (ost *OutputStream) writePackets(ctx context.Context, mux *Muxer, pkts []*packet.Packet) error {
	for idx, pkt := range pkts {
		if err := mux.WritePacket(ctx, ost.muxerIdx, pkt); err != nil {
			for _, rest := range pkts[idx+1:] {
				rest.Free()
			}
			return err
		}
	}
	return nil
}

func (ost *OutputStream) summary(stats types.StatisticsItem) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "  Output stream %s (%s): %s frames encoded", ost, ost.MediaType, humanize.Comma(int64(ost.FramesEncoded.Load())))
	if ost.MediaType == types.MediaTypeAudio {
		fmt.Fprintf(&buf, " (%s samples)", humanize.Comma(int64(ost.SamplesEncoded.Load())))
	}
	fmt.Fprintf(&buf, "; %s packets muxed (%s)", humanize.Comma(int64(stats.Count)), humanize.Bytes(stats.Bytes))
	if ost.Filter != nil && ost.MediaType == types.MediaTypeVideo {
		fmt.Fprintf(&buf, "; dup=%d drop=%d", ost.Filter.NbFramesDup.Load(), ost.Filter.NbFramesDrop.Load())
	}
	buf.WriteString("\n")
	return buf.String()
}
