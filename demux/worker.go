package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/types"
)

const readRetryInterval = 10 * time.Millisecond

func (d *Demuxer) worker(ctx context.Context) {
	ctx = logger.CtxWithInput(ctx, d.Config.InputIndex)
	logger.Debugf(ctx, "worker")

	var err error
	defer func() {
		logger.Debugf(ctx, "/worker: %v", err)
		d.queue.SetErrRecv(ctx, err)
	}()

	blocking := !d.nonBlocking
	for {
		var pkt *packet.Packet
		pkt, err = d.Reader.ReadPacket(ctx)
		if errors.Is(err, types.ErrWouldBlock) {
			astikit.Sleep(ctx, readRetryInterval)
			if ctx.Err() != nil {
				err = ctx.Err()
				break
			}
			continue
		}
		if err != nil {
			if d.loop != 0 {
				err = d.queue.Send(ctx, Message{Looping: true}, true)
				if err == nil {
					err = d.seekToStart(ctx)
				}
				if err == nil {
					continue
				}
			}
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
				logger.Debugf(ctx, "EOF in input file %d", d.Config.InputIndex)
			default:
				logger.Errorf(ctx, "error demuxing input file %d: %v", d.Config.InputIndex, err)
			}
			break
		}

		if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(d.Streams) {
			d.reportNewStream(ctx, pkt)
			pkt.Free()
			continue
		}
		st := d.Streams[pkt.StreamIndex]
		if st.Config.Discard {
			d.reportDiscardedStream(ctx, st, pkt)
			pkt.Free()
			continue
		}

		if pkt.Flags.Has(packet.FlagCorrupt) {
			if d.Config.ExitOnError {
				logger.Errorf(ctx, "%s: corrupt input packet in stream %d", d.info.URL, pkt.StreamIndex)
				pkt.Free()
				err = types.ErrInvalidData{Reason: fmt.Sprintf("corrupt input packet in stream %s", st)}
				break
			}
			logger.Warnf(ctx, "%s: corrupt input packet in stream %d", d.info.URL, pkt.StreamIndex)
		}

		if !pkt.TimeBase.Valid() {
			pkt.TimeBase = st.Info.TimeBase
		}
		msg := Message{
			Packet:     pkt,
			RepeatPict: d.fixupTimestamps(st, pkt),
		}

		err = d.queue.Send(ctx, msg, blocking)
		if !blocking && errors.Is(err, types.ErrWouldBlock) {
			blocking = true
			err = d.queue.Send(ctx, msg, blocking)
			logger.Warnf(ctx,
				"thread message queue blocking; consider raising the thread_queue_size option (current value: %d)",
				d.threadQueueSize,
			)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Errorf(ctx, "unable to send packet to the consumer: %v", err)
			}
			pkt.Free()
			break
		}
	}
}

func (d *Demuxer) reportNewStream(ctx context.Context, pkt *packet.Packet) {
	if pkt.StreamIndex < d.nbStreamsWarn {
		return
	}
	logger.Warnf(ctx, "new stream %d:%d at pos:%d and DTS:%s; ignoring it",
		d.Config.InputIndex, pkt.StreamIndex, pkt.Pos, types.TSString(pkt.DTS))
	d.nbStreamsWarn = pkt.StreamIndex + 1
}

func (d *Demuxer) reportDiscardedStream(ctx context.Context, st *Stream, pkt *packet.Packet) {
	if st.NbDiscarded.Inc() > 1 {
		logger.Tracef(ctx, "dropping a packet of the discarded stream %s", st)
		return
	}
	logger.Warnf(ctx, "packets of the discarded stream %s at pos:%d and DTS:%s; ignoring them",
		st, pkt.Pos, types.TSString(pkt.DTS))
}

// seekToStart restarts the input and accounts the length of the
// iteration that just ended into the loop duration.
func (d *Demuxer) seekToStart(ctx context.Context) error {
	logger.Debugf(ctx, "seekToStart (loops left: %d)", d.loop)
	if err := d.Reader.SeekToStart(ctx, d.info.StartTime); err != nil {
		return fmt.Errorf("unable to seek to the start of input #%d: %w", d.Config.InputIndex, err)
	}

	if d.audioDurationQueue != nil {
		// the length of the last video frame is not defined
		// exactly, so audio takes precedence when present
		for got := 0; got < d.audioDurationQueueSize; got++ {
			dur, err := d.audioDurationQueue.Recv(ctx, true)
			if err != nil {
				return err
			}
			d.durationUpdate(d.Streams[dur.StreamIndex], dur.Duration)
		}
	} else {
		for _, st := range d.Streams {
			var duration int64
			switch {
			case st.Config.FrameRate.Num != 0:
				duration = types.RescaleQ(1, st.Config.FrameRate.Inv(), st.Info.TimeBase)
			case st.Info.AvgFrameRate.Num != 0:
				duration = types.RescaleQ(1, st.Info.AvgFrameRate.Inv(), st.Info.TimeBase)
			default:
				duration = 1
			}
			d.durationUpdate(st, duration)
		}
	}

	if d.loop > 0 {
		d.loop--
	}
	return nil
}

// durationUpdate folds the span of a stream (max_pts - min_pts plus the
// length of its last frame) into the loop duration if it is longer.
func (d *Demuxer) durationUpdate(st *Stream, lastDuration int64) {
	if st.MaxPTS > st.MinPTS &&
		uint64(st.MaxPTS)-uint64(st.MinPTS) < uint64(math.MaxInt64-lastDuration) {
		lastDuration += st.MaxPTS - st.MinPTS
	}

	if d.duration == 0 ||
		types.CompareTS(d.duration, d.durationTB, lastDuration, st.Info.TimeBase) < 0 {
		d.duration = lastDuration
		d.durationTB = st.Info.TimeBase
	}
}
