package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/xaionaro-go/avtranscode/config"
	"github.com/xaionaro-go/avtranscode/demux"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/scheduler"
	"github.com/xaionaro-go/avtranscode/types"
)

const getPacketRetryInterval = 10 * time.Millisecond

// InputFile is an opened input with its demuxer and the decoders of
// the streams something consumes.
type InputFile struct {
	Index   int
	Config  *config.InputConfig
	Reader  Input
	Demuxer *demux.Demuxer

	// Decoded is indexed by the stream index; nil for the streams
	// nobody consumes.
	Decoded []*DecodedStream

	exitOnError bool
}

// DecodedStream is the decoding state of one input stream.
type DecodedStream struct {
	Stream  *demux.Stream
	Decoder Decoder

	decoderIdx int
	// finished is set once no destination accepts frames anymore
	finished bool

	// end of the last decoded frame
	endTS types.Timestamp
	// length of the last decoded audio frame, in the stream time base
	lastFrameDuration int64
}

func (in *InputFile) decodedStreams() []*DecodedStream {
	var result []*DecodedStream
	for _, ds := range in.Decoded {
		if ds != nil {
			result = append(result, ds)
		}
	}
	return result
}

// run is the consumer of the demuxer: it decodes the packets and
// hands the frames to the scheduler.
func (in *InputFile) run(ctx context.Context, sch *scheduler.Scheduler) (_err error) {
	ctx = logger.CtxWithInput(ctx, in.Index)
	logger.Debugf(ctx, "input #%d", in.Index)
	defer func() { logger.Debugf(ctx, "/input #%d: %v", in.Index, _err) }()

	if len(in.decodedStreams()) == 0 {
		logger.Debugf(ctx, "nothing consumes input #%d", in.Index)
		return nil
	}
	defer func() {
		if err := in.Demuxer.Close(ctx); err != nil {
			logger.Errorf(ctx, "unable to close the demuxer of input #%d: %v", in.Index, err)
		}
	}()

	for !in.isFinished() {
		pkt, err := in.Demuxer.GetPacket(ctx)
		switch {
		case err == nil:
		case errors.Is(err, types.ErrWouldBlock):
			astikit.Sleep(ctx, getPacketRetryInterval)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		case errors.Is(err, demux.ErrLooping):
			if err := in.restart(ctx, sch); err != nil {
				return types.ErrInput{InputIndex: in.Index, Err: err}
			}
			continue
		case errors.Is(err, io.EOF):
			return in.finish(ctx, sch)
		case errors.Is(err, context.Canceled), ctx.Err() != nil:
			return err
		default:
			if in.exitOnError {
				return types.ErrInput{InputIndex: in.Index, Err: err}
			}
			logger.Errorf(ctx, "input #%d ended with an error: %v", in.Index, err)
			return in.finish(ctx, sch)
		}

		if err := in.processPacket(ctx, sch, pkt); err != nil {
			return types.ErrInput{InputIndex: in.Index, Err: err}
		}
	}
	logger.Debugf(ctx, "no destination accepts the frames of input #%d anymore", in.Index)
	return in.finish(ctx, sch)
}

func (in *InputFile) isFinished() bool {
	for _, ds := range in.Decoded {
		if ds != nil && !ds.finished {
			return false
		}
	}
	return true
}

func (in *InputFile) processPacket(ctx context.Context, sch *scheduler.Scheduler, pkt *packet.Packet) error {
	st := in.Demuxer.Streams[pkt.StreamIndex]
	if st.Info.MediaType != types.MediaTypeSubtitle && pkt.PTS != types.NoPTSValue {
		if err := in.subtitleHeartbeat(ctx, sch, pkt.PTS, pkt.TimeBase); err != nil {
			pkt.Free()
			return err
		}
	}

	ds := in.Decoded[pkt.StreamIndex]
	if ds == nil || ds.finished {
		pkt.Free()
		return nil
	}
	return ds.decode(ctx, sch, pkt, in.exitOnError)
}

// subtitleHeartbeat lets the subtitle overlays of the input follow the
// progress of the other streams.
func (in *InputFile) subtitleHeartbeat(
	ctx context.Context,
	sch *scheduler.Scheduler,
	pts int64,
	tb types.Rational,
) error {
	for _, ds := range in.Decoded {
		if ds == nil || ds.finished || ds.Stream.Info.MediaType != types.MediaTypeSubtitle {
			continue
		}
		err := sch.DecSendHeartbeat(ctx, ds.decoderIdx, pts, tb)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			ds.finished = true
		default:
			return err
		}
	}
	return nil
}

// restart drains the decoders when the input loops and reports the
// length of the last audio frames, which the demuxer waits for to
// compute the loop duration.
func (in *InputFile) restart(ctx context.Context, sch *scheduler.Scheduler) (_err error) {
	logger.Debugf(ctx, "restart")
	defer func() { logger.Debugf(ctx, "/restart: %v", _err) }()
	for _, ds := range in.decodedStreams() {
		if err := ds.decode(ctx, sch, nil, in.exitOnError); err != nil {
			return err
		}
		if ds.Stream.Info.MediaType == types.MediaTypeAudio {
			if err := in.Demuxer.SendLastFrameDuration(ctx, ds.Stream.Index, ds.lastFrameDuration); err != nil {
				return fmt.Errorf("unable to report the last frame duration of stream %s: %w", ds.Stream, err)
			}
		}
		if err := ds.Decoder.Reset(ctx); err != nil {
			return fmt.Errorf("unable to reset the decoder of stream %s: %w", ds.Stream, err)
		}
	}
	return nil
}

// finish drains the decoders and closes their destinations.
func (in *InputFile) finish(ctx context.Context, sch *scheduler.Scheduler) (_err error) {
	logger.Debugf(ctx, "finish")
	defer func() { logger.Debugf(ctx, "/finish: %v", _err) }()
	for _, ds := range in.decodedStreams() {
		if !ds.finished {
			if err := ds.decode(ctx, sch, nil, in.exitOnError); err != nil {
				return types.ErrInput{InputIndex: in.Index, Err: err}
			}
		}
		if err := sch.DecSendEOF(ctx, ds.decoderIdx, ds.endTS); err != nil {
			return types.ErrInput{InputIndex: in.Index, Err: err}
		}
	}
	return nil
}

// decode sends the packet (nil drains the decoder) and forwards the
// resulting frames. The packet is consumed.
func (ds *DecodedStream) decode(
	ctx context.Context,
	sch *scheduler.Scheduler,
	pkt *packet.Packet,
	exitOnError bool,
) error {
	defer pkt.Free()
	for {
		err := ds.Decoder.SendPacket(ctx, pkt)
		switch {
		case err == nil && pkt != nil:
			_, _, err := ds.receiveFrames(ctx, sch)
			return err
		case err == nil:
			for {
				nbFrames, eof, err := ds.receiveFrames(ctx, sch)
				if err != nil || eof {
					return err
				}
				if nbFrames == 0 {
					return types.ErrBug{Reason: fmt.Sprintf("the decoder of stream %s stalled while draining", ds.Stream)}
				}
			}
		case errors.Is(err, types.ErrWouldBlock):
			nbFrames, eof, err := ds.receiveFrames(ctx, sch)
			if err != nil || eof {
				return err
			}
			if nbFrames == 0 {
				return types.ErrBug{Reason: fmt.Sprintf("the decoder of stream %s accepts neither packets nor returns frames", ds.Stream)}
			}
		case errors.As(err, &types.ErrInvalidData{}) && !exitOnError:
			logger.Warnf(ctx, "error while decoding stream %s: %v", ds.Stream, err)
			return nil
		default:
			return fmt.Errorf("unable to decode a packet of stream %s: %w", ds.Stream, err)
		}
	}
}

// receiveFrames forwards every frame the decoder has ready.
func (ds *DecodedStream) receiveFrames(
	ctx context.Context,
	sch *scheduler.Scheduler,
) (nbFrames int, eof bool, _err error) {
	for {
		f, err := ds.Decoder.ReceiveFrame(ctx)
		switch {
		case err == nil:
		case errors.Is(err, types.ErrWouldBlock):
			return nbFrames, false, nil
		case errors.Is(err, io.EOF):
			return nbFrames, true, nil
		default:
			return nbFrames, false, fmt.Errorf("unable to receive a frame of stream %s: %w", ds.Stream, err)
		}
		nbFrames++
		ds.accountFrame(f)
		if ds.finished {
			f.Free()
			continue
		}
		err = sch.DecSend(ctx, ds.decoderIdx, f)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			logger.Debugf(ctx, "no destination accepts the frames of stream %s anymore", ds.Stream)
			ds.finished = true
		default:
			return nbFrames, false, err
		}
	}
}

func (ds *DecodedStream) accountFrame(f *frame.Frame) {
	st := ds.Stream
	if !f.TimeBase.Valid() {
		f.TimeBase = st.Info.TimeBase
	}
	st.FramesDecoded.Add(1)
	st.SamplesDecoded.Add(uint64(f.NbSamples))
	st.SetGotOutput()

	duration := f.Duration
	if f.MediaType == types.MediaTypeAudio && f.SampleRate > 0 {
		sampleTB := types.NewRational(1, f.SampleRate)
		duration = types.RescaleQ(int64(f.NbSamples), sampleTB, f.TimeBase)
		ds.lastFrameDuration = types.RescaleQ(int64(f.NbSamples), sampleTB, st.Info.TimeBase)
	}
	if f.PTS != types.NoPTSValue {
		ds.endTS = types.Timestamp{TS: f.PTS + duration, TB: f.TimeBase}
	}
}
