// run.go implements the goroutine that moves frames through a filter graph.

package filtergraph

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/internal"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/scheduler"
	"github.com/xaionaro-go/avtranscode/types"
)

// Run receives the frames of all inputs from the scheduler, filters
// them and sends the results to the outputs, until all the inputs or
// all the outputs are finished.
func (fg *FilterGraph) Run(ctx context.Context, sch Scheduler) (_err error) {
	logger.Debugf(ctx, "Run")
	defer func() { logger.Debugf(ctx, "/Run: %v", _err) }()
	defer func() {
		if errors.Is(_err, io.EOF) {
			_err = nil
		}
	}()
	defer fg.Close(ctx)

	fg.sch = sch
	fg.nextIn = 0

	if fg.hasAllInputFormats() {
		if err := fg.configure(ctx); err != nil {
			logger.Errorf(ctx, "Error configuring filter graph: %v", err)
			return err
		}
	}

loop:
	for {
		inIdx, in, err := sch.FilterReceive(ctx, fg.nextIn)
		switch {
		case errors.Is(err, io.EOF):
			logger.Debugf(ctx, "Filtering thread received EOF")
			break loop
		case errors.Is(err, types.ErrWouldBlock):
			internal.Assert(ctx, fg.nextIn == len(fg.Inputs), fg.nextIn)
		case err != nil:
			return fmt.Errorf("unable to receive a frame: %w", err)
		case inIdx == len(fg.Inputs):
			if in.Command != nil {
				fg.sendCommand(ctx, *in.Command)
			}
			in.Free()
			continue
		default:
			err := fg.processInput(ctx, fg.Inputs[inIdx], in)
			if errors.Is(err, io.EOF) {
				logger.Debugf(ctx, "Input %d no longer accepts new data", inIdx)
				sch.FilterReceiveFinish(ctx, inIdx)
				continue
			}
			if err != nil {
				return err
			}
		}

		// retrieve all newly available frames
		err = fg.readFrames(ctx)
		switch {
		case errors.Is(err, io.EOF):
			logger.Debugf(ctx, "All consumers returned EOF")
			break loop
		case err != nil:
			logger.Errorf(ctx, "Error sending frames to consumers: %v", err)
			return err
		}
	}

	for idx, ofp := range fg.Outputs {
		if fg.eofOut[idx] || fg.graph == nil {
			continue
		}
		if err := fg.outputFrame(ctx, ofp, nil); err != nil {
			return err
		}
	}
	return nil
}

func (fg *FilterGraph) processInput(ctx context.Context, ifp *InputFilter, in scheduler.FilterInput) error {
	switch {
	case ifp.isSubtitle():
		if in.EOF {
			return fg.sub2videoEOF(ctx, ifp)
		}
		if in.Frame == nil {
			return nil
		}
		fg.sub2videoFrame(ctx, ifp, in.Frame, fg.graph == nil)
		return nil
	case in.Frame != nil:
		return fg.sendFrame(ctx, ifp, in.Frame)
	case in.EOF:
		return fg.sendEOF(ctx, ifp, in.EOFTimestamp)
	}
	return nil
}

// readFrames pulls everything the graph can produce right now and
// decides which input to wait for next.
func (fg *FilterGraph) readFrames(ctx context.Context) error {
	if fg.graph == nil {
		// not configured, request the first input of an unknown format
		for idx, ifp := range fg.Inputs {
			if !ifp.Params.IsFormatKnown() && !fg.eofIn[idx] {
				fg.nextIn = idx
				return nil
			}
		}
		return types.ErrBug{Reason: "the filter graph is not configured, but all the inputs are either initialized or finished"}
	}

	didStep := false
	for fg.nbOutputsDone < len(fg.Outputs) {
		err := fg.graph.RequestOldest(ctx)
		if errors.Is(err, types.ErrWouldBlock) {
			fg.nextIn = fg.chooseInput()
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debugf(ctx, "Filtergraph returned EOF, finishing")
			} else {
				logger.Errorf(ctx, "Error requesting a frame from the filtergraph: %v", err)
			}
			return err
		}
		fg.nextIn = len(fg.Inputs)

		// return after one iteration, so that the scheduler can rate-control us
		if didStep && fg.haveSources() {
			return nil
		}

		for _, ofp := range fg.Outputs {
			for {
				done, err := fg.outputStep(ctx, ofp)
				if err != nil {
					return err
				}
				if done {
					break
				}
			}
		}
		didStep = true
	}

	if fg.nbOutputsDone == len(fg.Outputs) {
		return io.EOF
	}
	return nil
}

func (fg *FilterGraph) chooseInput() int {
	states := make([]scheduler.InputState, len(fg.Inputs))
	for idx, ifp := range fg.Inputs {
		states[idx] = scheduler.InputState{
			NbFailedRequests: ifp.source.NbFailedRequests(),
			EOF:              fg.eofIn[idx],
		}
	}
	idx := scheduler.ChooseInput(states)
	if idx < 0 {
		return len(fg.Inputs)
	}
	return idx
}

// outputStep moves one frame from the sink of the output to the
// scheduler. It returns true once the sink has nothing more to give.
func (fg *FilterGraph) outputStep(ctx context.Context, ofp *OutputFilter) (bool, error) {
	f, err := ofp.sink.PullFrame(ctx)
	switch {
	case errors.Is(err, io.EOF) && !fg.eofOut[ofp.Index]:
		return true, fg.outputFrame(ctx, ofp, nil)
	case errors.Is(err, types.ErrWouldBlock), errors.Is(err, io.EOF):
		return true, nil
	case err != nil:
		logger.Warnf(ctx, "Error in retrieving a frame from the filtergraph: %v", err)
		return true, err
	}

	if fg.eofOut[ofp.Index] {
		f.Free()
		return false, nil
	}

	sinkParams := ofp.sink.Params()
	f.TimeBase = sinkParams.TimeBase

	if !ofp.tbOutLocked {
		if err := ofp.chooseOutTimeBase(ctx, f, sinkParams.FrameRate); err != nil {
			logger.Errorf(ctx, "Could not choose an output time base: %v", err)
			f.Free()
			return true, err
		}
	}

	// the decoder bit depth is only valid if the frame data was not touched
	if !fg.isMeta {
		f.BitsPerRawSample = 0
	}

	if ofp.MediaType == types.MediaTypeVideo && f.Duration == 0 {
		if fr := sinkParams.FrameRate; fr.Valid() {
			f.Duration = types.RescaleQ(1, fr.Inv(), f.TimeBase)
		}
	}

	return false, fg.outputFrame(ctx, ofp, f)
}

// outputFrame sends the frame (ownership included) to the scheduler
// as many times as the video sync requires. A nil frame flushes and
// closes the output.
func (fg *FilterGraph) outputFrame(ctx context.Context, ofp *OutputFilter, f *frame.Frame) error {
	isVideo := ofp.MediaType == types.MediaTypeVideo
	isEOF := f == nil
	prev := ofp.fps.lastFrame

	var nbFrames, nbFramesPrev int64
	if f != nil {
		nbFrames = 1
	}
	if isVideo && (f != nil || ofp.gotFrame) {
		nbFrames, nbFramesPrev = ofp.videoSyncProcess(ctx, f)
	}

	for i := int64(0); i < nbFrames; i++ {
		var out *frame.Frame
		if isVideo {
			in := f
			if i < nbFramesPrev && prev != nil {
				in = prev
			}
			if in == nil {
				break
			}
			out = in.Ref()
			out.PTS = ofp.NextPTS
			if ofp.fps.droppedKeyframe {
				out.SetKey(true)
				ofp.fps.droppedKeyframe = false
			}
		} else {
			tbOut := ofp.TimeBaseOut
			if f.PTS == types.NoPTSValue {
				f.PTS = ofp.NextPTS
			} else {
				f.PTS = types.RescaleQ(f.PTS, f.TimeBase, tbOut) -
					types.RescaleQ(ofp.Options.TSOffset, types.TimeBaseQ, tbOut)
			}
			f.TimeBase = tbOut
			f.Duration = types.RescaleQ(int64(f.NbSamples), types.NewRational(1, f.SampleRate), tbOut)
			ofp.NextPTS = f.PTS + f.Duration
			out, f = f, nil
		}

		if err := fg.sch.FilterSend(ctx, ofp.Index, out); err != nil {
			f.Free()
			fg.markOutputDone(ofp)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if isVideo {
			ofp.fps.frameNumber++
			ofp.NextPTS++
			if i == nbFramesPrev && f != nil {
				f.SetKey(false)
			}
		}
		ofp.gotFrame = true
	}

	if f != nil {
		if isVideo {
			ofp.fps.lastFrame.Free()
			ofp.fps.lastFrame = f
		} else {
			f.Free()
		}
	}

	if isEOF {
		return fg.closeOutput(ctx, ofp)
	}
	return nil
}

func (fg *FilterGraph) markOutputDone(ofp *OutputFilter) {
	if fg.eofOut[ofp.Index] {
		return
	}
	fg.eofOut[ofp.Index] = true
	fg.nbOutputsDone++
}

func (fg *FilterGraph) closeOutput(ctx context.Context, ofp *OutputFilter) error {
	if !ofp.gotFrame {
		// let the encoder initialize even if the output is empty
		f := frame.New()
		f.MediaType = ofp.MediaType
		f.Flags |= frame.FlagParamsOnly
		f.TimeBase = ofp.TimeBaseOut
		f.Format = ofp.Params.Format
		f.Width = ofp.Params.Width
		f.Height = ofp.Params.Height
		f.SampleAspectRatio = ofp.Params.SampleAspectRatio
		f.SampleRate = ofp.Params.SampleRate
		f.ChannelLayout = ofp.Params.ChannelLayout

		logger.Warnf(ctx, "No filtered frames for %s, trying to initialize anyway.", ofp)
		if err := fg.sch.FilterSend(ctx, ofp.Index, f); err != nil {
			return err
		}
	}

	fg.markOutputDone(ofp)
	err := fg.sch.FilterSend(ctx, ofp.Index, nil)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
