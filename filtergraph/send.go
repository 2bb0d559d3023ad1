package filtergraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/scheduler"
	"github.com/xaionaro-go/avtranscode/types"
)

// sendFrame feeds a decoded frame (ownership included) into the graph,
// reconfiguring the graph first if the frame parameters changed.
func (fg *FilterGraph) sendFrame(ctx context.Context, ifp *InputFilter, f *frame.Frame) error {
	reasons := ifp.changedParams(f, ifp.reinitFilters() || fg.graph == nil)
	needReinit := len(reasons) > 0
	if needReinit {
		ifp.setParamsFromFrame(f)
	}

	if needReinit || fg.graph == nil {
		if !fg.hasAllInputFormats() {
			ifp.queueFrame(f)
			return nil
		}

		if fg.graph != nil {
			if err := fg.readFrames(ctx); err != nil {
				f.Free()
				return err
			}
			logger.Infof(ctx, "Reconfiguring filter graph because %s changed", strings.Join(reasons, ", "))
		}

		if err := fg.configure(ctx); err != nil {
			f.Free()
			logger.Errorf(ctx, "Error reinitializing filters: %v", err)
			return err
		}
	}

	return fg.pushFrame(ctx, ifp, f)
}

// pushFrame converts the frame into the time base of the source and
// pushes it into the graph.
func (fg *FilterGraph) pushFrame(ctx context.Context, ifp *InputFilter, f *frame.Frame) error {
	tb := ifp.Params.TimeBase
	if !f.TimeBase.Valid() {
		f.TimeBase = tb
	}
	if f.PTS != types.NoPTSValue {
		f.PTS = types.RescaleQ(f.PTS, f.TimeBase, tb)
	}
	f.Duration = types.RescaleQ(f.Duration, f.TimeBase, tb)
	f.TimeBase = tb

	if ifp.displayMatrixApplied {
		f.DisplayMatrix = nil
	}

	if err := ifp.source.PushFrame(ctx, f); err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Errorf(ctx, "Error while filtering: %v", err)
		}
		return err
	}
	return nil
}

// sendEOF closes an input. If the graph was never configured, the
// fallback parameters of the input are used to configure it.
func (fg *FilterGraph) sendEOF(ctx context.Context, ifp *InputFilter, ts types.Timestamp) error {
	if fg.eofIn[ifp.Index] {
		return nil
	}
	fg.eofIn[ifp.Index] = true

	if ifp.source != nil {
		pts := types.NoPTSValue
		if ts.IsSet() && ts.TB.Valid() {
			pts = types.RescaleQRnd(ts.TS, ts.TB, ifp.Params.TimeBase, types.RoundNearInf|types.RoundPassMinMax)
		}
		return ifp.source.Close(ctx, pts)
	}

	if !ifp.Params.IsFormatKnown() {
		ifp.useFallback()
		if fg.hasAllInputFormats() {
			if err := fg.configure(ctx); err != nil {
				logger.Errorf(ctx, "Error initializing filters: %v", err)
				return err
			}
		}
	}
	if !ifp.Params.IsFormatKnown() {
		logger.Errorf(ctx, "Cannot determine format of %s after EOF", ifp)
		return types.ErrInvalidData{Reason: fmt.Sprintf("cannot determine format of %s after EOF", ifp)}
	}
	return nil
}

func (fg *FilterGraph) sendCommand(ctx context.Context, cmd scheduler.FilterCommand) {
	if fg.graph == nil {
		return
	}

	if cmd.Time < 0 {
		resp, err := fg.graph.SendCommand(ctx, cmd.Target, cmd.Command, cmd.Arg, cmd.AllFilters)
		logger.Infof(ctx, "Command reply for %s: err:%v res:\n%s", cmd.Target, err, resp)
		return
	}

	if !cmd.AllFilters {
		logger.Warnf(ctx, "Queuing commands only on filters supporting the specific command is unsupported")
		return
	}

	if err := fg.graph.QueueCommand(ctx, cmd.Target, cmd.Command, cmd.Arg, true, cmd.Time); err != nil {
		logger.Warnf(ctx, "Queuing command failed: %v", err)
	}
}
