// video_sync.go implements the conversion of filtered video frames to the output frame rate.

package filtergraph

import (
	"context"
	"math"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/internal"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/types"
)

// adjustFramePTS converts the frame timestamp to tbDst, shifted by
// startTime (in types.TimeBaseQ). The frame gets the integer value,
// while the returned value keeps the sub-tick precision.
func adjustFramePTS(f *frame.Frame, tbDst types.Rational, startTime int64) float64 {
	if f.PTS == types.NoPTSValue {
		return float64(types.NoPTSValue)
	}

	filterTB := f.TimeBase
	extraBits := internal.Clip(29-internal.Log2(tbDst.Den), 0, 16)
	tb := tbDst
	tb.Den <<= extraBits

	floatPTS := float64(
		types.RescaleQ(f.PTS, filterTB, tb)-types.RescaleQ(startTime, types.TimeBaseQ, tb),
	) / float64(int64(1)<<extraBits)
	// avoid exact midpoints to reduce the chance of rounding differences
	if floatPTS != math.RoundToEven(floatPTS) {
		if floatPTS < 0 {
			floatPTS -= 1.0 / (1 << 17)
		} else {
			floatPTS += 1.0 / (1 << 17)
		}
	}

	f.PTS = types.RescaleQ(f.PTS, filterTB, tbDst) - types.RescaleQ(startTime, types.TimeBaseQ, tbDst)
	f.TimeBase = tbDst
	return floatPTS
}

// videoSyncProcess decides how many times the frame must be sent to
// keep the output cadence: nbFrames copies in total, of which the
// first nbFramesPrev are copies of the previous frame.
// A nil frame flushes the conversion state.
func (ofp *OutputFilter) videoSyncProcess(
	ctx context.Context,
	f *frame.Frame,
) (nbFrames int64, nbFramesPrev int64) {
	fps := &ofp.fps

	if f == nil {
		nbFramesPrev = internal.MidPred(fps.framesPrevHist[0], fps.framesPrevHist[1], fps.framesPrevHist[2])
		nbFrames = nbFramesPrev
	} else {
		nbFrames, nbFramesPrev = ofp.videoSyncCount(ctx, f)
	}

	copy(fps.framesPrevHist[1:], fps.framesPrevHist[:len(fps.framesPrevHist)-1])
	fps.framesPrevHist[0] = nbFramesPrev

	if nbFramesPrev == 0 && fps.lastDropped {
		ofp.NbFramesDrop.Inc()
		lastPTS := types.NoPTSValue
		if fps.lastFrame != nil {
			lastPTS = fps.lastFrame.PTS
		}
		logger.Debugf(ctx, "*** dropping frame %d at ts %s", fps.frameNumber, types.TSString(lastPTS))
	}

	var prevDroppedDup int64
	if nbFramesPrev > 0 && fps.lastDropped {
		prevDroppedDup = 1
	}
	var newFrame int64
	if nbFrames > nbFramesPrev {
		newFrame = 1
	}
	if nbFrames > prevDroppedDup+newFrame {
		if float64(nbFrames) > ofp.Options.DTSErrorThreshold*30 {
			logger.Errorf(ctx, "%d frame duplication too large, skipping", nbFrames-1)
			ofp.NbFramesDrop.Inc()
			return 0, nbFramesPrev
		}
		nbFramesDup := ofp.NbFramesDup.Add(uint64(nbFrames-prevDroppedDup-newFrame)) -
			uint64(nbFrames-prevDroppedDup-newFrame)
		logger.Debugf(ctx, "*** %d dup!", nbFrames-1)
		if nbFramesDup > fps.dupWarning {
			logger.Warnf(ctx, "More than %d frames duplicated", fps.dupWarning)
			fps.dupWarning *= 10
		}
	}

	fps.lastDropped = nbFrames == nbFramesPrev && f != nil
	fps.droppedKeyframe = fps.droppedKeyframe || (fps.lastDropped && f.IsKey())
	return nbFrames, nbFramesPrev
}

func (ofp *OutputFilter) videoSyncCount(
	ctx context.Context,
	f *frame.Frame,
) (nbFrames int64, nbFramesPrev int64) {
	fps := &ofp.fps
	method := ofp.vsyncMethod()

	duration := float64(f.Duration) * f.TimeBase.Float64() / ofp.TimeBaseOut.Float64()
	syncIPTS := adjustFramePTS(f, ofp.TimeBaseOut, ofp.Options.TSOffset)
	// the drift between the input frame and where it would fall in the output
	delta0 := syncIPTS - float64(ofp.NextPTS)
	delta := delta0 + duration

	nbFrames = 1

	if delta0 < 0 && delta > 0 && method != VSyncPassthrough && method != VSyncDrop {
		if delta0 < -0.6 {
			logger.Infof(ctx, "Past duration %f too large", -delta0)
		} else {
			logger.Debugf(ctx, "Clipping frame in rate conversion by %f", -delta0)
		}
		syncIPTS = float64(ofp.NextPTS)
		duration += delta0
		delta0 = 0
	}

	switch method {
	case VSyncVSCFR, VSyncCFR:
		if method == VSyncVSCFR && fps.frameNumber == 0 && delta0 >= 0.5 {
			logger.Debugf(ctx, "Not duplicating %d initial frames", int64(math.Round(delta0)))
			delta = duration
			delta0 = 0
			ofp.NextPTS = int64(math.RoundToEven(syncIPTS))
		}
		threshold := ofp.Options.FrameDropThreshold
		switch {
		case threshold != 0 && delta < threshold && fps.frameNumber > 0:
			nbFrames = 0
		case delta < -1.1:
			nbFrames = 0
		case delta > 1.1:
			nbFrames = int64(math.RoundToEven(delta))
			if delta0 > 1.1 {
				nbFramesPrev = int64(math.RoundToEven(delta0 - 0.6))
			}
		}
		f.Duration = 1
	case VSyncVFR:
		if delta <= -0.6 {
			nbFrames = 0
		} else if delta > 0.6 {
			ofp.NextPTS = int64(math.RoundToEven(syncIPTS))
		}
		f.Duration = int64(math.RoundToEven(duration))
	case VSyncDrop, VSyncPassthrough:
		ofp.NextPTS = int64(math.RoundToEven(syncIPTS))
		f.Duration = int64(math.RoundToEven(duration))
	default:
		internal.Assert(ctx, false, "unexpected vsync method", method)
	}
	return nbFrames, nbFramesPrev
}
