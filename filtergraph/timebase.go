package filtergraph

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/types"
)

// chooseOutTimeBase picks (and locks) the time base of the output
// using the first frame leaving the graph.
func (ofp *OutputFilter) chooseOutTimeBase(
	ctx context.Context,
	f *frame.Frame,
	sinkFrameRate types.Rational,
) error {
	fps := &ofp.fps
	var tb types.Rational

	switch ofp.Options.EncTimeBase.Kind {
	case EncTimeBaseDemux:
		if !f.DecoderTimeBase.Valid() {
			return fmt.Errorf("demuxing time base not available, cannot use it for encoding: %w", types.ErrInvalidArgument)
		}
		tb = f.DecoderTimeBase
	case EncTimeBaseFilter:
		tb = f.TimeBase
	case EncTimeBaseValue:
		tb = ofp.Options.EncTimeBase.Value
	}

	if ofp.MediaType == types.MediaTypeAudio {
		if tb.Num == 0 {
			tb = types.NewRational(1, f.SampleRate)
		}
		ofp.lockTimeBase(tb, fps.frameRate)
		return nil
	}

	fr := fps.frameRate
	if fr.Num == 0 && sinkFrameRate.Valid() {
		fr = sinkFrameRate
	}

	if method := ofp.vsyncMethod(); method == VSyncCFR || method == VSyncVSCFR {
		if fr.Num == 0 && fps.frameRateMax.Num == 0 {
			fr = types.NewRational(25, 1)
			logger.Warnf(ctx, "No information about the input framerate is available. "+
				"Falling back to a default value of 25fps. Use the -r option if you want a different framerate.")
		}
		if fps.frameRateMax.Num != 0 && (fr.Den == 0 || fr.Float64() > fps.frameRateMax.Float64()) {
			fr = fps.frameRateMax
		}
	}

	if fr.Num > 0 {
		if len(fps.frameRateSupported) > 0 {
			fr = fps.frameRateSupported[fr.FindNearestIdx(fps.frameRateSupported)]
		}
		if fps.frameRateClip > 0 {
			fr, _ = types.Reduce(int64(fr.Num), int64(fr.Den), int64(fps.frameRateClip))
		}
	}

	if !tb.Valid() {
		tb = fr.Inv()
	}
	if !tb.Valid() {
		tb = f.TimeBase
	}
	ofp.lockTimeBase(tb, fr)
	return nil
}

func (ofp *OutputFilter) lockTimeBase(tb, fr types.Rational) {
	ofp.TimeBaseOut = tb
	ofp.fps.frameRate = fr
	ofp.tbOutLocked = true
}
