package gofilter

import (
	"context"
	"fmt"
	"math"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

// trim passes the frames within [start, end) and at most duration long.
// The audio version cuts the frames at sample accuracy.
type trim struct {
	mediaType types.MediaType

	// in types.TimeBaseQ; NoPTSValue, math.MaxInt64 and 0 mean "unset"
	start    int64
	end      int64
	duration int64

	timeBase   types.Rational
	sampleRate int

	// in the link time base
	startTB    int64
	endTB      int64
	durationTB int64

	firstPTS int64
	nextPTS  int64
}

func newTrim(mediaType types.MediaType) func(string) (filterImpl, error) {
	return func(args string) (filterImpl, error) {
		opts, err := parseOptions(args, "start", "end", "duration", "starti", "endi", "durationi")
		if err != nil {
			return nil, err
		}
		t := &trim{
			mediaType: mediaType,
			firstPTS:  types.NoPTSValue,
			nextPTS:   types.NoPTSValue,
		}
		if t.start, err = opts.duration(types.NoPTSValue, "starti", "start"); err != nil {
			return nil, err
		}
		if t.end, err = opts.duration(math.MaxInt64, "endi", "end"); err != nil {
			return nil, err
		}
		if t.duration, err = opts.duration(0, "durationi", "duration"); err != nil {
			return nil, err
		}
		return t, nil
	}
}

func (*trim) nbInputs() int  { return 1 }
func (*trim) nbOutputs() int { return 1 }

func (t *trim) configure(_ context.Context, _ *negotiation, in []linkParams) ([]linkParams, error) {
	if err := checkMediaType(in[0], t.mediaType); err != nil {
		return nil, err
	}
	t.timeBase = in[0].TimeBase
	t.sampleRate = in[0].SampleRate
	if t.mediaType == types.MediaTypeAudio && t.sampleRate <= 0 {
		return nil, fmt.Errorf("the sample rate is not set: %w", types.ErrInvalidArgument)
	}

	t.startTB = types.NoPTSValue
	if t.start != types.NoPTSValue {
		t.startTB = types.RescaleQ(t.start, types.TimeBaseQ, t.timeBase)
	}
	t.endTB = math.MaxInt64
	if t.end != math.MaxInt64 {
		t.endTB = types.RescaleQ(t.end, types.TimeBaseQ, t.timeBase)
	}
	if t.duration > 0 {
		t.durationTB = types.RescaleQ(t.duration, types.TimeBaseQ, t.timeBase)
	}
	return in, nil
}

func (t *trim) activate(ctx context.Context, n *node) (bool, error) {
	return activateSimple(ctx, n, t)
}

// limit returns the timestamp at which the output ends.
func (t *trim) limit() int64 {
	limit := t.endTB
	if t.durationTB > 0 && t.firstPTS != types.NoPTSValue && t.firstPTS+t.durationTB < limit {
		limit = t.firstPTS + t.durationTB
	}
	return limit
}

func (t *trim) setFirstPTS(pts int64) {
	if t.firstPTS != types.NoPTSValue {
		return
	}
	if t.startTB != types.NoPTSValue && t.startTB > pts {
		pts = t.startTB
	}
	t.firstPTS = pts
}

func (t *trim) filterFrame(ctx context.Context, n *node, f *frame.Frame) (*frame.Frame, error) {
	if t.mediaType == types.MediaTypeAudio {
		return t.filterSamples(n, f), nil
	}

	pts := f.PTS
	if pts == types.NoPTSValue {
		return f, nil
	}
	if t.startTB != types.NoPTSValue && pts < t.startTB {
		f.Free()
		return nil, nil
	}
	t.setFirstPTS(pts)
	if pts >= t.limit() {
		f.Free()
		n.finish(pts, t.timeBase)
		return nil, nil
	}
	return f, nil
}

func (t *trim) filterSamples(n *node, f *frame.Frame) *frame.Frame {
	samplesTB := types.NewRational(1, t.sampleRate)
	toSamples := func(ts int64) int {
		return int(types.RescaleQ(ts, t.timeBase, samplesTB))
	}

	pts := f.PTS
	if pts == types.NoPTSValue {
		pts = t.nextPTS
	}
	if pts == types.NoPTSValue {
		pts = 0
	}
	end := pts + types.RescaleQ(int64(f.NbSamples), samplesTB, t.timeBase)
	t.nextPTS = end

	drop := 0
	if t.startTB != types.NoPTSValue {
		if end <= t.startTB {
			f.Free()
			return nil
		}
		if pts < t.startTB {
			drop = toSamples(t.startTB - pts)
		}
	}
	t.setFirstPTS(pts)

	limit := t.limit()
	if pts >= limit {
		f.Free()
		n.finish(limit, t.timeBase)
		return nil
	}
	keep := f.NbSamples
	finished := false
	if end > limit {
		keep = toSamples(limit - pts)
		finished = true
	}
	if drop > 0 || keep < f.NbSamples {
		f = cutSamples(f, drop, keep, t.sampleRate, t.timeBase)
	}
	if finished {
		n.outputs[0].push(f)
		n.finish(limit, t.timeBase)
		return nil
	}
	return f
}

// cutSamples returns the samples [from, to) of f as a new frame and frees f.
func cutSamples(f *frame.Frame, from, to, sampleRate int, tb types.Rational) *frame.Frame {
	out := derivedFrame(f)
	out.Samples = make([][]float32, len(f.Samples))
	for ch, plane := range f.Samples {
		out.Samples[ch] = plane[from:to]
	}
	out.NbSamples = to - from
	samplesTB := types.NewRational(1, sampleRate)
	if f.PTS != types.NoPTSValue {
		out.PTS = f.PTS + types.RescaleQ(int64(from), samplesTB, tb)
	}
	out.Duration = types.RescaleQ(int64(out.NbSamples), samplesTB, tb)
	f.Free()
	return out
}
