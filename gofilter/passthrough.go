package gofilter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

// passthrough is null, anull, copy and acopy.
type passthrough struct {
	mediaType types.MediaType
}

func newPassthrough(mediaType types.MediaType) func(string) (filterImpl, error) {
	return func(args string) (filterImpl, error) {
		if args != "" {
			return nil, fmt.Errorf("no options expected, got '%s': %w", args, types.ErrInvalidArgument)
		}
		return &passthrough{mediaType: mediaType}, nil
	}
}

func (*passthrough) nbInputs() int  { return 1 }
func (*passthrough) nbOutputs() int { return 1 }

func (p *passthrough) configure(_ context.Context, _ *negotiation, in []linkParams) ([]linkParams, error) {
	if err := checkMediaType(in[0], p.mediaType); err != nil {
		return nil, err
	}
	return in, nil
}

func (p *passthrough) activate(ctx context.Context, n *node) (bool, error) {
	return activateSimple(ctx, n, p)
}

func (*passthrough) filterFrame(_ context.Context, _ *node, f *frame.Frame) (*frame.Frame, error) {
	return f, nil
}

// split duplicates the input to several outputs.
type split struct {
	mediaType types.MediaType
	outputs   int
}

func newSplit(mediaType types.MediaType) func(string) (filterImpl, error) {
	return func(args string) (filterImpl, error) {
		opts, err := parseOptions(args, "outputs")
		if err != nil {
			return nil, err
		}
		outputs, err := opts.int(2, "outputs")
		if err != nil {
			return nil, err
		}
		if outputs < 1 {
			return nil, fmt.Errorf("invalid number of outputs %d: %w", outputs, types.ErrInvalidArgument)
		}
		return &split{mediaType: mediaType, outputs: outputs}, nil
	}
}

func (*split) nbInputs() int    { return 1 }
func (s *split) nbOutputs() int { return s.outputs }

func (s *split) configure(_ context.Context, _ *negotiation, in []linkParams) ([]linkParams, error) {
	if err := checkMediaType(in[0], s.mediaType); err != nil {
		return nil, err
	}
	out := make([]linkParams, s.outputs)
	for i := range out {
		out[i] = in[0]
	}
	return out, nil
}

func (s *split) activate(ctx context.Context, n *node) (bool, error) {
	in := n.inputs[0]
	if n.finished() {
		return false, nil
	}
	progress := false
	for f := in.pop(); f != nil; f = in.pop() {
		progress = true
		for i, out := range n.outputs {
			if i == len(n.outputs)-1 {
				out.push(f)
			} else {
				out.push(f.Ref())
			}
		}
	}
	allClosed := true
	for _, out := range n.outputs {
		allClosed = allClosed && out.closed
	}
	if in.eof || allClosed {
		n.finish(in.eofPTS, in.timeBase())
		progress = true
	}
	return progress, nil
}

type setPTSExpr int

const (
	setPTSKeep = setPTSExpr(iota)
	setPTSStartAtZero
	// setPTSFrameCount is N/FRAME_RATE/TB for video and N/SR/TB for audio.
	setPTSFrameCount
)

// setPTS supports the most common expressions of setpts and asetpts.
type setPTS struct {
	mediaType types.MediaType
	expr      setPTSExpr

	timeBase  types.Rational
	frameRate types.Rational
	startPTS  int64
	count     int64
}

func newSetPTS(mediaType types.MediaType) func(string) (filterImpl, error) {
	return func(args string) (filterImpl, error) {
		opts, err := parseOptions(args, "expr")
		if err != nil {
			return nil, err
		}
		expr, _ := opts.lookup("expr")
		expr = strings.ReplaceAll(strings.ToUpper(expr), " ", "")

		s := &setPTS{mediaType: mediaType, startPTS: types.NoPTSValue}
		switch expr {
		case "", "PTS":
			s.expr = setPTSKeep
		case "PTS-STARTPTS":
			s.expr = setPTSStartAtZero
		case "N/FRAME_RATE/TB", "N/(FRAME_RATE*TB)", "N/SR/TB", "N/(SR*TB)":
			s.expr = setPTSFrameCount
		default:
			return nil, types.ErrNotImplemented{Err: fmt.Errorf("unsupported expression '%s'", expr)}
		}
		return s, nil
	}
}

func (*setPTS) nbInputs() int  { return 1 }
func (*setPTS) nbOutputs() int { return 1 }

func (s *setPTS) configure(_ context.Context, _ *negotiation, in []linkParams) ([]linkParams, error) {
	if err := checkMediaType(in[0], s.mediaType); err != nil {
		return nil, err
	}
	s.timeBase = in[0].TimeBase
	switch {
	case s.mediaType == types.MediaTypeAudio:
		s.frameRate = types.NewRational(in[0].SampleRate, 1)
	default:
		s.frameRate = in[0].FrameRate
	}
	if s.expr == setPTSFrameCount && !s.frameRate.Valid() {
		return nil, fmt.Errorf("the rate of the input is unknown: %w", types.ErrInvalidArgument)
	}
	return in, nil
}

func (s *setPTS) activate(ctx context.Context, n *node) (bool, error) {
	return activateSimple(ctx, n, s)
}

func (s *setPTS) filterFrame(_ context.Context, _ *node, f *frame.Frame) (*frame.Frame, error) {
	switch s.expr {
	case setPTSStartAtZero:
		if s.startPTS == types.NoPTSValue {
			s.startPTS = f.PTS
		}
		if f.PTS != types.NoPTSValue && s.startPTS != types.NoPTSValue {
			f.PTS -= s.startPTS
		}
	case setPTSFrameCount:
		f.PTS = types.RescaleQ(s.count, s.frameRate.Inv(), s.timeBase)
		if s.mediaType == types.MediaTypeAudio {
			s.count += int64(f.NbSamples)
		} else {
			s.count++
		}
	}
	return f, nil
}

func (s *setPTS) mapEOF(pts int64) int64 {
	switch s.expr {
	case setPTSStartAtZero:
		if s.startPTS != types.NoPTSValue {
			return pts - s.startPTS
		}
	case setPTSFrameCount:
		return types.RescaleQ(s.count, s.frameRate.Inv(), s.timeBase)
	}
	return pts
}

// parseBool accepts the forms used in the filter options.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true, nil
	case "false", "no", "off":
		return false, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return false, fmt.Errorf("invalid boolean '%s': %w", s, types.ErrInvalidArgument)
	}
	return v != 0, nil
}
