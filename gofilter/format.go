package gofilter

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

// pixelFormat is the "format" filter: it converts the pictures to the
// first allowed pixel format unless the input one is allowed.
type pixelFormat struct {
	formats []string
	format  string
}

func newPixelFormat(args string) (filterImpl, error) {
	opts, err := parseOptions(args, "pix_fmts")
	if err != nil {
		return nil, err
	}
	formats := opts.list("pix_fmts")
	if len(formats) == 0 {
		return nil, fmt.Errorf("no pixel format given: %w", types.ErrInvalidArgument)
	}
	return &pixelFormat{formats: formats}, nil
}

func (*pixelFormat) nbInputs() int  { return 1 }
func (*pixelFormat) nbOutputs() int { return 1 }

func (p *pixelFormat) configure(_ context.Context, neg *negotiation, in []linkParams) ([]linkParams, error) {
	if err := checkMediaType(in[0], types.MediaTypeVideo); err != nil {
		return nil, err
	}
	out := in[0]
	if slices.Contains(p.formats, out.Format) {
		p.format = out.Format
		return []linkParams{out}, nil
	}
	if neg.disableAutoConvert {
		return nil, fmt.Errorf("impossible to convert between the formats %s and %v with the automatic conversion disabled: %w", out.Format, p.formats, types.ErrInvalidArgument)
	}
	for _, format := range p.formats {
		if isConvertible(format) {
			p.format = format
			out.Format = format
			return []linkParams{out}, nil
		}
	}
	return nil, types.ErrNotImplemented{Err: fmt.Errorf("unable to convert to any of %v", p.formats)}
}

func (p *pixelFormat) activate(ctx context.Context, n *node) (bool, error) {
	return activateSimple(ctx, n, p)
}

func (p *pixelFormat) filterFrame(_ context.Context, _ *node, f *frame.Frame) (*frame.Frame, error) {
	if f.Format == p.format {
		return f, nil
	}
	if f.Image != nil {
		setImage(f, convertImage(f.Image, p.format))
	}
	f.Format = p.format
	return f, nil
}

// sampleFormat is the "aformat" filter. The samples are always planar
// float32 in memory, so the sample format is only a label; the rate
// and the channel layout are converted.
type sampleFormat struct {
	formats  []string
	rates    []int
	layouts  []frame.ChannelLayout
	format   string
	rate     int
	layout   frame.ChannelLayout
	inParams linkParams
	outTB    types.Rational

	resampler *resampler
}

func newSampleFormat(args string) (filterImpl, error) {
	opts, err := parseOptions(args, "sample_fmts", "sample_rates", "channel_layouts", "f", "r", "cl")
	if err != nil {
		return nil, err
	}
	s := &sampleFormat{formats: opts.list("sample_fmts", "f")}
	for _, v := range opts.list("sample_rates", "r") {
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("invalid sample rate '%s': %w", v, types.ErrInvalidArgument)
		}
		s.rates = append(s.rates, rate)
	}
	for _, v := range opts.list("channel_layouts", "cl") {
		layout := frame.ChannelLayout(v)
		if layout.NbChannels() == 0 {
			return nil, fmt.Errorf("invalid channel layout '%s': %w", v, types.ErrInvalidArgument)
		}
		s.layouts = append(s.layouts, layout)
	}
	return s, nil
}

func (*sampleFormat) nbInputs() int  { return 1 }
func (*sampleFormat) nbOutputs() int { return 1 }

func (s *sampleFormat) configure(_ context.Context, neg *negotiation, in []linkParams) ([]linkParams, error) {
	if err := checkMediaType(in[0], types.MediaTypeAudio); err != nil {
		return nil, err
	}
	s.inParams = in[0]
	out := in[0]

	s.format = out.Format
	if len(s.formats) > 0 && !slices.Contains(s.formats, out.Format) {
		s.format = s.formats[0]
	}
	s.rate = out.SampleRate
	if len(s.rates) > 0 && !slices.Contains(s.rates, out.SampleRate) {
		s.rate = s.rates[0]
	}
	s.layout = out.ChannelLayout
	if len(s.layouts) > 0 && !slices.Contains(s.layouts, out.ChannelLayout) {
		s.layout = s.layouts[0]
	}

	changed := s.rate != out.SampleRate || s.layout != out.ChannelLayout
	if changed && neg.disableAutoConvert {
		return nil, fmt.Errorf("impossible to convert %dHz:%s to %dHz:%s with the automatic conversion disabled: %w",
			out.SampleRate, out.ChannelLayout, s.rate, s.layout, types.ErrInvalidArgument)
	}

	s.outTB = out.TimeBase
	if s.rate != out.SampleRate {
		if out.SampleRate <= 0 {
			return nil, fmt.Errorf("the input sample rate is not set: %w", types.ErrInvalidArgument)
		}
		s.outTB = types.NewRational(1, s.rate)
		s.resampler = newResampler(out.SampleRate, s.rate)
	}
	out.Format = s.format
	out.SampleRate = s.rate
	out.ChannelLayout = s.layout
	out.TimeBase = s.outTB
	return []linkParams{out}, nil
}

func (s *sampleFormat) activate(ctx context.Context, n *node) (bool, error) {
	return activateSimple(ctx, n, s)
}

func (s *sampleFormat) filterFrame(_ context.Context, _ *node, f *frame.Frame) (*frame.Frame, error) {
	f.Format = s.format
	if f.ChannelLayout != s.layout {
		if f.Samples != nil {
			setSamples(f, remix(f.Samples, s.layout.NbChannels()), f.NbSamples)
		}
		f.ChannelLayout = s.layout
	}
	if s.resampler != nil {
		inTB := f.TimeBase
		if !inTB.Valid() {
			inTB = s.inParams.TimeBase
		}
		pts := types.NoPTSValue
		if f.PTS != types.NoPTSValue {
			pts = types.RescaleQ(f.PTS, inTB, s.outTB)
		}
		samples, nbSamples, outPTS := s.resampler.process(f.Samples, f.NbSamples, pts)
		setSamples(f, samples, nbSamples)
		f.PTS = outPTS
		f.SampleRate = s.rate
		f.TimeBase = s.outTB
		f.Duration = int64(nbSamples)
		if nbSamples == 0 {
			f.Free()
			return nil, nil
		}
	}
	return f, nil
}

func (s *sampleFormat) mapEOF(pts int64) int64 {
	if s.resampler == nil {
		return pts
	}
	return types.RescaleQ(pts, s.inParams.TimeBase, s.outTB)
}

// remix converts the planes to the given number of channels.
func remix(planes [][]float32, outChannels int) [][]float32 {
	inChannels := len(planes)
	if inChannels == outChannels || inChannels == 0 || outChannels == 0 {
		return planes
	}
	nbSamples := len(planes[0])
	out := make([][]float32, outChannels)
	switch {
	case outChannels == 1:
		mixed := make([]float32, nbSamples)
		for _, plane := range planes {
			for i, v := range plane {
				mixed[i] += v / float32(inChannels)
			}
		}
		out[0] = mixed
	case inChannels == 1:
		for ch := range out {
			out[ch] = planes[0]
		}
	default:
		for ch := range out {
			if ch < inChannels {
				out[ch] = planes[ch]
			} else {
				out[ch] = make([]float32, nbSamples)
			}
		}
	}
	return out
}

// resampler converts the sample rate by linear interpolation, keeping
// its position across the frames.
type resampler struct {
	inRate, outRate int64

	inTotal  int64
	outTotal int64
	last     []float32

	originPTS int64
}

func newResampler(inRate, outRate int) *resampler {
	return &resampler{
		inRate:    int64(inRate),
		outRate:   int64(outRate),
		originPTS: types.NoPTSValue,
	}
}

// process returns the resampled planes, their length and their
// timestamp; pts is the input timestamp in the output time base.
func (r *resampler) process(planes [][]float32, nbSamples int, pts int64) ([][]float32, int, int64) {
	if r.originPTS == types.NoPTSValue && pts != types.NoPTSValue {
		r.originPTS = pts
	}
	base := r.inTotal
	r.inTotal += int64(nbSamples)
	target := r.inTotal * r.outRate / r.inRate
	count := int(target - r.outTotal)

	outPTS := types.NoPTSValue
	if r.originPTS != types.NoPTSValue {
		outPTS = r.originPTS + r.outTotal
	}

	var out [][]float32
	if planes != nil {
		out = make([][]float32, len(planes))
		if r.last == nil {
			r.last = make([]float32, len(planes))
		}
		for ch, plane := range planes {
			sampleAt := func(i int) float32 {
				switch {
				case len(plane) == 0:
					return 0
				case i < 0:
					return r.last[ch]
				case i >= len(plane):
					return plane[len(plane)-1]
				}
				return plane[i]
			}
			dst := make([]float32, count)
			for j := range dst {
				pos := float64(r.outTotal+int64(j))*float64(r.inRate)/float64(r.outRate) - float64(base)
				i0 := math.Floor(pos)
				frac := float32(pos - i0)
				s0, s1 := sampleAt(int(i0)), sampleAt(int(i0)+1)
				dst[j] = s0 + (s1-s0)*frac
			}
			out[ch] = dst
			if len(plane) > 0 {
				r.last[ch] = plane[len(plane)-1]
			}
		}
	}
	r.outTotal = target
	return out, count, outPTS
}
