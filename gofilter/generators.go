package gofilter

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/xaionaro-go/avtranscode/filtergraph"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

// colorSource generates uniform pictures.
type colorSource struct {
	color     color.RGBA
	width     int
	height    int
	rate      types.Rational
	duration  int64 // in types.TimeBaseQ, negative is infinite
	nbFrames  int64
	picture   *image.RGBA
	timeBase  types.Rational
	finishPTS int64
}

func newColorSource(args string) (filterImpl, error) {
	opts, err := parseOptions(args, "color", "size", "rate", "duration", "c", "s", "r", "d", "sar")
	if err != nil {
		return nil, err
	}
	c := &colorSource{color: colorNames["black"], width: 320, height: 240, rate: types.NewRational(25, 1)}
	if v, ok := opts.lookup("color", "c"); ok {
		if c.color, err = parseColor(v); err != nil {
			return nil, err
		}
	}
	if v, ok := opts.lookup("size", "s"); ok {
		if c.width, c.height, err = parseSize(v); err != nil {
			return nil, err
		}
	}
	if v, ok := opts.lookup("rate", "r"); ok {
		r, err := types.RationalFromString(v)
		if err != nil || !r.Valid() {
			return nil, fmt.Errorf("invalid rate '%s': %w", v, types.ErrInvalidArgument)
		}
		c.rate = *r
	}
	if c.duration, err = opts.duration(-1, "duration", "d"); err != nil {
		return nil, err
	}
	return c, nil
}

func (*colorSource) nbInputs() int  { return 0 }
func (*colorSource) nbOutputs() int { return 1 }

func (c *colorSource) configure(context.Context, *negotiation, []linkParams) ([]linkParams, error) {
	c.timeBase = c.rate.Inv()
	c.finishPTS = math.MaxInt64
	if c.duration >= 0 {
		c.finishPTS = types.RescaleQRnd(c.duration, types.TimeBaseQ, c.timeBase, types.RoundUp)
	}
	c.paint()
	return []linkParams{{
		MediaType: types.MediaTypeVideo,
		FrameParams: filtergraph.FrameParams{
			Format:            "rgba",
			Width:             c.width,
			Height:            c.height,
			SampleAspectRatio: types.NewRational(1, 1),
			TimeBase:          c.timeBase,
			FrameRate:         c.rate,
		},
	}}, nil
}

func (c *colorSource) paint() {
	c.picture = image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	draw.Draw(c.picture, c.picture.Bounds(), image.NewUniform(c.color), image.Point{}, draw.Src)
}

func (*colorSource) activate(context.Context, *node) (bool, error) {
	return false, nil
}

func (c *colorSource) generate(ctx context.Context, n *node) (bool, error) {
	out := n.outputs[0]
	if out.eof {
		return false, nil
	}
	if c.nbFrames >= c.finishPTS {
		n.finish(c.nbFrames, c.timeBase)
		return true, nil
	}
	f := frame.New()
	f.MediaType = types.MediaTypeVideo
	f.Format = "rgba"
	f.Width = c.width
	f.Height = c.height
	f.SampleAspectRatio = types.NewRational(1, 1)
	f.PTS = c.nbFrames
	f.Duration = 1
	f.TimeBase = c.timeBase
	f.SetKey(true)
	n.runQueuedCommands(ctx, f, c.timeBase)
	f.Image = c.picture
	c.nbFrames++
	out.push(f)
	return true, nil
}

func (c *colorSource) processCommand(_ context.Context, _ *node, cmd, arg string) (string, error) {
	switch cmd {
	case "c", "color":
		v, err := parseColor(arg)
		if err != nil {
			return "", err
		}
		c.color = v
		c.paint()
		return "", nil
	}
	return "", types.ErrNotImplemented{}
}

// sineSource generates a sine tone.
type sineSource struct {
	frequency       float64
	sampleRate      int
	samplesPerFrame int
	duration        int64 // in types.TimeBaseQ, negative is infinite
	nbSamples       int64
	totalSamples    int64
}

func newSineSource(args string) (filterImpl, error) {
	opts, err := parseOptions(args, "frequency", "beep_factor", "sample_rate", "duration", "samples_per_frame", "f", "b", "r", "d")
	if err != nil {
		return nil, err
	}
	s := &sineSource{}
	if s.frequency, err = opts.float(440, "frequency", "f"); err != nil {
		return nil, err
	}
	if s.sampleRate, err = opts.int(44100, "sample_rate", "r"); err != nil {
		return nil, err
	}
	if s.samplesPerFrame, err = opts.int(1024, "samples_per_frame"); err != nil {
		return nil, err
	}
	if s.duration, err = opts.duration(-1, "duration", "d"); err != nil {
		return nil, err
	}
	if s.sampleRate <= 0 || s.samplesPerFrame <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d or frame size %d: %w", s.sampleRate, s.samplesPerFrame, types.ErrInvalidArgument)
	}
	return s, nil
}

func (*sineSource) nbInputs() int  { return 0 }
func (*sineSource) nbOutputs() int { return 1 }

func (s *sineSource) configure(context.Context, *negotiation, []linkParams) ([]linkParams, error) {
	s.totalSamples = math.MaxInt64
	if s.duration >= 0 {
		s.totalSamples = types.RescaleQ(s.duration, types.TimeBaseQ, types.NewRational(1, s.sampleRate))
	}
	return []linkParams{{
		MediaType: types.MediaTypeAudio,
		FrameParams: filtergraph.FrameParams{
			Format:        "fltp",
			SampleRate:    s.sampleRate,
			ChannelLayout: frame.ChannelLayoutMono,
			TimeBase:      types.NewRational(1, s.sampleRate),
		},
	}}, nil
}

func (*sineSource) activate(context.Context, *node) (bool, error) {
	return false, nil
}

func (s *sineSource) generate(_ context.Context, n *node) (bool, error) {
	out := n.outputs[0]
	if out.eof {
		return false, nil
	}
	count := int64(s.samplesPerFrame)
	if left := s.totalSamples - s.nbSamples; left < count {
		count = left
	}
	if count <= 0 {
		n.finish(s.nbSamples, out.timeBase())
		return true, nil
	}
	samples := make([]float32, count)
	for i := range samples {
		t := float64(s.nbSamples+int64(i)) / float64(s.sampleRate)
		samples[i] = float32(math.Sin(2 * math.Pi * s.frequency * t))
	}
	f := newAudioFrame(out.params, s.nbSamples, [][]float32{samples}, int(count))
	s.nbSamples += count
	out.push(f)
	return true, nil
}

// apad appends silence to the end of the audio stream: pad_len or
// pad_dur of it, or as much as needed to reach whole_len or whole_dur.
// Without any limit it pads forever.
type apad struct {
	packetSize int
	padLen     int64
	wholeLen   int64
	padDur     int64
	wholeDur   int64

	params    linkParams
	nextPTS   int64
	nbSamples int64
	padLeft   int64
}

func newAPad(args string) (filterImpl, error) {
	opts, err := parseOptions(args, "packet_size", "pad_len", "whole_len", "pad_dur", "whole_dur")
	if err != nil {
		return nil, err
	}
	a := &apad{nextPTS: types.NoPTSValue}
	if a.packetSize, err = opts.int(4096, "packet_size"); err != nil {
		return nil, err
	}
	padLen, err := opts.int(-1, "pad_len")
	if err != nil {
		return nil, err
	}
	wholeLen, err := opts.int(-1, "whole_len")
	if err != nil {
		return nil, err
	}
	a.padLen, a.wholeLen = int64(padLen), int64(wholeLen)
	if a.padDur, err = opts.duration(-1, "pad_dur"); err != nil {
		return nil, err
	}
	if a.wholeDur, err = opts.duration(-1, "whole_dur"); err != nil {
		return nil, err
	}
	if a.packetSize <= 0 {
		return nil, fmt.Errorf("invalid packet size %d: %w", a.packetSize, types.ErrInvalidArgument)
	}
	return a, nil
}

func (*apad) nbInputs() int  { return 1 }
func (*apad) nbOutputs() int { return 1 }

func (a *apad) configure(_ context.Context, _ *negotiation, in []linkParams) ([]linkParams, error) {
	if err := checkMediaType(in[0], types.MediaTypeAudio); err != nil {
		return nil, err
	}
	if in[0].SampleRate <= 0 {
		return nil, fmt.Errorf("the sample rate is not set: %w", types.ErrInvalidArgument)
	}
	a.params = in[0]
	samplesTB := types.NewRational(1, in[0].SampleRate)
	if a.padDur >= 0 {
		a.padLen = types.RescaleQ(a.padDur, types.TimeBaseQ, samplesTB)
	}
	if a.wholeDur >= 0 {
		a.wholeLen = types.RescaleQ(a.wholeDur, types.TimeBaseQ, samplesTB)
	}
	return in, nil
}

func (a *apad) activate(_ context.Context, n *node) (bool, error) {
	in, out := n.inputs[0], n.outputs[0]
	if out.eof || in.closed {
		return false, nil
	}
	progress := false
	for f := in.pop(); f != nil; f = in.pop() {
		progress = true
		a.nbSamples += int64(f.NbSamples)
		if f.PTS != types.NoPTSValue {
			a.nextPTS = f.PTS + types.RescaleQ(int64(f.NbSamples), types.NewRational(1, a.params.SampleRate), in.timeBase())
		}
		out.push(f)
	}
	if in.eof {
		a.padLeft = math.MaxInt64
		switch {
		case a.wholeLen >= 0:
			a.padLeft = max(a.wholeLen-a.nbSamples, 0)
		case a.padLen >= 0:
			a.padLeft = a.padLen
		}
		in.close()
		if a.nextPTS == types.NoPTSValue {
			a.nextPTS = in.eofPTS
		}
		if a.nextPTS == types.NoPTSValue {
			a.nextPTS = 0
		}
		progress = true
	}
	return progress, nil
}

func (a *apad) needs(n *node) []int {
	in := n.inputs[0]
	if in.starving() && !in.closed {
		return []int{0}
	}
	return nil
}

func (a *apad) generate(_ context.Context, n *node) (bool, error) {
	in, out := n.inputs[0], n.outputs[0]
	if !in.closed || out.eof {
		return false, nil
	}
	if a.padLeft <= 0 {
		n.finish(a.nextPTS, in.timeBase())
		return true, nil
	}
	count := int64(a.packetSize)
	if a.padLeft < count {
		count = a.padLeft
	}
	planes := make([][]float32, max(a.params.ChannelLayout.NbChannels(), 1))
	for ch := range planes {
		planes[ch] = make([]float32, count)
	}
	f := newAudioFrame(out.params, a.nextPTS, planes, int(count))
	a.nextPTS += types.RescaleQ(count, types.NewRational(1, a.params.SampleRate), out.timeBase())
	if a.padLeft != math.MaxInt64 {
		a.padLeft -= count
	}
	out.push(f)
	return true, nil
}

func newAudioFrame(p linkParams, pts int64, planes [][]float32, nbSamples int) *frame.Frame {
	f := frame.New()
	f.MediaType = types.MediaTypeAudio
	f.Format = p.Format
	f.SampleRate = p.SampleRate
	f.ChannelLayout = p.ChannelLayout
	f.TimeBase = p.TimeBase
	f.PTS = pts
	f.Duration = types.RescaleQ(int64(nbSamples), types.NewRational(1, p.SampleRate), p.TimeBase)
	f.NbSamples = nbSamples
	f.Samples = planes
	return f
}
