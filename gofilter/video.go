package gofilter

import (
	"context"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/transform"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

// imageFilter is a video filter transforming each picture independently.
type imageFilter struct {
	// geometry returns the output size and sample aspect ratio.
	geometry func(w, h int, sar types.Rational) (int, int, types.Rational)
	// process transforms a picture; the result is converted back to
	// the pixel format of the input.
	process func(img image.Image) image.Image
	command func(cmd, arg string) (string, error)

	in linkParams
}

func (*imageFilter) nbInputs() int  { return 1 }
func (*imageFilter) nbOutputs() int { return 1 }

func (p *imageFilter) configure(_ context.Context, _ *negotiation, in []linkParams) ([]linkParams, error) {
	if err := checkMediaType(in[0], types.MediaTypeVideo); err != nil {
		return nil, err
	}
	p.in = in[0]
	out := in[0]
	if p.geometry != nil {
		out.Width, out.Height, out.SampleAspectRatio = p.geometry(out.Width, out.Height, out.SampleAspectRatio)
		if out.Width <= 0 || out.Height <= 0 {
			return nil, fmt.Errorf("invalid output size %dx%d: %w", out.Width, out.Height, types.ErrInvalidArgument)
		}
	}
	return []linkParams{out}, nil
}

func (p *imageFilter) activate(ctx context.Context, n *node) (bool, error) {
	return activateSimple(ctx, n, p)
}

func (p *imageFilter) filterFrame(_ context.Context, _ *node, f *frame.Frame) (*frame.Frame, error) {
	out := derivedFrame(f)
	if p.geometry != nil {
		out.Width, out.Height, out.SampleAspectRatio = p.geometry(f.Width, f.Height, f.SampleAspectRatio)
	}
	if f.Image != nil && p.process != nil {
		setImage(out, convertImage(p.process(f.Image), f.Format))
	}
	f.Free()
	return out, nil
}

func (p *imageFilter) processCommand(_ context.Context, n *node, cmd, arg string) (string, error) {
	if p.command == nil {
		return "", types.ErrNotImplemented{}
	}
	resp, err := p.command(cmd, arg)
	if err != nil {
		return "", err
	}
	if p.geometry != nil {
		out := n.outputs[0]
		out.params.Width, out.params.Height, out.params.SampleAspectRatio = p.geometry(p.in.Width, p.in.Height, p.in.SampleAspectRatio)
	}
	return resp, nil
}

func newScale(args string) (filterImpl, error) {
	opts, err := parseOptions(args, "w", "h", "flags", "width", "height")
	if err != nil {
		return nil, err
	}
	s := &scale{}
	if s.w, err = opts.int(0, "w", "width"); err != nil {
		return nil, err
	}
	if s.h, err = opts.int(0, "h", "height"); err != nil {
		return nil, err
	}
	s.filter = transform.Linear
	if flags, ok := opts.lookup("flags"); ok {
		switch {
		case strings.Contains(flags, "neighbor"), strings.Contains(flags, "point"):
			s.filter = transform.NearestNeighbor
		case strings.Contains(flags, "bicubic"):
			s.filter = transform.CatmullRom
		case strings.Contains(flags, "lanczos"):
			s.filter = transform.Lanczos
		case strings.Contains(flags, "gauss"):
			s.filter = transform.Gaussian
		}
	}
	p := &imageFilter{}
	p.geometry = s.geometry
	p.process = func(img image.Image) image.Image {
		w, h, _ := s.geometry(img.Bounds().Dx(), img.Bounds().Dy(), types.Rational{})
		if w == img.Bounds().Dx() && h == img.Bounds().Dy() {
			return img
		}
		return transform.Resize(img, w, h, s.filter)
	}
	p.command = s.command
	return p, nil
}

// scale resizes the pictures; a negative dimension keeps the aspect
// ratio (-2 also rounds to an even value) and zero keeps the input one.
type scale struct {
	w, h   int
	filter transform.ResampleFilter
}

func (s *scale) geometry(w, h int, sar types.Rational) (int, int, types.Rational) {
	outW, outH := s.w, s.h
	if outW == 0 {
		outW = w
	}
	if outH == 0 {
		outH = h
	}
	if outW < 0 && outH < 0 {
		outW, outH = w, h
	}
	if outW < 0 && h > 0 {
		outW = roundTo(float64(w)*float64(outH)/float64(h), -s.w)
	}
	if outH < 0 && w > 0 {
		outH = roundTo(float64(h)*float64(outW)/float64(w), -s.h)
	}
	if sar.Valid() && w > 0 && h > 0 && outW > 0 && outH > 0 {
		// keep the display aspect ratio
		num := int64(outH) * int64(w) * int64(sar.Num)
		den := int64(outW) * int64(h) * int64(sar.Den)
		if r, ok := types.Reduce(num, den, math.MaxInt32); ok {
			sar = r
		}
	}
	return outW, outH, sar
}

func roundTo(v float64, multiple int) int {
	if multiple <= 1 {
		return int(math.Round(v))
	}
	return int(math.Round(v/float64(multiple))) * multiple
}

func (s *scale) command(cmd, arg string) (string, error) {
	v, err := strconv.Atoi(arg)
	if err != nil {
		return "", fmt.Errorf("invalid value '%s': %w", arg, types.ErrInvalidArgument)
	}
	switch cmd {
	case "w", "width":
		s.w = v
	case "h", "height":
		s.h = v
	default:
		return "", types.ErrNotImplemented{}
	}
	return "", nil
}

func newFlip(horizontal bool) func(string) (filterImpl, error) {
	return func(args string) (filterImpl, error) {
		if args != "" {
			return nil, fmt.Errorf("no options expected, got '%s': %w", args, types.ErrInvalidArgument)
		}
		fn := func(img image.Image) image.Image { return transform.FlipV(img) }
		if horizontal {
			fn = func(img image.Image) image.Image { return transform.FlipH(img) }
		}
		return &imageFilter{process: fn}, nil
	}
}

type transposeDir int

const (
	transposeCClockFlip = transposeDir(iota)
	transposeClock
	transposeCClock
	transposeClockFlip
)

func newTranspose(args string) (filterImpl, error) {
	opts, err := parseOptions(args, "dir", "passthrough")
	if err != nil {
		return nil, err
	}
	dir := transposeCClockFlip
	if v, ok := opts.lookup("dir"); ok {
		switch v {
		case "cclock_flip", "0":
			dir = transposeCClockFlip
		case "clock", "1":
			dir = transposeClock
		case "cclock", "2":
			dir = transposeCClock
		case "clock_flip", "3":
			dir = transposeClockFlip
		default:
			return nil, fmt.Errorf("invalid direction '%s': %w", v, types.ErrInvalidArgument)
		}
	}
	return &imageFilter{
		geometry: func(w, h int, sar types.Rational) (int, int, types.Rational) {
			if sar.Valid() {
				sar = sar.Inv()
			}
			return h, w, sar
		},
		process: func(img image.Image) image.Image {
			t := transposeImage(img)
			switch dir {
			case transposeClock:
				return transform.FlipH(t)
			case transposeCClock:
				return transform.FlipV(t)
			case transposeClockFlip:
				return transform.FlipV(transform.FlipH(t))
			}
			return t
		},
	}, nil
}

// transposeImage swaps the axes of the picture.
func transposeImage(img image.Image) *image.RGBA {
	src := toRGBA(img)
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.SetRGBA(y, x, src.RGBAAt(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// newRotate parses the angle either as radians or as "<degrees>*PI/180".
func newRotate(args string) (filterImpl, error) {
	opts, err := parseOptions(args, "angle", "a")
	if err != nil {
		return nil, err
	}
	expr, _ := opts.lookup("angle", "a")
	expr = strings.ReplaceAll(strings.ToUpper(expr), " ", "")
	var degrees float64
	if v, ok := strings.CutSuffix(expr, "*PI/180"); ok {
		degrees, err = strconv.ParseFloat(v, 64)
	} else {
		var radians float64
		radians, err = strconv.ParseFloat(expr, 64)
		degrees = radians * 180 / math.Pi
	}
	if err != nil {
		return nil, types.ErrNotImplemented{Err: fmt.Errorf("unsupported angle expression '%s'", expr)}
	}
	return &imageFilter{
		process: func(img image.Image) image.Image {
			return transform.Rotate(img, degrees, nil)
		},
	}, nil
}

func newBoxBlur(args string) (filterImpl, error) {
	opts, err := parseOptions(args, "luma_radius", "luma_power", "lr", "lp")
	if err != nil {
		return nil, err
	}
	radius, err := opts.float(2, "luma_radius", "lr")
	if err != nil {
		return nil, err
	}
	power, err := opts.int(2, "luma_power", "lp")
	if err != nil {
		return nil, err
	}
	if radius < 0 || power < 0 {
		return nil, fmt.Errorf("invalid radius %f or power %d: %w", radius, power, types.ErrInvalidArgument)
	}
	return &imageFilter{
		process: func(img image.Image) image.Image {
			for i := 0; i < power; i++ {
				img = blur.Box(img, radius)
			}
			return img
		},
	}, nil
}

func newGaussianBlur(args string) (filterImpl, error) {
	opts, err := parseOptions(args, "sigma", "steps")
	if err != nil {
		return nil, err
	}
	sigma, err := opts.float(0.5, "sigma")
	if err != nil {
		return nil, err
	}
	return &imageFilter{
		process: func(img image.Image) image.Image {
			return blur.Gaussian(img, sigma)
		},
		command: func(cmd, arg string) (string, error) {
			if cmd != "sigma" {
				return "", types.ErrNotImplemented{}
			}
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return "", fmt.Errorf("invalid sigma '%s': %w", arg, types.ErrInvalidArgument)
			}
			sigma = v
			return "", nil
		},
	}, nil
}

// eq adjusts the brightness, the contrast, the saturation and the gamma.
type eq struct {
	brightness float64
	contrast   float64
	saturation float64
	gamma      float64
}

func newEq(args string) (filterImpl, error) {
	opts, err := parseOptions(args, "contrast", "brightness", "saturation", "gamma")
	if err != nil {
		return nil, err
	}
	e := &eq{}
	if e.contrast, err = opts.float(1, "contrast"); err != nil {
		return nil, err
	}
	if e.brightness, err = opts.float(0, "brightness"); err != nil {
		return nil, err
	}
	if e.saturation, err = opts.float(1, "saturation"); err != nil {
		return nil, err
	}
	if e.gamma, err = opts.float(1, "gamma"); err != nil {
		return nil, err
	}
	return &imageFilter{process: e.process, command: e.command}, nil
}

func (e *eq) process(img image.Image) image.Image {
	if e.brightness != 0 {
		img = adjust.Brightness(img, clampFloat(e.brightness, -1, 1))
	}
	if e.contrast != 1 {
		img = adjust.Contrast(img, clampFloat(e.contrast-1, -1, 1))
	}
	if e.saturation != 1 {
		img = adjust.Saturation(img, clampFloat(e.saturation-1, -1, 2))
	}
	if e.gamma != 1 && e.gamma > 0 {
		img = adjust.Gamma(img, e.gamma)
	}
	return img
}

func (e *eq) command(cmd, arg string) (string, error) {
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return "", fmt.Errorf("invalid value '%s': %w", arg, types.ErrInvalidArgument)
	}
	switch cmd {
	case "brightness":
		e.brightness = v
	case "contrast":
		e.contrast = v
	case "saturation":
		e.saturation = v
	case "gamma":
		e.gamma = v
	default:
		return "", types.ErrNotImplemented{}
	}
	return "", nil
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func newNegate(args string) (filterImpl, error) {
	if args != "" {
		return nil, fmt.Errorf("no options expected, got '%s': %w", args, types.ErrInvalidArgument)
	}
	return &imageFilter{
		process: func(img image.Image) image.Image {
			return effect.Invert(img)
		},
	}, nil
}
