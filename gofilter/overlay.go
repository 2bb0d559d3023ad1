package gofilter

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"strconv"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

// overlay draws the second input on top of the first one. Every main
// picture is combined with the latest overlay picture not newer than it;
// after the overlay input ends its last picture is repeated.
type overlay struct {
	x, y     int
	shortest bool

	current *frame.Frame
}

func newOverlay(args string) (filterImpl, error) {
	opts, err := parseOptions(args, "x", "y", "eof_action", "shortest", "format", "eval", "repeatlast")
	if err != nil {
		return nil, err
	}
	o := &overlay{}
	if o.x, err = opts.int(0, "x"); err != nil {
		return nil, err
	}
	if o.y, err = opts.int(0, "y"); err != nil {
		return nil, err
	}
	if v, ok := opts.lookup("shortest"); ok {
		if o.shortest, err = parseBool(v); err != nil {
			return nil, err
		}
	}
	if v, ok := opts.lookup("eof_action"); ok {
		switch v {
		case "repeat", "0":
		case "endall", "1":
			o.shortest = true
		default:
			return nil, types.ErrNotImplemented{Err: fmt.Errorf("eof_action '%s'", v)}
		}
	}
	return o, nil
}

func (*overlay) nbInputs() int  { return 2 }
func (*overlay) nbOutputs() int { return 1 }

func (o *overlay) configure(_ context.Context, _ *negotiation, in []linkParams) ([]linkParams, error) {
	for _, p := range in {
		if err := checkMediaType(p, types.MediaTypeVideo); err != nil {
			return nil, err
		}
	}
	return []linkParams{in[0]}, nil
}

func (o *overlay) needs(n *node) []int {
	main, over := n.inputs[0], n.inputs[1]
	if main.starving() {
		return []int{0}
	}
	if main.peek() != nil && over.starving() {
		return []int{1}
	}
	return nil
}

func (o *overlay) activate(ctx context.Context, n *node) (bool, error) {
	main, over, out := n.inputs[0], n.inputs[1], n.outputs[0]
	if out.eof {
		return false, nil
	}
	progress := false
	for f := main.peek(); f != nil; f = main.peek() {
		for next := over.peek(); next != nil; next = over.peek() {
			if f.PTS != types.NoPTSValue && next.PTS != types.NoPTSValue &&
				types.CompareTS(next.PTS, over.timeBase(), f.PTS, main.timeBase()) > 0 {
				break
			}
			o.current.Free()
			o.current = over.pop()
			progress = true
		}
		if over.peek() == nil && !over.eof {
			break
		}
		if over.drained() && o.shortest {
			n.finish(f.PTS, main.timeBase())
			return true, nil
		}

		main.pop()
		progress = true
		n.runQueuedCommands(ctx, f, main.timeBase())
		out.push(o.blend(f))
	}
	if main.drained() {
		n.finish(main.eofPTS, main.timeBase())
		o.current.Free()
		o.current = nil
		progress = true
	}
	return progress, nil
}

func (o *overlay) blend(f *frame.Frame) *frame.Frame {
	if o.current == nil || o.current.Image == nil || f.Image == nil {
		return f
	}
	out := derivedFrame(f)
	dst := image.NewRGBA(f.Image.Bounds())
	draw.Draw(dst, dst.Bounds(), f.Image, f.Image.Bounds().Min, draw.Src)
	over := o.current.Image
	r := over.Bounds().Sub(over.Bounds().Min).Add(dst.Bounds().Min).Add(image.Pt(o.x, o.y))
	draw.Draw(dst, r, over, over.Bounds().Min, draw.Over)
	setImage(out, convertImage(dst, f.Format))
	f.Free()
	return out
}

func (o *overlay) processCommand(_ context.Context, _ *node, cmd, arg string) (string, error) {
	v, err := strconv.Atoi(arg)
	if err != nil {
		return "", fmt.Errorf("invalid value '%s': %w", arg, types.ErrInvalidArgument)
	}
	switch cmd {
	case "x":
		o.x = v
	case "y":
		o.y = v
	default:
		return "", types.ErrNotImplemented{}
	}
	return "", nil
}
