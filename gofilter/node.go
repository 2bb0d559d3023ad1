package gofilter

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/types"
)

// filterImpl is the behavior of a single filter instance.
type filterImpl interface {
	nbInputs() int
	nbOutputs() int

	// configure returns the parameters of the outputs given
	// those of the inputs.
	configure(ctx context.Context, cfg *negotiation, in []linkParams) ([]linkParams, error)

	// activate moves the data from the inputs to the outputs.
	// It returns true if anything happened.
	activate(ctx context.Context, n *node) (bool, error)
}

// needer is implemented by filters that do not simply wait on their first input.
type needer interface {
	// needs returns the indexes of the inputs the filter waits on.
	needs(n *node) []int
}

// generator is implemented by filters that produce data on request.
type generator interface {
	// generate produces some output. It returns false if
	// there is nothing to produce right now.
	generate(ctx context.Context, n *node) (bool, error)
}

type commander interface {
	processCommand(ctx context.Context, n *node, cmd, arg string) (string, error)
}

type queuedCommand struct {
	cmd  string
	arg  string
	time float64
}

// negotiation carries the graph-wide settings used while configuring the filters.
type negotiation struct {
	disableAutoConvert bool
}

type node struct {
	// name is the instance name: either the explicit id
	// ("scale@big") or "Parsed_<filter>_<index>".
	name       string
	filterName string
	impl       filterImpl
	meta       bool

	inputs  []*link
	outputs []*link

	commands []queuedCommand
}

func (n *node) String() string {
	return n.name
}

// matches returns true if the command target designates the node.
func (n *node) matches(target string) bool {
	return target == "all" || target == n.name || target == n.filterName
}

// finish sends EOF downstream and releases the inputs.
func (n *node) finish(eofPTS int64, tb types.Rational) {
	for _, out := range n.outputs {
		pts := eofPTS
		if pts != types.NoPTSValue && tb != out.timeBase() {
			pts = types.RescaleQ(pts, tb, out.timeBase())
		}
		out.setEOF(pts)
	}
	for _, in := range n.inputs {
		in.close()
	}
}

func (n *node) finished() bool {
	for _, out := range n.outputs {
		if !out.eof {
			return false
		}
	}
	return len(n.outputs) > 0
}

// waitsOn returns the inputs the node needs to make progress.
func (n *node) waitsOn() []int {
	if needer, ok := n.impl.(needer); ok {
		return needer.needs(n)
	}
	if len(n.inputs) == 0 || !n.inputs[0].starving() {
		return nil
	}
	return []int{0}
}

// runQueuedCommands executes the queued commands due at the
// timestamp of the given frame.
func (n *node) runQueuedCommands(ctx context.Context, f *frame.Frame, tb types.Rational) {
	if len(n.commands) == 0 || f == nil || f.PTS == types.NoPTSValue {
		return
	}
	t := float64(f.PTS) * tb.Float64()
	for len(n.commands) > 0 && n.commands[0].time <= t {
		c := n.commands[0]
		n.commands = n.commands[1:]
		commander, ok := n.impl.(commander)
		if !ok {
			continue
		}
		if _, err := commander.processCommand(ctx, n, c.cmd, c.arg); err != nil {
			logger.Warnf(ctx, "%s: unable to process the queued command '%s %s': %v", n, c.cmd, c.arg, err)
		}
	}
}

// frameFilter is a one-input one-output filter that maps every frame
// independently.
type frameFilter interface {
	// filterFrame takes the ownership of f. It may return nil to
	// drop the frame, or call n.finish to end the stream.
	filterFrame(ctx context.Context, n *node, f *frame.Frame) (*frame.Frame, error)
}

// eofMapper is implemented by the frame filters that shift the timestamps.
type eofMapper interface {
	mapEOF(pts int64) int64
}

func activateSimple(ctx context.Context, n *node, ff frameFilter) (bool, error) {
	in, out := n.inputs[0], n.outputs[0]
	if out.eof {
		return false, nil
	}
	progress := false
	for f := in.pop(); f != nil; f = in.pop() {
		progress = true
		n.runQueuedCommands(ctx, f, in.timeBase())
		res, err := ff.filterFrame(ctx, n, f)
		if err != nil {
			return progress, fmt.Errorf("%s: %w", n, err)
		}
		if res != nil {
			out.push(res)
		}
		if out.eof {
			return true, nil
		}
	}
	if in.eof {
		pts := in.eofPTS
		if m, ok := ff.(eofMapper); ok && pts != types.NoPTSValue {
			pts = m.mapEOF(pts)
		}
		n.finish(pts, in.timeBase())
		progress = true
	}
	return progress, nil
}

// derivedFrame returns a new frame with the properties of f and no payload.
func derivedFrame(f *frame.Frame) *frame.Frame {
	out := frame.New()
	out.CopyProps(f)
	return out
}

func checkMediaType(in linkParams, expected types.MediaType) error {
	if in.MediaType != expected {
		return fmt.Errorf("media type mismatch: expected %s, got %s: %w", expected, in.MediaType, types.ErrInvalidArgument)
	}
	return nil
}
