// graph.go implements the graph construction and the scheduling of the filters.

// Package gofilter is a filter graph implementation in pure Go, working
// on the image.Image pictures and the planar float32 samples of the frames.
package gofilter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xaionaro-go/avtranscode/filtergraph"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/types"
)

type Backend struct{}

var _ filtergraph.Backend = (*Backend)(nil)

func NewBackend() *Backend {
	return &Backend{}
}

type padRef struct {
	node *node
	pad  int
}

func (b *Backend) NewGraph(
	ctx context.Context,
	cfg filtergraph.GraphConfig,
) (_ filtergraph.Graph, _err error) {
	logger.Debugf(ctx, "NewGraph: '%s'", cfg.Description)
	defer func() { logger.Debugf(ctx, "/NewGraph: %v", _err) }()

	chains, err := parseDescription(cfg.Description)
	if err != nil {
		return nil, err
	}

	g := &Graph{}
	var nodes []*node
	producers := map[string]padRef{}
	consumers := map[string]padRef{}
	addLabel := func(m map[string]padRef, label string, ref padRef) error {
		if _, ok := m[label]; ok {
			return fmt.Errorf("label '%s' is used more than once: %w", label, types.ErrInvalidArgument)
		}
		m[label] = ref
		return nil
	}

	for _, srcCfg := range cfg.Sources {
		n := &node{name: srcCfg.Label, filterName: "buffer", meta: true}
		src := &Source{graph: g, node: n}
		n.impl = &bufferSource{
			handle: src,
			params: linkParams{MediaType: srcCfg.MediaType, FrameParams: srcCfg.Params},
		}
		n.outputs = make([]*link, 1)
		if err := addLabel(producers, srcCfg.Label, padRef{n, 0}); err != nil {
			return nil, err
		}
		g.sources = append(g.sources, src)
		nodes = append(nodes, n)
	}
	for _, sinkCfg := range cfg.Sinks {
		n := &node{name: sinkCfg.Label, filterName: "buffersink", meta: true}
		n.impl = &bufferSink{mediaType: sinkCfg.MediaType}
		n.inputs = make([]*link, 1)
		if err := addLabel(consumers, sinkCfg.Label, padRef{n, 0}); err != nil {
			return nil, err
		}
		g.sinks = append(g.sinks, &Sink{graph: g, node: n})
		nodes = append(nodes, n)
	}

	parsedIdx := 0
	for _, chain := range chains {
		var (
			prev     *node
			prevPad  int
			prevName string
		)
		for fIdx, pf := range chain {
			def, ok := registry[pf.name]
			if !ok {
				return nil, fmt.Errorf("no such filter: '%s': %w", pf.name, types.ErrInvalidArgument)
			}
			impl, err := def.new(pf.args)
			if err != nil {
				return nil, fmt.Errorf("unable to initialize filter '%s' with args '%s': %w", pf.name, pf.args, err)
			}
			n := &node{
				name:       fmt.Sprintf("Parsed_%s_%d", pf.name, parsedIdx),
				filterName: pf.name,
				impl:       impl,
				meta:       def.meta,
				inputs:     make([]*link, impl.nbInputs()),
				outputs:    make([]*link, impl.nbOutputs()),
			}
			if pf.id != "" {
				n.name = pf.name + "@" + pf.id
			}
			parsedIdx++
			nodes = append(nodes, n)

			pad := 0
			for _, label := range pf.inLabels {
				if pad >= len(n.inputs) {
					return nil, fmt.Errorf("too many input labels for '%s': %w", n, types.ErrInvalidArgument)
				}
				if err := addLabel(consumers, label, padRef{n, pad}); err != nil {
					return nil, err
				}
				pad++
			}
			if prev != nil {
				if pad >= len(n.inputs) {
					return nil, fmt.Errorf("cannot link '%s' to '%s': no free input: %w", prevName, n, types.ErrInvalidArgument)
				}
				connect(prev, prevPad, n, pad)
				pad++
			}
			if pad < len(n.inputs) {
				return nil, fmt.Errorf("input pad %d of '%s' is not connected: %w", pad, n, types.ErrInvalidArgument)
			}

			pad = 0
			for _, label := range pf.outLabels {
				if pad >= len(n.outputs) {
					return nil, fmt.Errorf("too many output labels for '%s': %w", n, types.ErrInvalidArgument)
				}
				if err := addLabel(producers, label, padRef{n, pad}); err != nil {
					return nil, err
				}
				pad++
			}
			isLast := fIdx == len(chain)-1
			switch {
			case !isLast && pad >= len(n.outputs):
				return nil, fmt.Errorf("'%s' has no free output to link: %w", n, types.ErrInvalidArgument)
			case isLast && pad < len(n.outputs):
				return nil, fmt.Errorf("output pad %d of '%s' is not connected: %w", pad, n, types.ErrInvalidArgument)
			}
			prev, prevPad, prevName = n, pad, n.name
		}
	}

	for label, out := range producers {
		in, ok := consumers[label]
		if !ok {
			return nil, fmt.Errorf("output '%s' is not connected to anything: %w", label, types.ErrInvalidArgument)
		}
		connect(out.node, out.pad, in.node, in.pad)
		delete(consumers, label)
	}
	for label := range consumers {
		return nil, fmt.Errorf("input '%s' is not connected to anything: %w", label, types.ErrInvalidArgument)
	}

	g.nodes, err = topologicalSort(nodes)
	if err != nil {
		return nil, err
	}

	neg := &negotiation{disableAutoConvert: cfg.DisableAutoConvert}
	for _, n := range g.nodes {
		in := make([]linkParams, len(n.inputs))
		for i, l := range n.inputs {
			in[i] = l.params
		}
		out, err := n.impl.configure(ctx, neg, in)
		if err != nil {
			return nil, fmt.Errorf("unable to configure '%s': %w", n, err)
		}
		if len(out) != len(n.outputs) {
			return nil, types.ErrBug{Reason: fmt.Sprintf("'%s' configured %d outputs instead of %d", n, len(out), len(n.outputs))}
		}
		for i, l := range n.outputs {
			l.params = out[i]
		}
	}
	return g, nil
}

func connect(src *node, srcPad int, dst *node, dstPad int) {
	l := newLink(src, srcPad, dst, dstPad)
	src.outputs[srcPad] = l
	dst.inputs[dstPad] = l
}

// topologicalSort orders the nodes so that every node goes after its producers.
func topologicalSort(nodes []*node) ([]*node, error) {
	pending := map[*node]int{}
	var ready []*node
	for _, n := range nodes {
		pending[n] = len(n.inputs)
		if len(n.inputs) == 0 {
			ready = append(ready, n)
		}
	}
	result := make([]*node, 0, len(nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		result = append(result, n)
		for _, out := range n.outputs {
			pending[out.dst]--
			if pending[out.dst] == 0 {
				ready = append(ready, out.dst)
			}
		}
	}
	if len(result) != len(nodes) {
		return nil, fmt.Errorf("the graph contains a cycle: %w", types.ErrInvalidArgument)
	}
	return result, nil
}

// Graph is a configured filter graph. It is not safe for concurrent use.
type Graph struct {
	nodes   []*node
	sources []*Source
	sinks   []*Sink
}

var _ filtergraph.Graph = (*Graph)(nil)

func (g *Graph) Sources() []filtergraph.Source {
	result := make([]filtergraph.Source, len(g.sources))
	for i, src := range g.sources {
		result[i] = src
	}
	return result
}

func (g *Graph) Sinks() []filtergraph.Sink {
	result := make([]filtergraph.Sink, len(g.sinks))
	for i, sink := range g.sinks {
		result[i] = sink
	}
	return result
}

func (g *Graph) IsMeta() bool {
	for _, n := range g.nodes {
		if !n.meta {
			return false
		}
	}
	return true
}

func (g *Graph) HasSourceFilters() bool {
	for _, n := range g.nodes {
		if len(n.inputs) > 0 {
			continue
		}
		if _, ok := n.impl.(generator); ok {
			return true
		}
	}
	return false
}

// run activates the filters until nothing moves anymore.
func (g *Graph) run(ctx context.Context) error {
	for {
		progress := false
		for _, n := range g.nodes {
			p, err := n.impl.activate(ctx, n)
			if err != nil {
				return err
			}
			progress = progress || p
		}
		if !progress {
			return nil
		}
	}
}

func (g *Graph) RequestOldest(ctx context.Context) error {
	if err := g.run(ctx); err != nil {
		return err
	}
	for {
		allDone := true
		for _, sink := range g.sinks {
			in := sink.input()
			if len(in.queue) > 0 || (in.eof && !sink.eofReported) {
				return nil
			}
			if !in.eof {
				allDone = false
			}
		}
		if allDone {
			return io.EOF
		}

		var (
			srcs []*Source
			gens []*node
		)
		g.collectStarving(g.oldestSink().node, map[*node]struct{}{}, &srcs, &gens)

		progress := false
		for _, n := range gens {
			ok, err := n.impl.(generator).generate(ctx, n)
			if err != nil {
				return fmt.Errorf("%s: %w", n, err)
			}
			progress = progress || ok
		}
		if progress {
			if err := g.run(ctx); err != nil {
				return err
			}
			continue
		}

		if len(srcs) == 0 {
			return types.ErrBug{Reason: "a sink is starving but nothing can feed it"}
		}
		for _, src := range srcs {
			src.nbFailedRequests++
		}
		return types.ErrWouldBlock
	}
}

// oldestSink returns the unfinished sink with the lowest last timestamp.
func (g *Graph) oldestSink() *Sink {
	var (
		result  *Sink
		minTime float64
	)
	for _, sink := range g.sinks {
		in := sink.input()
		if in.eof {
			continue
		}
		t := -1.0
		if in.lastPTS != types.NoPTSValue {
			t = float64(in.lastPTS) * in.timeBase().Float64()
		}
		if result == nil || t < minTime {
			result, minTime = sink, t
		}
	}
	return result
}

func (g *Graph) collectStarving(
	n *node,
	visited map[*node]struct{},
	srcs *[]*Source,
	gens *[]*node,
) {
	if _, ok := visited[n]; ok {
		return
	}
	visited[n] = struct{}{}

	if src, ok := n.impl.(*bufferSource); ok {
		if !src.handle.output().eof {
			*srcs = append(*srcs, src.handle)
		}
		return
	}
	waits := n.waitsOn()
	if len(waits) == 0 {
		if _, ok := n.impl.(generator); ok {
			*gens = append(*gens, n)
		}
		return
	}
	for _, pad := range waits {
		g.collectStarving(n.inputs[pad].src, visited, srcs, gens)
	}
}

func (g *Graph) SendCommand(
	ctx context.Context,
	target, cmd, arg string,
	allFilters bool,
) (string, error) {
	var responses []string
	handled := false
	for _, n := range g.nodes {
		if !n.matches(target) {
			continue
		}
		c, ok := n.impl.(commander)
		if !ok {
			continue
		}
		resp, err := c.processCommand(ctx, n, cmd, arg)
		if err != nil {
			var errNotImplemented types.ErrNotImplemented
			if errors.As(err, &errNotImplemented) {
				continue
			}
			return "", fmt.Errorf("%s: %w", n, err)
		}
		handled = true
		if resp != "" {
			responses = append(responses, resp)
		}
		if !allFilters {
			break
		}
	}
	if !handled {
		return "", types.ErrNotImplemented{Err: fmt.Errorf("no filter '%s' accepts the command '%s'", target, cmd)}
	}
	return strings.Join(responses, "\n"), nil
}

func (g *Graph) QueueCommand(
	ctx context.Context,
	target, cmd, arg string,
	allFilters bool,
	t float64,
) error {
	for _, n := range g.nodes {
		if !n.matches(target) {
			continue
		}
		if _, ok := n.impl.(commander); !ok {
			continue
		}
		n.commands = append(n.commands, queuedCommand{cmd: cmd, arg: arg, time: t})
		sort.SliceStable(n.commands, func(i, j int) bool {
			return n.commands[i].time < n.commands[j].time
		})
		if !allFilters {
			break
		}
	}
	return nil
}

func (g *Graph) Close(ctx context.Context) error {
	for _, n := range g.nodes {
		for _, l := range n.outputs {
			l.free()
		}
	}
	return nil
}

// Source is a graph input.
type Source struct {
	graph            *Graph
	node             *node
	nbFailedRequests int
}

var _ filtergraph.Source = (*Source)(nil)

func (s *Source) output() *link {
	return s.node.outputs[0]
}

func (s *Source) PushFrame(ctx context.Context, f *frame.Frame) error {
	out := s.output()
	switch {
	case out.closed:
		f.Free()
		return io.EOF
	case out.eof:
		f.Free()
		return fmt.Errorf("%s: a frame after EOF: %w", s.node, types.ErrInvalidArgument)
	}
	out.push(f)
	return s.graph.run(ctx)
}

func (s *Source) Close(ctx context.Context, pts int64) error {
	s.output().setEOF(pts)
	return s.graph.run(ctx)
}

func (s *Source) NbFailedRequests() int {
	return s.nbFailedRequests
}

// Sink is a graph output.
type Sink struct {
	graph       *Graph
	node        *node
	eofReported bool
}

var _ filtergraph.Sink = (*Sink)(nil)

func (s *Sink) input() *link {
	return s.node.inputs[0]
}

func (s *Sink) PullFrame(ctx context.Context) (*frame.Frame, error) {
	in := s.input()
	if f := in.pop(); f != nil {
		return f, nil
	}
	if in.eof {
		s.eofReported = true
		return nil, io.EOF
	}
	return nil, types.ErrWouldBlock
}

func (s *Sink) Params() filtergraph.FrameParams {
	return s.input().params.FrameParams
}

type bufferSource struct {
	handle *Source
	params linkParams
}

func (*bufferSource) nbInputs() int  { return 0 }
func (*bufferSource) nbOutputs() int { return 1 }

func (s *bufferSource) configure(context.Context, *negotiation, []linkParams) ([]linkParams, error) {
	return []linkParams{s.params}, nil
}

func (*bufferSource) activate(context.Context, *node) (bool, error) {
	return false, nil
}

type bufferSink struct {
	mediaType types.MediaType
}

func (*bufferSink) nbInputs() int  { return 1 }
func (*bufferSink) nbOutputs() int { return 0 }

func (s *bufferSink) configure(_ context.Context, _ *negotiation, in []linkParams) ([]linkParams, error) {
	if in[0].MediaType != s.mediaType {
		return nil, fmt.Errorf("media type mismatch: the sink expects %s, got %s: %w", s.mediaType, in[0].MediaType, types.ErrInvalidArgument)
	}
	return nil, nil
}

func (*bufferSink) activate(context.Context, *node) (bool, error) {
	return false, nil
}
