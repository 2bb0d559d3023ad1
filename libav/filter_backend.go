// filter_backend.go implements filtergraph.Backend on top of libavfilter.

package libav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/xaionaro-go/avtranscode/filtergraph"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/types"
)

// FilterBackend builds the filter graphs with libavfilter.
type FilterBackend struct {
	// CopyPayload exposes the filtered pictures and samples as Go values.
	CopyPayload bool
}

var _ filtergraph.Backend = (*FilterBackend)(nil)

func NewFilterBackend() *FilterBackend {
	return &FilterBackend{}
}

type queuedCommand struct {
	target, cmd, arg string
	allFilters       bool
	time             float64
}

type filterGraph struct {
	backend    *FilterBackend
	closer     *astikit.Closer
	graph      *astiav.FilterGraph
	sources    []*filterSource
	sinks      []*filterSink
	hasSources bool
	isMeta     bool
	commands   []queuedCommand
}

var _ filtergraph.Graph = (*filterGraph)(nil)

func (b *FilterBackend) NewGraph(
	ctx context.Context,
	cfg filtergraph.GraphConfig,
) (_ filtergraph.Graph, _err error) {
	logger.Debugf(ctx, "NewGraph(ctx, '%s')", cfg.Description)
	defer func() { logger.Debugf(ctx, "/NewGraph(ctx, '%s'): %v", cfg.Description, _err) }()

	g := &filterGraph{
		backend: b,
		closer:  astikit.NewCloser(),
	}
	defer func() {
		if _err != nil {
			g.closer.Close()
		}
	}()

	g.graph = astiav.AllocFilterGraph()
	if g.graph == nil {
		return nil, types.ErrOutOfMemory{Err: fmt.Errorf("unable to allocate a filter graph")}
	}
	g.closer.Add(g.graph.Free)
	if cfg.NbThreads > 0 {
		g.graph.SetThreadCount(cfg.NbThreads)
	}

	var outputs, inputs *astiav.FilterInOut
	defer func() {
		if outputs != nil {
			outputs.Free()
		}
		if inputs != nil {
			inputs.Free()
		}
	}()

	for idx, srcCfg := range cfg.Sources {
		src, err := g.newSource(ctx, idx, srcCfg)
		if err != nil {
			return nil, fmt.Errorf("unable to create source '%s': %w", srcCfg.Label, err)
		}
		o := astiav.AllocFilterInOut()
		if o == nil {
			return nil, types.ErrOutOfMemory{Err: fmt.Errorf("unable to allocate a filter in/out")}
		}
		o.SetName(srcCfg.Label)
		o.SetFilterContext(src.ctx.FilterContext())
		o.SetPadIdx(0)
		o.SetNext(outputs)
		outputs = o
		g.sources = append(g.sources, src)
	}

	for idx, sinkCfg := range cfg.Sinks {
		sink, err := g.newSink(ctx, idx, sinkCfg)
		if err != nil {
			return nil, fmt.Errorf("unable to create sink '%s': %w", sinkCfg.Label, err)
		}
		i := astiav.AllocFilterInOut()
		if i == nil {
			return nil, types.ErrOutOfMemory{Err: fmt.Errorf("unable to allocate a filter in/out")}
		}
		i.SetName(sinkCfg.Label)
		i.SetFilterContext(sink.ctx.FilterContext())
		i.SetPadIdx(0)
		i.SetNext(inputs)
		inputs = i
		g.sinks = append(g.sinks, sink)
	}

	if err := g.graph.Parse(cfg.Description, inputs, outputs); err != nil {
		return nil, fmt.Errorf("unable to parse filter string '%s': %w", cfg.Description, err)
	}
	if err := g.graph.Configure(); err != nil {
		return nil, fmt.Errorf("unable to configure filter graph: %w", err)
	}

	g.hasSources, g.isMeta = inspectDescription(ctx, cfg.Description)
	for _, sink := range g.sinks {
		sink.updateParams()
	}
	return g, nil
}

// metaFilters never touch the frame data.
var metaFilters = map[string]struct{}{
	"null": {}, "anull": {}, "setpts": {}, "asetpts": {}, "settb": {}, "asettb": {},
	"trim": {}, "atrim": {}, "split": {}, "asplit": {}, "fps": {},
}

// inspectDescription reports whether the description contains
// filters without inputs (generators) and whether all of its filters
// are metadata-only.
func inspectDescription(ctx context.Context, desc string) (hasSources, isMeta bool) {
	isMeta = true
	tmp := astiav.AllocFilterGraph()
	if tmp == nil {
		return false, false
	}
	defer tmp.Free()
	segment, err := tmp.ParseSegment(desc)
	if err != nil {
		logger.Debugf(ctx, "unable to parse the segment '%s': %v", desc, err)
		return false, false
	}
	defer segment.Free()
	for _, chain := range segment.Chains() {
		for _, params := range chain.Filters() {
			name := params.FilterName()
			if _, ok := metaFilters[name]; !ok {
				isMeta = false
			}
			f := astiav.FindFilterByName(name)
			if f != nil && len(f.Inputs()) == 0 {
				hasSources = true
			}
		}
	}
	return hasSources, isMeta
}

func (g *filterGraph) Sources() []filtergraph.Source {
	result := make([]filtergraph.Source, 0, len(g.sources))
	for _, src := range g.sources {
		result = append(result, src)
	}
	return result
}

func (g *filterGraph) Sinks() []filtergraph.Sink {
	result := make([]filtergraph.Sink, 0, len(g.sinks))
	for _, sink := range g.sinks {
		result = append(result, sink)
	}
	return result
}

func (g *filterGraph) IsMeta() bool {
	return g.isMeta
}

func (g *filterGraph) HasSourceFilters() bool {
	return g.hasSources
}

// RequestOldest pulls from every unfinished sink: libavfilter requests
// the missing input by itself while serving a pull.
func (g *filterGraph) RequestOldest(ctx context.Context) error {
	nbEOF := 0
	for _, sink := range g.sinks {
		if sink.pending != nil {
			return nil
		}
		if sink.eof {
			nbEOF++
			continue
		}
		err := sink.fetch(ctx, astiav.NewBuffersinkFlags())
		switch {
		case err == nil:
			return nil
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, types.ErrWouldBlock):
		default:
			return err
		}
	}
	if nbEOF == len(g.sinks) {
		return io.EOF
	}
	for _, src := range g.sources {
		if !src.closed {
			src.nbFailedRequests++
		}
	}
	return types.ErrWouldBlock
}

func (g *filterGraph) SendCommand(
	ctx context.Context,
	target, cmd, arg string,
	allFilters bool,
) (_ string, _err error) {
	logger.Debugf(ctx, "SendCommand(ctx, '%s', '%s', '%s', %v)", target, cmd, arg, allFilters)
	defer func() { logger.Debugf(ctx, "/SendCommand(ctx, '%s', '%s', '%s', %v): %v", target, cmd, arg, allFilters, _err) }()
	flags := astiav.NewFilterCommandFlags()
	if !allFilters {
		flags = flags.Add(astiav.FilterCommandFlagOne)
	}
	resp, err := g.graph.SendCommand(target, cmd, arg, flags)
	if errors.Is(err, astiav.ErrEnosys) {
		return "", types.ErrNotImplemented{Err: err}
	}
	return resp, err
}

// QueueCommand delays the command until a frame with a timestamp at or
// past t is pushed to any source.
func (g *filterGraph) QueueCommand(
	ctx context.Context,
	target, cmd, arg string,
	allFilters bool,
	t float64,
) error {
	g.commands = append(g.commands, queuedCommand{target: target, cmd: cmd, arg: arg, allFilters: allFilters, time: t})
	sort.SliceStable(g.commands, func(i, j int) bool {
		return g.commands[i].time < g.commands[j].time
	})
	return nil
}

func (g *filterGraph) runQueuedCommands(ctx context.Context, t float64) {
	for len(g.commands) > 0 && g.commands[0].time <= t {
		c := g.commands[0]
		g.commands = g.commands[1:]
		if _, err := g.SendCommand(ctx, c.target, c.cmd, c.arg, c.allFilters); err != nil {
			logger.Warnf(ctx, "command '%s %s %s' failed: %v", c.target, c.cmd, c.arg, err)
		}
	}
}

func (g *filterGraph) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close()")
	for _, sink := range g.sinks {
		sink.pending.Free()
		sink.pending = nil
	}
	return g.closer.Close()
}

type filterSource struct {
	graph            *filterGraph
	ctx              *astiav.BuffersrcFilterContext
	timeBase         types.Rational
	closed           bool
	nbFailedRequests int
}

var _ filtergraph.Source = (*filterSource)(nil)

func (g *filterGraph) newSource(
	ctx context.Context,
	idx int,
	cfg filtergraph.SourceConfig,
) (*filterSource, error) {
	params := astiav.AllocBuffersrcFilterContextParameters()
	defer params.Free()
	p := cfg.Params

	var filterName string
	switch cfg.MediaType {
	case types.MediaTypeVideo:
		filterName = "buffer"
		format, ok := pixelFormatByName(p.Format)
		if !ok {
			return nil, types.ErrNotImplemented{Err: fmt.Errorf("pixel format '%s'", p.Format)}
		}
		params.SetPixelFormat(format)
		params.SetWidth(p.Width)
		params.SetHeight(p.Height)
		params.SetSampleAspectRatio(rationalToAstiav(p.SampleAspectRatio))
		if p.FrameRate.Valid() {
			params.SetFramerate(rationalToAstiav(p.FrameRate))
		}
	case types.MediaTypeAudio:
		filterName = "abuffer"
		format, ok := sampleFormatByName(p.Format)
		if !ok {
			return nil, types.ErrNotImplemented{Err: fmt.Errorf("sample format '%s'", p.Format)}
		}
		layout, ok := channelLayoutToAstiav(p.ChannelLayout)
		if !ok {
			return nil, types.ErrNotImplemented{Err: fmt.Errorf("channel layout '%s'", p.ChannelLayout)}
		}
		params.SetSampleFormat(format)
		params.SetSampleRate(p.SampleRate)
		params.SetChannelLayout(layout)
	default:
		return nil, types.ErrNotImplemented{Err: fmt.Errorf("%s sources", cfg.MediaType)}
	}
	params.SetTimeBase(rationalToAstiav(p.TimeBase))

	filter := astiav.FindFilterByName(filterName)
	if filter == nil {
		return nil, fmt.Errorf("unable to find the filter '%s'", filterName)
	}
	srcCtx, err := g.graph.NewBuffersrcFilterContext(filter, fmt.Sprintf("graph_src_%d", idx))
	if err != nil {
		return nil, fmt.Errorf("unable to create buffersrc context: %w", err)
	}
	if err := srcCtx.SetParameters(params); err != nil {
		return nil, fmt.Errorf("unable to set buffersrc parameters: %w", err)
	}
	if err := srcCtx.Initialize(nil); err != nil {
		return nil, fmt.Errorf("unable to initialize buffersrc: %w", err)
	}
	logger.Debugf(ctx, "source %d: %s", idx, p)
	return &filterSource{graph: g, ctx: srcCtx, timeBase: p.TimeBase}, nil
}

func (s *filterSource) PushFrame(ctx context.Context, f *frame.Frame) error {
	defer f.Free()
	if s.closed {
		return io.EOF
	}
	if f.PTS != types.NoPTSValue && s.timeBase.Valid() {
		s.graph.runQueuedCommands(ctx, float64(f.PTS)*s.timeBase.Float64())
	}
	avf, err := frameToAstiav(f)
	if err != nil {
		return err
	}
	defer avf.Free()
	if err := s.ctx.AddFrame(avf, astiav.NewBuffersrcFlags(astiav.BuffersrcFlagKeepRef)); err != nil {
		return fmt.Errorf("unable to add a frame to the buffersrc: %w", err)
	}
	return nil
}

// Close ends the input at pts. Without a pts libavfilter derives the
// end timestamp from the last frame itself.
func (s *filterSource) Close(ctx context.Context, pts int64) error {
	if s.closed {
		return nil
	}
	s.closed = true
	logger.Debugf(ctx, "closing the source at %s", types.TSString(pts))
	var err error
	if pts == types.NoPTSValue {
		err = s.ctx.AddFrame(nil, astiav.NewBuffersrcFlags())
	} else {
		err = buffersrcClose(s.ctx, pts)
	}
	if err != nil {
		return fmt.Errorf("unable to close the buffersrc: %w", err)
	}
	return nil
}

func (s *filterSource) NbFailedRequests() int {
	return s.nbFailedRequests
}

type filterSink struct {
	graph     *filterGraph
	ctx       *astiav.BuffersinkFilterContext
	mediaType types.MediaType
	params    filtergraph.FrameParams
	pending   *frame.Frame
	eof       bool
}

var _ filtergraph.Sink = (*filterSink)(nil)

func (g *filterGraph) newSink(
	_ context.Context,
	idx int,
	cfg filtergraph.SinkConfig,
) (*filterSink, error) {
	var filterName string
	switch cfg.MediaType {
	case types.MediaTypeVideo:
		filterName = "buffersink"
	case types.MediaTypeAudio:
		filterName = "abuffersink"
	default:
		return nil, types.ErrNotImplemented{Err: fmt.Errorf("%s sinks", cfg.MediaType)}
	}
	filter := astiav.FindFilterByName(filterName)
	if filter == nil {
		return nil, fmt.Errorf("unable to find the filter '%s'", filterName)
	}
	sinkCtx, err := g.graph.NewBuffersinkFilterContext(filter, fmt.Sprintf("graph_sink_%d", idx))
	if err != nil {
		return nil, fmt.Errorf("unable to create buffersink context: %w", err)
	}
	return &filterSink{graph: g, ctx: sinkCtx, mediaType: cfg.MediaType}, nil
}

func (s *filterSink) updateParams() {
	s.params = filtergraph.FrameParams{
		TimeBase:  rationalFromAstiav(s.ctx.TimeBase()),
		FrameRate: rationalFromAstiav(s.ctx.FrameRate()),
	}
	switch s.mediaType {
	case types.MediaTypeVideo:
		s.params.Format = s.ctx.PixelFormat().String()
		s.params.Width = s.ctx.Width()
		s.params.Height = s.ctx.Height()
		s.params.SampleAspectRatio = rationalFromAstiav(s.ctx.SampleAspectRatio())
	case types.MediaTypeAudio:
		s.params.Format = s.ctx.SampleFormat().Name()
		s.params.SampleRate = s.ctx.SampleRate()
		s.params.ChannelLayout = channelLayoutFromAstiav(s.ctx.ChannelLayout())
	}
}

// fetch moves the next frame of the buffersink into pending.
func (s *filterSink) fetch(ctx context.Context, flags astiav.BuffersinkFlags) error {
	avf := astiav.AllocFrame()
	if avf == nil {
		return types.ErrOutOfMemory{Err: fmt.Errorf("unable to allocate a frame")}
	}
	err := s.ctx.GetFrame(avf, flags)
	switch {
	case err == nil:
	case errors.Is(err, astiav.ErrEagain):
		avf.Free()
		return types.ErrWouldBlock
	case errors.Is(err, astiav.ErrEof):
		avf.Free()
		s.eof = true
		return io.EOF
	default:
		avf.Free()
		return fmt.Errorf("unable to get a frame from the buffersink: %w", err)
	}
	s.pending = frameFromAstiav(ctx, avf, s.mediaType, s.params.TimeBase, s.graph.backend.CopyPayload)
	return nil
}

func (s *filterSink) PullFrame(ctx context.Context) (*frame.Frame, error) {
	if s.pending == nil {
		if s.eof {
			return nil, io.EOF
		}
		if err := s.fetch(ctx, astiav.NewBuffersinkFlags(astiav.BuffersinkFlagNoRequest)); err != nil {
			return nil, err
		}
	}
	f := s.pending
	s.pending = nil
	return f, nil
}

func (s *filterSink) Params() filtergraph.FrameParams {
	return s.params
}

func (s *filterSink) String() string {
	return fmt.Sprintf("sink(%s)", s.params)
}
