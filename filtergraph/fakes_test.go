package filtergraph

import (
	"context"
	"io"
	"testing"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/scheduler"
	"github.com/xaionaro-go/avtranscode/types"
)

func testCtx(t *testing.T) context.Context {
	l := logrus.Default().WithLevel(logger.LevelDebug)
	ctx := logger.CtxWithLogger(context.Background(), l)
	t.Cleanup(func() { belt.Flush(ctx) })
	return ctx
}

type fakeStream struct {
	mediaType     types.MediaType
	timeBase      types.Rational
	frameRate     types.Rational
	autorotate    bool
	reinitFilters bool
}

var _ InputStream = (*fakeStream)(nil)

func (s *fakeStream) String() string                  { return "fake:" + s.mediaType.String() }
func (s *fakeStream) GetMediaType() types.MediaType   { return s.mediaType }
func (s *fakeStream) GetTimeBase() types.Rational     { return s.timeBase }
func (s *fakeStream) GetFrameRate() types.Rational    { return s.frameRate }
func (s *fakeStream) IsAutorotate() bool              { return s.autorotate }
func (s *fakeStream) IsReinitFilters() bool           { return s.reinitFilters }
func (s *fakeStream) IsFixSubDurationHeartbeat() bool { return false }
func (s *fakeStream) IsDecodingNeeded() bool          { return true }

// fakeBackend builds passthrough graphs: source i feeds sink i.
type fakeBackend struct {
	configs []GraphConfig
	graphs  []*fakeGraph
}

func (b *fakeBackend) NewGraph(ctx context.Context, cfg GraphConfig) (Graph, error) {
	b.configs = append(b.configs, cfg)
	g := &fakeGraph{}
	for idx, src := range cfg.Sources {
		g.sources = append(g.sources, &fakeSource{graph: g, idx: idx, params: src.Params})
	}
	for idx := range cfg.Sinks {
		sink := &fakeSink{}
		if idx < len(cfg.Sources) {
			sink.params = cfg.Sources[idx].Params
		}
		g.sinks = append(g.sinks, sink)
	}
	b.graphs = append(b.graphs, g)
	return g, nil
}

type fakeCommand struct {
	target, cmd, arg string
}

type fakeGraph struct {
	sources  []*fakeSource
	sinks    []*fakeSink
	commands []fakeCommand
	closed   bool
}

func (g *fakeGraph) Sources() []Source {
	result := make([]Source, 0, len(g.sources))
	for _, src := range g.sources {
		result = append(result, src)
	}
	return result
}

func (g *fakeGraph) Sinks() []Sink {
	result := make([]Sink, 0, len(g.sinks))
	for _, sink := range g.sinks {
		result = append(result, sink)
	}
	return result
}

func (g *fakeGraph) IsMeta() bool           { return true }
func (g *fakeGraph) HasSourceFilters() bool { return false }

func (g *fakeGraph) RequestOldest(ctx context.Context) error {
	allEOF := true
	for _, sink := range g.sinks {
		if len(sink.queue) > 0 {
			return nil
		}
		if !sink.eof {
			allEOF = false
		}
	}
	if allEOF {
		return io.EOF
	}
	for _, src := range g.sources {
		if !src.closed {
			src.failed++
		}
	}
	return types.ErrWouldBlock
}

func (g *fakeGraph) SendCommand(ctx context.Context, target, cmd, arg string, allFilters bool) (string, error) {
	g.commands = append(g.commands, fakeCommand{target: target, cmd: cmd, arg: arg})
	return "ok", nil
}

func (g *fakeGraph) QueueCommand(ctx context.Context, target, cmd, arg string, allFilters bool, t float64) error {
	g.commands = append(g.commands, fakeCommand{target: target, cmd: cmd, arg: arg})
	return nil
}

func (g *fakeGraph) Close(ctx context.Context) error {
	g.closed = true
	for _, sink := range g.sinks {
		for _, f := range sink.queue {
			f.Free()
		}
		sink.queue = nil
	}
	return nil
}

type fakeSource struct {
	graph  *fakeGraph
	idx    int
	params FrameParams
	closed bool
	failed int
	pushed []int64
}

func (s *fakeSource) PushFrame(ctx context.Context, f *frame.Frame) error {
	if s.closed {
		f.Free()
		return io.EOF
	}
	s.pushed = append(s.pushed, f.PTS)
	if s.graph == nil || s.idx >= len(s.graph.sinks) {
		f.Free()
		return nil
	}
	sink := s.graph.sinks[s.idx]
	sink.queue = append(sink.queue, f)
	return nil
}

func (s *fakeSource) Close(ctx context.Context, pts int64) error {
	s.closed = true
	if s.graph != nil && s.idx < len(s.graph.sinks) {
		s.graph.sinks[s.idx].eof = true
	}
	return nil
}

func (s *fakeSource) NbFailedRequests() int {
	return s.failed
}

type fakeSink struct {
	params FrameParams
	queue  []*frame.Frame
	eof    bool
}

func (s *fakeSink) PullFrame(ctx context.Context) (*frame.Frame, error) {
	if len(s.queue) > 0 {
		f := s.queue[0]
		s.queue = s.queue[1:]
		return f, nil
	}
	if s.eof {
		return nil, io.EOF
	}
	return nil, types.ErrWouldBlock
}

func (s *fakeSink) Params() FrameParams {
	return s.params
}

type fakeMessage struct {
	inputIdx int
	input    scheduler.FilterInput
}

type sentFrame struct {
	pts        int64
	timeBase   types.Rational
	width      int
	paramsOnly bool
}

// fakeScheduler replays a scripted sequence of messages regardless of
// the input the graph asks for.
type fakeScheduler struct {
	script   []fakeMessage
	finished []int
	sent     map[int][]sentFrame
	eof      map[int]int
}

func newFakeScheduler(script ...fakeMessage) *fakeScheduler {
	return &fakeScheduler{
		script: script,
		sent:   map[int][]sentFrame{},
		eof:    map[int]int{},
	}
}

func (s *fakeScheduler) FilterReceive(ctx context.Context, inputIdx int) (int, scheduler.FilterInput, error) {
	if len(s.script) == 0 {
		return -1, scheduler.FilterInput{}, io.EOF
	}
	msg := s.script[0]
	s.script = s.script[1:]
	return msg.inputIdx, msg.input, nil
}

func (s *fakeScheduler) FilterReceiveFinish(ctx context.Context, inputIdx int) {
	s.finished = append(s.finished, inputIdx)
}

func (s *fakeScheduler) FilterSend(ctx context.Context, outputIdx int, f *frame.Frame) error {
	if f == nil {
		s.eof[outputIdx]++
		return nil
	}
	s.sent[outputIdx] = append(s.sent[outputIdx], sentFrame{
		pts:        f.PTS,
		timeBase:   f.TimeBase,
		width:      f.Width,
		paramsOnly: f.Flags.Has(frame.FlagParamsOnly),
	})
	f.Free()
	return nil
}

func (s *fakeScheduler) sentPTS(outputIdx int) []int64 {
	var result []int64
	for _, f := range s.sent[outputIdx] {
		result = append(result, f.pts)
	}
	return result
}

func newVideoFrame(pts int64, tb types.Rational, w, h int) *frame.Frame {
	f := frame.New()
	f.MediaType = types.MediaTypeVideo
	f.Format = "yuv420p"
	f.Width = w
	f.Height = h
	f.SampleAspectRatio = types.NewRational(1, 1)
	f.PTS = pts
	f.Duration = 1
	f.TimeBase = tb
	return f
}

func frameMsg(inputIdx int, f *frame.Frame) fakeMessage {
	return fakeMessage{inputIdx: inputIdx, input: scheduler.FilterInput{Frame: f}}
}

func eofMsg(inputIdx int) fakeMessage {
	return fakeMessage{inputIdx: inputIdx, input: scheduler.FilterInput{EOF: true}}
}
