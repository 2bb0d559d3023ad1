// filtergraph.go implements the filter graph object and its (re)configuration.

// Package filtergraph drives a filter graph: it negotiates the formats
// of its inputs lazily, (re)configures the graph when the input
// parameters change and converts the filtered frames to the timing the
// encoders expect.
package filtergraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/scheduler"
	"github.com/xaionaro-go/avtranscode/types"
)

// Scheduler is the part of the scheduler a running graph talks to.
type Scheduler interface {
	FilterReceive(ctx context.Context, inputIdx int) (int, scheduler.FilterInput, error)
	FilterReceiveFinish(ctx context.Context, inputIdx int)
	FilterSend(ctx context.Context, outputIdx int, f *frame.Frame) error
}

type InputConfig struct {
	// Label is the pad name in the description; ignored for simple graphs.
	Label   string
	Stream  InputStream
	Options InputOptions
}

type OutputConfig struct {
	// Label is the pad name in the description; ignored for simple graphs.
	Label     string
	MediaType types.MediaType
	Options   OutputOptions
}

type Config struct {
	// Description is the graph in the filter graph syntax. A simple
	// graph has exactly one input and one output and its description
	// is a linear chain without pad labels (empty means passthrough).
	Description        string
	Simple             bool
	NbThreads          int
	HWDevice           any
	// DisableAutoConvert stops the backend from inserting format
	// conversions between the filters.
	DisableAutoConvert bool

	Inputs  []InputConfig
	Outputs []OutputConfig
}

type FilterGraph struct {
	Index       int
	Description string
	IsSimple    bool
	NbThreads   int
	HWDevice    any
	Backend     Backend

	Inputs  []*InputFilter
	Outputs []*OutputFilter

	disableAutoConvert bool
	hasAPad            bool
	hasSourceFilters   bool
	isMeta             bool
	nbOutputsDone      int

	// the state below is owned by the goroutine executing Run
	sch    Scheduler
	graph  Graph
	eofIn  []bool
	eofOut []bool
	nextIn int
}

func New(
	idx int,
	backend Backend,
	cfg Config,
) (*FilterGraph, error) {
	if cfg.Simple && (len(cfg.Inputs) != 1 || len(cfg.Outputs) != 1) {
		return nil, fmt.Errorf(
			"a simple filter graph must have exactly one input and one output, got %d and %d: %w",
			len(cfg.Inputs), len(cfg.Outputs), types.ErrInvalidArgument,
		)
	}
	fg := &FilterGraph{
		Index:       idx,
		Description: cfg.Description,
		IsSimple:    cfg.Simple,
		NbThreads:   cfg.NbThreads,
		HWDevice:    cfg.HWDevice,
		Backend:     backend,
		eofIn:       make([]bool, len(cfg.Inputs)),
		eofOut:      make([]bool, len(cfg.Outputs)),

		disableAutoConvert: cfg.DisableAutoConvert,
	}
	for inIdx, in := range cfg.Inputs {
		label := in.Label
		if cfg.Simple {
			label = "in"
		}
		if label == "" {
			return nil, fmt.Errorf("input %d of a complex filter graph has no label: %w", inIdx, types.ErrInvalidArgument)
		}
		if in.Stream == nil {
			return nil, fmt.Errorf("input %d is not bound to a stream: %w", inIdx, types.ErrInvalidArgument)
		}
		fg.Inputs = append(fg.Inputs, newInputFilter(inIdx, label, in.Stream, in.Options))
	}
	for outIdx, out := range cfg.Outputs {
		label := out.Label
		if cfg.Simple {
			label = "out"
		}
		if label == "" {
			return nil, fmt.Errorf("output %d of a complex filter graph has no label: %w", outIdx, types.ErrInvalidArgument)
		}
		ofp := newOutputFilter(outIdx, label, out.MediaType, out.Options)
		if out.Options.KeepPixFmt {
			fg.disableAutoConvert = true
		}
		if out.MediaType == types.MediaTypeAudio && out.Options.APad != "" {
			fg.hasAPad = true
		}
		fg.Outputs = append(fg.Outputs, ofp)
	}
	return fg, nil
}

func (fg *FilterGraph) String() string {
	return fmt.Sprintf("graph %d (%s)", fg.Index, fg.Description)
}

// IsMeta returns true if the currently configured graph does not
// touch the frame data.
func (fg *FilterGraph) IsMeta() bool {
	return fg.isMeta
}

func (fg *FilterGraph) haveSources() bool {
	return fg.hasAPad || fg.hasSourceFilters
}

func (fg *FilterGraph) hasAllInputFormats() bool {
	for _, ifp := range fg.Inputs {
		if !ifp.Params.IsFormatKnown() {
			return false
		}
	}
	return true
}

func (fg *FilterGraph) body() string {
	if !fg.IsSimple {
		return fg.Description
	}
	mediaType := fg.Inputs[0].MediaType
	desc := strings.TrimSpace(fg.Description)
	if desc == "" {
		desc = passthroughFilter(mediaType)
	}
	return fmt.Sprintf("[%s]%s[%s]", fg.Inputs[0].Label, desc, fg.Outputs[0].Label)
}

func (fg *FilterGraph) cleanup(ctx context.Context) {
	for _, ifp := range fg.Inputs {
		ifp.source = nil
	}
	for _, ofp := range fg.Outputs {
		ofp.sink = nil
	}
	if fg.graph == nil {
		return
	}
	if err := fg.graph.Close(ctx); err != nil {
		logger.Warnf(ctx, "unable to close the filter graph: %v", err)
	}
	fg.graph = nil
}

// configure builds the graph from scratch using the currently
// negotiated input parameters.
func (fg *FilterGraph) configure(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "configure")
	defer func() { logger.Debugf(ctx, "/configure: %v", _err) }()

	fg.cleanup(ctx)
	defer func() {
		if _err != nil {
			fg.cleanup(ctx)
		}
	}()

	cfg := GraphConfig{
		NbThreads:          fg.NbThreads,
		HWDevice:           fg.HWDevice,
		DisableAutoConvert: fg.disableAutoConvert,
	}
	var links []string
	for _, ifp := range fg.Inputs {
		label := sourceLabel(ifp.Index)
		cfg.Sources = append(cfg.Sources, SourceConfig{
			Label:     label,
			MediaType: ifp.MediaType,
			Params:    ifp.Params,
		})
		links = append(links, linkString(label, ifp.inputChain(), ifp.MediaType, ifp.Label))
		if ifp.isSubtitle() {
			ifp.sub2video.prepare()
		}
	}
	links = append(links, fg.body())
	for _, ofp := range fg.Outputs {
		label := sinkLabel(ofp.Index)
		cfg.Sinks = append(cfg.Sinks, SinkConfig{
			Label:     label,
			MediaType: ofp.MediaType,
		})
		links = append(links, linkString(ofp.Label, ofp.outputChain(), ofp.MediaType, label))
	}
	cfg.Description = strings.Join(links, ";")
	logger.Debugf(ctx, "filter graph description: %s", cfg.Description)

	graph, err := fg.Backend.NewGraph(ctx, cfg)
	if err != nil {
		return fmt.Errorf("unable to configure the filter graph '%s': %w", cfg.Description, err)
	}
	fg.graph = graph

	sources, sinks := graph.Sources(), graph.Sinks()
	if len(sources) != len(fg.Inputs) || len(sinks) != len(fg.Outputs) {
		return types.ErrBug{Reason: fmt.Sprintf(
			"the backend returned %d sources and %d sinks, expected %d and %d",
			len(sources), len(sinks), len(fg.Inputs), len(fg.Outputs),
		)}
	}
	for idx, ifp := range fg.Inputs {
		ifp.source = sources[idx]
	}
	for idx, ofp := range fg.Outputs {
		ofp.sink = sinks[idx]
	}
	fg.isMeta = graph.IsMeta()
	fg.hasSourceFilters = graph.HasSourceFilters()

	// restrict the later configurations to what was negotiated now
	for _, ofp := range fg.Outputs {
		p := ofp.sink.Params()
		ofp.Params.Format = p.Format
		ofp.Params.Width = p.Width
		ofp.Params.Height = p.Height
		if !ofp.tbOutLocked {
			if ofp.fps.frameRate.Num <= 0 && ofp.fps.frameRate.Den <= 0 && p.FrameRate.Valid() {
				ofp.fps.frameRate = p.FrameRate
			}
			ofp.TimeBaseOut = p.TimeBase
		}
		ofp.Params.SampleAspectRatio = p.SampleAspectRatio
		ofp.Params.SampleRate = p.SampleRate
		ofp.Params.ChannelLayout = p.ChannelLayout
	}

	for _, ifp := range fg.Inputs {
		for _, f := range ifp.takeQueue() {
			if ifp.isSubtitle() {
				fg.sub2videoFrame(ctx, ifp, f, false)
				continue
			}
			if err := fg.pushFrame(ctx, ifp, f); err != nil {
				ifp.freeQueue()
				return err
			}
		}
	}

	haveInputEOF := false
	for idx, ifp := range fg.Inputs {
		if !fg.eofIn[idx] {
			continue
		}
		if err := ifp.source.Close(ctx, types.NoPTSValue); err != nil {
			return fmt.Errorf("unable to close %s: %w", ifp, err)
		}
		haveInputEOF = true
	}
	if haveInputEOF {
		// make sure the EOF propagates to the end of the graph
		err := graph.RequestOldest(ctx)
		if err != nil && !errors.Is(err, types.ErrWouldBlock) && !errors.Is(err, io.EOF) {
			return err
		}
	}
	return nil
}

// Close releases the graph and every buffered frame.
func (fg *FilterGraph) Close(ctx context.Context) error {
	fg.cleanup(ctx)
	for _, ifp := range fg.Inputs {
		ifp.freeQueue()
		if ifp.sub2video != nil {
			ifp.sub2video.free()
		}
	}
	for _, ofp := range fg.Outputs {
		ofp.freeState()
	}
	return nil
}
