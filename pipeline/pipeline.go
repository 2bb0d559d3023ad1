// pipeline.go implements the context owning every stage of a transcoding job.

// Package pipeline builds a transcoding job from its configuration:
// it opens the inputs, creates the decoders, the filter graphs and the
// encoders, wires them through the scheduler and runs them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/avtranscode/config"
	"github.com/xaionaro-go/avtranscode/demux"
	"github.com/xaionaro-go/avtranscode/filtergraph"
	"github.com/xaionaro-go/avtranscode/gofilter"
	"github.com/xaionaro-go/avtranscode/helpers/closuresignaler"
	"github.com/xaionaro-go/avtranscode/libav"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/scheduler"
	"github.com/xaionaro-go/avtranscode/types"
	"github.com/xaionaro-go/observability"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// Backend implements the filters; nil picks the one named by
	// config.Config.FilterBackend.
	Backend filtergraph.Backend
	// NewEncoder creates the encoder of an output; nil means NullEncoder.
	NewEncoder func(ctx context.Context, ost *OutputStream) (Encoder, error)
	// Sink receives the muxed packets; nil drops them.
	Sink PacketSink
	// ErrorHandler is told about the error that stopped Run.
	ErrorHandler types.ErrorHandler
}

// Context owns every stage of a transcoding job.
type Context struct {
	Config    *config.Config
	Scheduler *scheduler.Scheduler
	Muxer     *Muxer
	Backend   filtergraph.Backend

	Inputs  []*InputFile
	Graphs  []*filtergraph.FilterGraph
	Outputs []*OutputStream

	ErrorHandler types.ErrorHandler

	closer          *astikit.Closer
	closureSignaler *closuresignaler.ClosureSignaler
	errorReported   atomic.Bool
	running         sync.WaitGroup
	startedAt       xatomic.Value[time.Time]
	finishedAt      xatomic.Value[time.Time]
}

// graphBuilder collects the pads of a filter graph before it is created.
type graphBuilder struct {
	cfg     filtergraph.Config
	outputs []*OutputStream
}

// New opens the inputs and builds the job; nothing runs until Run.
func New(
	ctx context.Context,
	cfg *config.Config,
	opener Opener,
	opts Options,
) (_ *Context, _err error) {
	logger.Debugf(ctx, "New")
	defer func() { logger.Debugf(ctx, "/New: %v", _err) }()

	c := &Context{
		Config:          cfg,
		Scheduler:       scheduler.New(),
		Muxer:           NewMuxer(opts.Sink),
		Backend:         opts.Backend,
		ErrorHandler:    opts.ErrorHandler,
		closer:          astikit.NewCloser(),
		closureSignaler: closuresignaler.New(),
	}
	defer func() {
		if _err != nil {
			c.Close(ctx)
		}
	}()
	if c.Backend == nil {
		switch cfg.FilterBackend {
		case config.FilterBackendGo:
			c.Backend = gofilter.NewBackend()
		default:
			c.Backend = libav.NewFilterBackend()
		}
	}
	newEncoder := opts.NewEncoder
	if newEncoder == nil {
		newEncoder = func(ctx context.Context, ost *OutputStream) (Encoder, error) {
			return NewNullEncoder(), nil
		}
	}

	if err := c.openInputs(ctx, opener); err != nil {
		return nil, err
	}

	outputs, err := c.resolveOutputs(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.openDecoders(ctx, opener, outputs); err != nil {
		return nil, err
	}

	builders, err := c.buildGraphs(ctx, outputs)
	if err != nil {
		return nil, err
	}
	for _, b := range builders {
		if err := c.addGraph(ctx, b, newEncoder); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Context) openInputs(ctx context.Context, opener Opener) error {
	for idx := range c.Config.Inputs {
		inCfg := &c.Config.Inputs[idx]
		ctx := logger.CtxWithInput(ctx, idx)
		reader, err := opener.OpenInput(ctx, idx, *inCfg)
		if err != nil {
			return types.ErrInput{InputIndex: idx, Err: fmt.Errorf("unable to open: %w", err)}
		}
		c.closer.AddWithError(func() error {
			return reader.Close(ctx)
		})
		c.Inputs = append(c.Inputs, &InputFile{
			Index:       idx,
			Config:      inCfg,
			Reader:      reader,
			Decoded:     make([]*DecodedStream, len(reader.Streams())),
			exitOnError: c.Config.ExitOnError,
		})
	}
	return nil
}

// streamRef is an input stream something consumes.
type streamRef struct {
	InputIdx  int
	StreamIdx int
}

// resolvedOutput is an output configuration bound to what feeds it.
type resolvedOutput struct {
	Config *config.OutputConfig
	// Source is set for the outputs fed by a simple graph.
	Source *streamRef
}

// matchStreams returns the streams of the input selected by spec,
// skipping the discarded ones.
func (c *Context) matchStreams(spec config.StreamSpecifier) []streamRef {
	in := c.Inputs[spec.InputIndex]
	discard := c.Config.DemuxConfig(spec.InputIndex, in.Reader.Streams()).Streams
	var result []streamRef
	typeCounts := map[types.MediaType]int{}
	for idx, info := range in.Reader.Streams() {
		typeIdx := typeCounts[info.MediaType]
		typeCounts[info.MediaType]++
		if discard[idx].Discard {
			continue
		}
		if spec.Matches(spec.InputIndex, idx, info.MediaType, typeIdx) {
			result = append(result, streamRef{InputIdx: spec.InputIndex, StreamIdx: idx})
		}
	}
	return result
}

// resolveOutputs expands the stream specifiers of the outputs: an
// output selecting several streams becomes one output per stream.
func (c *Context) resolveOutputs(ctx context.Context) ([]resolvedOutput, error) {
	var result []resolvedOutput
	for idx := range c.Config.Outputs {
		out := &c.Config.Outputs[idx]
		if out.Graph != nil {
			result = append(result, resolvedOutput{Config: out})
			continue
		}
		refs := c.matchStreams(*out.Stream)
		if len(refs) == 0 {
			if out.Optional {
				logger.Debugf(ctx, "stream specifier '%s' of output %d matches no streams; skipping it", out.Stream, idx)
				continue
			}
			return nil, fmt.Errorf("stream specifier '%s' of output %d matches no streams", out.Stream, idx)
		}
		for _, ref := range refs {
			result = append(result, resolvedOutput{Config: out, Source: &ref})
		}
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no output stream could be bound: %w", types.ErrInvalidArgument)
	}
	return result, nil
}

// openDecoders creates the demuxers and the decoders of the streams
// consumed by the outputs or by the complex graphs.
func (c *Context) openDecoders(ctx context.Context, opener Opener, outputs []resolvedOutput) error {
	needed := map[streamRef]struct{}{}
	for _, out := range outputs {
		if out.Source != nil {
			needed[*out.Source] = struct{}{}
		}
	}
	for graphIdx, g := range c.Config.FilterComplex {
		for _, in := range g.Inputs {
			refs := c.matchStreams(in.Stream)
			if len(refs) == 0 {
				return types.ErrFilterGraph{GraphIndex: graphIdx, Err: fmt.Errorf("stream specifier '%s' of input '%s' matches no streams", in.Stream, in.Label)}
			}
			needed[refs[0]] = struct{}{}
		}
	}

	copyPayload := c.Config.FilterBackend == config.FilterBackendGo
	for _, in := range c.Inputs {
		streams := in.Reader.Streams()
		demuxCfg := c.Config.DemuxConfig(in.Index, streams)
		for idx := range demuxCfg.Streams {
			if _, ok := needed[streamRef{InputIdx: in.Index, StreamIdx: idx}]; ok {
				demuxCfg.Streams[idx].DecodingNeeded = true
			} else {
				demuxCfg.Streams[idx].Discard = true
			}
		}
		ctx := logger.CtxWithInput(ctx, in.Index)
		logger.Debugf(ctx, "demuxer config: %s", spew.Sdump(demuxCfg))
		in.Demuxer = demux.New(ctx, in.Reader, demuxCfg)

		typeCounts := map[types.MediaType]int{}
		for idx, st := range in.Demuxer.Streams {
			typeIdx := typeCounts[st.Info.MediaType]
			typeCounts[st.Info.MediaType]++
			if !st.Config.DecodingNeeded {
				continue
			}
			decoder, err := opener.NewDecoder(ctx, in.Reader, idx, DecoderConfig{
				CodecName:   c.Config.DecoderName(in.Index, idx, st.Info.MediaType, typeIdx),
				ThreadCount: c.Config.DecoderThreads,
				CopyPayload: copyPayload,
			})
			if err != nil {
				return types.ErrInput{InputIndex: in.Index, Err: fmt.Errorf("unable to open the decoder of stream %s: %w", st, err)}
			}
			c.closer.AddWithError(func() error {
				return decoder.Close(ctx)
			})
			in.Decoded[idx] = &DecodedStream{
				Stream:     st,
				Decoder:    decoder,
				decoderIdx: c.Scheduler.AddDecoder(ctx),
				endTS:      types.Timestamp{TS: types.NoPTSValue},
			}
		}
	}
	return nil
}

func (c *Context) decodedStream(ref streamRef) *DecodedStream {
	return c.Inputs[ref.InputIdx].Decoded[ref.StreamIdx]
}

// buildGraphs lays out the complex graphs first and then one simple
// graph per output fed by an input stream.
func (c *Context) buildGraphs(ctx context.Context, outputs []resolvedOutput) ([]*graphBuilder, error) {
	var builders []*graphBuilder
	for _, g := range c.Config.FilterComplex {
		b := &graphBuilder{cfg: filtergraph.Config{
			Description:        g.Description,
			NbThreads:          c.Config.FilterComplexThreads,
			DisableAutoConvert: !c.Config.IsAutoConvert(),
		}}
		for _, in := range g.Inputs {
			ds := c.decodedStream(c.matchStreams(in.Stream)[0])
			b.cfg.Inputs = append(b.cfg.Inputs, filtergraph.InputConfig{
				Label:   in.Label,
				Stream:  ds.Stream,
				Options: c.Config.FilterInputOptions(in.Stream.InputIndex, ds.Stream.Config.FrameRate),
			})
		}
		builders = append(builders, b)
	}

	for _, out := range outputs {
		ost := &OutputStream{
			Index:  len(c.Outputs),
			Config: out.Config,
		}
		opts, err := out.Config.FilterOutputOptions(ost.Index)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", ost, err)
		}

		var (
			b                 *graphBuilder
			label             string
			singleStreamInput bool
		)
		switch {
		case out.Source != nil:
			ds := c.decodedStream(*out.Source)
			ost.MediaType = ds.Stream.Info.MediaType
			if ost.MediaType == types.MediaTypeSubtitle {
				ost.MediaType = types.MediaTypeVideo
			}
			singleStreamInput = len(c.Inputs[out.Source.InputIdx].Reader.Streams()) == 1
			b = &graphBuilder{cfg: filtergraph.Config{
				Description:        out.Config.Filter,
				Simple:             true,
				NbThreads:          c.Config.FilterThreads,
				DisableAutoConvert: !c.Config.IsAutoConvert(),
				Inputs: []filtergraph.InputConfig{{
					Stream:  ds.Stream,
					Options: c.Config.FilterInputOptions(out.Source.InputIdx, ds.Stream.Config.FrameRate),
				}},
			}}
			builders = append(builders, b)
		default:
			ost.MediaType = out.Config.Graph.MediaType
			label = out.Config.Graph.Label
			b = builders[out.Config.Graph.Index]
			for _, existing := range b.cfg.Outputs {
				if existing.Label == label {
					return nil, fmt.Errorf("output %s: the output '%s' of graph %d is already used", ost, label, out.Config.Graph.Index)
				}
			}
		}

		out.Config.ApplyMediaType(&opts, ost.MediaType)
		if ost.MediaType == types.MediaTypeVideo {
			opts.VSync = out.Config.ResolveVSync(opts.VSync, singleStreamInput, c.Config.CopyTS)
		}
		b.cfg.Outputs = append(b.cfg.Outputs, filtergraph.OutputConfig{
			Label:     label,
			MediaType: ost.MediaType,
			Options:   opts,
		})
		b.outputs = append(b.outputs, ost)
		c.Outputs = append(c.Outputs, ost)
	}
	return builders, nil
}

// addGraph creates the graph and its encoders and wires them through
// the scheduler.
func (c *Context) addGraph(
	ctx context.Context,
	b *graphBuilder,
	newEncoder func(ctx context.Context, ost *OutputStream) (Encoder, error),
) error {
	graphIdx := len(c.Graphs)
	if len(b.outputs) == 0 {
		return types.ErrFilterGraph{GraphIndex: graphIdx, Err: fmt.Errorf("no output uses the graph: %w", types.ErrInvalidArgument)}
	}
	fg, err := filtergraph.New(graphIdx, c.Backend, b.cfg)
	if err != nil {
		return types.ErrFilterGraph{GraphIndex: graphIdx, Err: err}
	}
	c.closer.AddWithError(func() error {
		return fg.Close(ctx)
	})
	c.Graphs = append(c.Graphs, fg)

	schIdx, err := c.Scheduler.AddFilterGraph(ctx, len(fg.Inputs), len(fg.Outputs), func(ctx context.Context, port *scheduler.FilterGraphPort) error {
		return fg.Run(ctx, port)
	})
	if err != nil {
		return types.ErrFilterGraph{GraphIndex: graphIdx, Err: err}
	}
	for inIdx, ifp := range fg.Inputs {
		st, ok := ifp.Stream.(*demux.Stream)
		if !ok {
			return types.ErrBug{Reason: fmt.Sprintf("input %d of graph %d is bound to %T", inIdx, graphIdx, ifp.Stream)}
		}
		ds := c.Inputs[st.InputIndex].Decoded[st.Index]
		if err := c.Scheduler.Connect(ctx, scheduler.Dec(ds.decoderIdx), scheduler.FilterIn(schIdx, inIdx)); err != nil {
			return types.ErrFilterGraph{GraphIndex: graphIdx, Err: err}
		}
	}

	for outIdx, ost := range b.outputs {
		ost.Filter = fg.Outputs[outIdx]
		ost.Encoder, err = newEncoder(ctx, ost)
		if err != nil {
			return fmt.Errorf("unable to create the encoder of output %s: %w", ost, err)
		}
		encoder := ost.Encoder
		c.closer.AddWithError(func() error {
			return encoder.Close(ctx)
		})
		ost.muxerIdx = c.Muxer.AddStream(ctx)
		ost.encoderIdx, err = c.Scheduler.AddEncoder(ctx, func(ctx context.Context) error {
			return ost.run(ctx, c.Scheduler, c.Muxer)
		})
		if err != nil {
			return fmt.Errorf("output %s: %w", ost, err)
		}
		if err := c.Scheduler.Connect(ctx, scheduler.FilterOut(schIdx, outIdx), scheduler.Enc(ost.encoderIdx)); err != nil {
			return fmt.Errorf("output %s: %w", ost, err)
		}
	}
	return nil
}

// Run executes the job until every output is finished. The first
// fatal error stops everything; it is reported once and returned.
func (c *Context) Run(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Run")
	defer func() { logger.Debugf(ctx, "/Run: %v", _err) }()
	if err := c.closureSignaler.Err(); err != nil {
		return fmt.Errorf("the job is already closed: %w", err)
	}
	c.running.Add(1)
	defer c.running.Done()

	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	observability.Go(ctx, func(ctx context.Context) {
		select {
		case <-c.closureSignaler.CloseChan():
			cancelFn()
		case <-ctx.Done():
		}
	})

	c.startedAt.Store(time.Now())
	defer func() { c.finishedAt.Store(time.Now()) }()

	schCtx, err := c.Scheduler.Start(ctx)
	if err != nil {
		return c.reportError(ctx, err)
	}

	var inputs errgroup.Group
	for _, in := range c.Inputs {
		inputs.Go(func() error {
			err := in.run(schCtx, c.Scheduler)
			if err != nil {
				cancelFn()
			}
			return err
		})
	}
	inputsErr := inputs.Wait()
	schErr := c.Scheduler.Wait()

	err = firstCause(inputsErr, schErr)
	if err == nil {
		err = c.Muxer.Flush(ctx)
	}
	if err != nil {
		return c.reportError(ctx, err)
	}
	return nil
}

// firstCause prefers the errors that are not a consequence of the
// cancellation caused by another error.
func firstCause(errs ...error) error {
	var canceled error
	for _, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			if canceled == nil {
				canceled = err
			}
		default:
			return err
		}
	}
	return canceled
}

func (c *Context) reportError(ctx context.Context, err error) error {
	if !c.errorReported.CompareAndSwap(false, true) {
		return err
	}
	if c.ErrorHandler != nil {
		return c.ErrorHandler.HandleError(ctx, err)
	}
	logger.Errorf(ctx, "%v", err)
	return err
}

// Close stops Run (if running), waits for it to return and releases
// everything.
func (c *Context) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	c.closureSignaler.Close(ctx)
	c.running.Wait()
	c.Scheduler.Free(ctx)
	c.Muxer.Close(ctx)
	return c.closer.Close()
}

// Summary returns a human-readable report of what was processed.
func (c *Context) Summary(ctx context.Context) string {
	var buf strings.Builder
	for _, in := range c.Inputs {
		if in.Demuxer != nil {
			buf.WriteString(in.Demuxer.Summary())
		}
	}
	stats := c.Muxer.Stats(ctx)
	buf.WriteString("Output:\n")
	for _, ost := range c.Outputs {
		var st types.StatisticsItem
		if ost.muxerIdx < len(stats) {
			st = stats[ost.muxerIdx]
		}
		buf.WriteString(ost.summary(st))
	}
	startedAt := c.startedAt.Load()
	switch finishedAt := c.finishedAt.Load(); {
	case !finishedAt.IsZero():
		fmt.Fprintf(&buf, "Finished in %s (started %s)\n",
			finishedAt.Sub(startedAt).Round(time.Millisecond), humanize.Time(startedAt))
	case !startedAt.IsZero():
		fmt.Fprintf(&buf, "Running for %s\n", time.Since(startedAt).Round(time.Millisecond))
	}
	return buf.String()
}
