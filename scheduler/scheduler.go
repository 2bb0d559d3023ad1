// scheduler.go implements the routing of frames between decoders, filter graphs and encoders.

// Package scheduler connects decoders, filter graphs and encoders with
// bounded queues and runs the graph and encoder tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/msgqueue"
	"github.com/xaionaro-go/avtranscode/types"
	"github.com/xaionaro-go/xsync"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultFilterQueueSize  = 8
	DefaultEncoderQueueSize = 8
)

type graphMessage struct {
	InputIdx int
	Input    FilterInput
}

func freeGraphMessage(msg graphMessage) {
	msg.Input.Free()
}

type decoderState struct {
	dsts []Endpoint
}

type graphInputState struct {
	connected bool
	eof       bool
	finished  bool
}

type graphState struct {
	nbOutputs int
	queue     *msgqueue.Queue[graphMessage]
	inputs    []graphInputState
	nbDone    int
	outputs   []int
	run       func(ctx context.Context, port *FilterGraphPort) error
}

type encoderState struct {
	queue     *msgqueue.Queue[*frame.Frame]
	connected bool
	run       func(ctx context.Context) error
}

type Scheduler struct {
	FilterQueueSize  int
	EncoderQueueSize int

	locker   xsync.Mutex
	decoders []*decoderState
	graphs   []*graphState
	encoders []*encoderState

	errGroup *errgroup.Group
}

func New() *Scheduler {
	return &Scheduler{
		FilterQueueSize:  DefaultFilterQueueSize,
		EncoderQueueSize: DefaultEncoderQueueSize,
	}
}

// AddDecoder registers a frame producer and returns its index.
func (s *Scheduler) AddDecoder(ctx context.Context) int {
	return xsync.DoR1(ctx, &s.locker, func() int {
		s.decoders = append(s.decoders, &decoderState{})
		return len(s.decoders) - 1
	})
}

// AddFilterGraph registers a filter graph task and returns its index.
func (s *Scheduler) AddFilterGraph(
	ctx context.Context,
	nbInputs, nbOutputs int,
	run func(ctx context.Context, port *FilterGraphPort) error,
) (int, error) {
	queueSize := s.FilterQueueSize * max(nbInputs, 1)
	queue, err := msgqueue.New(queueSize, freeGraphMessage)
	if err != nil {
		return -1, fmt.Errorf("unable to allocate the filter graph queue: %w", err)
	}
	outputs := make([]int, nbOutputs)
	for idx := range outputs {
		outputs[idx] = -1
	}
	return xsync.DoR1(ctx, &s.locker, func() int {
		s.graphs = append(s.graphs, &graphState{
			nbOutputs: nbOutputs,
			queue:     queue,
			inputs:    make([]graphInputState, nbInputs),
			outputs:   outputs,
			run:       run,
		})
		return len(s.graphs) - 1
	}), nil
}

// AddEncoder registers a frame consumer task and returns its index.
func (s *Scheduler) AddEncoder(
	ctx context.Context,
	run func(ctx context.Context) error,
) (int, error) {
	queue, err := msgqueue.New(s.EncoderQueueSize, (*frame.Frame).Free)
	if err != nil {
		return -1, fmt.Errorf("unable to allocate the encoder queue: %w", err)
	}
	return xsync.DoR1(ctx, &s.locker, func() int {
		s.encoders = append(s.encoders, &encoderState{
			queue: queue,
			run:   run,
		})
		return len(s.encoders) - 1
	}), nil
}

// Connect routes the frames of src to dst. Supported links are
// decoder to filter input and filter output to encoder.
func (s *Scheduler) Connect(ctx context.Context, src, dst Endpoint) error {
	return xsync.DoR1(ctx, &s.locker, func() error {
		return s.connectLocked(src, dst)
	})
}

func (s *Scheduler) connectLocked(src, dst Endpoint) error {
	switch {
	case src.Type == EndpointTypeDecoder && dst.Type == EndpointTypeFilterIn:
		if src.Idx < 0 || src.Idx >= len(s.decoders) {
			return fmt.Errorf("decoder %d: %w", src.Idx, types.ErrInvalidArgument)
		}
		in, err := s.graphInputLocked(dst)
		if err != nil {
			return err
		}
		if in.connected {
			return fmt.Errorf("%s is already connected", dst)
		}
		in.connected = true
		dec := s.decoders[src.Idx]
		dec.dsts = append(dec.dsts, dst)
		return nil
	case src.Type == EndpointTypeFilterOut && dst.Type == EndpointTypeEncoder:
		if src.Idx < 0 || src.Idx >= len(s.graphs) {
			return fmt.Errorf("filter graph %d: %w", src.Idx, types.ErrInvalidArgument)
		}
		g := s.graphs[src.Idx]
		if src.SubIdx < 0 || src.SubIdx >= g.nbOutputs {
			return fmt.Errorf("%s: %w", src, types.ErrInvalidArgument)
		}
		if dst.Idx < 0 || dst.Idx >= len(s.encoders) {
			return fmt.Errorf("encoder %d: %w", dst.Idx, types.ErrInvalidArgument)
		}
		enc := s.encoders[dst.Idx]
		if enc.connected || g.outputs[src.SubIdx] >= 0 {
			return fmt.Errorf("%s -> %s: already connected", src, dst)
		}
		enc.connected = true
		g.outputs[src.SubIdx] = dst.Idx
		return nil
	default:
		return fmt.Errorf("unsupported link %s -> %s: %w", src, dst, types.ErrInvalidArgument)
	}
}

func (s *Scheduler) graphInputLocked(e Endpoint) (*graphInputState, error) {
	if e.Idx < 0 || e.Idx >= len(s.graphs) {
		return nil, fmt.Errorf("filter graph %d: %w", e.Idx, types.ErrInvalidArgument)
	}
	g := s.graphs[e.Idx]
	if e.SubIdx < 0 || e.SubIdx >= len(g.inputs) {
		return nil, fmt.Errorf("%s: %w", e, types.ErrInvalidArgument)
	}
	return &g.inputs[e.SubIdx], nil
}

// Start validates the topology and spawns the filter graph and
// encoder tasks. The returned context is canceled as soon as any
// task fails.
func (s *Scheduler) Start(ctx context.Context) (_ context.Context, _err error) {
	logger.Debugf(ctx, "Start")
	defer func() { logger.Debugf(ctx, "/Start: %v", _err) }()

	var (
		graphs   []*graphState
		encoders []*encoderState
	)
	err := xsync.DoR1(ctx, &s.locker, func() error {
		if s.errGroup != nil {
			return fmt.Errorf("already started")
		}
		for gIdx, g := range s.graphs {
			for inIdx, in := range g.inputs {
				if !in.connected {
					return fmt.Errorf("%s is not connected", FilterIn(gIdx, inIdx))
				}
			}
			for outIdx, encIdx := range g.outputs {
				if encIdx < 0 {
					return fmt.Errorf("%s is not connected", FilterOut(gIdx, outIdx))
				}
			}
		}
		for encIdx, enc := range s.encoders {
			if !enc.connected {
				return fmt.Errorf("%s is not connected", Enc(encIdx))
			}
		}
		graphs = s.graphs
		encoders = s.encoders
		return nil
	})
	if err != nil {
		return ctx, err
	}

	errGroup, ctx := errgroup.WithContext(ctx)
	s.locker.Do(ctx, func() {
		s.errGroup = errGroup
	})
	for gIdx, g := range graphs {
		port := &FilterGraphPort{Scheduler: s, GraphIndex: gIdx}
		errGroup.Go(func() error {
			ctx := logger.CtxWithGraph(ctx, gIdx)
			err := g.run(ctx, port)
			s.graphDone(ctx, gIdx)
			if err != nil {
				return types.ErrFilterGraph{GraphIndex: gIdx, Err: err}
			}
			return nil
		})
	}
	for encIdx, enc := range encoders {
		errGroup.Go(func() error {
			err := enc.run(ctx)
			s.EncFinish(ctx, encIdx)
			if err != nil {
				return fmt.Errorf("encoder %d: %w", encIdx, err)
			}
			return nil
		})
	}
	return ctx, nil
}

// Wait waits for all tasks to finish and returns the first failure.
func (s *Scheduler) Wait() error {
	errGroup := xsync.DoR1(context.Background(), &s.locker, func() *errgroup.Group {
		return s.errGroup
	})
	if errGroup == nil {
		return nil
	}
	return errGroup.Wait()
}

// graphDone makes the producers of a finished graph stop blocking on it
// and terminates the encoders it was feeding.
func (s *Scheduler) graphDone(ctx context.Context, graphIdx int) {
	g := s.graphs[graphIdx]
	g.queue.SetErrSend(ctx, io.EOF)
	g.queue.Flush(ctx)
	for _, encIdx := range g.outputs {
		s.encoders[encIdx].queue.SetErrRecv(ctx, io.EOF)
	}
}

// DecSend delivers a frame to every destination of the decoder.
// The frame is always consumed. io.EOF is returned once none of the
// destinations accepts frames anymore.
func (s *Scheduler) DecSend(ctx context.Context, decIdx int, f *frame.Frame) error {
	defer f.Free()
	return s.decSend(ctx, decIdx, func() FilterInput {
		return FilterInput{Frame: f.Ref()}
	})
}

// DecSendHeartbeat tells the subtitle destinations of the decoder
// that the stream progressed to pts without new content.
func (s *Scheduler) DecSendHeartbeat(
	ctx context.Context,
	decIdx int,
	pts int64,
	tb types.Rational,
) error {
	return s.decSend(ctx, decIdx, func() FilterInput {
		f := frame.New()
		f.MediaType = types.MediaTypeSubtitle
		f.PTS = pts
		f.TimeBase = tb
		return FilterInput{Frame: f, Heartbeat: true}
	})
}

// DecSendEOF closes the decoder: every destination receives an
// end-of-stream message carrying the end timestamp of the stream.
func (s *Scheduler) DecSendEOF(ctx context.Context, decIdx int, ts types.Timestamp) error {
	err := s.decSend(ctx, decIdx, func() FilterInput {
		return FilterInput{EOF: true, EOFTimestamp: ts}
	})
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Scheduler) decSend(
	ctx context.Context,
	decIdx int,
	newInput func() FilterInput,
) error {
	dsts := xsync.DoR1(ctx, &s.locker, func() []Endpoint {
		return s.decoders[decIdx].dsts
	})
	var nbSent int
	for _, dst := range dsts {
		in := newInput()
		err := s.filterInputSend(ctx, dst, in)
		switch {
		case err == nil:
			nbSent++
		case errors.Is(err, io.EOF):
		default:
			return err
		}
	}
	if nbSent == 0 {
		return io.EOF
	}
	return nil
}

func (s *Scheduler) filterInputSend(ctx context.Context, dst Endpoint, in FilterInput) error {
	g := s.graphs[dst.Idx]
	accepted := xsync.DoR1(ctx, &s.locker, func() bool {
		st := &g.inputs[dst.SubIdx]
		return !st.eof && !st.finished
	})
	if !accepted {
		in.Free()
		return io.EOF
	}

	if err := g.queue.Send(ctx, graphMessage{InputIdx: dst.SubIdx, Input: in}, true); err != nil {
		in.Free()
		if errors.Is(err, io.EOF) || errors.Is(err, msgqueue.ErrFreed) {
			return io.EOF
		}
		return err
	}

	if in.EOF {
		s.markInputDone(ctx, dst.Idx, dst.SubIdx, true)
	}
	return nil
}

func (s *Scheduler) markInputDone(ctx context.Context, graphIdx, inputIdx int, eof bool) {
	g := s.graphs[graphIdx]
	allDone := xsync.DoR1(ctx, &s.locker, func() bool {
		st := &g.inputs[inputIdx]
		wasDone := st.eof || st.finished
		if eof {
			st.eof = true
		} else {
			st.finished = true
		}
		if wasDone {
			return false
		}
		g.nbDone++
		return g.nbDone == len(g.inputs)
	})
	if allDone {
		g.queue.SetErrRecv(ctx, io.EOF)
	}
}

// FilterCommand queues a runtime command for the filter graph.
func (s *Scheduler) FilterCommand(ctx context.Context, graphIdx int, cmd FilterCommand) error {
	g := s.graphs[graphIdx]
	return g.queue.Send(ctx, graphMessage{
		InputIdx: len(g.inputs),
		Input:    FilterInput{Command: &cmd},
	}, true)
}

// EncReceive returns the next frame for the encoder, or io.EOF once
// its source graph output was closed.
func (s *Scheduler) EncReceive(ctx context.Context, encIdx int) (*frame.Frame, error) {
	f, err := s.encoders[encIdx].queue.Recv(ctx, true)
	if errors.Is(err, msgqueue.ErrFreed) {
		return nil, io.EOF
	}
	return f, err
}

// EncFinish tells the source graph that the encoder does not accept
// frames anymore.
func (s *Scheduler) EncFinish(ctx context.Context, encIdx int) {
	enc := s.encoders[encIdx]
	enc.queue.SetErrSend(ctx, io.EOF)
	enc.queue.Flush(ctx)
}

// Free releases every frame still queued.
func (s *Scheduler) Free(ctx context.Context) {
	for _, g := range s.graphs {
		g.queue.Free(ctx)
	}
	for _, enc := range s.encoders {
		enc.queue.Free(ctx)
	}
}
