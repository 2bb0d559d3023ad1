package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/msgqueue"
	"github.com/xaionaro-go/avtranscode/types"
	"github.com/xaionaro-go/xsync"
)

// FilterGraphPort is the view of the scheduler a filter graph task
// works with.
type FilterGraphPort struct {
	Scheduler  *Scheduler
	GraphIndex int
}

func (p *FilterGraphPort) graph() *graphState {
	return p.Scheduler.graphs[p.GraphIndex]
}

// NbInputs is also the index of the control input.
func (p *FilterGraphPort) NbInputs() int {
	return len(p.graph().inputs)
}

func (p *FilterGraphPort) NbOutputs() int {
	return p.graph().nbOutputs
}

// FilterReceive returns the next message for the graph together with
// the index of the input it arrived on (NbInputs() for commands).
//
// inputIdx is the input the graph needs data from: messages of that
// input (and commands) are served first, and the call waits for one of
// them while other inputs only have data buffered. Once the queue is
// full, or the input is done, the oldest message of any input is
// returned instead. If inputIdx equals NbInputs() the graph has nothing
// to wait for and the call returns types.ErrWouldBlock instead of
// waiting. io.EOF is returned once all inputs are finished and drained.
func (p *FilterGraphPort) FilterReceive(
	ctx context.Context,
	inputIdx int,
) (int, FilterInput, error) {
	g := p.graph()
	msg, err := g.queue.RecvMatching(ctx, inputIdx < len(g.inputs), p.inputMatcher(ctx, inputIdx))
	if err != nil {
		if errors.Is(err, msgqueue.ErrFreed) {
			err = io.EOF
		}
		return -1, FilterInput{}, err
	}
	return msg.InputIdx, msg.Input, nil
}

func (p *FilterGraphPort) inputMatcher(ctx context.Context, inputIdx int) func(graphMessage) bool {
	g := p.graph()
	if inputIdx < 0 || inputIdx >= len(g.inputs) {
		return nil
	}
	done := xsync.DoR1(ctx, &p.Scheduler.locker, func() bool {
		st := g.inputs[inputIdx]
		return st.eof || st.finished
	})
	if done {
		return nil
	}
	return func(msg graphMessage) bool {
		return msg.InputIdx == inputIdx || msg.InputIdx == len(g.inputs)
	}
}

// FilterReceiveFinish tells the scheduler the graph will not consume
// the input anymore; frames sent to it afterwards are dropped.
func (p *FilterGraphPort) FilterReceiveFinish(ctx context.Context, inputIdx int) {
	p.Scheduler.markInputDone(ctx, p.GraphIndex, inputIdx, false)
}

// FilterSend passes a frame (ownership included) to the encoder
// connected to the output. A nil frame closes the output.
// io.EOF means the encoder does not accept frames anymore.
func (p *FilterGraphPort) FilterSend(ctx context.Context, outputIdx int, f *frame.Frame) error {
	g := p.graph()
	if outputIdx < 0 || outputIdx >= len(g.outputs) {
		f.Free()
		return fmt.Errorf("output %d: %w", outputIdx, types.ErrInvalidArgument)
	}
	queue := p.Scheduler.encoders[g.outputs[outputIdx]].queue
	if f == nil {
		queue.SetErrRecv(ctx, io.EOF)
		return nil
	}
	if err := queue.Send(ctx, f, true); err != nil {
		f.Free()
		if errors.Is(err, io.EOF) || errors.Is(err, msgqueue.ErrFreed) {
			return io.EOF
		}
		return err
	}
	return nil
}
