package gofilter

import (
	"github.com/xaionaro-go/avtranscode/filtergraph"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

// linkParams is the shape of the frames flowing through a link.
type linkParams struct {
	MediaType types.MediaType
	filtergraph.FrameParams
}

// link connects an output pad of a node to an input pad of another one.
type link struct {
	params linkParams

	src    *node
	srcPad int
	dst    *node
	dstPad int

	queue []*frame.Frame
	// eof is set once the producer will not send anything more;
	// eofPTS is the end timestamp of the stream in the link time base.
	eof    bool
	eofPTS int64
	// closed is set once the consumer does not accept frames anymore.
	closed bool

	lastPTS   int64
	nbFrames  uint64
	nbSamples uint64
}

func newLink(src *node, srcPad int, dst *node, dstPad int) *link {
	return &link{
		src:     src,
		srcPad:  srcPad,
		dst:     dst,
		dstPad:  dstPad,
		eofPTS:  types.NoPTSValue,
		lastPTS: types.NoPTSValue,
	}
}

func (l *link) timeBase() types.Rational {
	return l.params.TimeBase
}

// push takes the ownership of the frame.
func (l *link) push(f *frame.Frame) {
	if l.closed || l.eof {
		f.Free()
		return
	}
	if f.PTS != types.NoPTSValue {
		l.lastPTS = f.PTS
	}
	l.nbFrames++
	l.nbSamples += uint64(f.NbSamples)
	l.queue = append(l.queue, f)
}

func (l *link) peek() *frame.Frame {
	if len(l.queue) == 0 {
		return nil
	}
	return l.queue[0]
}

func (l *link) pop() *frame.Frame {
	if len(l.queue) == 0 {
		return nil
	}
	f := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return f
}

func (l *link) setEOF(pts int64) {
	if l.eof {
		return
	}
	l.eof = true
	l.eofPTS = pts
}

// drained returns true if the link is finished and nothing is left to consume.
func (l *link) drained() bool {
	return l.eof && len(l.queue) == 0
}

// starving returns true if the consumer of the link waits for data.
func (l *link) starving() bool {
	return !l.eof && len(l.queue) == 0
}

func (l *link) close() {
	l.closed = true
	l.free()
}

func (l *link) free() {
	for _, f := range l.queue {
		f.Free()
	}
	l.queue = nil
}

// rescaleEOF converts the end timestamp of the link into tb.
func (l *link) rescaleEOF(tb types.Rational) int64 {
	if l.eofPTS == types.NoPTSValue {
		return types.NoPTSValue
	}
	return types.RescaleQ(l.eofPTS, l.timeBase(), tb)
}
