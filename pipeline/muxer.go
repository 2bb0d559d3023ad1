package pipeline

import (
	"context"
	"fmt"

	"github.com/go-ng/container/heap"
	"github.com/go-ng/xsort"
	"github.com/xaionaro-go/avtranscode/internal"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/types"
	"github.com/xaionaro-go/xsync"
)

const DefaultMuxerMaxQueueSize = 1024

// PacketSink receives the interleaved packets and takes their ownership.
type PacketSink interface {
	WritePacket(ctx context.Context, streamIdx int, pkt *packet.Packet) error
}

// NullSink drops everything.
type NullSink struct{}

func (NullSink) WritePacket(ctx context.Context, streamIdx int, pkt *packet.Packet) error {
	pkt.Free()
	return nil
}

type queuedPacket struct {
	Packet    *packet.Packet
	StreamIdx int
	// DTS in types.TimeBaseQ
	DTS int64
	seq uint64
}

type queuedPackets []queuedPacket

func (s queuedPackets) Len() int {
	return len(s)
}

func (s queuedPackets) Less(i, j int) bool {
	if s[i].DTS != s[j].DTS {
		return s[i].DTS < s[j].DTS
	}
	return s[i].seq < s[j].seq
}

func (s queuedPackets) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s *queuedPackets) Push(item queuedPacket) {
	*s = append(*s, item)
}

func (s *queuedPackets) Pop() queuedPacket {
	old := *s
	item := old[len(old)-1]
	old[len(old)-1] = queuedPacket{}
	*s = old[:len(old)-1]
	return item
}

type muxerStream struct {
	dtss     *xsort.OrderedAsc[int64]
	finished bool
	Packets  types.CountersItem
}

// Muxer interleaves the packets of its streams by DTS before passing
// them to the sink.
//
// A packet is written out only once every unfinished stream has at
// least one packet queued, so the sink sees non-decreasing DTS as long
// as each stream is monotonic by itself and the queue does not
// overflow.
type Muxer struct {
	Sink         PacketSink
	MaxQueueSize int

	locker           xsync.Mutex
	queue            queuedPackets
	streams          []*muxerStream
	emptyQueuesCount int
	seq              uint64
	prevDTS          int64
}

func NewMuxer(sink PacketSink) *Muxer {
	if sink == nil {
		sink = NullSink{}
	}
	return &Muxer{
		Sink:         sink,
		MaxQueueSize: DefaultMuxerMaxQueueSize,
		prevDTS:      types.NoPTSValue,
	}
}

// AddStream registers a stream and returns its index.
func (m *Muxer) AddStream(ctx context.Context) int {
	return xsync.DoR1(ctx, &m.locker, func() int {
		m.streams = append(m.streams, &muxerStream{
			dtss: &xsort.OrderedAsc[int64]{},
		})
		m.emptyQueuesCount++
		return len(m.streams) - 1
	})
}

// WritePacket queues the packet and writes out whatever became ready.
func (m *Muxer) WritePacket(ctx context.Context, streamIdx int, pkt *packet.Packet) error {
	return xsync.DoA3R1(xsync.WithNoLogging(ctx, true), &m.locker, m.writePacket, ctx, streamIdx, pkt)
}

func (m *Muxer) writePacket(ctx context.Context, streamIdx int, pkt *packet.Packet) error {
	if streamIdx < 0 || streamIdx >= len(m.streams) {
		pkt.Free()
		return fmt.Errorf("unknown muxer stream %d: %w", streamIdx, types.ErrInvalidArgument)
	}
	st := m.streams[streamIdx]
	if st.finished {
		pkt.Free()
		return fmt.Errorf("muxer stream %d is already finished: %w", streamIdx, types.ErrInvalidArgument)
	}

	dts := pkt.DTS
	if dts == types.NoPTSValue {
		dts = pkt.PTS
	}
	if dts != types.NoPTSValue && pkt.TimeBase.Valid() {
		dts = types.RescaleQ(dts, pkt.TimeBase, types.TimeBaseQ)
	}

	if m.MaxQueueSize > 0 && len(m.queue) >= m.MaxQueueSize {
		logger.Warnf(ctx, "the muxing queue is full (%d packets), writing out the oldest packet", len(m.queue))
		if err := m.sendOne(ctx); err != nil {
			pkt.Free()
			return err
		}
	}

	m.seq++
	heap.Push(&m.queue, queuedPacket{
		Packet:    pkt,
		StreamIdx: streamIdx,
		DTS:       dts,
		seq:       m.seq,
	})
	if len(*st.dtss) == 0 {
		m.emptyQueuesCount--
	}
	heap.Push(st.dtss, dts)
	return m.sendReady(ctx)
}

// CloseStream marks the stream finished; the others are not waited
// for it anymore.
func (m *Muxer) CloseStream(ctx context.Context, streamIdx int) error {
	return xsync.DoA2R1(ctx, &m.locker, m.closeStream, ctx, streamIdx)
}

func (m *Muxer) closeStream(ctx context.Context, streamIdx int) error {
	st := m.streams[streamIdx]
	if st.finished {
		return nil
	}
	st.finished = true
	if len(*st.dtss) == 0 {
		m.emptyQueuesCount--
	}
	return m.sendReady(ctx)
}

// Flush writes out everything queued regardless of the interleaving.
func (m *Muxer) Flush(ctx context.Context) error {
	return xsync.DoR1(ctx, &m.locker, func() error {
		for len(m.queue) > 0 {
			if err := m.sendOne(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close drops the queued packets.
func (m *Muxer) Close(ctx context.Context) error {
	m.locker.Do(ctx, func() {
		for _, item := range m.queue {
			item.Packet.Free()
		}
		m.queue = nil
	})
	return nil
}

func (m *Muxer) sendReady(ctx context.Context) error {
	for m.emptyQueuesCount == 0 && len(m.queue) > 0 {
		if err := m.sendOne(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Muxer) sendOne(ctx context.Context) error {
	item := heap.Pop(&m.queue)
	st := m.streams[item.StreamIdx]
	dts := heap.Pop(st.dtss)
	internal.Assert(ctx, dts == item.DTS, dts, item.DTS)
	if len(*st.dtss) == 0 && !st.finished {
		m.emptyQueuesCount++
	}

	if m.prevDTS != types.NoPTSValue && item.DTS != types.NoPTSValue && item.DTS < m.prevDTS {
		logger.Warnf(ctx, "non-monotonic DTS on muxer stream %d: %d < %d", item.StreamIdx, item.DTS, m.prevDTS)
	}
	if item.DTS != types.NoPTSValue {
		m.prevDTS = item.DTS
	}

	st.Packets.Increment(uint64(item.Packet.Size()))
	logger.Tracef(ctx, "muxing stream %d: %s", item.StreamIdx, item.Packet)
	if err := m.Sink.WritePacket(ctx, item.StreamIdx, item.Packet); err != nil {
		return fmt.Errorf("unable to write a packet of stream %d: %w", item.StreamIdx, err)
	}
	return nil
}

// Stats returns the number of packets and bytes written per stream.
func (m *Muxer) Stats(ctx context.Context) []types.StatisticsItem {
	return xsync.DoR1(ctx, &m.locker, func() []types.StatisticsItem {
		result := make([]types.StatisticsItem, len(m.streams))
		for idx, st := range m.streams {
			result[idx] = st.Packets.ToStats()
		}
		return result
	})
}
