// demuxer.go implements the per-input demuxer and its consumer-side API.

// Package demux reads packets of one input file in a background
// goroutine, fixes up their timestamps and hands them over through
// a bounded queue.
package demux

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/dustin/go-humanize"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/msgqueue"
	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xcontext"
)

type Demuxer struct {
	Config  Config
	Reader  ContainerReader
	Streams []*Stream

	info               ContainerInfo
	tsOffset           int64
	startTimeEffective int64

	// accumulated duration of the completed loop iterations
	duration   int64
	durationTB types.Rational

	loop          int
	nbStreamsWarn int

	nonBlocking            bool
	threadQueueSize        int
	queue                  *msgqueue.Queue[Message]
	audioDurationQueue     *msgqueue.Queue[LastFrameDuration]
	audioDurationQueueSize int

	now            func() time.Time
	wallclockStart time.Time

	cancelFn   context.CancelFunc
	workerDone chan struct{}
}

func New(
	ctx context.Context,
	reader ContainerReader,
	cfg Config,
) *Demuxer {
	info := reader.Info()
	d := &Demuxer{
		Config:             cfg,
		Reader:             reader,
		info:               info,
		startTimeEffective: info.StartTime,
		durationTB:         types.NewRational(1, 1),
		loop:               cfg.Loop,
		now:                astikit.Now,
	}
	for idx, streamInfo := range reader.Streams() {
		var streamCfg StreamConfig
		if idx < len(cfg.Streams) {
			streamCfg = cfg.Streams[idx]
		}
		d.Streams = append(d.Streams, newStream(cfg.InputIndex, idx, streamInfo, streamCfg))
	}

	timestamp := int64(0)
	if cfg.StartTime != types.NoPTSValue {
		timestamp = cfg.StartTime
	}
	if !cfg.SeekTimestamp && info.StartTime != types.NoPTSValue {
		timestamp += info.StartTime
	}
	switch {
	case !cfg.CopyTS:
		d.tsOffset = cfg.InputTSOffset - timestamp
	case cfg.StartAtZero && info.StartTime != types.NoPTSValue:
		d.tsOffset = cfg.InputTSOffset - info.StartTime
	default:
		d.tsOffset = cfg.InputTSOffset
	}
	logger.Debugf(ctx, "input #%d: ts_offset=%d (%s)", cfg.InputIndex, d.tsOffset, types.TimeBaseQ)
	return d
}

// Start allocates the queues and spawns the worker goroutine.
// It is called implicitly by the first GetPacket.
func (d *Demuxer) Start(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Start")
	defer func() { logger.Debugf(ctx, "/Start: %v", _err) }()
	if d.queue != nil {
		return fmt.Errorf("already started")
	}

	d.threadQueueSize = d.Config.ThreadQueueSize
	if d.threadQueueSize <= 0 {
		d.threadQueueSize = 1
		if d.Config.NbInputFiles > 1 {
			d.threadQueueSize = 8
		}
	}

	if d.Config.NbInputFiles > 1 {
		if d.info.HasIOContext {
			d.nonBlocking = !d.info.Seekable
		} else {
			d.nonBlocking = d.info.FormatName != "lavfi"
		}
	}

	queue, err := msgqueue.New(d.threadQueueSize, freeMessage)
	if err != nil {
		return fmt.Errorf("unable to allocate the packet queue of input #%d: %w", d.Config.InputIndex, err)
	}

	if d.loop != 0 {
		nbAudioDec := 0
		for _, st := range d.Streams {
			if st.Config.DecodingNeeded && st.Info.MediaType == types.MediaTypeAudio {
				nbAudioDec++
			}
		}
		if nbAudioDec > 0 {
			d.audioDurationQueue, err = msgqueue.New[LastFrameDuration](nbAudioDec, nil)
			if err != nil {
				return fmt.Errorf("unable to allocate the audio duration queue of input #%d: %w", d.Config.InputIndex, err)
			}
			d.audioDurationQueueSize = nbAudioDec
		}
	}

	d.queue = queue
	d.wallclockStart = d.now()
	d.workerDone = make(chan struct{})

	workerCtx, cancelFn := context.WithCancel(xcontext.DetachDone(ctx))
	d.cancelFn = cancelFn
	observability.Go(workerCtx, func(ctx context.Context) {
		defer close(d.workerDone)
		d.worker(ctx)
	})
	return nil
}

// GetPacket returns the next packet of the input.
//
// It returns ErrLooping when the input was restarted, types.ErrWouldBlock
// if no packet may be returned right now (non-blocking inputs and
// read-rate emulation) and the terminal error of the worker (io.EOF
// on a normal end) once all packets were consumed.
func (d *Demuxer) GetPacket(ctx context.Context) (*packet.Packet, error) {
	if d.queue == nil {
		if err := d.Start(ctx); err != nil {
			return nil, err
		}
	}

	if d.Config.ReadRate > 0 || d.Config.RateEmu {
		if err := d.readRateCheck(); err != nil {
			return nil, err
		}
	}

	msg, err := d.queue.Recv(ctx, !d.nonBlocking)
	if err != nil {
		return nil, err
	}
	if msg.Looping {
		return nil, ErrLooping
	}

	pkt := msg.Packet
	st := d.Streams[pkt.StreamIndex]
	st.LastPacketRepeatPict = msg.RepeatPict
	st.updateDTS(pkt)
	st.Packets.Increment(uint64(pkt.Size()))
	logger.Tracef(ctx, "input #%d: %s", d.Config.InputIndex, pkt)
	return pkt, nil
}

// SendLastFrameDuration is called by the decoder of a fully decoded
// audio stream after it was flushed on a loop restart.
func (d *Demuxer) SendLastFrameDuration(
	ctx context.Context,
	streamIndex int,
	duration int64,
) error {
	if d.audioDurationQueue == nil {
		return nil
	}
	return d.audioDurationQueue.Send(ctx, LastFrameDuration{
		StreamIndex: streamIndex,
		Duration:    duration,
	}, true)
}

// IsNonBlocking returns true if GetPacket never waits for the worker.
func (d *Demuxer) IsNonBlocking() bool {
	return d.nonBlocking
}

// Close stops the worker and destroys all packets still in flight.
func (d *Demuxer) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	if d.queue == nil {
		return nil
	}

	d.queue.SetErrSend(ctx, io.EOF)
	if d.audioDurationQueue != nil {
		d.audioDurationQueue.SetErrRecv(ctx, io.EOF)
	}
	d.cancelFn()
	for {
		msg, err := d.queue.Recv(ctx, true)
		if err != nil {
			break
		}
		freeMessage(msg)
	}
	<-d.workerDone

	d.queue.Free(ctx)
	if d.audioDurationQueue != nil {
		d.audioDurationQueue.Free(ctx)
	}
	return nil
}

// Summary returns a human-readable report of what was read.
func (d *Demuxer) Summary() string {
	var (
		buf   strings.Builder
		total types.StatisticsItem
	)
	fmt.Fprintf(&buf, "Input file #%d (%s):\n", d.Config.InputIndex, d.info.URL)
	for _, st := range d.Streams {
		stats := st.Packets.ToStats()
		total.Count += stats.Count
		total.Bytes += stats.Bytes
		fmt.Fprintf(&buf, "  Input stream #%s (%s): %s packets read (%s);",
			st, st.Info.MediaType, humanize.Comma(int64(stats.Count)), humanize.Bytes(stats.Bytes))
		if n := st.NbDiscarded.Load(); n > 0 {
			fmt.Fprintf(&buf, " %s packets discarded;", humanize.Comma(int64(n)))
		}
		if st.Config.DecodingNeeded {
			fmt.Fprintf(&buf, " %s frames decoded", humanize.Comma(int64(st.FramesDecoded.Load())))
			if st.Info.MediaType == types.MediaTypeAudio {
				fmt.Fprintf(&buf, " (%s samples)", humanize.Comma(int64(st.SamplesDecoded.Load())))
			}
			buf.WriteString(";")
		}
		buf.WriteString("\n")
	}
	fmt.Fprintf(&buf, "  Total: %s packets (%s) demuxed\n",
		humanize.Comma(int64(total.Count)), humanize.Bytes(total.Bytes))
	return buf.String()
}

// Duration returns the accumulated length of the completed loop iterations.
func (d *Demuxer) Duration() types.Timestamp {
	return types.Timestamp{TS: d.duration, TB: d.durationTB}
}

// FileStart returns the offset (in types.TimeBaseQ) of the input start
// in the output timeline; it is non-zero only when copying timestamps.
func (d *Demuxer) FileStart() int64 {
	if !d.Config.CopyTS {
		return 0
	}
	var fileStart int64
	if d.startTimeEffective != types.NoPTSValue && !d.Config.StartAtZero {
		fileStart += d.startTimeEffective
	}
	if d.Config.StartTime != types.NoPTSValue {
		fileStart += d.Config.StartTime
	}
	return fileStart
}
