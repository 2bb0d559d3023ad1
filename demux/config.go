package demux

import (
	"github.com/xaionaro-go/avtranscode/types"
)

// Config is the per-input-file configuration of a Demuxer.
type Config struct {
	InputIndex   int
	NbInputFiles int

	// Loop is the number of times the input is restarted after it
	// ends; -1 means forever.
	Loop int

	// InputTSOffset is added to every timestamp (in types.TimeBaseQ).
	InputTSOffset int64

	// StartTime is the requested start position (in types.TimeBaseQ),
	// or types.NoPTSValue.
	StartTime     int64
	SeekTimestamp bool
	CopyTS        bool
	StartAtZero   bool

	ExitOnError bool

	// ReadRate limits the reading speed to the given multiple of
	// the real time; zero means unlimited. RateEmu is "-re", i.e. a
	// rate of 1.
	ReadRate             float64
	RateEmu              bool
	ReadRateInitialBurst float64

	// ThreadQueueSize overrides the capacity of the packet queue.
	ThreadQueueSize int

	Streams []StreamConfig
}

func DefaultConfig() Config {
	return Config{
		NbInputFiles: 1,
		StartTime:    types.NoPTSValue,
	}
}
