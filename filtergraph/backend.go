// backend.go defines the interface of the filter implementation the engine drives.

package filtergraph

import (
	"context"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

// Backend builds filter graphs.
type Backend interface {
	// NewGraph parses and configures a graph. Description references
	// the sources and sinks by their labels, e.g. "[src0]hflip[sink0]".
	NewGraph(ctx context.Context, cfg GraphConfig) (Graph, error)
}

type GraphConfig struct {
	Description string
	Sources     []SourceConfig
	Sinks       []SinkConfig

	NbThreads int
	// HWDevice is bound to the filters that need a hardware device.
	HWDevice           any
	DisableAutoConvert bool
}

type SourceConfig struct {
	Label     string
	MediaType types.MediaType
	Params    FrameParams
}

type SinkConfig struct {
	Label     string
	MediaType types.MediaType
}

// Graph is a configured filter graph. It is used by a single goroutine.
type Graph interface {
	Sources() []Source
	Sinks() []Sink

	// IsMeta returns true if no filter of the graph touches the frame data.
	IsMeta() bool
	// HasSourceFilters returns true if the graph contains generators,
	// i.e. filters producing data without any input.
	HasSourceFilters() bool

	// RequestOldest makes the graph produce output on the sink that is
	// the most behind. It returns types.ErrWouldBlock if more input is
	// needed and io.EOF if all the sinks are finished.
	RequestOldest(ctx context.Context) error

	// SendCommand runs a command immediately and returns the response.
	SendCommand(ctx context.Context, target, cmd, arg string, allFilters bool) (string, error)
	// QueueCommand schedules a command at the given graph time (seconds).
	QueueCommand(ctx context.Context, target, cmd, arg string, allFilters bool, t float64) error

	Close(ctx context.Context) error
}

// Source is a graph input.
type Source interface {
	// PushFrame takes the ownership of the frame. The frame timestamps
	// are in the time base the source was configured with.
	PushFrame(ctx context.Context, f *frame.Frame) error
	// Close signals EOF; pts is the end timestamp of the stream in
	// the source time base (types.NoPTSValue if unknown).
	Close(ctx context.Context, pts int64) error
	// NbFailedRequests returns how many times the graph needed a frame
	// from this source and had none.
	NbFailedRequests() int
}

// Sink is a graph output.
type Sink interface {
	// PullFrame returns a buffered frame without requesting more data from
	// the graph: types.ErrWouldBlock if there is none and io.EOF once
	// the sink is finished.
	PullFrame(ctx context.Context) (*frame.Frame, error)
	// Params returns the negotiated shape of the output.
	Params() FrameParams
}
