package filtergraph

import (
	"fmt"
	"math"
	"strings"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
	"github.com/xaionaro-go/typing"
)

// FrameParams describes the shape of the frames flowing through a pad.
// An empty Format means "unknown".
type FrameParams struct {
	Format            string
	Width             int
	Height            int
	SampleAspectRatio types.Rational

	SampleRate    int
	ChannelLayout frame.ChannelLayout

	TimeBase  types.Rational
	FrameRate types.Rational

	HWFramesContext any
	DisplayMatrix   *frame.DisplayMatrix
}

func (p FrameParams) IsFormatKnown() bool {
	return p.Format != ""
}

func (p FrameParams) String() string {
	if p.SampleRate > 0 {
		return fmt.Sprintf("%s:%dHz:%s:tb=%s", p.Format, p.SampleRate, p.ChannelLayout, p.TimeBase)
	}
	return fmt.Sprintf("%s:%dx%d:sar=%s:tb=%s:fr=%s", p.Format, p.Width, p.Height, p.SampleAspectRatio, p.TimeBase, p.FrameRate)
}

// FrameParamsFromFrame returns the shape of the given frame.
func FrameParamsFromFrame(f *frame.Frame) FrameParams {
	p := FrameParams{
		Format:            f.Format,
		Width:             f.Width,
		Height:            f.Height,
		SampleAspectRatio: f.SampleAspectRatio,
		SampleRate:        f.SampleRate,
		ChannelLayout:     f.ChannelLayout,
		TimeBase:          f.TimeBase,
		HWFramesContext:   f.HWFramesContext,
	}
	if f.DisplayMatrix != nil {
		dm := *f.DisplayMatrix
		p.DisplayMatrix = &dm
	}
	return p
}

type VSyncMethod int

const (
	VSyncAuto = VSyncMethod(iota)
	VSyncPassthrough
	VSyncCFR
	VSyncVFR
	// VSyncVSCFR is CFR that does not duplicate frames to fill the
	// gap before the first frame.
	VSyncVSCFR
	VSyncDrop
)

func (m VSyncMethod) String() string {
	switch m {
	case VSyncAuto:
		return "auto"
	case VSyncPassthrough:
		return "passthrough"
	case VSyncCFR:
		return "cfr"
	case VSyncVFR:
		return "vfr"
	case VSyncVSCFR:
		return "vscfr"
	case VSyncDrop:
		return "drop"
	default:
		return fmt.Sprintf("VSyncMethod(%d)", int(m))
	}
}

func ParseVSyncMethod(s string) (VSyncMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", "-1":
		return VSyncAuto, nil
	case "passthrough", "0":
		return VSyncPassthrough, nil
	case "cfr", "1":
		return VSyncCFR, nil
	case "vfr", "2":
		return VSyncVFR, nil
	case "vscfr":
		return VSyncVSCFR, nil
	case "drop":
		return VSyncDrop, nil
	}
	return VSyncAuto, fmt.Errorf("unknown vsync method %q", s)
}

func (m VSyncMethod) MarshalYAML() (any, error) {
	return m.String(), nil
}

func (m *VSyncMethod) UnmarshalText(b []byte) error {
	v, err := ParseVSyncMethod(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MuxerFlags are the properties of the output container that matter
// for the choice of the video sync method.
type MuxerFlags struct {
	VariableFPS  bool
	NoTimestamps bool
}

// ResolveVSync turns VSyncAuto into a concrete method.
//
// singleStreamInput is true if the source input has exactly one stream
// and no timestamp offset.
func ResolveVSync(
	m VSyncMethod,
	muxer MuxerFlags,
	singleStreamInput bool,
	copyTS bool,
) VSyncMethod {
	if m != VSyncAuto {
		return m
	}
	switch {
	case muxer.VariableFPS && muxer.NoTimestamps:
		m = VSyncPassthrough
	case muxer.VariableFPS:
		m = VSyncVFR
	default:
		m = VSyncCFR
	}
	if m == VSyncCFR && (singleStreamInput || copyTS) {
		m = VSyncVSCFR
	}
	return m
}

type EncTimeBaseKind int

const (
	// EncTimeBaseAuto derives the time base from the output frame rate.
	EncTimeBaseAuto = EncTimeBaseKind(iota)
	// EncTimeBaseDemux inherits the time base of the decoded packets.
	EncTimeBaseDemux
	// EncTimeBaseFilter inherits the time base of the filter graph sink.
	EncTimeBaseFilter
	// EncTimeBaseValue uses the given value verbatim.
	EncTimeBaseValue
)

// EncTimeBase is the -enc_time_base policy.
type EncTimeBase struct {
	Kind  EncTimeBaseKind
	Value types.Rational
}

// ParseEncTimeBase parses "demux", "filter", "0" (auto), a rational
// or a decimal number (meaning 1/value).
func ParseEncTimeBase(s string) (EncTimeBase, error) {
	switch strings.TrimSpace(s) {
	case "", "0", "auto":
		return EncTimeBase{}, nil
	case "demux", "-1":
		return EncTimeBase{Kind: EncTimeBaseDemux}, nil
	case "filter", "-2":
		return EncTimeBase{Kind: EncTimeBaseFilter}, nil
	}
	r, err := types.RationalFromString(s)
	if err != nil {
		return EncTimeBase{}, fmt.Errorf("invalid encoder time base %q: %w", s, err)
	}
	if !strings.Contains(s, "/") {
		// a plain number is a rate, not a fraction
		*r = r.Inv()
	}
	if !r.Valid() {
		return EncTimeBase{}, fmt.Errorf("invalid encoder time base %q: %w", s, types.ErrInvalidArgument)
	}
	return EncTimeBase{Kind: EncTimeBaseValue, Value: *r}, nil
}

func (tb *EncTimeBase) UnmarshalText(b []byte) error {
	v, err := ParseEncTimeBase(string(b))
	if err != nil {
		return err
	}
	*tb = v
	return nil
}

const (
	// StrictUnofficial allows formats not covered by the codec standard.
	StrictUnofficial = -1

	DefaultDTSErrorThreshold = 3600 * 30
	defaultDupWarning        = 1000

	defaultSubtitleCanvasWidth  = 720
	defaultSubtitleCanvasHeight = 576
)

// InputOptions configure a graph input pad.
type InputOptions struct {
	// TrimStart and TrimDuration are in types.TimeBaseQ;
	// types.NoPTSValue and math.MaxInt64 mean "unset".
	TrimStart    int64
	TrimDuration int64

	// FrameRate forces constant frame rate input timestamps.
	FrameRate typing.Optional[types.Rational]

	// Fallback is used to configure the graph if the input reaches EOF
	// before a single frame was received.
	Fallback typing.Optional[FrameParams]

	SubtitleCanvasWidth  int
	SubtitleCanvasHeight int
}

func DefaultInputOptions() InputOptions {
	return InputOptions{
		TrimStart:    types.NoPTSValue,
		TrimDuration: math.MaxInt64,
	}
}

// OutputOptions configure a graph output pad, usually from the
// properties of the encoder it feeds.
type OutputOptions struct {
	Name string

	// Format forces the output format; Formats restricts it to a set.
	Format  string
	Formats []string

	Width     int
	Height    int
	Autoscale bool

	SampleRate     int
	SampleRates    []int
	ChannelLayout  frame.ChannelLayout
	ChannelLayouts []frame.ChannelLayout

	// CodecName and Strict are only used to restrict the MJPEG pixel formats.
	CodecName string
	Strict    int

	// FrameRate is the forced output frame rate (zero is unset).
	FrameRate          types.Rational
	MaxFrameRate       types.Rational
	SupportedFrameRate []types.Rational
	// FrameRateClip limits the denominator and numerator of the chosen rate.
	FrameRateClip      int

	VSync              VSyncMethod
	EncTimeBase        EncTimeBase
	FrameDropThreshold float64
	DTSErrorThreshold  float64

	// TSOffset (in types.TimeBaseQ) is subtracted from the output timestamps.
	TSOffset int64

	// TrimStart and TrimDuration are in types.TimeBaseQ;
	// types.NoPTSValue and math.MaxInt64 mean "unset".
	TrimStart    int64
	TrimDuration int64

	APad       string
	KeepPixFmt bool
}

func DefaultOutputOptions() OutputOptions {
	return OutputOptions{
		Autoscale:         true,
		VSync:             VSyncCFR,
		DTSErrorThreshold: DefaultDTSErrorThreshold,
		TrimStart:         types.NoPTSValue,
		TrimDuration:      math.MaxInt64,
	}
}
