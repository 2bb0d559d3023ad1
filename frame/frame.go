// frame.go defines the decoded media frame.

// Package frame provides the decoded-data unit of the pipeline.
package frame

import (
	"fmt"
	"image"

	"github.com/xaionaro-go/avtranscode/pool"
	"github.com/xaionaro-go/avtranscode/types"
)

type Flags uint32

const (
	FlagKey = Flags(1 << iota)
	FlagCorrupt
	// FlagParamsOnly marks a frame without payload, sent only to
	// describe the stream parameters.
	FlagParamsOnly
)

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// Freer is implemented by backend-owned payloads (e.g. a libav frame).
type Freer interface {
	Free()
}

// Refer is implemented by backend-owned payloads that can be shared.
type Refer interface {
	Ref() any
}

// Frame is a decoded video picture, a chunk of audio samples or
// a subtitle event.
//
// An empty Format means "unknown".
type Frame struct {
	MediaType types.MediaType

	// Format is the pixel format for video ("yuv420p", "rgba", ...)
	// or the sample format for audio ("fltp", "s16", ...).
	Format string

	Width             int
	Height            int
	SampleAspectRatio types.Rational

	SampleRate    int
	ChannelLayout ChannelLayout
	NbSamples     int

	PTS      int64
	Duration int64
	TimeBase types.Rational
	Flags    Flags

	// HWFramesContext is compared by identity only.
	HWFramesContext any
	DisplayMatrix   *DisplayMatrix

	// DecoderTimeBase is the time base of the packets the frame
	// was decoded from.
	DecoderTimeBase  types.Rational
	BitsPerRawSample int

	// Image is the picture of a video frame.
	Image image.Image
	// Samples are the planar samples of an audio frame.
	Samples [][]float32
	// Subtitle is set for subtitle frames.
	Subtitle *Subtitle

	// Buf optionally carries the backend-specific frame.
	Buf any
}

var Pool = pool.NewPool(
	func() *Frame { return &Frame{} },
	func(f *Frame) { f.reset() },
)

// New returns an empty frame with an unset timestamp.
func New() *Frame {
	f := Pool.Get()
	f.PTS = types.NoPTSValue
	return f
}

func (f *Frame) reset() {
	if freer, ok := f.Buf.(Freer); ok {
		freer.Free()
	}
	*f = Frame{}
}

// Free releases the frame. Nil-safe.
func (f *Frame) Free() {
	if f == nil {
		return
	}
	Pool.Put(f)
}

// Ref returns a new frame referencing the same payload.
// Payloads are never modified in place, so sharing them is safe.
func (f *Frame) Ref() *Frame {
	cpy := Pool.Get()
	*cpy = *f
	cpy.Buf = nil
	if refer, ok := f.Buf.(Refer); ok {
		cpy.Buf = refer.Ref()
	}
	if f.DisplayMatrix != nil {
		dm := *f.DisplayMatrix
		cpy.DisplayMatrix = &dm
	}
	return cpy
}

// CopyProps copies everything but the payload.
func (f *Frame) CopyProps(src *Frame) {
	img, samples, sub, buf := f.Image, f.Samples, f.Subtitle, f.Buf
	*f = *src
	f.Image, f.Samples, f.Subtitle, f.Buf = img, samples, sub, buf
	if src.DisplayMatrix != nil {
		dm := *src.DisplayMatrix
		f.DisplayMatrix = &dm
	}
}

func (f *Frame) IsKey() bool {
	return f.Flags.Has(FlagKey)
}

func (f *Frame) SetKey(v bool) {
	if v {
		f.Flags |= FlagKey
	} else {
		f.Flags &^= FlagKey
	}
}

func (f *Frame) String() string {
	switch f.MediaType {
	case types.MediaTypeVideo:
		return fmt.Sprintf(
			"video{%s %dx%d pts:%s dur:%d tb:%s}",
			f.Format, f.Width, f.Height, types.TSString(f.PTS), f.Duration, f.TimeBase,
		)
	case types.MediaTypeAudio:
		return fmt.Sprintf(
			"audio{%s %dHz %s n:%d pts:%s dur:%d tb:%s}",
			f.Format, f.SampleRate, f.ChannelLayout, f.NbSamples, types.TSString(f.PTS), f.Duration, f.TimeBase,
		)
	default:
		return fmt.Sprintf("%s{pts:%s tb:%s}", f.MediaType, types.TSString(f.PTS), f.TimeBase)
	}
}
