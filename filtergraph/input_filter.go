package filtergraph

import (
	"fmt"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

// InputStream is the decoded stream a graph input is bound to.
type InputStream interface {
	fmt.Stringer
	GetMediaType() types.MediaType
	GetTimeBase() types.Rational
	GetFrameRate() types.Rational
	IsAutorotate() bool
	IsReinitFilters() bool
	IsFixSubDurationHeartbeat() bool
	IsDecodingNeeded() bool
}

// InputFilter is an input pad of a filter graph.
type InputFilter struct {
	Index int
	// Label is the name of the pad in the graph description.
	Label string
	// MediaType is the type of the pad. Subtitle streams feed video pads.
	MediaType types.MediaType
	Stream    InputStream
	Options   InputOptions

	// Params are the currently negotiated parameters.
	Params FrameParams

	displayMatrixApplied bool
	source               Source

	// frames received while the graph could not be configured yet
	frameQueue []*frame.Frame

	sub2video *sub2video
}

func newInputFilter(idx int, label string, stream InputStream, opts InputOptions) *InputFilter {
	ifp := &InputFilter{
		Index:     idx,
		Label:     label,
		MediaType: stream.GetMediaType(),
		Stream:    stream,
		Options:   opts,
	}
	if ifp.MediaType == types.MediaTypeSubtitle {
		w, h := opts.SubtitleCanvasWidth, opts.SubtitleCanvasHeight
		if w <= 0 || h <= 0 {
			w, h = defaultSubtitleCanvasWidth, defaultSubtitleCanvasHeight
		}
		ifp.MediaType = types.MediaTypeVideo
		ifp.Params = FrameParams{
			Format:            "rgba",
			Width:             w,
			Height:            h,
			SampleAspectRatio: types.NewRational(1, 1),
			TimeBase:          types.TimeBaseQ,
		}
		ifp.sub2video = newSub2Video(ifp)
	}
	return ifp
}

func (ifp *InputFilter) String() string {
	return fmt.Sprintf("input %d (%s) from %s", ifp.Index, ifp.Label, ifp.Stream)
}

func (ifp *InputFilter) isSubtitle() bool {
	return ifp.sub2video != nil
}

func (ifp *InputFilter) autorotate() bool {
	return ifp.Stream.IsAutorotate()
}

func (ifp *InputFilter) reinitFilters() bool {
	return ifp.Stream.IsReinitFilters()
}

// setParamsFromFrame records the shape of f as the negotiated parameters.
func (ifp *InputFilter) setParamsFromFrame(f *frame.Frame) {
	p := FrameParamsFromFrame(f)
	switch {
	case ifp.MediaType == types.MediaTypeAudio:
		p.TimeBase = types.NewRational(1, f.SampleRate)
	case ifp.Options.FrameRate.IsSet():
		p.TimeBase = ifp.Options.FrameRate.Get().Inv()
	}
	p.FrameRate = ifp.Params.FrameRate
	if ifp.Options.FrameRate.IsSet() {
		p.FrameRate = ifp.Options.FrameRate.Get()
	}
	ifp.Params = p
}

// changedParams returns the human-readable list of the reasons f
// requires a reconfiguration of the graph. Format and size changes are
// only reported if withShape is set.
func (ifp *InputFilter) changedParams(f *frame.Frame, withShape bool) []string {
	var reasons []string
	switch {
	case !withShape:
	case ifp.MediaType == types.MediaTypeAudio:
		if ifp.Params.Format != f.Format ||
			ifp.Params.SampleRate != f.SampleRate ||
			ifp.Params.ChannelLayout != f.ChannelLayout {
			reasons = append(reasons, "audio parameters")
		}
	case ifp.MediaType == types.MediaTypeVideo:
		if ifp.Params.Format != f.Format ||
			ifp.Params.Width != f.Width ||
			ifp.Params.Height != f.Height {
			reasons = append(reasons, "video parameters")
		}
	}
	if ifp.Params.HWFramesContext != f.HWFramesContext {
		reasons = append(reasons, "hwaccel")
	}
	switch {
	case f.DisplayMatrix != nil:
		if ifp.Params.DisplayMatrix == nil || *ifp.Params.DisplayMatrix != *f.DisplayMatrix {
			reasons = append(reasons, "display matrix")
		}
	case ifp.Params.DisplayMatrix != nil:
		reasons = append(reasons, "display matrix")
	}
	return reasons
}

func (ifp *InputFilter) useFallback() {
	if !ifp.Options.Fallback.IsSet() {
		return
	}
	fallback := ifp.Options.Fallback.Get()
	ifp.Params.Format = fallback.Format
	ifp.Params.SampleRate = fallback.SampleRate
	ifp.Params.Width = fallback.Width
	ifp.Params.Height = fallback.Height
	ifp.Params.SampleAspectRatio = fallback.SampleAspectRatio
	ifp.Params.ChannelLayout = fallback.ChannelLayout
	if !ifp.Params.TimeBase.Valid() {
		ifp.Params.TimeBase = fallback.TimeBase
	}
}

func (ifp *InputFilter) queueFrame(f *frame.Frame) {
	ifp.frameQueue = append(ifp.frameQueue, f)
}

func (ifp *InputFilter) takeQueue() []*frame.Frame {
	q := ifp.frameQueue
	ifp.frameQueue = nil
	return q
}

func (ifp *InputFilter) freeQueue() {
	for _, f := range ifp.takeQueue() {
		f.Free()
	}
}
