package filtergraph

import (
	"fmt"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
	"go.uber.org/atomic"
)

// fpsConvContext is the state of the video frame rate conversion.
type fpsConvContext struct {
	lastFrame       *frame.Frame
	frameNumber     int64
	framesPrevHist  [3]int64
	lastDropped     bool
	droppedKeyframe bool
	dupWarning      uint64

	frameRate          types.Rational
	frameRateMax       types.Rational
	frameRateSupported []types.Rational
	frameRateClip      int
}

// OutputFilter is an output pad of a filter graph.
type OutputFilter struct {
	Index     int
	Label     string
	MediaType types.MediaType
	Options   OutputOptions

	// Params are the parameters negotiated by the first configuration.
	// Later configurations are restricted to them.
	Params FrameParams

	// TimeBaseOut is the time base of the frames sent to the encoder.
	TimeBaseOut types.Rational
	tbOutLocked bool
	NextPTS     int64

	fps      fpsConvContext
	gotFrame bool
	sink     Sink

	NbFramesDup  atomic.Uint64
	NbFramesDrop atomic.Uint64
}

func newOutputFilter(idx int, label string, mediaType types.MediaType, opts OutputOptions) *OutputFilter {
	ofp := &OutputFilter{
		Index:     idx,
		Label:     label,
		MediaType: mediaType,
		Options:   opts,
		Params: FrameParams{
			Format:        opts.Format,
			Width:         opts.Width,
			Height:        opts.Height,
			SampleRate:    opts.SampleRate,
			ChannelLayout: opts.ChannelLayout,
		},
	}
	if mediaType == types.MediaTypeVideo {
		ofp.fps = fpsConvContext{
			dupWarning:    defaultDupWarning,
			frameRate:     opts.FrameRate,
			frameRateMax:  opts.MaxFrameRate,
			frameRateClip: opts.FrameRateClip,
		}
		if !opts.FrameRate.Valid() {
			ofp.fps.frameRateSupported = opts.SupportedFrameRate
		}
	}
	if ofp.Options.DTSErrorThreshold <= 0 {
		ofp.Options.DTSErrorThreshold = DefaultDTSErrorThreshold
	}
	return ofp
}

func (ofp *OutputFilter) String() string {
	if ofp.Options.Name != "" {
		return fmt.Sprintf("output %d (%s) to %s", ofp.Index, ofp.Label, ofp.Options.Name)
	}
	return fmt.Sprintf("output %d (%s)", ofp.Index, ofp.Label)
}

// FrameRate returns the output frame rate chosen so far.
func (ofp *OutputFilter) FrameRate() types.Rational {
	return ofp.fps.frameRate
}

func (ofp *OutputFilter) vsyncMethod() VSyncMethod {
	if ofp.Options.VSync == VSyncAuto {
		return VSyncCFR
	}
	return ofp.Options.VSync
}

// pixFmtsArgs returns the arguments of the "format" filter restricting
// the output pixel formats, or an empty string.
func (ofp *OutputFilter) pixFmtsArgs() string {
	if ofp.Params.Format != "" {
		return "pix_fmts=" + ofp.Params.Format
	}
	formats := ofp.Options.Formats
	if ofp.Options.CodecName == "mjpeg" && len(formats) == 0 {
		formats = []string{"yuvj420p", "yuvj422p", "yuvj444p"}
		if ofp.Options.Strict <= StrictUnofficial {
			formats = append(formats, "yuv420p", "yuv422p", "yuv444p")
		}
	}
	if len(formats) == 0 {
		return ""
	}
	return "pix_fmts=" + joinStrings(formats, "|")
}

// aformatArgs returns the arguments of the "aformat" filter restricting
// the output sample format, rate and channel layout, or an empty string.
func (ofp *OutputFilter) aformatArgs() string {
	var args []string
	switch {
	case ofp.Params.Format != "":
		args = append(args, "sample_fmts="+ofp.Params.Format)
	case len(ofp.Options.Formats) > 0:
		args = append(args, "sample_fmts="+joinStrings(ofp.Options.Formats, "|"))
	}
	switch {
	case ofp.Params.SampleRate > 0:
		args = append(args, fmt.Sprintf("sample_rates=%d", ofp.Params.SampleRate))
	case len(ofp.Options.SampleRates) > 0:
		args = append(args, "sample_rates="+joinStrings(ofp.Options.SampleRates, "|"))
	}
	switch {
	case ofp.Params.ChannelLayout.IsSet():
		args = append(args, "channel_layouts="+string(ofp.Params.ChannelLayout))
	case len(ofp.Options.ChannelLayouts) > 0:
		args = append(args, "channel_layouts="+joinStrings(ofp.Options.ChannelLayouts, "|"))
	}
	return joinStrings(args, ":")
}

func (ofp *OutputFilter) freeState() {
	ofp.fps.lastFrame.Free()
	ofp.fps.lastFrame = nil
}
