package libav

import (
	"context"
	"fmt"
	"image"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/types"
)

// avFrame is the libav payload of a frame.Frame.
type avFrame struct {
	*astiav.Frame
}

var (
	_ frame.Freer = (*avFrame)(nil)
	_ frame.Refer = (*avFrame)(nil)
)

func (f *avFrame) Ref() any {
	return &avFrame{Frame: f.Frame.Clone()}
}

// frameFromAstiav takes the ownership of src. With copyPayload the
// picture or the samples are also exposed as Go values.
func frameFromAstiav(
	ctx context.Context,
	src *astiav.Frame,
	mediaType types.MediaType,
	timeBase types.Rational,
	copyPayload bool,
) *frame.Frame {
	f := frame.New()
	f.MediaType = mediaType
	f.PTS = src.Pts()
	f.Duration = src.Duration()
	f.TimeBase = timeBase
	if src.Flags().Has(astiav.FrameFlagKey) {
		f.Flags |= frame.FlagKey
	}
	if src.Flags().Has(astiav.FrameFlagCorrupt) {
		f.Flags |= frame.FlagCorrupt
	}

	switch mediaType {
	case types.MediaTypeVideo:
		f.Format = src.PixelFormat().String()
		f.Width = src.Width()
		f.Height = src.Height()
		f.SampleAspectRatio = rationalFromAstiav(src.SampleAspectRatio())
		if copyPayload {
			img, err := src.Data().GuessImageFormat()
			if err == nil {
				err = src.Data().ToImage(img)
			}
			if err != nil {
				logger.Debugf(ctx, "unable to convert the %s picture: %v", f.Format, err)
			} else {
				f.Image = img
			}
		}
	case types.MediaTypeAudio:
		f.Format = src.SampleFormat().Name()
		f.SampleRate = src.SampleRate()
		f.ChannelLayout = channelLayoutFromAstiav(src.ChannelLayout())
		f.NbSamples = src.NbSamples()
		if copyPayload {
			planes, err := extractPlanes(src)
			if err != nil {
				logger.Debugf(ctx, "unable to convert the %s samples: %v", f.Format, err)
			} else {
				f.Samples = planes
			}
		}
	}
	f.Buf = &avFrame{Frame: src}
	return f
}

// frameToAstiav returns a libav frame with the content and the
// timestamps of f. The result is owned by the caller.
func frameToAstiav(f *frame.Frame) (*astiav.Frame, error) {
	var dst *astiav.Frame
	if buf, ok := f.Buf.(*avFrame); ok {
		dst = buf.Frame.Clone()
		if dst == nil {
			return nil, types.ErrOutOfMemory{Err: fmt.Errorf("unable to clone a frame")}
		}
	} else {
		var err error
		dst, err = newAstiavFrame(f)
		if err != nil {
			return nil, err
		}
	}
	dst.SetPts(f.PTS)
	dst.SetDuration(f.Duration)
	flags := dst.Flags()
	if f.IsKey() {
		flags = flags.Add(astiav.FrameFlagKey)
	} else {
		flags = flags.Del(astiav.FrameFlagKey)
	}
	dst.SetFlags(flags)
	return dst, nil
}

func newAstiavFrame(f *frame.Frame) (_ *astiav.Frame, _err error) {
	dst := astiav.AllocFrame()
	if dst == nil {
		return nil, types.ErrOutOfMemory{Err: fmt.Errorf("unable to allocate a frame")}
	}
	defer func() {
		if _err != nil {
			dst.Free()
		}
	}()

	switch f.MediaType {
	case types.MediaTypeVideo:
		if f.Image == nil {
			return nil, fmt.Errorf("the video frame has neither a libav buffer nor a picture: %w", types.ErrInvalidArgument)
		}
		format, ok := pixelFormatByName(imageFormatName(f.Image, f.Format))
		if !ok {
			return nil, types.ErrNotImplemented{Err: fmt.Errorf("pixel format '%s'", f.Format)}
		}
		b := f.Image.Bounds()
		dst.SetPixelFormat(format)
		dst.SetWidth(b.Dx())
		dst.SetHeight(b.Dy())
		dst.SetSampleAspectRatio(rationalToAstiav(f.SampleAspectRatio))
		if err := dst.AllocBuffer(0); err != nil {
			return nil, fmt.Errorf("unable to allocate the picture buffer: %w", err)
		}
		if err := dst.Data().FromImage(f.Image); err != nil {
			return nil, fmt.Errorf("unable to copy the picture: %w", err)
		}
	case types.MediaTypeAudio:
		layout, ok := channelLayoutToAstiav(f.ChannelLayout)
		if !ok {
			return nil, types.ErrNotImplemented{Err: fmt.Errorf("channel layout '%s'", f.ChannelLayout)}
		}
		dst.SetSampleFormat(astiav.SampleFormatFltp)
		dst.SetSampleRate(f.SampleRate)
		dst.SetChannelLayout(layout)
		dst.SetNbSamples(f.NbSamples)
		if err := dst.AllocBuffer(0); err != nil {
			return nil, fmt.Errorf("unable to allocate the sample buffer: %w", err)
		}
		if err := fillPlanes(dst, f.Samples); err != nil {
			return nil, err
		}
	default:
		return nil, types.ErrNotImplemented{Err: fmt.Errorf("converting %s frames", f.MediaType)}
	}
	return dst, nil
}

// imageFormatName returns the libav pixel format matching the memory
// layout of img.
func imageFormatName(img image.Image, fallback string) string {
	switch img := img.(type) {
	case *image.RGBA:
		return "rgba"
	case *image.NRGBA:
		return "rgba"
	case *image.Gray:
		return "gray"
	case *image.Gray16:
		return "gray16be"
	case *image.YCbCr:
		switch img.SubsampleRatio {
		case image.YCbCrSubsampleRatio420:
			return "yuv420p"
		case image.YCbCrSubsampleRatio422:
			return "yuv422p"
		case image.YCbCrSubsampleRatio444:
			return "yuv444p"
		case image.YCbCrSubsampleRatio440:
			return "yuv440p"
		case image.YCbCrSubsampleRatio411:
			return "yuv411p"
		case image.YCbCrSubsampleRatio410:
			return "yuv410p"
		}
	}
	return fallback
}
