package libav

import (
	"context"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/types"
)

func rationalToAstiav(r types.Rational) astiav.Rational {
	return astiav.NewRational(r.Num, r.Den)
}

func rationalFromAstiav(r astiav.Rational) types.Rational {
	return types.NewRational(r.Num(), r.Den())
}

func dictionaryFromItems(
	ctx context.Context,
	items types.DictionaryItems,
) *astiav.Dictionary {
	if len(items) == 0 {
		return nil
	}
	result := astiav.NewDictionary()
	for _, opt := range items.Deduplicate() {
		logger.Tracef(ctx, "setting custom option: %s=%s", opt.Key, opt.Value)
		result.Set(opt.Key, opt.Value, 0)
	}
	return result
}

func mediaTypeFromAstiav(t astiav.MediaType) types.MediaType {
	switch t {
	case astiav.MediaTypeVideo:
		return types.MediaTypeVideo
	case astiav.MediaTypeAudio:
		return types.MediaTypeAudio
	case astiav.MediaTypeSubtitle:
		return types.MediaTypeSubtitle
	case astiav.MediaTypeData:
		return types.MediaTypeData
	case astiav.MediaTypeAttachment:
		return types.MediaTypeAttachment
	default:
		return types.MediaTypeUnknown
	}
}

var channelLayouts = map[frame.ChannelLayout]astiav.ChannelLayout{
	"mono":   astiav.ChannelLayoutMono,
	"stereo": astiav.ChannelLayoutStereo,
	"2.1":    astiav.ChannelLayout2Point1,
	"3.0":    astiav.ChannelLayoutSurround,
	"quad":   astiav.ChannelLayoutQuad,
	"5.0":    astiav.ChannelLayout5Point0,
	"5.1":    astiav.ChannelLayout5Point1,
	"7.1":    astiav.ChannelLayout7Point1,
}

func channelLayoutToAstiav(l frame.ChannelLayout) (astiav.ChannelLayout, bool) {
	v, ok := channelLayouts[l]
	return v, ok
}

func channelLayoutFromAstiav(l astiav.ChannelLayout) frame.ChannelLayout {
	result := frame.ChannelLayout(l.String())
	if result.NbChannels() == l.Channels() {
		return result
	}
	return frame.DefaultChannelLayout(l.Channels())
}

var sampleFormats = []astiav.SampleFormat{
	astiav.SampleFormatU8,
	astiav.SampleFormatS16,
	astiav.SampleFormatS32,
	astiav.SampleFormatFlt,
	astiav.SampleFormatDbl,
	astiav.SampleFormatU8P,
	astiav.SampleFormatS16P,
	astiav.SampleFormatS32P,
	astiav.SampleFormatFltp,
	astiav.SampleFormatDblp,
	astiav.SampleFormatS64,
	astiav.SampleFormatS64P,
}

func sampleFormatByName(name string) (astiav.SampleFormat, bool) {
	for _, sf := range sampleFormats {
		if sf.Name() == name {
			return sf, true
		}
	}
	return astiav.SampleFormatNone, false
}

func pixelFormatByName(name string) (astiav.PixelFormat, bool) {
	pf := astiav.FindPixelFormatByName(name)
	return pf, pf != astiav.PixelFormatNone
}
