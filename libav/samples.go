package libav

import (
	"fmt"
	"unsafe"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avtranscode/types"
)

// extractPlanes returns the samples of an audio frame as one float32
// plane per channel.
func extractPlanes(f *astiav.Frame) ([][]float32, error) {
	nbSamples := f.NbSamples()
	nbChannels := f.ChannelLayout().Channels()
	format := f.SampleFormat()
	data := f.Data()

	planes := make([][]float32, nbChannels)
	for ch := range planes {
		planes[ch] = make([]float32, nbSamples)
	}
	if nbSamples == 0 {
		return planes, nil
	}

	if format.IsPlanar() {
		for ch, out := range planes {
			plane, err := data.Bytes(ch)
			if err != nil {
				return nil, fmt.Errorf("unable to get plane %d: %w", ch, err)
			}
			if len(plane) == 0 {
				continue
			}
			ptr := unsafe.Pointer(&plane[0])
			switch format {
			case astiav.SampleFormatFltp:
				copy(out, unsafe.Slice((*float32)(ptr), nbSamples))
			case astiav.SampleFormatDblp:
				for i, v := range unsafe.Slice((*float64)(ptr), nbSamples) {
					out[i] = float32(v)
				}
			case astiav.SampleFormatS16P:
				for i, v := range unsafe.Slice((*int16)(ptr), nbSamples) {
					out[i] = float32(v) / 32768.0
				}
			case astiav.SampleFormatS32P:
				for i, v := range unsafe.Slice((*int32)(ptr), nbSamples) {
					out[i] = float32(float64(v) / 2147483648.0)
				}
			default:
				return nil, types.ErrNotImplemented{Err: fmt.Errorf("sample format %s", format.Name())}
			}
		}
		return planes, nil
	}

	// packed
	plane, err := data.Bytes(0)
	if err != nil {
		return nil, fmt.Errorf("unable to get the samples: %w", err)
	}
	if len(plane) == 0 {
		return planes, nil
	}
	ptr := unsafe.Pointer(&plane[0])
	total := nbSamples * nbChannels
	switch format {
	case astiav.SampleFormatFlt:
		for i, v := range unsafe.Slice((*float32)(ptr), total) {
			planes[i%nbChannels][i/nbChannels] = v
		}
	case astiav.SampleFormatDbl:
		for i, v := range unsafe.Slice((*float64)(ptr), total) {
			planes[i%nbChannels][i/nbChannels] = float32(v)
		}
	case astiav.SampleFormatS16:
		for i, v := range unsafe.Slice((*int16)(ptr), total) {
			planes[i%nbChannels][i/nbChannels] = float32(v) / 32768.0
		}
	case astiav.SampleFormatS32:
		for i, v := range unsafe.Slice((*int32)(ptr), total) {
			planes[i%nbChannels][i/nbChannels] = float32(float64(v) / 2147483648.0)
		}
	default:
		return nil, types.ErrNotImplemented{Err: fmt.Errorf("sample format %s", format.Name())}
	}
	return planes, nil
}

// fillPlanes writes float32 planes into an allocated fltp frame.
func fillPlanes(f *astiav.Frame, planes [][]float32) error {
	if f.SampleFormat() != astiav.SampleFormatFltp {
		return types.ErrNotImplemented{Err: fmt.Errorf("filling sample format %s", f.SampleFormat().Name())}
	}
	data := f.Data()
	nbSamples := f.NbSamples()
	for ch, in := range planes {
		plane, err := data.Bytes(ch)
		if err != nil {
			return fmt.Errorf("unable to get plane %d: %w", ch, err)
		}
		if len(plane) == 0 {
			continue
		}
		out := unsafe.Slice((*float32)(unsafe.Pointer(&plane[0])), nbSamples)
		copy(out, in)
	}
	return nil
}
