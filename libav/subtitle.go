// subtitle.go decodes subtitle packets, which go-astiav does not wrap.

package libav

/*
#cgo pkg-config: libavcodec
#include <libavcodec/avcodec.h>

static AVSubtitleRect *subtitle_rect(AVSubtitle *sub, unsigned idx) {
	return sub->rects[idx];
}
*/
import "C"

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"unsafe"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

// decodeSubtitle decodes one packet; ok is false if the packet did not
// complete a subtitle. Only bitmap rectangles are kept.
func decodeSubtitle(
	codecContext *astiav.CodecContext,
	avPkt *astiav.Packet,
) (_ *frame.Subtitle, nbSkipped int, ok bool, _ error) {
	var (
		sub C.AVSubtitle
		got C.int
	)
	ret := C.avcodec_decode_subtitle2(
		(*C.AVCodecContext)(cPointer(codecContext)),
		&sub, &got,
		(*C.AVPacket)(cPointer(avPkt)),
	)
	if ret < 0 {
		return nil, 0, false, astiav.Error(ret)
	}
	if got == 0 {
		return nil, 0, false, nil
	}
	defer C.avsubtitle_free(&sub)

	result := &frame.Subtitle{
		PTS:              int64(sub.pts),
		StartDisplayTime: uint32(sub.start_display_time),
		EndDisplayTime:   uint32(sub.end_display_time),
	}
	for idx := C.uint(0); idx < sub.num_rects; idx++ {
		r := C.subtitle_rect(&sub, idx)
		if r._type != C.SUBTITLE_BITMAP || r.w <= 0 || r.h <= 0 {
			nbSkipped++
			continue
		}
		stride := int(r.linesize[0])
		indices := C.GoBytes(unsafe.Pointer(r.data[0]), C.int(stride*int(r.h)))
		palette := paletteFromBytes(C.GoBytes(unsafe.Pointer(r.data[1]), r.nb_colors*4))
		img, err := paletteImage(int(r.w), int(r.h), stride, indices, palette)
		if err != nil {
			return nil, 0, false, err
		}
		result.Rects = append(result.Rects, frame.SubtitleRect{
			X:     int(r.x),
			Y:     int(r.y),
			Image: img,
		})
	}
	return result, nbSkipped, true, nil
}

// paletteFromBytes parses the native-endian 0xAARRGGBB palette of a
// subtitle rectangle.
func paletteFromBytes(b []byte) []uint32 {
	palette := make([]uint32, len(b)/4)
	for idx := range palette {
		palette[idx] = binary.NativeEndian.Uint32(b[idx*4:])
	}
	return palette
}

// paletteImage converts a palettized bitmap into a picture.
func paletteImage(width, height, stride int, indices []byte, palette []uint32) (*image.NRGBA, error) {
	if stride < width || len(indices) < stride*(height-1)+width {
		return nil, types.ErrInvalidData{Reason: fmt.Sprintf("a %dx%d bitmap in %d bytes with stride %d", width, height, len(indices), stride)}
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := int(indices[y*stride+x])
			if idx >= len(palette) {
				continue
			}
			c := palette[idx]
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(c >> 16),
				G: uint8(c >> 8),
				B: uint8(c),
				A: uint8(c >> 24),
			})
		}
	}
	return img, nil
}
