package libav

import (
	"image"
	"image/color"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avtranscode/types"
)

func TestPaletteImage(t *testing.T) {
	palette := []uint32{0x00000000, 0xffff0000, 0x8000ff00}
	// 2x2 bitmap, the rows are padded to 4 bytes
	indices := []byte{
		0, 1, 9, 9,
		2, 7, 9, 9,
	}
	img, err := paletteImage(2, 2, 4, indices, palette)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
	require.Equal(t, color.NRGBA{}, img.NRGBAAt(0, 0))
	require.Equal(t, color.NRGBA{R: 255, A: 255}, img.NRGBAAt(1, 0))
	require.Equal(t, color.NRGBA{G: 255, A: 128}, img.NRGBAAt(0, 1))
	// out of the palette
	require.Equal(t, color.NRGBA{}, img.NRGBAAt(1, 1))

	_, err = paletteImage(2, 2, 1, indices, palette)
	var errInvalidData types.ErrInvalidData
	require.ErrorAs(t, err, &errInvalidData)
	_, err = paletteImage(4, 3, 4, indices, palette)
	require.ErrorAs(t, err, &errInvalidData)
}

func TestDecodeTextSubtitle(t *testing.T) {
	codec := astiav.FindDecoderByName("subrip")
	require.NotNil(t, codec)
	codecContext := astiav.AllocCodecContext(codec)
	require.NotNil(t, codecContext)
	defer codecContext.Free()
	codecContext.SetPktTimebase(astiav.NewRational(1, 1000))
	require.NoError(t, codecContext.Open(codec, nil))

	pkt := astiav.AllocPacket()
	require.NotNil(t, pkt)
	defer pkt.Free()
	require.NoError(t, pkt.FromData([]byte("Hello")))
	pkt.SetPts(1000)
	pkt.SetDuration(2000)

	sub, nbSkipped, ok, err := decodeSubtitle(codecContext, pkt)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1_000_000), sub.PTS)
	require.Equal(t, uint32(2000), sub.EndDisplayTime)
	// text is not rendered
	require.Empty(t, sub.Rects)
	require.Equal(t, 1, nbSkipped)
}
