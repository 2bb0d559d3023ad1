package gofilter

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/xaionaro-go/avtranscode/frame"
)

// imageKind returns the Go representation used for the pixel format,
// or false if the format is not supported.
func imageKind(format string) (image.YCbCrSubsampleRatio, string, bool) {
	switch format {
	case "rgba", "bgra", "rgb24", "bgr24", "rgb0", "bgr0", "argb", "abgr":
		return 0, "rgba", true
	case "gray", "gray8":
		return 0, "gray", true
	case "yuv420p", "yuvj420p":
		return image.YCbCrSubsampleRatio420, "ycbcr", true
	case "yuv422p", "yuvj422p":
		return image.YCbCrSubsampleRatio422, "ycbcr", true
	case "yuv444p", "yuvj444p":
		return image.YCbCrSubsampleRatio444, "ycbcr", true
	case "yuv440p", "yuvj440p":
		return image.YCbCrSubsampleRatio440, "ycbcr", true
	case "yuv411p":
		return image.YCbCrSubsampleRatio411, "ycbcr", true
	case "yuv410p":
		return image.YCbCrSubsampleRatio410, "ycbcr", true
	}
	return 0, "", false
}

func isConvertible(format string) bool {
	_, _, ok := imageKind(format)
	return ok
}

// convertImage returns the image in the representation of the pixel
// format. The source image is never modified.
func convertImage(img image.Image, format string) image.Image {
	if img == nil {
		return nil
	}
	ratio, kind, ok := imageKind(format)
	if !ok {
		return img
	}
	switch kind {
	case "gray":
		if _, ok := img.(*image.Gray); ok {
			return img
		}
		dst := image.NewGray(img.Bounds())
		draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
		return dst
	case "ycbcr":
		if src, ok := img.(*image.YCbCr); ok && src.SubsampleRatio == ratio {
			return img
		}
		return toYCbCr(img, ratio)
	default:
		return toRGBA(img)
	}
}

// toRGBA returns img itself if it is already an *image.RGBA.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return dst
}

func toYCbCr(img image.Image, ratio image.YCbCrSubsampleRatio) *image.YCbCr {
	b := img.Bounds()
	dst := image.NewYCbCr(b, ratio)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			yy, cb, cr := color.RGBToYCbCr(c.R, c.G, c.B)
			dst.Y[dst.YOffset(x, y)] = yy
			ci := dst.COffset(x, y)
			dst.Cb[ci] = cb
			dst.Cr[ci] = cr
		}
	}
	return dst
}

// setImage replaces the picture of the frame, dropping the backend
// payload that does not match it anymore.
func setImage(f *frame.Frame, img image.Image) {
	if freer, ok := f.Buf.(frame.Freer); ok {
		freer.Free()
	}
	f.Buf = nil
	f.Image = img
	if img != nil {
		f.Width = img.Bounds().Dx()
		f.Height = img.Bounds().Dy()
	}
}

func setSamples(f *frame.Frame, samples [][]float32, nbSamples int) {
	if freer, ok := f.Buf.(frame.Freer); ok {
		freer.Free()
	}
	f.Buf = nil
	f.Samples = samples
	f.NbSamples = nbSamples
}
