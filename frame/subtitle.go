package frame

import (
	"image"
)

// Subtitle is a decoded subtitle event.
type Subtitle struct {
	// PTS is in types.TimeBaseQ.
	PTS int64

	// StartDisplayTime and EndDisplayTime are in milliseconds
	// relative to PTS.
	StartDisplayTime uint32
	EndDisplayTime   uint32

	Rects []SubtitleRect
}

// SubtitleRect is a bitmap positioned on the video canvas.
type SubtitleRect struct {
	X, Y  int
	Image image.Image
}
