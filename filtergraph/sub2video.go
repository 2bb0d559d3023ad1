// sub2video.go turns subtitle events into a video stream that can be overlaid.

package filtergraph

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"io"
	"math"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/types"
)

type renderFunc func(width, height int, rects []frame.SubtitleRect) image.Image

type sub2video struct {
	ifp *InputFilter

	// canvas is the picture currently shown
	canvas     *frame.Frame
	lastPTS    int64
	endPTS     int64
	initialize bool

	render renderFunc
}

func newSub2Video(ifp *InputFilter) *sub2video {
	s := &sub2video{
		ifp:    ifp,
		render: renderSubtitle,
	}
	s.prepare()
	return s
}

func (s *sub2video) prepare() {
	s.lastPTS = math.MinInt64
	s.endPTS = math.MinInt64
	s.initialize = true
}

func (s *sub2video) free() {
	s.canvas.Free()
	s.canvas = nil
}

// renderSubtitle draws the rectangles on a transparent canvas.
func renderSubtitle(width, height int, rects []frame.SubtitleRect) image.Image {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	for _, rect := range rects {
		if rect.Image == nil {
			continue
		}
		src := rect.Image.Bounds()
		dst := image.Rect(rect.X, rect.Y, rect.X+src.Dx(), rect.Y+src.Dy())
		draw.Draw(canvas, dst, rect.Image, src.Min, draw.Over)
	}
	return canvas
}

// update renders a new canvas: the given subtitle, or a blank picture
// if sub is nil.
func (s *sub2video) update(ctx context.Context, heartbeatPTS int64, sub *frame.Subtitle) {
	params := s.ifp.Params
	var (
		pts, endPTS int64
		rects       []frame.SubtitleRect
	)
	if sub != nil {
		pts = types.RescaleQ(sub.PTS+int64(sub.StartDisplayTime)*1000, types.TimeBaseQ, params.TimeBase)
		endPTS = types.RescaleQ(sub.PTS+int64(sub.EndDisplayTime)*1000, types.TimeBaseQ, params.TimeBase)
		bounds := image.Rect(0, 0, params.Width, params.Height)
		for _, rect := range sub.Rects {
			if rect.Image == nil {
				continue
			}
			r := rect.Image.Bounds()
			if !image.Rect(rect.X, rect.Y, rect.X+r.Dx(), rect.Y+r.Dy()).In(bounds) {
				logger.Errorf(ctx, "sub2video: rectangle (%d %d %d %d) overflowing %dx%d",
					rect.X, rect.Y, r.Dx(), r.Dy(), params.Width, params.Height)
				continue
			}
			rects = append(rects, rect)
		}
	} else {
		// when initializing, show the blank picture from the heartbeat on;
		// otherwise from the end of the previous subtitle
		pts = s.endPTS
		if s.initialize {
			pts = heartbeatPTS
		}
		endPTS = math.MaxInt64
	}

	canvas := frame.New()
	canvas.MediaType = types.MediaTypeVideo
	canvas.Format = params.Format
	canvas.Width = params.Width
	canvas.Height = params.Height
	canvas.SampleAspectRatio = params.SampleAspectRatio
	canvas.TimeBase = params.TimeBase
	canvas.Image = s.render(params.Width, params.Height, rects)
	s.canvas.Free()
	s.canvas = canvas

	s.pushRef(ctx, pts)
	s.endPTS = endPTS
	s.initialize = false
}

func (s *sub2video) pushRef(ctx context.Context, pts int64) {
	s.lastPTS = pts
	s.canvas.PTS = pts
	err := s.ifp.source.PushFrame(ctx, s.canvas.Ref())
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Warnf(ctx, "Error while adding the frame to the buffer source: %v", err)
	}
}

// heartbeat keeps the overlay defined up to pts without new content.
func (s *sub2video) heartbeat(ctx context.Context, pts int64, tb types.Rational) {
	// subtitles are usually muxed ahead of the other streams
	pts2 := types.RescaleQ(pts, tb, s.ifp.Params.TimeBase) - 1
	if pts2 <= s.lastPTS {
		return
	}
	if pts2 >= s.endPTS || s.initialize {
		s.update(ctx, pts2+1, nil)
		return
	}
	s.pushRef(ctx, pts2)
}

// sub2videoFrame handles a subtitle frame or a heartbeat (a frame
// without a subtitle), taking the ownership. With buffer set, the
// subtitle is only queued until the graph is configured, and a
// heartbeat is dropped.
func (fg *FilterGraph) sub2videoFrame(ctx context.Context, ifp *InputFilter, f *frame.Frame, buffer bool) {
	if buffer {
		if f.Subtitle == nil {
			f.Free()
			return
		}
		ifp.queueFrame(f)
		return
	}
	defer f.Free()

	if f.Subtitle == nil {
		ifp.sub2video.heartbeat(ctx, f.PTS, f.TimeBase)
		return
	}
	ifp.sub2video.update(ctx, math.MinInt64, f.Subtitle)
}

func (fg *FilterGraph) sub2videoEOF(ctx context.Context, ifp *InputFilter) error {
	if fg.eofIn[ifp.Index] {
		return nil
	}
	fg.eofIn[ifp.Index] = true
	if ifp.source == nil {
		// the source gets closed once the graph is configured
		return nil
	}

	s := ifp.sub2video
	if s.endPTS < math.MaxInt64 && !s.initialize {
		s.update(ctx, math.MaxInt64, nil)
	}
	return ifp.source.Close(ctx, types.NoPTSValue)
}
