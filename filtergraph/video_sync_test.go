package filtergraph

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

func newSyncOutput(vsync VSyncMethod, tbOut types.Rational) *OutputFilter {
	opts := DefaultOutputOptions()
	opts.VSync = vsync
	ofp := newOutputFilter(0, "out", types.MediaTypeVideo, opts)
	ofp.TimeBaseOut = tbOut
	ofp.tbOutLocked = true
	return ofp
}

// syncFrames runs the frames through the video sync the way outputFrame
// does and returns the number of copies of each.
func syncFrames(t *testing.T, ofp *OutputFilter, frames ...*frame.Frame) []int64 {
	ctx := testCtx(t)
	var counts []int64
	for _, f := range frames {
		nbFrames, _ := ofp.videoSyncProcess(ctx, f)
		counts = append(counts, nbFrames)
		ofp.NextPTS += nbFrames
		ofp.fps.frameNumber += nbFrames
		f.Free()
	}
	return counts
}

func TestVideoSyncCFR(t *testing.T) {
	tb := types.NewRational(1, 25)
	ofp := newSyncOutput(VSyncCFR, tb)

	counts := syncFrames(t, ofp,
		newVideoFrame(0, tb, 16, 16),
		newVideoFrame(1, tb, 16, 16),
		newVideoFrame(2, tb, 16, 16),
		newVideoFrame(4, tb, 16, 16),
		newVideoFrame(5, tb, 16, 16),
	)
	require.Equal(t, []int64{1, 1, 1, 2, 1}, counts)
	require.Equal(t, int64(6), ofp.NextPTS)
	require.Equal(t, uint64(1), ofp.NbFramesDup.Load())
	require.Zero(t, ofp.NbFramesDrop.Load())
}

func TestVideoSyncCFRGapRepeatsPrevious(t *testing.T) {
	ctx := testCtx(t)
	tb := types.NewRational(1, 25)
	ofp := newSyncOutput(VSyncCFR, tb)
	syncFrames(t, ofp,
		newVideoFrame(0, tb, 16, 16),
		newVideoFrame(1, tb, 16, 16),
		newVideoFrame(2, tb, 16, 16),
	)

	f := newVideoFrame(6, tb, 16, 16)
	defer f.Free()
	nbFrames, nbFramesPrev := ofp.videoSyncProcess(ctx, f)
	require.Equal(t, int64(4), nbFrames)
	require.Equal(t, int64(2), nbFramesPrev)
	require.Equal(t, uint64(3), ofp.NbFramesDup.Load())
}

func TestVideoSyncCFRDrop(t *testing.T) {
	tb := types.NewRational(1, 25)
	ofp := newSyncOutput(VSyncCFR, tb)
	ofp.NextPTS = 10
	ofp.fps.frameNumber = 10

	counts := syncFrames(t, ofp,
		newVideoFrame(7, tb, 16, 16),
		newVideoFrame(10, tb, 16, 16),
	)
	require.Equal(t, []int64{0, 1}, counts)
	// the drop is accounted when the next frame is processed
	require.Equal(t, uint64(1), ofp.NbFramesDrop.Load())
}

func TestVideoSyncVFR(t *testing.T) {
	ctx := testCtx(t)
	tbIn := types.NewRational(1, 250)

	for _, tc := range []struct {
		name     string
		pts      int64
		nbFrames int64
		nextPTS  int64
	}{
		{name: "late_by_0.7_is_dropped", pts: 93, nbFrames: 0, nextPTS: 10},
		{name: "late_by_0.5_is_kept", pts: 95, nbFrames: 1, nextPTS: 10},
		{name: "ahead_resyncs", pts: 120, nbFrames: 1, nextPTS: 12},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ofp := newSyncOutput(VSyncVFR, types.NewRational(1, 25))
			ofp.NextPTS = 10

			f := newVideoFrame(tc.pts, tbIn, 16, 16)
			f.Duration = 0
			defer f.Free()

			nbFrames, nbFramesPrev := ofp.videoSyncProcess(ctx, f)
			require.Equal(t, tc.nbFrames, nbFrames)
			require.Zero(t, nbFramesPrev)
			require.Equal(t, tc.nextPTS, ofp.NextPTS)
		})
	}
}

func TestVideoSyncVSCFRInitialGap(t *testing.T) {
	ctx := testCtx(t)
	tb := types.NewRational(1, 25)

	ofp := newSyncOutput(VSyncVSCFR, tb)
	f := newVideoFrame(5, tb, 16, 16)
	nbFrames, nbFramesPrev := ofp.videoSyncProcess(ctx, f)
	f.Free()
	require.Equal(t, int64(1), nbFrames)
	require.Zero(t, nbFramesPrev)
	require.Equal(t, int64(5), ofp.NextPTS)

	ofp = newSyncOutput(VSyncCFR, tb)
	f = newVideoFrame(5, tb, 16, 16)
	nbFrames, nbFramesPrev = ofp.videoSyncProcess(ctx, f)
	f.Free()
	require.Equal(t, int64(6), nbFrames)
	require.Equal(t, int64(4), nbFramesPrev)
}

func TestVideoSyncFlushUsesMedianHistory(t *testing.T) {
	ctx := testCtx(t)
	ofp := newSyncOutput(VSyncCFR, types.NewRational(1, 25))
	ofp.fps.framesPrevHist = [3]int64{2, 0, 1}

	nbFrames, nbFramesPrev := ofp.videoSyncProcess(ctx, nil)
	require.Equal(t, int64(1), nbFrames)
	require.Equal(t, int64(1), nbFramesPrev)
	require.Equal(t, [3]int64{1, 2, 0}, ofp.fps.framesPrevHist)
}

func TestAdjustFramePTS(t *testing.T) {
	f := newVideoFrame(3003, types.NewRational(1, 90000), 16, 16)
	defer f.Free()

	floatPTS := adjustFramePTS(f, types.NewRational(1, 30), 0)
	require.Equal(t, int64(1), f.PTS)
	require.Equal(t, types.NewRational(1, 30), f.TimeBase)
	require.InDelta(t, 1.001, floatPTS, 1e-4)

	f.PTS = 50
	f.TimeBase = types.NewRational(1, 25)
	adjustFramePTS(f, types.NewRational(1, 25), 1_000_000)
	require.Equal(t, int64(25), f.PTS)
}
