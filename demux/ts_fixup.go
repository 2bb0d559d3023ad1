package demux

import (
	"github.com/xaionaro-go/avtranscode/packet"
	"github.com/xaionaro-go/avtranscode/types"
)

// fixupTimestamps corrects a single timestamp wrap-around, applies the
// input offset, the per-stream scale and the loop duration. It
// returns the parser field-repeat count, or -1 if unknown.
//
// Besides the packet it only touches the stream's PTS extrema and
// its wrap-correction flag.
func (d *Demuxer) fixupTimestamps(st *Stream, pkt *packet.Packet) int {
	tb := st.Info.TimeBase
	wrapBits := st.Info.PTSWrapBits

	if !st.wrapCorrectionDone && d.startTimeEffective != types.NoPTSValue && wrapBits > 0 && wrapBits < 64 {
		stime := types.RescaleQ(d.startTimeEffective, types.TimeBaseQ, tb)
		stime2 := stime + int64(uint64(1)<<wrapBits)
		st.wrapCorrectionDone = true

		threshold := stime + int64(1)<<(wrapBits-1)
		if stime2 > stime && pkt.DTS != types.NoPTSValue && pkt.DTS > threshold {
			pkt.DTS -= int64(uint64(1) << wrapBits)
			st.wrapCorrectionDone = false
		}
		if stime2 > stime && pkt.PTS != types.NoPTSValue && pkt.PTS > threshold {
			pkt.PTS -= int64(uint64(1) << wrapBits)
			st.wrapCorrectionDone = false
		}
	}

	offset := types.RescaleQ(d.tsOffset, types.TimeBaseQ, tb)
	if pkt.DTS != types.NoPTSValue {
		pkt.DTS += offset
		pkt.DTS = int64(float64(pkt.DTS) * st.Config.TSScale)
	}
	if pkt.PTS != types.NoPTSValue {
		pkt.PTS += offset
		pkt.PTS = int64(float64(pkt.PTS) * st.Config.TSScale)
	}

	duration := types.RescaleQ(d.duration, d.durationTB, tb)
	if pkt.PTS != types.NoPTSValue {
		pkt.PTS += duration
		st.MaxPTS = max(pkt.PTS, st.MaxPTS)
		st.MinPTS = min(pkt.PTS, st.MinPTS)
	}
	if pkt.DTS != types.NoPTSValue {
		pkt.DTS += duration
	}

	if st.Info.MediaType == types.MediaTypeVideo {
		if repeatPict, ok := d.Reader.RepeatPict(pkt.StreamIndex); ok {
			return repeatPict
		}
	}
	return -1
}
