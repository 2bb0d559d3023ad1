package demux

import (
	"github.com/xaionaro-go/avtranscode/types"
)

// readRateCheck returns types.ErrWouldBlock if any stream is ahead of
// the emulated wall clock.
//
// Stream timestamps are kept in types.TimeBaseQ while the wall clock
// is measured in types.MicrosecondQ; every comparison is done after an
// explicit conversion into microseconds.
func (d *Demuxer) readRateCheck() error {
	scale := d.Config.ReadRate
	if d.Config.RateEmu {
		scale = 1
	}
	fileStart := d.FileStart()
	burstUntil := types.RescaleQ(
		int64(d.Config.ReadRateInitialBurst*types.TimeBase),
		types.TimeBaseQ, types.MicrosecondQ,
	)
	elapsed := d.now().Sub(d.wallclockStart).Microseconds()

	for _, st := range d.Streams {
		if st.Packets.Count.Load() == 0 || (st.Config.DecodingNeeded && !st.gotOutput.Load()) {
			continue
		}
		if st.dts == types.NoPTSValue {
			continue
		}
		firstDTS := int64(0)
		if st.firstDTS != types.NoPTSValue {
			firstDTS = st.firstDTS
		}
		streamTSOffset := max(firstDTS, fileStart)
		pts := types.RescaleQ(st.dts, types.TimeBaseQ, types.MicrosecondQ)
		now := int64(float64(elapsed)*scale) + types.RescaleQ(streamTSOffset, types.TimeBaseQ, types.MicrosecondQ)
		if pts-burstUntil > now {
			return types.ErrWouldBlock
		}
	}
	return nil
}
