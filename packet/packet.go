// packet.go defines the compressed packet that travels from a demuxer to a decoder.

// Package packet provides the compressed-data unit of the pipeline.
package packet

import (
	"fmt"

	"github.com/xaionaro-go/avtranscode/pool"
	"github.com/xaionaro-go/avtranscode/types"
)

type Flags uint32

const (
	FlagKey = Flags(1 << iota)
	FlagCorrupt
	FlagDiscard
)

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

func (f Flags) String() string {
	var s []byte
	for _, c := range []struct {
		Flag   Flags
		Letter byte
	}{
		{FlagKey, 'K'},
		{FlagCorrupt, 'C'},
		{FlagDiscard, 'D'},
	} {
		if f.Has(c.Flag) {
			s = append(s, c.Letter)
		} else {
			s = append(s, '_')
		}
	}
	return string(s)
}

// Freer is implemented by backend-owned payloads (e.g. a libav packet).
type Freer interface {
	Free()
}

// Packet is owned by exactly one stage at a time. Sending it through
// a queue moves the ownership to the receiver; the sender must not
// touch it afterwards.
type Packet struct {
	Data []byte

	// Buf optionally carries the backend-specific packet the Data
	// was read into. It is released together with the Packet.
	Buf any

	StreamIndex int
	PTS         int64
	DTS         int64
	Duration    int64
	TimeBase    types.Rational
	Pos         int64
	Flags       Flags
}

var Pool = pool.NewPool(
	func() *Packet { return &Packet{} },
	func(pkt *Packet) { pkt.reset() },
)

// New returns an empty packet with unset timestamps.
func New() *Packet {
	pkt := Pool.Get()
	pkt.PTS = types.NoPTSValue
	pkt.DTS = types.NoPTSValue
	pkt.Pos = -1
	return pkt
}

func (pkt *Packet) reset() {
	if f, ok := pkt.Buf.(Freer); ok {
		f.Free()
	}
	*pkt = Packet{}
}

// Free releases the packet. Nil-safe.
func (pkt *Packet) Free() {
	if pkt == nil {
		return
	}
	Pool.Put(pkt)
}

func (pkt *Packet) Size() int {
	return len(pkt.Data)
}

// Clone returns a copy sharing the same payload bytes. The backend
// payload is not carried over.
func (pkt *Packet) Clone() *Packet {
	cpy := Pool.Get()
	*cpy = *pkt
	cpy.Buf = nil
	return cpy
}

func (pkt *Packet) String() string {
	return fmt.Sprintf(
		"pkt{stream:%d pts:%s dts:%s dur:%d tb:%s size:%d flags:%s}",
		pkt.StreamIndex, types.TSString(pkt.PTS), types.TSString(pkt.DTS),
		pkt.Duration, pkt.TimeBase, len(pkt.Data), pkt.Flags,
	)
}
