package demux

import (
	"errors"

	"github.com/xaionaro-go/avtranscode/packet"
)

// ErrLooping is returned by GetPacket when the input was restarted
// from the beginning. The consumer is expected to flush its decoders.
var ErrLooping = errors.New("the input is looping")

// Message is the unit the worker hands over to the consumer.
type Message struct {
	Packet     *packet.Packet
	Looping    bool
	RepeatPict int
}

func freeMessage(msg Message) {
	msg.Packet.Free()
}

// LastFrameDuration reports the duration (in the stream time base) of
// the last decoded audio frame of a loop iteration.
type LastFrameDuration struct {
	StreamIndex int
	Duration    int64
}
