package scheduler

import (
	"fmt"
)

type EndpointType int

const (
	EndpointTypeUndefined = EndpointType(iota)
	EndpointTypeDecoder
	EndpointTypeFilterIn
	EndpointTypeFilterOut
	EndpointTypeEncoder
)

func (t EndpointType) String() string {
	switch t {
	case EndpointTypeDecoder:
		return "dec"
	case EndpointTypeFilterIn:
		return "filter_in"
	case EndpointTypeFilterOut:
		return "filter_out"
	case EndpointTypeEncoder:
		return "enc"
	default:
		return fmt.Sprintf("EndpointType(%d)", int(t))
	}
}

// Endpoint addresses a connection point: a decoder, an encoder, or
// an input/output pad (SubIdx) of a filter graph (Idx).
type Endpoint struct {
	Type   EndpointType
	Idx    int
	SubIdx int
}

func Dec(idx int) Endpoint {
	return Endpoint{Type: EndpointTypeDecoder, Idx: idx}
}

func FilterIn(graphIdx, inputIdx int) Endpoint {
	return Endpoint{Type: EndpointTypeFilterIn, Idx: graphIdx, SubIdx: inputIdx}
}

func FilterOut(graphIdx, outputIdx int) Endpoint {
	return Endpoint{Type: EndpointTypeFilterOut, Idx: graphIdx, SubIdx: outputIdx}
}

func Enc(idx int) Endpoint {
	return Endpoint{Type: EndpointTypeEncoder, Idx: idx}
}

func (e Endpoint) String() string {
	switch e.Type {
	case EndpointTypeFilterIn, EndpointTypeFilterOut:
		return fmt.Sprintf("%s:%d:%d", e.Type, e.Idx, e.SubIdx)
	default:
		return fmt.Sprintf("%s:%d", e.Type, e.Idx)
	}
}
