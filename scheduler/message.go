package scheduler

import (
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

// FilterInput is what a filter graph receives on one of its inputs
// (or on the control input).
type FilterInput struct {
	// Frame is nil for EOF and command messages.
	Frame *frame.Frame

	// EOF marks the end of the input; EOFTimestamp is the end
	// timestamp of the stream, if known.
	EOF          bool
	EOFTimestamp types.Timestamp

	// Heartbeat is a subtitle tick without new content; Frame then
	// only carries PTS and TimeBase.
	Heartbeat bool

	Command *FilterCommand
}

func (in FilterInput) Free() {
	in.Frame.Free()
}

// FilterCommand is a runtime command to one or all filters of a graph.
type FilterCommand struct {
	Target  string
	Command string
	Arg     string

	// Time is the graph time (in seconds) to run the command at; a
	// negative value means "now".
	Time       float64
	AllFilters bool
}

// InputState is what ChooseInput needs to know about a graph input.
type InputState struct {
	NbFailedRequests int
	EOF              bool
}

// ChooseInput returns the input the graph is starving on the most:
// the one with the largest number of failed frame requests among the
// inputs that are not finished. It returns -1 if every input is finished.
func ChooseInput(inputs []InputState) int {
	best, bestRequests := -1, -1
	for idx, in := range inputs {
		if in.EOF {
			continue
		}
		if in.NbFailedRequests > bestRequests {
			best, bestRequests = idx, in.NbFailedRequests
		}
	}
	return best
}
