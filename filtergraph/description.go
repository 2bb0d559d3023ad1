// description.go builds the textual description of the filters the engine inserts around the user graph.

package filtergraph

import (
	"fmt"
	"math"
	"strings"

	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
)

func joinStrings[T any](values []T, sep string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, sep)
}

func sourceLabel(idx int) string {
	return fmt.Sprintf("graph_src_%d", idx)
}

func sinkLabel(idx int) string {
	return fmt.Sprintf("graph_sink_%d", idx)
}

func passthroughFilter(mediaType types.MediaType) string {
	if mediaType == types.MediaTypeAudio {
		return "anull"
	}
	return "null"
}

// chainString joins the filters of a linear chain, substituting
// a passthrough filter for an empty chain.
func chainString(chain []string, mediaType types.MediaType) string {
	if len(chain) == 0 {
		return passthroughFilter(mediaType)
	}
	return strings.Join(chain, ",")
}

func linkString(from string, chain []string, mediaType types.MediaType, to string) string {
	return fmt.Sprintf("[%s]%s[%s]", from, chainString(chain, mediaType), to)
}

// autorotateFilters returns the filters that present the picture
// the way the display matrix requires.
func autorotateFilters(dm *frame.DisplayMatrix) []string {
	theta := dm.Rotation()
	switch {
	case math.Abs(theta-90) < 1:
		if dm[3] > 0 {
			return []string{"transpose=cclock_flip"}
		}
		return []string{"transpose=clock"}
	case math.Abs(theta-180) < 1:
		var chain []string
		if dm[0] < 0 {
			chain = append(chain, "hflip")
		}
		if dm[4] < 0 {
			chain = append(chain, "vflip")
		}
		return chain
	case math.Abs(theta-270) < 1:
		if dm[3] < 0 {
			return []string{"transpose=clock_flip"}
		}
		return []string{"transpose=cclock"}
	case math.Abs(theta) > 1:
		return []string{fmt.Sprintf("rotate=%f*PI/180", theta)}
	case dm[4] < 0:
		return []string{"vflip"}
	}
	return nil
}

// appendTrim appends a trim filter if any of the limits is set.
func appendTrim(chain []string, mediaType types.MediaType, start, duration int64) []string {
	if start == types.NoPTSValue && duration == math.MaxInt64 {
		return chain
	}
	name := "trim"
	if mediaType == types.MediaTypeAudio {
		name = "atrim"
	}
	var args []string
	if duration != math.MaxInt64 {
		args = append(args, fmt.Sprintf("durationi=%dus", duration))
	}
	if start != types.NoPTSValue {
		args = append(args, fmt.Sprintf("starti=%dus", start))
	}
	return append(chain, name+"="+strings.Join(args, ":"))
}

// inputChain returns the filters inserted between the source and the pad.
func (ifp *InputFilter) inputChain() []string {
	var chain []string
	ifp.displayMatrixApplied = false
	if ifp.MediaType == types.MediaTypeVideo && ifp.autorotate() && ifp.Params.DisplayMatrix != nil {
		chain = append(chain, autorotateFilters(ifp.Params.DisplayMatrix)...)
		ifp.displayMatrixApplied = true
	}
	return appendTrim(chain, ifp.MediaType, ifp.Options.TrimStart, ifp.Options.TrimDuration)
}

// outputChain returns the filters inserted between the pad and the sink.
func (ofp *OutputFilter) outputChain() []string {
	var chain []string
	switch ofp.MediaType {
	case types.MediaTypeVideo:
		if (ofp.Params.Width > 0 || ofp.Params.Height > 0) && ofp.Options.Autoscale {
			chain = append(chain, fmt.Sprintf("scale=%d:%d", ofp.Params.Width, ofp.Params.Height))
		}
		if args := ofp.pixFmtsArgs(); args != "" {
			chain = append(chain, "format="+args)
		}
	case types.MediaTypeAudio:
		if args := ofp.aformatArgs(); args != "" {
			chain = append(chain, "aformat="+args)
		}
		if ofp.Options.APad != "" {
			chain = append(chain, "apad="+ofp.Options.APad)
		}
	}
	return appendTrim(chain, ofp.MediaType, ofp.Options.TrimStart, ofp.Options.TrimDuration)
}
