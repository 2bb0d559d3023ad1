package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// ChannelLayout is a channel layout in its canonical textual form
// ("mono", "stereo", "5.1", or "Nc" for unknown orders).
// The zero value means "unknown".
type ChannelLayout string

const (
	ChannelLayoutMono   = ChannelLayout("mono")
	ChannelLayoutStereo = ChannelLayout("stereo")
)

var channelCounts = map[ChannelLayout]int{
	"mono":   1,
	"stereo": 2,
	"2.1":    3,
	"3.0":    3,
	"quad":   4,
	"5.0":    5,
	"5.1":    6,
	"7.1":    8,
}

// DefaultChannelLayout returns the default layout for the given
// number of channels.
func DefaultChannelLayout(nbChannels int) ChannelLayout {
	switch nbChannels {
	case 0:
		return ""
	case 1:
		return ChannelLayoutMono
	case 2:
		return ChannelLayoutStereo
	case 6:
		return "5.1"
	case 8:
		return "7.1"
	}
	return ChannelLayout(fmt.Sprintf("%dc", nbChannels))
}

func (l ChannelLayout) IsSet() bool {
	return l != ""
}

func (l ChannelLayout) NbChannels() int {
	if n, ok := channelCounts[l]; ok {
		return n
	}
	if s, ok := strings.CutSuffix(string(l), "c"); ok {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}

func (l ChannelLayout) String() string {
	if l == "" {
		return "unknown"
	}
	return string(l)
}
