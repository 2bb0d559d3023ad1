package types

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/atomic"
)

type StatisticsItem struct {
	Count uint64 `json:",omitempty" yaml:",omitempty"`
	Bytes uint64 `json:",omitempty" yaml:",omitempty"`
}

func (s StatisticsItem) String() string {
	return fmt.Sprintf("%s (%s)", humanize.Comma(int64(s.Count)), humanize.Bytes(s.Bytes))
}

// CountersItem is the live (concurrently updated) form of StatisticsItem.
type CountersItem struct {
	Count atomic.Uint64
	Bytes atomic.Uint64
}

func (c *CountersItem) Increment(msgSize uint64) {
	c.Count.Add(1)
	c.Bytes.Add(msgSize)
}

func (c *CountersItem) ToStats() StatisticsItem {
	return StatisticsItem{
		Count: c.Count.Load(),
		Bytes: c.Bytes.Load(),
	}
}
