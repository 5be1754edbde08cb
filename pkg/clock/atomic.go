package clock

import (
	"sync/atomic"
	"time"

	"schemadb/pkg/types"
)

// Micros hands out microsecond timestamps that never repeat and never go
// backwards, even when the wall clock does.
type Micros struct {
	last atomic.Int64
}

func NewMicros() *Micros {
	return &Micros{}
}

func (c *Micros) Next() types.Timestamp {
	for {
		now := time.Now().UnixMicro()
		prev := c.last.Load()
		if now <= prev {
			now = prev + 1
		}
		if c.last.CompareAndSwap(prev, now) {
			return types.Timestamp(now)
		}
	}
}

func (c *Micros) Val() types.Timestamp {
	return types.Timestamp(c.last.Load())
}
