// Package closuresignaler provides a close-once signal that many
// goroutines can wait on.
package closuresignaler

import (
	"context"
	"errors"
	"sync"

	"github.com/xaionaro-go/avtranscode/logger"
)

var ErrClosed = errors.New("closed")

type ClosureSignaler struct {
	closeOnce sync.Once
	c         chan struct{}
}

func New() *ClosureSignaler {
	return &ClosureSignaler{
		c: make(chan struct{}),
	}
}

// CloseChan is closed by the first Close.
func (c *ClosureSignaler) CloseChan() <-chan struct{} {
	return c.c
}

func (c *ClosureSignaler) Close(ctx context.Context) {
	c.closeOnce.Do(func() {
		logger.Debugf(ctx, "signaling the closure")
		close(c.c)
	})
}

// Err returns ErrClosed once Close was called, nil before.
func (c *ClosureSignaler) Err() error {
	select {
	case <-c.c:
		return ErrClosed
	default:
		return nil
	}
}
