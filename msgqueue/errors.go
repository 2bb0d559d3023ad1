package msgqueue

import (
	"errors"
)

// ErrFreed is returned by a queue that was freed before being closed.
var ErrFreed = errors.New("the queue is freed")
