package internal

import (
	"context"

	"github.com/xaionaro-go/avtranscode/logger"
)

// Assert panics (through the logger, so the message is flushed
// first) if an internal invariant does not hold.
func Assert(ctx context.Context, mustBeTrue bool, details ...any) {
	if !mustBeTrue {
		logger.Panic(ctx, "internal invariant violated", details)
	}
}
