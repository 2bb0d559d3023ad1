//go:build !debug_trace

package logger

import (
	"context"
)

func Tracef(ctx context.Context, format string, args ...any) {}
