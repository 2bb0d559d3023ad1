// Package logger is the context-carried logging of avtranscode. The
// logger itself (and its fields) travel in the context.Context, see
// CtxWithLogger.
package logger

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
)

type Logger = logger.Logger

func Debugf(ctx context.Context, format string, args ...any) {
	logger.Debugf(ctx, format, args...)
}

func Infof(ctx context.Context, format string, args ...any) {
	logger.Infof(ctx, format, args...)
}

func Warnf(ctx context.Context, format string, args ...any) {
	logger.Warnf(ctx, format, args...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	logger.Errorf(ctx, format, args...)
}

// Panic logs the values and panics.
func Panic(ctx context.Context, values ...any) {
	logger.Panic(ctx, values...)
}
