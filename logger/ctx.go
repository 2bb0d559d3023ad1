package logger

import (
	"context"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
)

func CtxWithLogger(ctx context.Context, l logger.Logger) context.Context {
	return logger.CtxWithLogger(ctx, l)
}

// CtxWithInput tags all log lines with the input file index.
func CtxWithInput(ctx context.Context, inputIdx int) context.Context {
	return belt.WithField(ctx, "input", inputIdx)
}

// CtxWithGraph tags all log lines with the filter graph index.
func CtxWithGraph(ctx context.Context, graphIdx int) context.Context {
	return belt.WithField(ctx, "graph", graphIdx)
}
