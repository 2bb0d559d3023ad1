// error_handler.go defines the ErrorHandler interface.

package types

import (
	"context"
)

// ErrorHandler receives fatal errors of background workers.
type ErrorHandler interface {
	HandleError(ctx context.Context, err error) error
}

type ErrorHandlerFunc func(ctx context.Context, err error) error

func (fn ErrorHandlerFunc) HandleError(ctx context.Context, err error) error {
	return fn(ctx, err)
}
