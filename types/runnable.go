package types

import "context"

// Runnable is the work item behind a test case. Implementations must honor
// context cancellation; the runner enforces the per-attempt deadline through
// the passed context.
type Runnable interface {
	Run(ctx context.Context) error
}

// RunnableFunc adapts a plain function to the Runnable interface.
type RunnableFunc func(ctx context.Context) error

func (f RunnableFunc) Run(ctx context.Context) error {
	return f(ctx)
}
