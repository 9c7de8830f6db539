package component

import (
	"context"
)

// Task is a single step of the migration workflow that can be invoked on its own or as part of a run.
type Task interface {
	// Name returns the name the task is invoked by, e.g. on the command line.
	Name() string
	// Run executes the task. It blocks until the task completed or the context is cancelled.
	Run(ctx context.Context) error
}
