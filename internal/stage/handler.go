// Package stage defines the contract every pipeline stage implements so the
// workflow manager can drive tasks without knowing stage internals.
package stage

import (
	"context"

	"slate/internal/queue"
)

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	Prepare(context.Context, *queue.Task) error
	Execute(context.Context, *queue.Task) error
	HealthCheck(context.Context) Health
}
