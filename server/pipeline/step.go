package pipeline

import (
	"context"
)

// Step is one independently retryable unit of a run. Execute gets the
// context accumulated by earlier steps and returns the extended
// context. Steps must be safe to re-execute after a crash, except
// side-effecting steps, which declare themselves via SideEffecting and
// are guarded by durable markers instead.
type Step interface {
	Name() string
	Execute(ctx context.Context, pc *Context) (*Context, error)
}

// SideEffecting marks a step whose execution mutates an external
// system. The runner records the idempotency key before dispatching
// the step and refuses to blindly re-dispatch a step whose previous
// attempt may already have applied the effect.
type SideEffecting interface {
	Step
	IdempotencyKey(pc *Context) string
}

// Step names, in execution order.
const (
	StepRetrieve     = "retrieve"
	StepFetchTickets = "fetch_existing_tickets"
	StepDecide       = "decide"
	StepResolve      = "resolve_ticket"
	StepLog          = "log_result"
)
