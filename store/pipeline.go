package store

import (
	"context"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunPending RunStatus = "PENDING"
	RunRunning RunStatus = "RUNNING"
	RunDone    RunStatus = "DONE"
	RunFailed  RunStatus = "FAILED"
)

// StepStatus is the state of a single pipeline step.
type StepStatus string

const (
	// StepStarted marks that the step was dispatched. For side-effecting
	// steps this row is written before the external call, so a crash
	// between call and completion leaves a visible STARTED marker.
	StepStarted   StepStatus = "STARTED"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
)

// PipelineRun is one durable execution of the decision pipeline.
type PipelineRun struct {
	ID          string
	ChannelID   string
	Query       string
	TopK        int
	Threshold   float64
	Status      RunStatus
	ContextJSON string
	CreatedTs   int64
	UpdatedTs   int64
}

// FindPipelineRun is the filter for listing pipeline runs.
type FindPipelineRun struct {
	ID        *string
	ChannelID *string
	Status    *RunStatus
	Limit     *int
}

// UpdatePipelineRun holds mutable pipeline run fields.
type UpdatePipelineRun struct {
	ID          string
	Status      *RunStatus
	ContextJSON *string
}

// PipelineStep is a durable step marker keyed by (run id, step name).
// Resumption re-enters the pipeline at the first step without a
// COMPLETED marker; a STARTED marker on a side-effecting step means the
// external call may have gone out and must not be replayed blindly.
type PipelineStep struct {
	RunID          string
	Name           string
	Status         StepStatus
	IdempotencyKey string
	ResultJSON     string
	StartedTs      int64
	CompletedTs    int64
}

func (s *Store) CreatePipelineRun(ctx context.Context, create *PipelineRun) (*PipelineRun, error) {
	return s.driver.CreatePipelineRun(ctx, create)
}

func (s *Store) GetPipelineRun(ctx context.Context, id string) (*PipelineRun, error) {
	return s.driver.GetPipelineRun(ctx, id)
}

func (s *Store) ListPipelineRuns(ctx context.Context, find *FindPipelineRun) ([]*PipelineRun, error) {
	return s.driver.ListPipelineRuns(ctx, find)
}

func (s *Store) UpdatePipelineRun(ctx context.Context, update *UpdatePipelineRun) error {
	return s.driver.UpdatePipelineRun(ctx, update)
}

func (s *Store) UpsertPipelineStep(ctx context.Context, upsert *PipelineStep) (*PipelineStep, error) {
	return s.driver.UpsertPipelineStep(ctx, upsert)
}

func (s *Store) GetPipelineStep(ctx context.Context, runID, name string) (*PipelineStep, error) {
	return s.driver.GetPipelineStep(ctx, runID, name)
}

func (s *Store) ListPipelineSteps(ctx context.Context, runID string) ([]*PipelineStep, error) {
	return s.driver.ListPipelineSteps(ctx, runID)
}
