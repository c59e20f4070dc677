package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chanticle/chanticle/internal/observability"
	"github.com/chanticle/chanticle/plugin/tracker"
	"github.com/chanticle/chanticle/server/gate"
	"github.com/chanticle/chanticle/server/retrieval"
	"github.com/chanticle/chanticle/store"
)

// Defaults for the run invocation surface.
const (
	DefaultRunTopK      = 5
	DefaultRunThreshold = 0.5
)

var (
	// ErrEmptyQuery is returned when a run is requested with an empty query.
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrEmptyChannel is returned when a run is requested with an empty channel id.
	ErrEmptyChannel = errors.New("channel id cannot be empty")
	// ErrAmbiguousSideEffect is returned on resume when a side-effecting
	// step was dispatched but never completed. The external call may
	// have gone out; replaying it could create a duplicate ticket.
	ErrAmbiguousSideEffect = errors.New("side-effecting step was started but not completed, refusing to replay")
)

// RunStore is the slice of the store the runner needs for durability.
type RunStore interface {
	CreatePipelineRun(ctx context.Context, create *store.PipelineRun) (*store.PipelineRun, error)
	GetPipelineRun(ctx context.Context, id string) (*store.PipelineRun, error)
	UpdatePipelineRun(ctx context.Context, update *store.UpdatePipelineRun) error
	UpsertPipelineStep(ctx context.Context, upsert *store.PipelineStep) (*store.PipelineStep, error)
	GetPipelineStep(ctx context.Context, runID, name string) (*store.PipelineStep, error)
}

// Config tunes the runner's execution policy. Zero values fall back to
// the documented defaults.
type Config struct {
	StepTimeout      time.Duration // per-attempt timeout, default 10s
	MaxAttempts      int           // per-step attempts, default 3
	RetryBackoff     time.Duration // base backoff, doubled per attempt, default 1s
	DefaultTopK      int           // default 5
	DefaultThreshold float64       // default 0.5
	Project          string        // tracker project key
}

func (c Config) withDefaults() Config {
	if c.StepTimeout <= 0 {
		c.StepTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = DefaultRunTopK
	}
	if c.DefaultThreshold <= 0 {
		c.DefaultThreshold = DefaultRunThreshold
	}
	return c
}

// RunOptions overrides the per-run retrieval policy. Zero values mean
// "use the runner's defaults".
type RunOptions struct {
	TopK      int
	Threshold float64
}

// Runner executes pipeline runs durably. Step completion markers keyed
// by (run id, step name) are persisted as each step finishes, so a
// crashed or failed run resumes at its first uncompleted step instead
// of replaying from the start.
type Runner struct {
	store  RunStore
	config Config
	steps  []Step
}

// NewRunner wires the five pipeline steps in order.
func NewRunner(st RunStore, searcher *retrieval.Searcher, expander *retrieval.Expander, g *gate.Gate, trk tracker.Tracker, config Config) *Runner {
	config = config.withDefaults()
	return &Runner{
		store:  st,
		config: config,
		steps: []Step{
			&retrieveStep{searcher: searcher, expander: expander},
			&fetchTicketsStep{tracker: trk, project: config.Project},
			&decideStep{gate: g},
			&resolveTicketStep{tracker: trk},
			&logResultStep{},
		},
	}
}

// Run creates a durable run record and executes it to completion.
// The returned Context reflects everything the run accumulated, even
// when the run fails partway; the error reports the failed step.
func (r *Runner) Run(ctx context.Context, query, channelID string, opts RunOptions) (*Context, error) {
	query = strings.TrimSpace(query)
	channelID = strings.TrimSpace(channelID)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if channelID == "" {
		return nil, ErrEmptyChannel
	}

	if opts.TopK <= 0 {
		opts.TopK = r.config.DefaultTopK
	}
	if opts.Threshold <= 0 {
		opts.Threshold = r.config.DefaultThreshold
	}

	pc := &Context{
		RunID:     uuid.NewString(),
		Query:     query,
		ChannelID: channelID,
		TopK:      opts.TopK,
		Threshold: opts.Threshold,
	}
	contextJSON, err := pc.Marshal()
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	run := &store.PipelineRun{
		ID:          pc.RunID,
		ChannelID:   channelID,
		Query:       query,
		TopK:        opts.TopK,
		Threshold:   opts.Threshold,
		Status:      store.RunRunning,
		ContextJSON: contextJSON,
		CreatedTs:   now,
		UpdatedTs:   now,
	}
	if _, err := r.store.CreatePipelineRun(ctx, run); err != nil {
		return nil, errors.Wrap(err, "failed to create pipeline run")
	}

	return r.execute(ctx, pc)
}

// Resume re-enters an existing run at its first uncompleted step. A
// run that already finished is returned as-is.
func (r *Runner) Resume(ctx context.Context, runID string) (*Context, error) {
	run, err := r.store.GetPipelineRun(ctx, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pipeline run")
	}
	if run == nil {
		return nil, errors.Errorf("pipeline run %s not found", runID)
	}

	pc, err := UnmarshalContext(run.ContextJSON)
	if err != nil {
		return nil, err
	}
	if run.Status == store.RunDone {
		return pc, nil
	}

	status := store.RunRunning
	if err := r.store.UpdatePipelineRun(ctx, &store.UpdatePipelineRun{ID: runID, Status: &status}); err != nil {
		return nil, errors.Wrap(err, "failed to mark pipeline run running")
	}
	return r.execute(ctx, pc)
}

func (r *Runner) execute(ctx context.Context, pc *Context) (*Context, error) {
	runCtx := observability.NewRunContextWithID(slog.Default(), pc.RunID, pc.ChannelID)
	runCtx.Debug("executing pipeline run",
		slog.Int(observability.LogFieldQueryLen, len(pc.Query)))

	for _, step := range r.steps {
		marker, err := r.store.GetPipelineStep(ctx, pc.RunID, step.Name())
		if err != nil {
			return pc, r.failRun(ctx, pc, step, errors.Wrap(err, "failed to load step marker"))
		}

		if marker != nil && marker.Status == store.StepCompleted {
			// Re-entry: restore the context snapshot the step produced.
			if marker.ResultJSON != "" {
				restored, err := UnmarshalContext(marker.ResultJSON)
				if err != nil {
					return pc, r.failRun(ctx, pc, step, err)
				}
				pc = restored
			}
			continue
		}

		sideEffecting, guarded := step.(SideEffecting)
		if guarded && marker != nil && marker.Status == store.StepStarted {
			return pc, r.failRun(ctx, pc, step, errors.Wrapf(ErrAmbiguousSideEffect, "step %s", step.Name()))
		}

		started := &store.PipelineStep{
			RunID:     pc.RunID,
			Name:      step.Name(),
			Status:    store.StepStarted,
			StartedTs: time.Now().Unix(),
		}
		if guarded {
			started.IdempotencyKey = sideEffecting.IdempotencyKey(pc)
		}
		if _, err := r.store.UpsertPipelineStep(ctx, started); err != nil {
			return pc, r.failRun(ctx, pc, step, errors.Wrap(err, "failed to record step start"))
		}

		next, err := r.executeWithRetry(ctx, runCtx, step, pc, guarded)
		if err != nil {
			failed := *started
			failed.Status = store.StepFailed
			if _, upsertErr := r.store.UpsertPipelineStep(ctx, &failed); upsertErr != nil {
				runCtx.Error("failed to record step failure", upsertErr,
					slog.String(observability.LogFieldStep, step.Name()))
			}
			return pc, r.failRun(ctx, pc, step, err)
		}
		pc = next

		resultJSON, err := pc.Marshal()
		if err != nil {
			return pc, r.failRun(ctx, pc, step, err)
		}
		completed := *started
		completed.Status = store.StepCompleted
		completed.ResultJSON = resultJSON
		completed.CompletedTs = time.Now().Unix()
		if _, err := r.store.UpsertPipelineStep(ctx, &completed); err != nil {
			return pc, r.failRun(ctx, pc, step, errors.Wrap(err, "failed to record step completion"))
		}
		if err := r.store.UpdatePipelineRun(ctx, &store.UpdatePipelineRun{ID: pc.RunID, ContextJSON: &resultJSON}); err != nil {
			return pc, r.failRun(ctx, pc, step, errors.Wrap(err, "failed to persist run context"))
		}
	}

	status := store.RunDone
	if err := r.store.UpdatePipelineRun(ctx, &store.UpdatePipelineRun{ID: pc.RunID, Status: &status}); err != nil {
		return pc, errors.Wrap(err, "failed to mark pipeline run done")
	}
	runCtx.Info("pipeline run done",
		slog.Int64(observability.LogFieldDuration, runCtx.DurationMs()))
	return pc, nil
}

// executeWithRetry runs one step with bounded attempts and a per-attempt
// timeout. Side-effecting steps get exactly one attempt: a create whose
// outcome is unknown must not be blindly re-sent.
func (r *Runner) executeWithRetry(ctx context.Context, runCtx *observability.RunContext, step Step, pc *Context, sideEffecting bool) (*Context, error) {
	attempts := r.config.MaxAttempts
	if sideEffecting {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := r.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		stepCtx, cancel := context.WithTimeout(ctx, r.config.StepTimeout)
		stepCtx = observability.WithRunContext(stepCtx, runCtx)
		next, err := step.Execute(stepCtx, pc)
		cancel()
		if err == nil {
			return next, nil
		}
		lastErr = err
		runCtx.Warn("step attempt failed",
			slog.String(observability.LogFieldStep, step.Name()),
			slog.Int(observability.LogFieldAttempt, attempt+1),
			slog.String("error", err.Error()))
	}
	return nil, errors.Wrapf(lastErr, "step %s exhausted %d attempts", step.Name(), attempts)
}

// failRun marks the run failed while preserving everything accumulated
// so far. The context is never discarded on failure.
func (r *Runner) failRun(ctx context.Context, pc *Context, step Step, cause error) error {
	status := store.RunFailed
	update := &store.UpdatePipelineRun{ID: pc.RunID, Status: &status}
	if contextJSON, err := pc.Marshal(); err == nil {
		update.ContextJSON = &contextJSON
	}
	if err := r.store.UpdatePipelineRun(ctx, update); err != nil {
		slog.Error("failed to mark pipeline run failed",
			"run_id", pc.RunID, "error", err)
	}
	return errors.Wrapf(cause, "pipeline run %s failed at step %s", pc.RunID, step.Name())
}
