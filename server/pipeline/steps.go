package pipeline

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/chanticle/chanticle/internal/observability"
	"github.com/chanticle/chanticle/plugin/tracker"
	"github.com/chanticle/chanticle/server/gate"
	"github.com/chanticle/chanticle/server/retrieval"
)

// runLogger returns the run-scoped logger the runner placed in the step
// context, falling back to a fresh one when the step is invoked outside
// the runner (as in tests).
func runLogger(ctx context.Context, pc *Context) *observability.RunContext {
	if runCtx, ok := observability.FromContext(ctx); ok {
		return runCtx
	}
	return observability.NewRunContextWithID(slog.Default(), pc.RunID, pc.ChannelID)
}

// retrieveStep runs semantic search plus neighbor expansion. Any
// internal failure degrades to an empty context set; the run proceeds
// rather than aborts, since "nothing found" is an acceptable answer.
type retrieveStep struct {
	searcher *retrieval.Searcher
	expander *retrieval.Expander
}

func (s *retrieveStep) Name() string { return StepRetrieve }

func (s *retrieveStep) Execute(ctx context.Context, pc *Context) (*Context, error) {
	next := pc.Clone()

	opts := retrieval.Options{}
	if pc.TopK > 0 {
		topK := pc.TopK
		opts.TopK = &topK
	}
	if pc.Threshold > 0 {
		threshold := pc.Threshold
		opts.Threshold = &threshold
	}

	hits, err := s.searcher.Search(ctx, pc.Query, pc.ChannelID, opts)
	if err != nil {
		runLogger(ctx, pc).Warn("search failed, continuing with empty context",
			slog.String("error", err.Error()))
		next.Messages = retrieval.ContextSet{}
		return next, nil
	}

	next.Messages = s.expander.Expand(ctx, hits, pc.ChannelID)
	return next, nil
}

// fetchTicketsStep pulls the project's open issues for deduplication.
// A tracker outage degrades to an empty list.
type fetchTicketsStep struct {
	tracker tracker.Tracker
	project string
}

func (s *fetchTicketsStep) Name() string { return StepFetchTickets }

func (s *fetchTicketsStep) Execute(ctx context.Context, pc *Context) (*Context, error) {
	next := pc.Clone()

	issues, err := s.tracker.ListOpenIssues(ctx, s.project)
	if err != nil {
		runLogger(ctx, pc).Warn("failed to list open issues, continuing without deduplication context",
			slog.String("error", err.Error()))
		next.ExistingTickets = []tracker.Issue{}
		return next, nil
	}
	next.ExistingTickets = issues
	return next, nil
}

// decideStep asks the gate for a verdict. The gate fails safe, so this
// step always produces a decision.
type decideStep struct {
	gate *gate.Gate
}

func (s *decideStep) Name() string { return StepDecide }

func (s *decideStep) Execute(ctx context.Context, pc *Context) (*Context, error) {
	next := pc.Clone()
	next.Decision = s.gate.Decide(ctx, &gate.Input{
		Messages:        pc.Messages.Texts(),
		ExistingTickets: pc.ExistingTickets,
		Query:           pc.Query,
	})
	return next, nil
}

// resolveTicketStep applies the decision. This is the run's only
// externally visible mutation; the runner guards it with a durable
// idempotency marker so it is dispatched at most once per run.
type resolveTicketStep struct {
	tracker tracker.Tracker
}

func (s *resolveTicketStep) Name() string { return StepResolve }

func (s *resolveTicketStep) IdempotencyKey(pc *Context) string {
	return pc.RunID + "/" + StepResolve
}

func (s *resolveTicketStep) Execute(ctx context.Context, pc *Context) (*Context, error) {
	next := pc.Clone()
	if pc.Decision == nil || !pc.Decision.ShouldCreateTicket {
		return next, nil
	}

	key, err := s.tracker.CreateIssue(ctx, tracker.IssueFields{
		Title:       pc.Decision.TicketTitle,
		Description: pc.Decision.TicketDescription,
		Priority:    pc.Decision.TicketPriority,
		Assignee:    pc.Decision.TicketAssignee,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create issue")
	}
	next.IssueKey = key
	return next, nil
}

// logResultStep records the final context. Terminal, no mutation.
type logResultStep struct{}

func (s *logResultStep) Name() string { return StepLog }

func (s *logResultStep) Execute(ctx context.Context, pc *Context) (*Context, error) {
	created := pc.Decision != nil && pc.Decision.ShouldCreateTicket
	runLogger(ctx, pc).Info("pipeline run finished",
		slog.Int("context_messages", len(pc.Messages)),
		slog.Int("existing_tickets", len(pc.ExistingTickets)),
		slog.Bool("ticket_created", created),
		slog.String("issue_key", pc.IssueKey))
	return pc.Clone(), nil
}
