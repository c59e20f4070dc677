package pipeline

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanticle/chanticle/plugin/ai"
	"github.com/chanticle/chanticle/plugin/tracker"
	"github.com/chanticle/chanticle/server/gate"
	"github.com/chanticle/chanticle/server/retrieval"
	"github.com/chanticle/chanticle/store"
)

// memRunStore is an in-memory RunStore.
type memRunStore struct {
	mu    sync.Mutex
	runs  map[string]*store.PipelineRun
	steps map[string]*store.PipelineStep

	stepErr error
}

func newMemRunStore() *memRunStore {
	return &memRunStore{
		runs:  map[string]*store.PipelineRun{},
		steps: map[string]*store.PipelineStep{},
	}
}

func stepKey(runID, name string) string { return runID + "\x00" + name }

func (m *memRunStore) CreatePipelineRun(_ context.Context, create *store.PipelineRun) (*store.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := *create
	m.runs[run.ID] = &run
	return &run, nil
}

func (m *memRunStore) GetPipelineRun(_ context.Context, id string) (*store.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

func (m *memRunStore) UpdatePipelineRun(_ context.Context, update *store.UpdatePipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[update.ID]
	if !ok {
		return nil
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.ContextJSON != nil {
		run.ContextJSON = *update.ContextJSON
	}
	return nil
}

func (m *memRunStore) UpsertPipelineStep(_ context.Context, upsert *store.PipelineStep) (*store.PipelineStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stepErr != nil {
		return nil, m.stepErr
	}
	step := *upsert
	m.steps[stepKey(step.RunID, step.Name)] = &step
	return &step, nil
}

func (m *memRunStore) GetPipelineStep(_ context.Context, runID, name string) (*store.PipelineStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, ok := m.steps[stepKey(runID, name)]
	if !ok {
		return nil, nil
	}
	copied := *step
	return &copied, nil
}

func (m *memRunStore) stepStatus(runID, name string) store.StepStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, ok := m.steps[stepKey(runID, name)]
	if !ok {
		return ""
	}
	return step.Status
}

// memMessageStore is a minimal retrieval.MessageStore.
type memMessageStore struct {
	mu        sync.Mutex
	hits      []*store.SearchHit
	messages  []*store.Message
	searchErr error
}

func (m *memMessageStore) VectorSearch(_ context.Context, opts *store.VectorSearchOptions) ([]*store.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	results := []*store.SearchHit{}
	for _, hit := range m.hits {
		if opts.ChannelID != nil && hit.ChannelID != *opts.ChannelID {
			continue
		}
		if opts.MaxDistance != nil && hit.Distance >= *opts.MaxDistance {
			continue
		}
		results = append(results, hit)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (m *memMessageStore) ListMessagesAfter(_ context.Context, channelID string, afterTs int64, limit int) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := []*store.Message{}
	for _, message := range m.messages {
		if message.ChannelID == channelID && message.CreatedTs > afterTs {
			results = append(results, message)
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *memMessageStore) ListLatestMessages(_ context.Context, channelID string, limit int) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := []*store.Message{}
	for _, message := range m.messages {
		if message.ChannelID == channelID {
			results = append(results, message)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedTs > results[j].CreatedTs })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

const createVerdict = `{"ticket_title": "Fix red build", "ticket_description": "CI is failing.", "ticket_priority": "High", "ticket_assignee": "", "should_create_ticket": true}`
const skipVerdict = `{"ticket_title": "", "ticket_description": "", "ticket_priority": "", "ticket_assignee": "", "should_create_ticket": false}`

type runnerFixture struct {
	runs     *memRunStore
	messages *memMessageStore
	chat     *ai.MockChatService
	tracker  *tracker.MockTracker
	runner   *Runner
}

func newRunnerFixture(t *testing.T, verdict string) *runnerFixture {
	t.Helper()
	runs := newMemRunStore()
	messages := &memMessageStore{
		hits: []*store.SearchHit{
			{MessageID: 1, ChannelID: "general", Text: "the build is red", CreatedTs: 100, Distance: 0.2},
		},
		messages: []*store.Message{
			{ID: 1, ChannelID: "general", Text: "the build is red", CreatedTs: 100},
			{ID: 2, ChannelID: "general", Text: "someone should file a ticket", CreatedTs: 110},
		},
	}
	chat := ai.NewMockChatService(verdict)
	trk := tracker.NewMockTracker()

	searcher := retrieval.NewSearcher(messages, ai.NewMockEmbeddingService(8))
	expander := retrieval.NewExpander(messages)
	runner := NewRunner(runs, searcher, expander, gate.NewGate(gate.NewLLMClassifier(chat)), trk, Config{
		RetryBackoff: time.Millisecond,
		Project:      "CHT",
	})
	return &runnerFixture{runs: runs, messages: messages, chat: chat, tracker: trk, runner: runner}
}

func TestRunCreatesTicket(t *testing.T) {
	f := newRunnerFixture(t, createVerdict)

	pc, err := f.runner.Run(context.Background(), "file a ticket for the broken build", "general", RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, 5, pc.TopK)
	assert.Equal(t, 0.5, pc.Threshold)
	require.NotNil(t, pc.Decision)
	assert.True(t, pc.Decision.ShouldCreateTicket)
	assert.Equal(t, "MOCK-1", pc.IssueKey)
	assert.Equal(t, 1, f.tracker.CreateCalls())

	run, err := f.runs.GetPipelineRun(context.Background(), pc.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunDone, run.Status)
	for _, name := range []string{StepRetrieve, StepFetchTickets, StepDecide, StepResolve, StepLog} {
		assert.Equal(t, store.StepCompleted, f.runs.stepStatus(pc.RunID, name), name)
	}
}

func TestRunRecordCarriesTimestamps(t *testing.T) {
	f := newRunnerFixture(t, skipVerdict)

	pc, err := f.runner.Run(context.Background(), "anything odd in the deploy logs?", "general", RunOptions{})
	require.NoError(t, err)

	run, err := f.runs.GetPipelineRun(context.Background(), pc.RunID)
	require.NoError(t, err)
	assert.NotZero(t, run.CreatedTs)
	assert.NotZero(t, run.UpdatedTs)
	assert.GreaterOrEqual(t, run.UpdatedTs, run.CreatedTs)
}

func TestRunSkipVerdictCreatesNothing(t *testing.T) {
	f := newRunnerFixture(t, skipVerdict)

	pc, err := f.runner.Run(context.Background(), "what was that about lunch?", "general", RunOptions{})

	require.NoError(t, err)
	assert.False(t, pc.Decision.ShouldCreateTicket)
	assert.Empty(t, pc.IssueKey)
	assert.Zero(t, f.tracker.CreateCalls())
}

func TestRunValidation(t *testing.T) {
	f := newRunnerFixture(t, createVerdict)

	_, err := f.runner.Run(context.Background(), "  ", "general", RunOptions{})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = f.runner.Run(context.Background(), "query", "", RunOptions{})
	assert.ErrorIs(t, err, ErrEmptyChannel)

	assert.Empty(t, f.runs.runs)
}

func TestRunDegradedSearchStillReachesDone(t *testing.T) {
	f := newRunnerFixture(t, skipVerdict)
	f.messages.searchErr = assert.AnError

	pc, err := f.runner.Run(context.Background(), "anything at all", "general", RunOptions{})

	require.NoError(t, err)
	assert.Empty(t, pc.Messages)
	require.NotNil(t, pc.Decision)

	run, _ := f.runs.GetPipelineRun(context.Background(), pc.RunID)
	assert.Equal(t, store.RunDone, run.Status)
}

func TestRunDegradedTrackerListStillReachesDone(t *testing.T) {
	f := newRunnerFixture(t, createVerdict)
	f.tracker.FailList(assert.AnError)

	pc, err := f.runner.Run(context.Background(), "file a ticket for the broken build", "general", RunOptions{})

	require.NoError(t, err)
	assert.Empty(t, pc.ExistingTickets)
	assert.True(t, pc.Decision.ShouldCreateTicket)
	assert.Equal(t, 1, f.tracker.CreateCalls())
}

func TestRunModelFailureStillReachesDone(t *testing.T) {
	f := newRunnerFixture(t, createVerdict)
	f.chat.FailWith(assert.AnError)

	pc, err := f.runner.Run(context.Background(), "file a ticket for the broken build", "general", RunOptions{})

	require.NoError(t, err)
	assert.False(t, pc.Decision.ShouldCreateTicket)
	assert.Zero(t, f.tracker.CreateCalls())

	run, _ := f.runs.GetPipelineRun(context.Background(), pc.RunID)
	assert.Equal(t, store.RunDone, run.Status)
}

func TestRunCreateFailureIsReportable(t *testing.T) {
	f := newRunnerFixture(t, createVerdict)
	f.tracker.FailCreate(assert.AnError)

	pc, err := f.runner.Run(context.Background(), "file a ticket for the broken build", "general", RunOptions{})

	require.Error(t, err)
	// One attempt only: a create whose outcome is unknown is never
	// blindly re-sent.
	assert.Equal(t, 1, f.tracker.CreateCalls())
	assert.Equal(t, store.StepFailed, f.runs.stepStatus(pc.RunID, StepResolve))

	run, _ := f.runs.GetPipelineRun(context.Background(), pc.RunID)
	assert.Equal(t, store.RunFailed, run.Status)
	// Accumulated context survives the failure.
	restored, restoreErr := UnmarshalContext(run.ContextJSON)
	require.NoError(t, restoreErr)
	assert.NotNil(t, restored.Decision)
}

func TestResumeSkipsCompletedResolveStep(t *testing.T) {
	f := newRunnerFixture(t, createVerdict)

	pc, err := f.runner.Run(context.Background(), "file a ticket for the broken build", "general", RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, f.tracker.CreateCalls())

	// Force the run back to RUNNING and resume: every step has a
	// COMPLETED marker, so nothing re-executes.
	status := store.RunRunning
	require.NoError(t, f.runs.UpdatePipelineRun(context.Background(), &store.UpdatePipelineRun{ID: pc.RunID, Status: &status}))

	resumed, err := f.runner.Resume(context.Background(), pc.RunID)
	require.NoError(t, err)
	assert.Equal(t, pc.IssueKey, resumed.IssueKey)
	assert.Equal(t, 1, f.tracker.CreateCalls())
	assert.Equal(t, 1, f.chat.Calls())
}

func TestResumeRefusesAmbiguousSideEffect(t *testing.T) {
	f := newRunnerFixture(t, createVerdict)

	pc, err := f.runner.Run(context.Background(), "file a ticket for the broken build", "general", RunOptions{})
	require.NoError(t, err)

	// Simulate a crash between the create call and its completion
	// marker: resolve_ticket is STARTED, not COMPLETED.
	status := store.RunRunning
	require.NoError(t, f.runs.UpdatePipelineRun(context.Background(), &store.UpdatePipelineRun{ID: pc.RunID, Status: &status}))
	_, err = f.runs.UpsertPipelineStep(context.Background(), &store.PipelineStep{
		RunID:  pc.RunID,
		Name:   StepResolve,
		Status: store.StepStarted,
	})
	require.NoError(t, err)

	_, err = f.runner.Resume(context.Background(), pc.RunID)
	require.ErrorIs(t, err, ErrAmbiguousSideEffect)
	assert.Equal(t, 1, f.tracker.CreateCalls())

	run, _ := f.runs.GetPipelineRun(context.Background(), pc.RunID)
	assert.Equal(t, store.RunFailed, run.Status)
}

func TestResumeOfDoneRunIsANoOp(t *testing.T) {
	f := newRunnerFixture(t, createVerdict)

	pc, err := f.runner.Run(context.Background(), "file a ticket for the broken build", "general", RunOptions{})
	require.NoError(t, err)

	resumed, err := f.runner.Resume(context.Background(), pc.RunID)
	require.NoError(t, err)
	assert.Equal(t, pc.IssueKey, resumed.IssueKey)
	assert.Equal(t, 1, f.tracker.CreateCalls())
}

func TestResumeUnknownRun(t *testing.T) {
	f := newRunnerFixture(t, createVerdict)

	_, err := f.runner.Resume(context.Background(), "no-such-run")
	assert.Error(t, err)
}

func TestContextCloneIsolation(t *testing.T) {
	original := &Context{
		RunID:    "r1",
		Messages: retrieval.ContextSet{1: "one"},
		Decision: &gate.Decision{ShouldCreateTicket: true},
	}
	clone := original.Clone()
	clone.Messages[2] = "two"
	clone.Decision.ShouldCreateTicket = false

	assert.Len(t, original.Messages, 1)
	assert.True(t, original.Decision.ShouldCreateTicket)
}

func TestContextRoundTrip(t *testing.T) {
	original := &Context{
		RunID:     "r1",
		Query:     "q",
		ChannelID: "general",
		TopK:      5,
		Threshold: 0.5,
		Messages:  retrieval.ContextSet{1: "one", 2: "two"},
		ExistingTickets: []tracker.Issue{
			{Summary: "Fix red build", Status: "Open"},
		},
		Decision: &gate.Decision{TicketTitle: "t", ShouldCreateTicket: true},
		IssueKey: "CHT-1",
	}

	raw, err := original.Marshal()
	require.NoError(t, err)
	restored, err := UnmarshalContext(raw)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}
