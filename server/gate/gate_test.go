package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanticle/chanticle/plugin/ai"
	"github.com/chanticle/chanticle/plugin/tracker"
)

type stubClassifier struct {
	decision *Decision
	err      error
	calls    int
}

func (s *stubClassifier) ClassifyAndDraftTicket(_ context.Context, _ *Input) (*Decision, error) {
	s.calls++
	return s.decision, s.err
}

func TestDecidePassesThroughCreateVerdict(t *testing.T) {
	classifier := &stubClassifier{decision: &Decision{
		TicketTitle:        "Build websocket connector",
		TicketDescription:  "The chat listener needs a websocket connection.",
		TicketPriority:     "High",
		ShouldCreateTicket: true,
	}}
	g := NewGate(classifier)

	decision := g.Decide(context.Background(), &Input{Query: "create a ticket for the websocket connector"})

	assert.True(t, decision.ShouldCreateTicket)
	assert.Equal(t, "Build websocket connector", decision.TicketTitle)
	assert.Equal(t, 1, classifier.calls)
}

func TestDecideFailsSafeOnClassifierError(t *testing.T) {
	classifier := &stubClassifier{err: assert.AnError}
	g := NewGate(classifier)

	decision := g.Decide(context.Background(), &Input{Query: "anything"})

	require.NotNil(t, decision)
	assert.False(t, decision.ShouldCreateTicket)
	assert.Empty(t, decision.TicketTitle)
}

func TestDecideFailsSafeOnNilDecision(t *testing.T) {
	g := NewGate(&stubClassifier{})

	decision := g.Decide(context.Background(), &Input{Query: "anything"})

	require.NotNil(t, decision)
	assert.False(t, decision.ShouldCreateTicket)
}

func TestDecideClearsFieldsOnSkipVerdict(t *testing.T) {
	// A sloppy model may fill descriptive fields on a skip verdict.
	classifier := &stubClassifier{decision: &Decision{
		TicketTitle:        "leftover title",
		TicketDescription:  "leftover body",
		ShouldCreateTicket: false,
	}}
	g := NewGate(classifier)

	decision := g.Decide(context.Background(), &Input{Query: "anything"})

	assert.False(t, decision.ShouldCreateTicket)
	assert.Empty(t, decision.TicketTitle)
	assert.Empty(t, decision.TicketDescription)
}

func TestLLMClassifierParsesDecision(t *testing.T) {
	chat := ai.NewMockChatService(`{"ticket_title": "Fix red build", "ticket_description": "CI has been failing since Tuesday.", "ticket_priority": "High", "ticket_assignee": "dana", "should_create_ticket": true}`)
	classifier := NewLLMClassifier(chat)

	decision, err := classifier.ClassifyAndDraftTicket(context.Background(), &Input{
		Messages: []string{"the build is red", "someone should look at CI"},
		Query:    "create a ticket for the broken build",
	})

	require.NoError(t, err)
	assert.True(t, decision.ShouldCreateTicket)
	assert.Equal(t, "Fix red build", decision.TicketTitle)
	assert.Equal(t, "dana", decision.TicketAssignee)
}

func TestLLMClassifierParsesFencedResponse(t *testing.T) {
	chat := ai.NewMockChatService("Here is the decision:\n```json\n{\"ticket_title\": \"\", \"ticket_description\": \"\", \"ticket_priority\": \"\", \"ticket_assignee\": \"\", \"should_create_ticket\": false}\n```")
	classifier := NewLLMClassifier(chat)

	decision, err := classifier.ClassifyAndDraftTicket(context.Background(), &Input{Query: "anything"})

	require.NoError(t, err)
	assert.False(t, decision.ShouldCreateTicket)
}

func TestLLMClassifierRejectsMalformedResponse(t *testing.T) {
	cases := []struct {
		name     string
		response string
	}{
		{"prose only", "I cannot decide."},
		{"unknown field", `{"ticket_title": "t", "severity": "high", "should_create_ticket": true}`},
		{"create without title", `{"ticket_title": " ", "ticket_description": "", "ticket_priority": "", "ticket_assignee": "", "should_create_ticket": true}`},
		{"truncated object", `{"ticket_title": "t"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classifier := NewLLMClassifier(ai.NewMockChatService(tc.response))
			_, err := classifier.ClassifyAndDraftTicket(context.Background(), &Input{Query: "anything"})
			assert.Error(t, err)
		})
	}
}

func TestGateWithLLMClassifierSkipsDuplicateTopic(t *testing.T) {
	// The model sees an existing open ticket covering the topic and
	// answers skip; the gate passes that through untouched.
	chat := ai.NewMockChatService(`{"ticket_title": "", "ticket_description": "", "ticket_priority": "", "ticket_assignee": "", "should_create_ticket": false}`)
	g := NewGate(NewLLMClassifier(chat))

	decision := g.Decide(context.Background(), &Input{
		Messages:        []string{"the build is red again"},
		ExistingTickets: []tracker.Issue{{Summary: "Fix red build", Status: "In Progress"}},
		Query:           "create a ticket for the broken build",
	})

	assert.False(t, decision.ShouldCreateTicket)
	assert.Equal(t, 1, chat.Calls())
}

func TestGateWithLLMClassifierFailsSafeOnModelError(t *testing.T) {
	chat := ai.NewMockChatService("")
	chat.FailWith(assert.AnError)
	g := NewGate(NewLLMClassifier(chat))

	decision := g.Decide(context.Background(), &Input{Query: "anything"})

	assert.False(t, decision.ShouldCreateTicket)
}
