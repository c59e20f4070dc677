package gate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/chanticle/chanticle/plugin/ai"
)

const classifierSystemPrompt = `You are an assistant that turns team chat discussions into issue tracker tickets.

Context:
- The messages come from a team chat channel.
- Any ticket you draft will be filed in an issue tracker, so write it like a tracker ticket.

Rules:
- If the discussion is not an actionable engineering request, set should_create_ticket to false and leave every other field empty.
- If an existing open ticket already covers the same topic, set should_create_ticket to false and leave every other field empty.
- Otherwise set should_create_ticket to true and fill in ticket_title, ticket_description, ticket_priority and ticket_assignee.
- An explicit user request to create a ticket wins over your own judgment, unless it duplicates an existing ticket.

Respond with a single JSON object and nothing else:
{"ticket_title": "", "ticket_description": "", "ticket_priority": "", "ticket_assignee": "", "should_create_ticket": false}`

// llmClassifier drafts ticket decisions with a chat completion call.
type llmClassifier struct {
	chat ai.ChatService
}

// NewLLMClassifier creates a Classifier backed by the given chat
// service.
func NewLLMClassifier(chat ai.ChatService) Classifier {
	return &llmClassifier{chat: chat}
}

func (c *llmClassifier) ClassifyAndDraftTicket(ctx context.Context, input *Input) (*Decision, error) {
	response, err := c.chat.Complete(ctx, classifierSystemPrompt, buildUserPrompt(input))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get classification from model")
	}
	return parseDecision(response)
}

func buildUserPrompt(input *Input) string {
	var sb strings.Builder
	sb.WriteString("Messages:\n")
	if len(input.Messages) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, message := range input.Messages {
		sb.WriteString("- ")
		sb.WriteString(message)
		sb.WriteString("\n")
	}
	sb.WriteString("\nExisting tickets:\n")
	if len(input.ExistingTickets) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, issue := range input.ExistingTickets {
		sb.WriteString("- [")
		sb.WriteString(issue.Status)
		sb.WriteString("] ")
		sb.WriteString(issue.Summary)
		sb.WriteString("\n")
	}
	sb.WriteString("\nUser request: ")
	sb.WriteString(input.Query)
	return sb.String()
}

// parseDecision strictly validates the model output. Anything that is
// not a well-formed decision object is an error; the gate maps that to
// a skip verdict.
func parseDecision(response string) (*Decision, error) {
	payload := extractJSONObject(response)
	if payload == "" {
		return nil, errors.Errorf("no JSON object in model response: %q", truncate(response, 200))
	}

	decoder := json.NewDecoder(strings.NewReader(payload))
	decoder.DisallowUnknownFields()
	decision := &Decision{}
	if err := decoder.Decode(decision); err != nil {
		return nil, errors.Wrap(err, "failed to decode model response")
	}
	if decision.ShouldCreateTicket && strings.TrimSpace(decision.TicketTitle) == "" {
		return nil, errors.New("model asked to create a ticket without a title")
	}
	return decision, nil
}

// extractJSONObject pulls the outermost {...} out of a response that
// may be wrapped in prose or a markdown fence.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
