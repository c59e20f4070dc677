// Package gate decides whether a conversation warrants a new tracker
// ticket. The judgment itself is delegated to a language model; the
// gate owns the decision contract and fails safe when the model does
// not cooperate.
package gate

import (
	"context"
	"log/slog"

	"github.com/chanticle/chanticle/plugin/tracker"
)

// Decision is the gate's verdict. When ShouldCreateTicket is false the
// descriptive fields are empty and must be ignored.
type Decision struct {
	TicketTitle        string `json:"ticket_title"`
	TicketDescription  string `json:"ticket_description"`
	TicketPriority     string `json:"ticket_priority"`
	TicketAssignee     string `json:"ticket_assignee"`
	ShouldCreateTicket bool   `json:"should_create_ticket"`
}

// Input is everything the classifier gets to see.
type Input struct {
	Messages        []string
	ExistingTickets []tracker.Issue
	Query           string
}

// Classifier turns an Input into a Decision. Implementations may fail;
// the gate absorbs those failures.
type Classifier interface {
	ClassifyAndDraftTicket(ctx context.Context, input *Input) (*Decision, error)
}

// Gate wraps a Classifier with the fail-safe decision contract.
type Gate struct {
	classifier Classifier
}

// NewGate creates a new Gate.
func NewGate(classifier Classifier) *Gate {
	return &Gate{classifier: classifier}
}

// Decide always returns a usable Decision. A classifier error or a
// malformed verdict collapses to "do not create a ticket" so a model
// outage never aborts a pipeline run.
func (g *Gate) Decide(ctx context.Context, input *Input) *Decision {
	decision, err := g.classifier.ClassifyAndDraftTicket(ctx, input)
	if err != nil {
		slog.Warn("ticket classification failed, skipping creation", "error", err)
		return &Decision{ShouldCreateTicket: false}
	}
	if decision == nil {
		slog.Warn("ticket classification returned no decision, skipping creation")
		return &Decision{ShouldCreateTicket: false}
	}
	if !decision.ShouldCreateTicket {
		// Descriptive fields are meaningless on a skip verdict.
		return &Decision{ShouldCreateTicket: false}
	}
	return decision
}
