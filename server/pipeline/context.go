// Package pipeline drives the durable decision pipeline: retrieve
// context for a query, fetch existing tickets, decide whether a new
// ticket is warranted and, at most once per run, create it.
package pipeline

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/chanticle/chanticle/plugin/tracker"
	"github.com/chanticle/chanticle/server/gate"
	"github.com/chanticle/chanticle/server/retrieval"
)

// Context is the record threaded through a run. Each step receives the
// context accumulated so far and returns an extended copy; fields only
// ever accumulate, they are never cleared by a later step. Every run
// owns its own instance.
type Context struct {
	RunID     string  `json:"run_id"`
	Query     string  `json:"query"`
	ChannelID string  `json:"channel_id"`
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"`

	Messages        retrieval.ContextSet `json:"messages,omitempty"`
	ExistingTickets []tracker.Issue      `json:"existing_tickets,omitempty"`
	Decision        *gate.Decision       `json:"decision,omitempty"`
	IssueKey        string               `json:"issue_key,omitempty"`
}

// Clone returns a shallow-plus-one copy deep enough for the step
// contract: a step may extend the clone without the caller observing
// partial writes.
func (c *Context) Clone() *Context {
	clone := *c
	if c.Messages != nil {
		clone.Messages = make(retrieval.ContextSet, len(c.Messages))
		for id, text := range c.Messages {
			clone.Messages[id] = text
		}
	}
	if c.ExistingTickets != nil {
		clone.ExistingTickets = append([]tracker.Issue(nil), c.ExistingTickets...)
	}
	if c.Decision != nil {
		decision := *c.Decision
		clone.Decision = &decision
	}
	return &clone
}

// Marshal serializes the context for durable storage.
func (c *Context) Marshal() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal pipeline context")
	}
	return string(raw), nil
}

// UnmarshalContext restores a context persisted by Marshal.
func UnmarshalContext(raw string) (*Context, error) {
	c := &Context{}
	if err := json.Unmarshal([]byte(raw), c); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal pipeline context")
	}
	return c, nil
}
