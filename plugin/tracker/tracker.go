// Package tracker provides the issue tracker client used to look up and
// create tickets.
package tracker

import "context"

// Issue is an existing tracker issue, reduced to what the
// deduplication gate needs.
type Issue struct {
	Summary string `json:"summary"`
	Status  string `json:"status"`
}

// IssueFields are the fields of a ticket to be created.
type IssueFields struct {
	Title       string
	Description string
	Priority    string
	Assignee    string
}

// Tracker is the issue tracker interface.
type Tracker interface {
	// ListOpenIssues returns the open issues of a project.
	ListOpenIssues(ctx context.Context, project string) ([]Issue, error)

	// CreateIssue creates an issue and returns its key. Callers must
	// guard this with an idempotency marker; the client itself never
	// retries a create whose outcome is unknown.
	CreateIssue(ctx context.Context, fields IssueFields) (string, error)
}
