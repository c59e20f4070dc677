package tracker

import (
	"context"
	"fmt"
	"sync"
)

// MockTracker is an in-memory Tracker for testing.
type MockTracker struct {
	mu          sync.Mutex
	openIssues  []Issue
	created     []IssueFields
	listErr     error
	createErr   error
	createCalls int
}

// NewMockTracker creates a MockTracker seeded with the given open issues.
func NewMockTracker(openIssues ...Issue) *MockTracker {
	return &MockTracker{openIssues: openIssues}
}

// FailList makes ListOpenIssues return err.
func (m *MockTracker) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FailCreate makes CreateIssue return err.
func (m *MockTracker) FailCreate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// Created returns the issues created so far.
func (m *MockTracker) Created() []IssueFields {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]IssueFields{}, m.created...)
}

// CreateCalls returns how many CreateIssue calls were made, including
// failed ones.
func (m *MockTracker) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

func (m *MockTracker) ListOpenIssues(_ context.Context, _ string) ([]Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]Issue{}, m.openIssues...), nil
}

func (m *MockTracker) CreateIssue(_ context.Context, fields IssueFields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return "", m.createErr
	}
	m.created = append(m.created, fields)
	return fmt.Sprintf("MOCK-%d", len(m.created)), nil
}
