package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// JiraConfig configures the Jira cloud client.
type JiraConfig struct {
	// BaseURL is the API gateway, usually https://api.atlassian.com.
	BaseURL string
	// OAuthToken is the bearer token for the cloud API.
	OAuthToken string
	// ProjectKey is the project issues are created in.
	ProjectKey string
	// RecentWindow restricts the open-issue listing, in the JQL
	// relative form ("-7d"). Empty means no restriction.
	RecentWindow string
	// MaxResults caps the open-issue listing.
	MaxResults int
}

// JiraClient talks to the Jira cloud REST API.
type JiraClient struct {
	config  JiraConfig
	client  *http.Client
	limiter *rate.Limiter

	mu      sync.Mutex
	cloudID string
}

// NewJiraClient creates a new Jira client.
func NewJiraClient(config JiraConfig) (*JiraClient, error) {
	if config.OAuthToken == "" {
		return nil, errors.New("jira OAuth token is required")
	}
	if config.ProjectKey == "" {
		return nil, errors.New("jira project key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.atlassian.com"
	}
	if config.RecentWindow == "" {
		config.RecentWindow = "-7d"
	}
	if config.MaxResults <= 0 {
		config.MaxResults = 50
	}

	return &JiraClient{
		config: config,
		client: &http.Client{Timeout: 15 * time.Second},
		// Jira cloud rate limits aggressively; stay well under it.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}, nil
}

// resolveCloudID looks up the cloud ID once and caches it.
func (c *JiraClient) resolveCloudID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cloudID != "" {
		return c.cloudID, nil
	}

	var resources []struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, c.config.BaseURL+"/oauth/token/accessible-resources", &resources); err != nil {
		return "", errors.Wrap(err, "failed to resolve jira cloud id")
	}
	if len(resources) == 0 {
		return "", errors.New("no accessible jira resources for token")
	}

	c.cloudID = resources[0].ID
	return c.cloudID, nil
}

// ListOpenIssues returns open issues of the project created within the
// recent window, newest first.
func (c *JiraClient) ListOpenIssues(ctx context.Context, project string) ([]Issue, error) {
	cloudID, err := c.resolveCloudID(ctx)
	if err != nil {
		return nil, err
	}
	if project == "" {
		project = c.config.ProjectKey
	}

	jql := fmt.Sprintf("project = %s AND statusCategory != Done", project)
	if c.config.RecentWindow != "" {
		jql += fmt.Sprintf(" AND created >= %s", c.config.RecentWindow)
	}
	jql += " ORDER BY created DESC"

	searchURL := fmt.Sprintf("%s/ex/jira/%s/rest/api/3/search/jql?%s",
		c.config.BaseURL, cloudID, url.Values{
			"jql":        {jql},
			"maxResults": {fmt.Sprintf("%d", c.config.MaxResults)},
			"fields":     {"summary,status"},
		}.Encode())

	var payload struct {
		Issues []struct {
			Fields struct {
				Summary string `json:"summary"`
				Status  *struct {
					Name string `json:"name"`
				} `json:"status"`
			} `json:"fields"`
		} `json:"issues"`
	}
	if err := c.get(ctx, searchURL, &payload); err != nil {
		return nil, errors.Wrap(err, "failed to list open issues")
	}

	issues := make([]Issue, 0, len(payload.Issues))
	for _, issue := range payload.Issues {
		status := ""
		if issue.Fields.Status != nil {
			status = issue.Fields.Status.Name
		}
		issues = append(issues, Issue{
			Summary: issue.Fields.Summary,
			Status:  status,
		})
	}
	return issues, nil
}

// CreateIssue creates a Task issue and returns its key. The request is
// sent exactly once; an ambiguous outcome surfaces as an error for the
// caller's idempotency handling.
func (c *JiraClient) CreateIssue(ctx context.Context, fields IssueFields) (string, error) {
	cloudID, err := c.resolveCloudID(ctx)
	if err != nil {
		return "", err
	}

	priority := fields.Priority
	if priority == "" {
		priority = "Medium"
	}

	issueFields := map[string]any{
		"project": map[string]string{"key": c.config.ProjectKey},
		"summary": fields.Title,
		"description": map[string]any{
			"type":    "doc",
			"version": 1,
			"content": []any{
				map[string]any{
					"type": "paragraph",
					"content": []any{
						map[string]any{"type": "text", "text": fields.Description},
					},
				},
			},
		},
		"issuetype": map[string]string{"name": "Task"},
		"priority":  map[string]string{"name": priority},
	}
	if fields.Assignee != "" {
		issueFields["assignee"] = map[string]string{"displayName": fields.Assignee}
	}

	body, err := json.Marshal(map[string]any{"fields": issueFields})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal issue payload")
	}

	createURL := fmt.Sprintf("%s/ex/jira/%s/rest/api/3/issue", c.config.BaseURL, cloudID)
	var created struct {
		Key string `json:"key"`
		ID  string `json:"id"`
	}
	if err := c.post(ctx, createURL, body, &created); err != nil {
		return "", errors.Wrap(err, "failed to create issue")
	}

	if created.Key != "" {
		return created.Key, nil
	}
	return created.ID, nil
}

func (c *JiraClient) get(ctx context.Context, rawURL string, out any) error {
	return c.do(ctx, http.MethodGet, rawURL, nil, out)
}

func (c *JiraClient) post(ctx context.Context, rawURL string, body []byte, out any) error {
	return c.do(ctx, http.MethodPost, rawURL, body, out)
}

func (c *JiraClient) do(ctx context.Context, method, rawURL string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.config.OAuthToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("%s %s returned %d: %s", method, rawURL, resp.StatusCode, string(text))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}
