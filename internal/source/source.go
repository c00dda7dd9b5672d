// Package source provides the upstream tracker adapter. It wraps the Jira
// Cloud REST API v3 and exposes it through the tracker.Client capability.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	v3 "github.com/ctreminiom/go-atlassian/v2/jira/v3"
	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"

	"github.com/randalmurphal/concord/internal/db"
	"github.com/randalmurphal/concord/internal/errors"
	"github.com/randalmurphal/concord/internal/tracker"
)

// Config holds the configuration for connecting to the upstream tracker.
type Config struct {
	// BaseURL is the Jira Cloud instance URL (e.g., "https://acme.atlassian.net").
	BaseURL string
	// Email is the user's email address for basic auth.
	Email string
	// APIToken is the API token for basic auth.
	APIToken string
}

// Client wraps the go-atlassian Jira v3 client behind the tracker.Client
// capability.
type Client struct {
	jira   *v3.Client
	cfg    Config
	logger *slog.Logger
}

// NewClient creates a new upstream client with basic auth.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.ErrConfigMissing("source.base_url")
	}
	if cfg.Email == "" {
		return nil, errors.ErrConfigMissing("source.email")
	}
	if cfg.APIToken == "" {
		return nil, errors.ErrConfigMissing("source.api_token")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Ensure URL doesn't have trailing slash
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client, err := v3.New(&http.Client{Timeout: 30 * time.Second}, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("create source client: %w", err)
	}

	client.Auth.SetBasicAuth(cfg.Email, cfg.APIToken)
	client.Auth.SetUserAgent("concord-sync/1.0")

	return &Client{jira: client, cfg: cfg, logger: logger}, nil
}

// System implements tracker.Client.
func (c *Client) System() string { return db.SystemSource }

// searchFields are the fields requested in search results. Keeping this
// explicit avoids fetching unnecessary data.
var searchFields = []string{
	"summary",
	"description",
	"status",
	"priority",
	"parent",
	"created",
	"updated",
}

// maxRateLimitRetries bounds retries when the API answers 429.
const maxRateLimitRetries = 3

// ListRecords returns one page of issues for the project. An empty cursor
// requests the first page; the returned NextCursor resumes the listing.
func (c *Client) ListRecords(ctx context.Context, projectRef, cursor string) (*tracker.Page, error) {
	jql := fmt.Sprintf("project = %q ORDER BY created ASC", projectRef)

	var result *models.IssueSearchJQLScheme
	err := c.withRateLimitRetry(ctx, "search", func() (*models.ResponseScheme, error) {
		var resp *models.ResponseScheme
		var err error
		result, resp, err = c.jira.Issue.Search.SearchJQL(
			ctx,
			jql,
			searchFields,
			nil, // no expand
			50,  // maxResults per page
			cursor,
		)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("source list %s: %w", projectRef, err)
	}

	page := &tracker.Page{NextCursor: result.NextPageToken}
	for _, issue := range result.Issues {
		page.Records = append(page.Records, convertIssue(issue))
	}
	if len(page.Records) == 0 {
		page.NextCursor = ""
	}
	return page, nil
}

// ListProjects returns every project visible to the credentials, with the
// description text the scheduler hashes for metadata-drift detection.
func (c *Client) ListProjects(ctx context.Context) ([]tracker.Record, error) {
	var out []tracker.Record
	startAt := 0
	for {
		var result *models.ProjectSearchScheme
		err := c.withRateLimitRetry(ctx, "projects", func() (*models.ResponseScheme, error) {
			var resp *models.ResponseScheme
			var err error
			result, resp, err = c.jira.Project.Search(ctx, nil, startAt, 50)
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("source list projects: %w", err)
		}

		for _, p := range result.Values {
			if p == nil {
				continue
			}
			out = append(out, tracker.Record{
				ID:          p.Key,
				Title:       p.Name,
				Description: p.Description,
			})
		}

		if result.IsLast || len(result.Values) == 0 {
			return out, nil
		}
		startAt += len(result.Values)
	}
}

// CreateRecord creates an issue in the project and returns it with the
// assigned key.
func (c *Client) CreateRecord(ctx context.Context, projectRef string, r tracker.Record) (*tracker.Record, error) {
	payload := &models.IssueScheme{
		Fields: &models.IssueFieldsScheme{
			Summary:     r.Title,
			Project:     &models.ProjectScheme{Key: projectRef},
			IssueType:   &models.IssueTypeScheme{Name: "Task"},
			Description: MarkdownToADF(r.Description),
		},
	}

	var created *models.IssueResponseScheme
	err := c.withRateLimitRetry(ctx, "create", func() (*models.ResponseScheme, error) {
		var resp *models.ResponseScheme
		var err error
		created, resp, err = c.jira.Issue.Create(ctx, payload, nil)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("source create in %s: %w", projectRef, err)
	}

	out := r
	out.ID = created.Key
	return &out, nil
}

// UpdateField sets a single field on an existing issue. Status changes go
// through the workflow transition matching the target status name.
func (c *Client) UpdateField(ctx context.Context, id, field, value string) error {
	if field == "status" {
		return c.transition(ctx, id, value)
	}

	fields := &models.IssueFieldsScheme{}
	switch field {
	case "title":
		fields.Summary = value
	case "description":
		fields.Description = MarkdownToADF(value)
	case "priority":
		fields.Priority = &models.PriorityScheme{Name: value}
	default:
		return fmt.Errorf("source update %s: unknown field %q", id, field)
	}

	err := c.withRateLimitRetry(ctx, "update", func() (*models.ResponseScheme, error) {
		return c.jira.Issue.Update(ctx, id, true, &models.IssueScheme{Fields: fields}, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("source update %s.%s: %w", id, field, err)
	}
	return nil
}

// transition moves an issue to the workflow status with the given name.
func (c *Client) transition(ctx context.Context, id, status string) error {
	var transitions *models.IssueTransitionsScheme
	err := c.withRateLimitRetry(ctx, "transitions", func() (*models.ResponseScheme, error) {
		var resp *models.ResponseScheme
		var err error
		transitions, resp, err = c.jira.Issue.Transitions(ctx, id)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("source transitions %s: %w", id, err)
	}

	var transitionID string
	for _, tr := range transitions.Transitions {
		if tr != nil && strings.EqualFold(tr.Name, status) {
			transitionID = tr.ID
			break
		}
	}
	if transitionID == "" {
		return fmt.Errorf("source transition %s: no transition to status %q", id, status)
	}

	err = c.withRateLimitRetry(ctx, "move", func() (*models.ResponseScheme, error) {
		return c.jira.Issue.Move(ctx, id, transitionID, nil)
	})
	if err != nil {
		return fmt.Errorf("source transition %s to %q: %w", id, status, err)
	}
	return nil
}

// CheckAuth verifies the client can authenticate with the upstream tracker.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, resp, err := c.jira.MySelf.Details(ctx, nil)
	if err != nil {
		if resp != nil {
			return errors.ErrUpstreamUnavailable(db.SystemSource).WithCause(
				fmt.Errorf("auth check (status %d): %w", resp.StatusCode, err))
		}
		return errors.ErrUpstreamUnavailable(db.SystemSource).WithCause(err)
	}
	return nil
}

// withRateLimitRetry runs fn, retrying with a short backoff when the API
// answers 429. Other errors pass through unchanged.
func (c *Client) withRateLimitRetry(ctx context.Context, op string, fn func() (*models.ResponseScheme, error)) error {
	var lastErr error
	for attempt := 0; attempt <= maxRateLimitRetries; attempt++ {
		resp, err := fn()
		if err == nil {
			return nil
		}
		if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
			return err
		}
		lastErr = err

		wait := time.Duration(attempt+1) * 2 * time.Second
		c.logger.Warn("source rate limited, backing off",
			"op", op,
			"attempt", attempt+1,
			"wait", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return errors.ErrRateLimited(db.SystemSource, "exhausted retries").WithCause(lastErr)
}

// convertIssue maps a go-atlassian IssueScheme to the system-neutral record.
func convertIssue(issue *models.IssueScheme) tracker.Record {
	if issue == nil {
		return tracker.Record{}
	}
	r := tracker.Record{ID: issue.Key}
	f := issue.Fields
	if f == nil {
		return r
	}

	r.Title = f.Summary
	r.Description = ADFToMarkdown(f.Description)
	r.Status = safeStatusName(f.Status)
	r.Priority = safePriorityName(f.Priority)
	r.ParentID = safeParentKey(f.Parent)

	if f.Created != nil {
		r.CreatedAt = time.Time(*f.Created)
	}
	if f.Updated != nil {
		r.UpdatedAt = time.Time(*f.Updated)
	}
	return r
}

func safeStatusName(s *models.StatusScheme) string {
	if s == nil {
		return ""
	}
	return s.Name
}

func safePriorityName(p *models.PriorityScheme) string {
	if p == nil {
		return ""
	}
	return p.Name
}

func safeParentKey(p *models.ParentScheme) string {
	if p == nil {
		return ""
	}
	return p.Key
}
