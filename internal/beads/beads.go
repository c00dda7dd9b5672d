// Package beads provides the embedded tracker adapter. Beads stores its
// issues next to the repository and is driven through the bd CLI, so this
// adapter shells out and parses the JSON output instead of speaking HTTP.
package beads

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/concord/internal/db"
	"github.com/randalmurphal/concord/internal/tracker"
)

// Client drives a beads workspace through the bd CLI.
type Client struct {
	workDir string
	runner  CommandRunner
}

// NewClient creates a client for the beads workspace rooted at workDir.
func NewClient(workDir string) *Client {
	return &Client{workDir: workDir, runner: NewExecRunner()}
}

// NewClientWithRunner creates a client with a custom runner, used in tests.
func NewClientWithRunner(workDir string, runner CommandRunner) *Client {
	return &Client{workDir: workDir, runner: runner}
}

// System implements tracker.Client.
func (c *Client) System() string { return db.SystemBeads }

// ListRecords returns all issues in the workspace. Beads has no pagination;
// the cursor is ignored and the returned page is always final. The
// projectRef is unused because one workspace holds one project.
func (c *Client) ListRecords(ctx context.Context, projectRef, cursor string) (*tracker.Page, error) {
	out, err := c.runner.Run(ctx, c.workDir, "list", "--json")
	if err != nil {
		return nil, fmt.Errorf("beads list: %w", err)
	}

	page := &tracker.Page{}
	for _, issue := range gjson.Parse(out).Array() {
		page.Records = append(page.Records, recordFromJSON(issue))
	}
	return page, nil
}

// CreateRecord creates an issue and returns it with the assigned bd ID.
func (c *Client) CreateRecord(ctx context.Context, projectRef string, r tracker.Record) (*tracker.Record, error) {
	args := []string{"create", r.Title, "--json"}
	if r.Description != "" {
		args = append(args, "-d", r.Description)
	}
	if r.Priority != "" {
		args = append(args, "-p", r.Priority)
	}

	out, err := c.runner.Run(ctx, c.workDir, args...)
	if err != nil {
		return nil, fmt.Errorf("beads create: %w", err)
	}

	id := gjson.Get(out, "id").String()
	if id == "" {
		return nil, fmt.Errorf("beads create: output missing issue id: %s", out)
	}

	created := r
	created.ID = id
	return &created, nil
}

// UpdateField sets a single field on an existing issue.
func (c *Client) UpdateField(ctx context.Context, id, field, value string) error {
	var args []string
	switch field {
	case "title":
		args = []string{"update", id, "--title", value}
	case "description":
		args = []string{"update", id, "-d", value}
	case "priority":
		args = []string{"update", id, "-p", value}
	case "status":
		// Closing is its own verb in bd.
		if value == "closed" {
			args = []string{"close", id}
		} else {
			args = []string{"update", id, "--status", value}
		}
	default:
		return fmt.Errorf("beads update %s: unknown field %q", id, field)
	}

	if _, err := c.runner.Run(ctx, c.workDir, args...); err != nil {
		return fmt.Errorf("beads update %s.%s: %w", id, field, err)
	}
	return nil
}

// Show returns a single issue by bd ID, or nil when it doesn't exist.
func (c *Client) Show(ctx context.Context, id string) (*tracker.Record, error) {
	out, err := c.runner.Run(ctx, c.workDir, "show", id, "--json")
	if err != nil {
		return nil, fmt.Errorf("beads show %s: %w", id, err)
	}
	parsed := gjson.Parse(out)
	if !parsed.Get("id").Exists() {
		return nil, nil
	}
	r := recordFromJSON(parsed)
	return &r, nil
}

// recordFromJSON maps one bd issue object to the system-neutral record.
func recordFromJSON(issue gjson.Result) tracker.Record {
	return tracker.Record{
		ID:          issue.Get("id").String(),
		Title:       issue.Get("title").String(),
		Description: issue.Get("description").String(),
		Status:      issue.Get("status").String(),
		Priority:    issue.Get("priority").String(),
		CreatedAt:   parseTime(issue.Get("created").String()),
		UpdatedAt:   parseTime(issue.Get("updated").String()),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
