// Package kanban provides the kanban tool adapter. The tool exposes a small
// JSON REST API; responses are picked apart with gjson rather than mirrored
// as Go structs, since we only consume a handful of fields.
package kanban

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/concord/internal/db"
	"github.com/randalmurphal/concord/internal/errors"
	"github.com/randalmurphal/concord/internal/tracker"
)

// Config holds the configuration for connecting to the kanban tool.
type Config struct {
	// BaseURL is the kanban instance URL (e.g., "https://kanban.acme.test").
	BaseURL string
	// APIToken is the bearer token for authentication.
	APIToken string
}

// Client is a thin REST wrapper over the kanban tool's API.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a new kanban client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.ErrConfigMissing("kanban.base_url")
	}
	if cfg.APIToken == "" {
		return nil, errors.ErrConfigMissing("kanban.api_token")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}, nil
}

// System implements tracker.Client.
func (c *Client) System() string { return db.SystemKanban }

// ListRecords returns one page of cards on the board. The cursor is the
// opaque next_cursor token from the previous page.
func (c *Client) ListRecords(ctx context.Context, projectRef, cursor string) (*tracker.Page, error) {
	path := fmt.Sprintf("/api/v1/boards/%s/cards", url.PathEscape(projectRef))
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}

	res, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("kanban list %s: %w", projectRef, err)
	}

	page := &tracker.Page{NextCursor: res.Get("next_cursor").String()}
	for _, card := range res.Get("cards").Array() {
		page.Records = append(page.Records, recordFromJSON(card))
	}
	return page, nil
}

// CreateRecord creates a card on the board and returns it with the assigned ID.
func (c *Client) CreateRecord(ctx context.Context, projectRef string, r tracker.Record) (*tracker.Record, error) {
	body := map[string]string{
		"title":       r.Title,
		"description": r.Description,
		"status":      r.Status,
		"priority":    r.Priority,
	}
	if r.ParentID != "" {
		body["parent_id"] = r.ParentID
	}

	path := fmt.Sprintf("/api/v1/boards/%s/cards", url.PathEscape(projectRef))
	res, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, fmt.Errorf("kanban create on %s: %w", projectRef, err)
	}

	out := r
	out.ID = res.Get("id").String()
	if out.ID == "" {
		return nil, fmt.Errorf("kanban create on %s: response missing card id", projectRef)
	}
	return &out, nil
}

// UpdateField sets a single field on an existing card.
func (c *Client) UpdateField(ctx context.Context, id, field, value string) error {
	switch field {
	case "title", "description", "status", "priority":
	default:
		return fmt.Errorf("kanban update %s: unknown field %q", id, field)
	}

	path := fmt.Sprintf("/api/v1/cards/%s", url.PathEscape(id))
	if _, err := c.do(ctx, http.MethodPatch, path, map[string]string{field: value}); err != nil {
		return fmt.Errorf("kanban update %s.%s: %w", id, field, err)
	}
	return nil
}

// ListBoards returns all boards visible to the token, as records whose ID is
// the board reference and Title the board name.
func (c *Client) ListBoards(ctx context.Context) ([]tracker.Record, error) {
	res, err := c.do(ctx, http.MethodGet, "/api/v1/boards", nil)
	if err != nil {
		return nil, fmt.Errorf("kanban list boards: %w", err)
	}

	var boards []tracker.Record
	for _, b := range res.Get("boards").Array() {
		boards = append(boards, tracker.Record{
			ID:          b.Get("id").String(),
			Title:       b.Get("name").String(),
			Description: b.Get("description").String(),
			CreatedAt:   parseTime(b.Get("created_at").String()),
		})
	}
	return boards, nil
}

// CreateBoard creates a board and returns its reference.
func (c *Client) CreateBoard(ctx context.Context, name, description string) (string, error) {
	res, err := c.do(ctx, http.MethodPost, "/api/v1/boards", map[string]string{
		"name":        name,
		"description": description,
	})
	if err != nil {
		return "", fmt.Errorf("kanban create board %q: %w", name, err)
	}
	id := res.Get("id").String()
	if id == "" {
		return "", fmt.Errorf("kanban create board %q: response missing board id", name)
	}
	return id, nil
}

// maxRateLimitRetries bounds retries when the API answers 429.
const maxRateLimitRetries = 3

// do performs one API call, retrying on 429, and returns the parsed response
// body.
func (c *Client) do(ctx context.Context, method, path string, body any) (gjson.Result, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return gjson.Result{}, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return gjson.Result{}, errors.ErrUpstreamUnavailable(db.SystemKanban).WithCause(err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return gjson.Result{}, fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt >= maxRateLimitRetries {
				return gjson.Result{}, errors.ErrRateLimited(db.SystemKanban, "exhausted retries")
			}
			wait := time.Duration(attempt+1) * 2 * time.Second
			c.logger.Warn("kanban rate limited, backing off",
				"path", path,
				"attempt", attempt+1,
				"wait", wait)
			select {
			case <-ctx.Done():
				return gjson.Result{}, ctx.Err()
			case <-time.After(wait):
			}
			continue

		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return gjson.Result{}, fmt.Errorf("%s %s: status %d: %s",
				method, path, resp.StatusCode, truncate(string(data), 200))
		}

		return gjson.ParseBytes(data), nil
	}
}

// recordFromJSON maps one card object to the system-neutral record.
func recordFromJSON(card gjson.Result) tracker.Record {
	return tracker.Record{
		ID:          card.Get("id").String(),
		Title:       card.Get("title").String(),
		Description: card.Get("description").String(),
		Status:      card.Get("status").String(),
		Priority:    card.Get("priority").String(),
		ParentID:    card.Get("parent_id").String(),
		CreatedAt:   parseTime(card.Get("created_at").String()),
		UpdatedAt:   parseTime(card.Get("updated_at").String()),
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
