// Package memory provides the client for the agent-memory service. The
// service holds one agent per synchronized account, a folder per project,
// and uploaded files mirroring project attachments.
package memory

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/randalmurphal/concord/internal/errors"
)

// Config holds the configuration for connecting to the memory service.
type Config struct {
	// BaseURL is the memory service URL.
	BaseURL string
	// APIToken is the bearer token for authentication.
	APIToken string
}

// Client talks to the memory service. Lookup caches are per-client.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *slog.Logger

	agents  *EntityCache
	folders *EntityCache
}

// NewClient creates a new memory service client with fresh caches.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.ErrConfigMissing("memory.base_url")
	}
	if cfg.APIToken == "" {
		return nil, errors.ErrConfigMissing("memory.api_token")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		agents:  NewEntityCache(),
		folders: NewEntityCache(),
	}, nil
}

// InvalidateAgent drops one agent from the lookup cache.
func (c *Client) InvalidateAgent(name string) { c.agents.Invalidate(name) }

// ClearCaches drops all cached lookups.
func (c *Client) ClearCaches() {
	c.agents.Clear()
	c.folders.Clear()
}

// EnsureAgent returns the agent with the given name, creating it when
// missing. When creation races with another provisioner the conflict is
// resolved by re-listing, then by direct name lookup; if the agent still
// cannot be located a placeholder is returned so the caller can continue
// without write access.
func (c *Client) EnsureAgent(ctx context.Context, name string) (Entity, error) {
	return c.agents.Lookup(name, func() (Entity, error) {
		return c.ensureEntity(ctx, "/api/v1/agents", name)
	})
}

// EnsureFolder returns the agent's folder with the given name, creating it
// when missing, with the same conflict fallback chain as EnsureAgent.
func (c *Client) EnsureFolder(ctx context.Context, agentID, name string) (Entity, error) {
	key := agentID + "/" + name
	path := fmt.Sprintf("/api/v1/agents/%s/folders", url.PathEscape(agentID))
	return c.folders.Lookup(key, func() (Entity, error) {
		return c.ensureEntity(ctx, path, name)
	})
}

// ensureEntity implements the shared ensure chain for name-addressed
// collections: list → create → on conflict re-list → name lookup →
// placeholder.
func (c *Client) ensureEntity(ctx context.Context, collectionPath, name string) (Entity, error) {
	if e, found, err := c.findByName(ctx, collectionPath, name); err != nil {
		return Entity{}, err
	} else if found {
		return e, nil
	}

	res, status, err := c.do(ctx, http.MethodPost, collectionPath, map[string]string{"name": name})
	if err != nil {
		return Entity{}, err
	}
	if status != http.StatusConflict {
		id := res.Get("id").String()
		if id == "" {
			return Entity{}, fmt.Errorf("memory create %q: response missing id", name)
		}
		return Entity{ID: id, Name: name}, nil
	}

	// Someone else created it between our list and create. The primary
	// recovery is a fresh list; some deployments index new objects lazily,
	// so fall back to the direct name lookup endpoint.
	if e, found, err := c.findByName(ctx, collectionPath, name); err == nil && found {
		return e, nil
	}

	lookupPath := collectionPath + "/by-name/" + url.PathEscape(name)
	if res, status, err := c.do(ctx, http.MethodGet, lookupPath, nil); err == nil && status == http.StatusOK {
		if id := res.Get("id").String(); id != "" {
			return Entity{ID: id, Name: name}, nil
		}
	}

	c.logger.Warn("memory object exists but could not be located, using placeholder",
		"collection", collectionPath,
		"name", name)
	return Entity{Name: name, Placeholder: true}, nil
}

// findByName lists the collection and looks for an exact name match.
func (c *Client) findByName(ctx context.Context, collectionPath, name string) (Entity, bool, error) {
	res, status, err := c.do(ctx, http.MethodGet, collectionPath, nil)
	if err != nil {
		return Entity{}, false, err
	}
	if status != http.StatusOK {
		return Entity{}, false, fmt.Errorf("memory list %s: status %d", collectionPath, status)
	}
	for _, item := range res.Get("items").Array() {
		if item.Get("name").String() == name {
			return Entity{ID: item.Get("id").String(), Name: name}, true, nil
		}
	}
	return Entity{}, false, nil
}

// FindAgent looks an agent up by exact name without creating it. The cache
// is bypassed: callers deciding whether to delete need the service's answer,
// not a memo of an earlier create.
func (c *Client) FindAgent(ctx context.Context, name string) (Entity, bool, error) {
	return c.findByName(ctx, "/api/v1/agents", name)
}

// AttachCapabilities grants the agent the listed capabilities. Attaching an
// already-attached capability is a no-op on the service side.
func (c *Client) AttachCapabilities(ctx context.Context, agentID string, capabilities []string) error {
	path := fmt.Sprintf("/api/v1/agents/%s/capabilities", url.PathEscape(agentID))
	_, status, err := c.do(ctx, http.MethodPost, path, map[string]any{"capabilities": capabilities})
	if err != nil {
		return fmt.Errorf("memory attach capabilities: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("memory attach capabilities: status %d", status)
	}
	return nil
}

// CleanupAgent deletes the agent and everything under it, and drops it from
// the cache. Deleting an unknown agent is not an error.
func (c *Client) CleanupAgent(ctx context.Context, agentID, name string) error {
	path := fmt.Sprintf("/api/v1/agents/%s", url.PathEscape(agentID))
	_, status, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("memory cleanup agent %s: %w", agentID, err)
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return fmt.Errorf("memory cleanup agent %s: status %d", agentID, status)
	}
	c.agents.Invalidate(name)
	return nil
}

// UploadFile stores a file under the folder and returns its external ID.
func (c *Client) UploadFile(ctx context.Context, folderID, name string, content []byte) (string, error) {
	path := fmt.Sprintf("/api/v1/folders/%s/files", url.PathEscape(folderID))
	res, status, err := c.do(ctx, http.MethodPost, path, map[string]string{
		"name":    name,
		"content": base64.StdEncoding.EncodeToString(content),
	})
	if err != nil {
		return "", fmt.Errorf("memory upload %s: %w", name, err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("memory upload %s: status %d", name, status)
	}
	id := res.Get("id").String()
	if id == "" {
		return "", fmt.Errorf("memory upload %s: response missing id", name)
	}
	return id, nil
}

// DeleteFile removes a file by external ID. Deleting an unknown file is not
// an error.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	path := fmt.Sprintf("/api/v1/files/%s", url.PathEscape(fileID))
	_, status, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("memory delete file %s: %w", fileID, err)
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return fmt.Errorf("memory delete file %s: status %d", fileID, status)
	}
	return nil
}

// maxRateLimitRetries bounds retries when the service answers 429.
const maxRateLimitRetries = 3

// do performs one API call, retrying on 429. It returns the parsed body and
// the status code; callers decide which statuses are errors, since 404 and
// 409 are meaningful answers in this API.
func (c *Client) do(ctx context.Context, method, path string, body any) (gjson.Result, int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return gjson.Result{}, 0, fmt.Errorf("encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return gjson.Result{}, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("X-Request-ID", uuid.NewString())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return gjson.Result{}, 0, errors.ErrUpstreamUnavailable("memory").WithCause(err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return gjson.Result{}, 0, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt >= maxRateLimitRetries {
				return gjson.Result{}, 0, errors.ErrRateLimited("memory", "exhausted retries")
			}
			wait := time.Duration(attempt+1) * 2 * time.Second
			c.logger.Warn("memory service rate limited, backing off",
				"path", path,
				"attempt", attempt+1,
				"wait", wait)
			select {
			case <-ctx.Done():
				return gjson.Result{}, 0, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		if resp.StatusCode >= 500 {
			return gjson.Result{}, resp.StatusCode, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return gjson.ParseBytes(data), resp.StatusCode, nil
	}
}
