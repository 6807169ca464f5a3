package steplinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Stepline HTTP API client. Progress calls act for the
// actor the credentials identify.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set. Servers only
	// honour it when legacy actor headers are enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Item represents a node of an item tree.
type Item struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	RootID   string `json:"root_id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Content  string `json:"content,omitempty"`
	Priority int    `json:"priority"`
}

// Node is one item of a tree to import.
type Node struct {
	Key      string         `json:"key,omitempty"`
	Title    string         `json:"title"`
	Type     string         `json:"type,omitempty"`
	Content  string         `json:"content,omitempty"`
	Priority *int           `json:"priority,omitempty"`
	Criteria map[string]any `json:"criteria,omitempty"`
	BlocksOn []string       `json:"blocks_on,omitempty"`
	Children []Node         `json:"children,omitempty"`
}

type ImportResult struct {
	Root  Item              `json:"root"`
	IDs   map[string]string `json:"ids"`
	Items int               `json:"items"`
	Edges int               `json:"edges"`
}

type Edge struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Kind   string `json:"kind"`
}

// Progress is the caller's state for one item.
type Progress struct {
	ItemID      string `json:"item_id"`
	ActorID     string `json:"actor_id"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	CloseReason string `json:"close_reason,omitempty"`
}

type ReadyItem struct {
	Item   Item   `json:"item"`
	Status string `json:"status"`
}

type StartResult struct {
	OK        bool   `json:"ok"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Message   string `json:"message"`
}

type TransitionResult struct {
	ItemID     string   `json:"item_id"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	AutoClosed []string `json:"auto_closed,omitempty"`
}

type ReopenResult struct {
	OK        bool   `json:"ok"`
	NewStatus string `json:"new_status"`
}

type SubmitResult struct {
	SubmissionID     string            `json:"submission_id"`
	AttemptNumber    int               `json:"attempt_number"`
	ValidationPassed bool              `json:"validation_passed"`
	Message          string            `json:"message,omitempty"`
	CanClose         bool              `json:"can_close"`
	Closed           *TransitionResult `json:"closed,omitempty"`
	CloseSkipped     string            `json:"close_skipped,omitempty"`
}

type GateDecision struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	BlockingChildID string `json:"blocking_child_id,omitempty"`
	MissingEvidence bool   `json:"missing_evidence,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	RootID     string         `json:"root_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code carries the server's error kind
// (blocked, closure_refused, cycle_detected, ...).
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ImportTree creates a whole tree in one call.
func (c *Client) ImportTree(ctx context.Context, root Node) (ImportResult, error) {
	var resp ImportResult
	err := c.do(ctx, http.MethodPost, "v0/roots", root, &resp)
	return resp, err
}

func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodGet, itemPath(id, ""), nil, &resp)
	return resp, err
}

// AddEdge records that from cannot start until to is closed. kind may be
// empty for BLOCKS.
func (c *Client) AddEdge(ctx context.Context, from, to, kind string) (Edge, error) {
	body := map[string]any{
		"from": from,
		"to":   to,
		"kind": kind,
	}
	var resp Edge
	err := c.do(ctx, http.MethodPost, "v0/edges", body, &resp)
	return resp, err
}

func (c *Client) RemoveEdge(ctx context.Context, from, to string) ([]Edge, error) {
	var resp struct {
		Items []Edge `json:"items"`
	}
	endpoint := fmt.Sprintf("v0/edges/%s/%s", url.PathEscape(from), url.PathEscape(to))
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp.Items, err
}

// ReadyWork lists items the caller can start under scopeID. A zero limit
// uses the server default.
func (c *Client) ReadyWork(ctx context.Context, scopeID string, types []string, limit int) ([]ReadyItem, error) {
	q := url.Values{}
	if len(types) > 0 {
		q.Set("type", strings.Join(types, ","))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := fmt.Sprintf("v0/roots/%s/ready", url.PathEscape(scopeID))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []ReadyItem `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) StartItem(ctx context.Context, id string) (StartResult, error) {
	var resp StartResult
	err := c.do(ctx, http.MethodPost, itemPath(id, "start"), nil, &resp)
	return resp, err
}

func (c *Client) CloseItem(ctx context.Context, id, reason string) (TransitionResult, error) {
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, itemPath(id, "close"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

func (c *Client) ReopenItem(ctx context.Context, id, reason string) (ReopenResult, error) {
	var resp ReopenResult
	err := c.do(ctx, http.MethodPost, itemPath(id, "reopen"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Transition applies a raw status change such as BLOCKED.
func (c *Client) Transition(ctx context.Context, id, status, reason string) (TransitionResult, error) {
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, itemPath(id, "transition"), map[string]any{"status": status, "reason": reason}, &resp)
	return resp, err
}

func (c *Client) SubmitEvidence(ctx context.Context, id, content, contentKind string, closeOnPass bool) (SubmitResult, error) {
	body := map[string]any{
		"content":       content,
		"content_kind":  contentKind,
		"close_on_pass": closeOnPass,
	}
	var resp SubmitResult
	err := c.do(ctx, http.MethodPost, itemPath(id, "evidence"), body, &resp)
	return resp, err
}

func (c *Client) Progress(ctx context.Context, id string) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, itemPath(id, "progress"), nil, &resp)
	return resp, err
}

func (c *Client) CanClose(ctx context.Context, id string) (GateDecision, error) {
	var resp GateDecision
	err := c.do(ctx, http.MethodGet, itemPath(id, "can-close"), nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing for one tree.
func (c *Client) EventsPage(ctx context.Context, rootID string, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := fmt.Sprintf("v0/roots/%s/events", url.PathEscape(rootID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func itemPath(id, action string) string {
	p := fmt.Sprintf("v0/items/%s", url.PathEscape(id))
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
