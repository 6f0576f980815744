// Package memory is the HTTP client for the memory service agents and the
// orchestrator share. Memories are free-form records scoped by namespace
// (see Scope); the orchestrator mostly passes them through to the CLI.
package memory

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

const requestTimeout = 30 * time.Second

// Record is one stored memory. The service's schema is open-ended, so
// records stay loosely typed and flow to the CLI untouched.
type Record map[string]any

// Scope selects which namespace a memory operation targets.
type Scope struct {
	UserID  string
	AgentID string
}

func (s Scope) apply(payload map[string]any) {
	if s.UserID != "" {
		payload["user_id"] = s.UserID
	}
	if s.AgentID != "" {
		payload["agent_id"] = s.AgentID
	}
}

// Client talks to the memory service REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Add stores a memory in the given scope.
func (c *Client) Add(ctx context.Context, text string, scope Scope, metadata map[string]any) (Record, error) {
	payload := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": text}},
	}
	scope.apply(payload)
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	var out Record
	if err := c.do(ctx, http.MethodPost, "/memories", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search returns memories semantically similar to query within the scope.
func (c *Client) Search(ctx context.Context, query string, scope Scope, limit int) ([]Record, error) {
	payload := map[string]any{"query": query, "limit": limit}
	scope.apply(payload)
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/search", payload, &raw); err != nil {
		return nil, err
	}
	return unwrapRecords(raw)
}

// List returns every memory in the scope.
func (c *Client) List(ctx context.Context, scope Scope) ([]Record, error) {
	q := url.Values{}
	if scope.UserID != "" {
		q.Set("user_id", scope.UserID)
	}
	if scope.AgentID != "" {
		q.Set("agent_id", scope.AgentID)
	}
	path := "/memories"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return unwrapRecords(raw)
}

// Delete removes one memory by id.
func (c *Client) Delete(ctx context.Context, memoryID string) error {
	return c.do(ctx, http.MethodDelete, "/memories/"+url.PathEscape(memoryID), nil, nil)
}

// Ping checks that the service answers on its root route.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding memory request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building memory request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("memory service %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("memory service %s %s: %s: %s",
			method, path, resp.Status, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding memory response: %w", err)
	}
	return nil
}

// unwrapRecords accepts both the bare-array and {"results": [...]} response
// shapes the service emits depending on version.
func unwrapRecords(raw json.RawMessage) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(raw, &records); err == nil {
		return records, nil
	}
	var envelope struct {
		Results []Record `json:"results"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding memory records: %w", err)
	}
	return envelope.Results, nil
}
