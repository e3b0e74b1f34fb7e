// Package supabase talks to the agent edge function: it issues short-lived
// signed websocket URLs and reports finished conversation durations for
// usage accounting.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rkaruturi/PranicSoil-MVP/internal/diag"
)

// Client calls the conversation edge function over Supabase Functions.
type Client struct {
	BaseURL      string
	FunctionName string
	HTTPClient   *http.Client
}

// Grant is the result of a signed URL request: the websocket URL to dial and
// the server-issued session identifier used for accounting.
type Grant struct {
	SignedURL string `json:"signed_url"`
	SessionID string `json:"session_id"`
}

// NewClient constructs a client for the given Supabase project URL and edge
// function name.
func NewClient(baseURL, functionName string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		FunctionName: functionName,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// GetSignedURL requests a signed websocket URL and session ID. bearer is
// attached as an Authorization header when non-empty; anonymous sessions pass
// an empty string.
func (c *Client) GetSignedURL(ctx context.Context, bearer string) (Grant, error) {
	var grant Grant
	if c.BaseURL == "" {
		return grant, diag.Wrap(diag.CodeConnectionError, fmt.Errorf("missing Supabase configuration: SUPABASE_URL required"))
	}

	body, err := c.invoke(ctx, bearer, map[string]any{"action": "get-signed-url"})
	if err != nil {
		return grant, err
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return grant, diag.Wrap(diag.CodeConnectionError, fmt.Errorf("decode signed URL response: %w", err))
	}
	if grant.SignedURL == "" {
		return grant, diag.Wrap(diag.CodeConnectionError, fmt.Errorf("signed URL response missing signed_url"))
	}
	return grant, nil
}

// EndConversation reports the elapsed duration of a finished session. Best
// effort from the caller's point of view; errors are returned for logging
// only.
func (c *Client) EndConversation(ctx context.Context, bearer, sessionID string, durationSeconds int) error {
	if c.BaseURL == "" || sessionID == "" {
		return fmt.Errorf("end-conversation skipped: missing base URL or session ID")
	}
	_, err := c.invoke(ctx, bearer, map[string]any{
		"action":           "end-conversation",
		"session_id":       sessionID,
		"duration_seconds": durationSeconds,
	})
	return err
}

func (c *Client) invoke(ctx context.Context, bearer string, payload map[string]any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/functions/v1/%s", c.BaseURL, c.FunctionName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, diag.Wrap(diag.CodeConnectionError, fmt.Errorf("call %s: %w", c.FunctionName, err))
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, diag.Wrap(diag.CodeConnectionError, fmt.Errorf("read %s response: %w", c.FunctionName, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(buf.Bytes(), &apiErr) == nil && apiErr.Error != "" {
			return nil, diag.Wrap(diag.CodeConnectionError, fmt.Errorf("%s returned %d: %s", c.FunctionName, resp.StatusCode, apiErr.Error))
		}
		return nil, diag.Wrap(diag.CodeConnectionError, fmt.Errorf("%s returned status %d", c.FunctionName, resp.StatusCode))
	}
	return buf.Bytes(), nil
}
