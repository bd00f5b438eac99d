// Package llmhost implements the thin HTTP client used to invoke the host's
// LLM endpoint from the job scheduler and event dispatcher.
package llmhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is the shared shape of a scheduler-originated LLM call.
type Request struct {
	SessionKey string
	Prompt     string
	Model      string
	Headers    map[string]string
}

// Response is the host's reply, trimmed to what the scheduler records.
type Response struct {
	Output string
	Model  string
}

// Client calls the host's chat-completion-shaped endpoint over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New constructs a Client targeting baseURL (e.g. http://127.0.0.1:PORT).
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{},
	}
}

// Invoke calls the host's LLM endpoint with the given bounded timeout
// (spec.md §4.7 step 7, §5's "LLM calls have effectiveTimeout").
func (c *Client) Invoke(ctx context.Context, req Request, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := map[string]any{
		"sessionKey": req.SessionKey,
		"prompt":     req.Prompt,
	}
	if req.Model != "" {
		payload["model"] = req.Model
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("llmhost: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/agent/invoke", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("llmhost: creating request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("llmhost: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return Response{}, fmt.Errorf("llmhost: host responded %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Output string `json:"output"`
		Model  string `json:"model"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Response{}, fmt.Errorf("llmhost: decoding response: %w", err)
	}
	return Response{Output: result.Output, Model: result.Model}, nil
}
