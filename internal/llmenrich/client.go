// Package llmenrich calls an external LLM completion endpoint to
// categorize emails and extract action items and spending transactions
// in bulk, falling back to the rule-based categorizer per email whenever
// a chunk's call fails or its response can't be parsed.
package llmenrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultURL is the default local endpoint for the LLM runner.
const DefaultURL = "http://localhost:8001/run"

// maxTimeoutSeconds is the ceiling the remote endpoint enforces on any
// single call, independent of the caller's requested timeout.
const maxTimeoutSeconds = 590

// Error wraps any failure calling the LLM endpoint, including transport
// errors, non-2xx responses, and malformed JSON bodies.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("llm call failed: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Client posts prompts to a locally-hosted LLM runner. There is no LLM
// client library anywhere in the available dependency surface, so this
// is a thin net/http wrapper — see DESIGN.md.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient builds a Client against url (DefaultURL if empty).
func NewClient(url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{url: url, httpClient: &http.Client{}}
}

type runRequest struct {
	Prompt         string `json:"prompt"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type runResponse struct {
	Stdout string `json:"stdout"`
}

// Call posts prompt and returns the runner's stdout field. timeout bounds
// both the requested execution budget (capped at maxTimeoutSeconds) and
// the HTTP round trip (timeout + 10s).
func (c *Client) Call(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	timeoutSeconds := int(timeout.Seconds())
	if timeoutSeconds > maxTimeoutSeconds {
		timeoutSeconds = maxTimeoutSeconds
	}
	body, err := json.Marshal(runRequest{Prompt: prompt, TimeoutSeconds: timeoutSeconds})
	if err != nil {
		return "", &Error{Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}

	var parsed runResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &Error{Err: err}
	}
	return parsed.Stdout, nil
}
