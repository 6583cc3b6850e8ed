package memento

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Memento server (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used. Synchronous note consolidation makes
	// several LLM calls, so raise the timeout (or use async intake) if
	// AddNote times out.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Memento personal-memory API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("memento: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// AddNoteResponse is the outcome of AddNote. Exactly one branch is set:
// Accepted when the server queued the note, Result when it consolidated
// inline.
type AddNoteResponse struct {
	Accepted *NoteAccepted
	Result   *NoteResult
}

// AddNote submits a note for consolidation. A nil timestamp defaults to the
// server's receipt time.
func (c *Client) AddNote(ctx context.Context, content string, timestamp *time.Time) (*AddNoteResponse, error) {
	body := AddNoteRequest{Content: content, Timestamp: timestamp}

	status, raw, err := c.post(ctx, "/v1/notes", body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		var accepted NoteAccepted
		if err := json.Unmarshal(raw, &accepted); err != nil {
			return nil, fmt.Errorf("memento: decode note accepted: %w", err)
		}
		return &AddNoteResponse{Accepted: &accepted}, nil
	}
	var result NoteResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("memento: decode note result: %w", err)
	}
	return &AddNoteResponse{Result: &result}, nil
}

// Retrieve runs the retrieval pipeline for a natural-language query.
// topK, when positive, caps the number of returned memories.
func (c *Client) Retrieve(ctx context.Context, query string, topK int) (*RetrievalResult, error) {
	body := RetrieveRequest{Query: query, TopK: topK}

	_, raw, err := c.post(ctx, "/v1/retrieve", body)
	if err != nil {
		return nil, err
	}
	var result RetrievalResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("memento: decode retrieval result: %w", err)
	}
	return &result, nil
}

// Health reports server and dependency status. A degraded server responds
// 503 but still returns a decodable body, so both are returned.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, fmt.Errorf("memento: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memento: GET /healthz: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("memento: read response body: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Data == nil {
		return nil, parseErrorResponse(resp.StatusCode, raw)
	}
	var health Health
	if err := json.Unmarshal(envelope.Data, &health); err != nil {
		return nil, fmt.Errorf("memento: decode health: %w", err)
	}
	return &health, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any) (int, json.RawMessage, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("memento: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, fmt.Errorf("memento: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("memento: POST %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("memento: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, nil, parseErrorResponse(resp.StatusCode, raw)
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("memento: decode response envelope: %w", err)
	}
	return resp.StatusCode, envelope.Data, nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
