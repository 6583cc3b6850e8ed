package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// OllamaClient implements Client against a local Ollama chat API. Ollama has
// no schema-constrained mode, so the tiers are `format: json` with a schema
// hint, then plain prompting with extraction.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a client for a local chat model.
func NewOllamaClient(baseURL, model string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: perCallTimeout + 5*time.Second,
		},
		logger: logger,
	}
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// CompleteJSON tries JSON mode first, then plain prompting.
func (c *OllamaClient) CompleteJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	var lastErr error
	for _, format := range []string{"json", ""} {
		msgs := withSchemaHint(req.Messages, req.Schema)
		for attempt := 0; attempt < strategyAttempts; attempt++ {
			raw, err := c.complete(ctx, req, msgs, format)
			if err == nil {
				return raw, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var contentErr *contentError
			if !errors.As(err, &contentErr) {
				break
			}
			msgs = feedbackMessages(msgs, contentErr.output, contentErr.cause)
		}
		c.logger.Debug("llm: ollama strategy failed, falling back", "format", format, "error", lastErr)
	}
	return nil, fmt.Errorf("llm: all strategies exhausted: %w", lastErr)
}

func (c *OllamaClient) complete(ctx context.Context, req Request, msgs []Message, format string) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	chatMsgs := make([]ollamaChatMessage, len(msgs))
	for i, m := range msgs {
		chatMsgs[i] = ollamaChatMessage{Role: m.Role, Content: m.Content}
	}
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: chatMsgs,
		Stream:   false,
		Format:   format,
		Options:  options,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("llm: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}

	raw, err := ExtractJSON(result.Message.Content)
	if err != nil {
		return nil, &contentError{output: result.Message.Content, cause: err.Error()}
	}
	return raw, nil
}
