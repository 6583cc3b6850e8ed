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

// perCallTimeout bounds one chat completion call. Separate from the caller's
// overall deadline so a single slow call doesn't eat the whole pipeline budget.
const perCallTimeout = 60 * time.Second

// OpenAIClient implements Client against the OpenAI chat completions API (or
// any compatible endpoint). Strategy order: response_format json_schema, a
// forced single-function tool call, response_format json_object, plain prompt
// with extraction.
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client for the given model.
func NewOpenAIClient(apiKey, model string, logger *slog.Logger) *OpenAIClient {
	return &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.openai.com/v1",
		httpClient: &http.Client{
			Timeout: perCallTimeout + 5*time.Second,
		},
		logger: logger,
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func (c *OpenAIClient) WithBaseURL(url string) *OpenAIClient {
	c.baseURL = url
	return c
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	Temperature    float64             `json:"temperature"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any      `json:"response_format,omitempty"`
	Tools          []map[string]any    `json:"tools,omitempty"`
	ToolChoice     map[string]any      `json:"tool_choice,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// CompleteJSON walks the strategy tiers until one yields valid JSON.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	strategies := []struct {
		name string
		run  func(context.Context, []Message) (json.RawMessage, error)
	}{
		{"json_schema", func(ctx context.Context, msgs []Message) (json.RawMessage, error) {
			return c.completeWithFormat(ctx, req, msgs, map[string]any{
				"type": "json_schema",
				"json_schema": map[string]any{
					"name":   req.SchemaName,
					"schema": req.Schema,
					"strict": true,
				},
			}, nil)
		}},
		{"tool_call", func(ctx context.Context, msgs []Message) (json.RawMessage, error) {
			tool := map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        req.SchemaName,
					"description": "Return the structured result.",
					"parameters":  req.Schema,
				},
			}
			return c.completeWithFormat(ctx, req, msgs, nil, []map[string]any{tool})
		}},
		{"json_object", func(ctx context.Context, msgs []Message) (json.RawMessage, error) {
			return c.completeWithFormat(ctx, req, withSchemaHint(msgs, req.Schema), map[string]any{"type": "json_object"}, nil)
		}},
		{"prompt_extract", func(ctx context.Context, msgs []Message) (json.RawMessage, error) {
			return c.completeWithFormat(ctx, req, withSchemaHint(msgs, req.Schema), nil, nil)
		}},
	}

	var lastErr error
	for _, strat := range strategies {
		msgs := req.Messages
		for attempt := 0; attempt < strategyAttempts; attempt++ {
			raw, err := strat.run(ctx, msgs)
			if err == nil {
				return raw, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A transport-level failure won't improve with feedback; move on
			// to the next attempt only for content problems.
			var contentErr *contentError
			if !errors.As(err, &contentErr) {
				break
			}
			msgs = feedbackMessages(msgs, contentErr.output, contentErr.cause)
		}
		c.logger.Debug("llm: strategy failed, falling back", "strategy", strat.name, "error", lastErr)
	}
	return nil, fmt.Errorf("llm: all strategies exhausted: %w", lastErr)
}

// contentError marks model output that arrived but did not parse, which is
// worth a feedback retry.
type contentError struct {
	output string
	cause  string
}

func (e *contentError) Error() string { return "llm: invalid content: " + e.cause }

// withSchemaHint appends the schema as text for strategies without native
// schema enforcement.
func withSchemaHint(msgs []Message, schema map[string]any) []Message {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return msgs
	}
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, msgs...)
	out = append(out, Message{
		Role:    "user",
		Content: "Respond with only a JSON document matching this JSON Schema:\n" + string(schemaJSON),
	})
	return out
}

func (c *OpenAIClient) completeWithFormat(ctx context.Context, req Request, msgs []Message, responseFormat map[string]any, tools []map[string]any) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	chatMsgs := make([]openAIChatMessage, len(msgs))
	for i, m := range msgs {
		chatMsgs[i] = openAIChatMessage{Role: m.Role, Content: m.Content}
	}
	chatReq := openAIChatRequest{
		Model:          c.model,
		Messages:       chatMsgs,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: responseFormat,
		Tools:          tools,
	}
	if len(tools) > 0 {
		chatReq.ToolChoice = map[string]any{
			"type":     "function",
			"function": map[string]any{"name": req.SchemaName},
		}
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("llm: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("llm: openai error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("llm: no choices in response")
	}

	msg := result.Choices[0].Message
	if len(tools) > 0 {
		if len(msg.ToolCalls) == 0 {
			return nil, &contentError{output: msg.Content, cause: "expected a tool call"}
		}
		args := msg.ToolCalls[0].Function.Arguments
		if !json.Valid([]byte(args)) {
			return nil, &contentError{output: args, cause: "tool arguments are not valid JSON"}
		}
		return json.RawMessage(args), nil
	}

	raw, err := ExtractJSON(msg.Content)
	if err != nil {
		return nil, &contentError{output: msg.Content, cause: err.Error()}
	}
	return raw, nil
}
