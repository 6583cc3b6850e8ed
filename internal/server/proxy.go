package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/memento/internal/format"
	"github.com/ashita-ai/memento/internal/model"
)

// proxyTimeout bounds one upstream chat completion, including streaming.
const proxyTimeout = 5 * time.Minute

// handleChatCompletions proxies an OpenAI-shaped chat completion to the
// upstream provider, first running retrieval on the last user message and
// prepending the memory block to it. Retrieval failure degrades gracefully:
// the original request is forwarded unchanged.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "failed to read request body")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}

	if query, idx, ok := lastUserMessage(payload); ok {
		out, rerr := s.svc.Retrieve(r.Context(), query, 0)
		switch {
		case rerr != nil:
			s.logger.Warn("proxy: retrieval failed, forwarding original prompt",
				"error", rerr,
				"request_id", RequestIDFromContext(r.Context()),
			)
		case len(out.Memories) > 0 || len(out.Entities) > 0:
			block := format.Render(out, time.Now().UTC())
			injectMemoryBlock(payload, idx, block)
			if rebuilt, merr := json.Marshal(payload); merr == nil {
				body = rebuilt
			}
		}
	}

	s.forwardUpstream(w, r, body)
}

// lastUserMessage returns the content and index of the final user-role
// message, or ok=false when the request carries none.
func lastUserMessage(payload map[string]any) (content string, idx int, ok bool) {
	messages, _ := payload["messages"].([]any)
	for i := len(messages) - 1; i >= 0; i-- {
		msg, mok := messages[i].(map[string]any)
		if !mok || msg["role"] != "user" {
			continue
		}
		text, tok := msg["content"].(string)
		if !tok || strings.TrimSpace(text) == "" {
			return "", 0, false
		}
		return text, i, true
	}
	return "", 0, false
}

// injectMemoryBlock prepends the rendered memory block to the message at idx.
func injectMemoryBlock(payload map[string]any, idx int, block string) {
	messages, _ := payload["messages"].([]any)
	if idx < 0 || idx >= len(messages) {
		return
	}
	msg, ok := messages[idx].(map[string]any)
	if !ok {
		return
	}
	content, _ := msg["content"].(string)
	msg["content"] = block + "\n\n" + content
}

// forwardUpstream sends the (possibly rewritten) body to the upstream
// provider and streams the response back verbatim.
func (s *Server) forwardUpstream(w http.ResponseWriter, r *http.Request, body []byte) {
	ctx, cancel := context.WithTimeout(r.Context(), proxyTimeout)
	defer cancel()

	url := strings.TrimSuffix(s.upstreamURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to build upstream request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	// Caller credentials win; the configured key is the fallback.
	if auth := r.Header.Get("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	} else if s.upstreamKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.upstreamKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("proxy: upstream request failed",
			"error", err,
			"request_id", RequestIDFromContext(r.Context()),
		)
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUnavailable, "upstream provider unreachable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(flushWriter{w}, resp.Body); err != nil {
		s.logger.Warn("proxy: response copy interrupted",
			"error", err,
			"request_id", RequestIDFromContext(r.Context()),
		)
	}
}

// flushWriter flushes after every write so SSE chunks reach the client as
// the upstream emits them.
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}
