// Package mcp implements the Model Context Protocol server for Memento.
//
// The MCP server exposes the same capabilities as the HTTP API through
// MCP tools, allowing MCP-compatible AI agents to save notes and retrieve
// memories directly.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/memento/internal/engine"
	"github.com/ashita-ai/memento/internal/format"
	"github.com/ashita-ai/memento/internal/service"
)

// Server wraps the MCP server with Memento's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	svc       *service.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(svc *service.Service, version string, logger *slog.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"memento",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// memento_add_note — save a note to the user's memory.
	s.mcpServer.AddTool(
		mcplib.NewTool("memento_add_note",
			mcplib.WithDescription("Save a note about the user to their personal memory. The note is consolidated into structured memories in the background or inline."),
			mcplib.WithString("content", mcplib.Description("The note text. Use USER to refer to the user."), mcplib.Required()),
			mcplib.WithString("timestamp", mcplib.Description("When the note was written, RFC 3339. Defaults to now.")),
		),
		s.handleAddNote,
	)

	// memento_retrieve — query the user's memory.
	s.mcpServer.AddTool(
		mcplib.NewTool("memento_retrieve",
			mcplib.WithDescription("Retrieve memories about the user relevant to a natural-language query, with entities and provenance."),
			mcplib.WithString("query", mcplib.Description("Natural language query"), mcplib.Required()),
			mcplib.WithNumber("top_k", mcplib.Description("Maximum memories to return")),
		),
		s.handleRetrieve,
	)

	// memento_context — rendered context block for prompt injection.
	s.mcpServer.AddTool(
		mcplib.NewTool("memento_context",
			mcplib.WithDescription("Retrieve memories for a query and render them as a context block ready to prepend to a prompt."),
			mcplib.WithString("query", mcplib.Description("Natural language query"), mcplib.Required()),
		),
		s.handleContext,
	)
}

func (s *Server) handleAddNote(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	content := request.GetString("content", "")
	if content == "" {
		return errorResult("content is required"), nil
	}

	var ts time.Time
	if raw := request.GetString("timestamp", ""); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid timestamp %q: expected RFC 3339", raw)), nil
		}
		ts = parsed.UTC()
	}

	out, err := s.svc.AddNote(ctx, content, ts)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			return errorResult(err.Error()), nil
		}
		s.logger.Error("mcp: add note failed", "error", err)
		return errorResult(fmt.Sprintf("failed to save note: %v", err)), nil
	}

	if out.Queued {
		return textResult(`{"status":"queued"}`), nil
	}
	data, err := json.MarshalIndent(out.Result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal note result: %w", err)
	}
	return textResult(string(data)), nil
}

func (s *Server) handleRetrieve(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	topK := request.GetInt("top_k", 0)

	out, err := s.svc.Retrieve(ctx, query, topK)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			return errorResult(err.Error()), nil
		}
		s.logger.Error("mcp: retrieve failed", "error", err)
		return errorResult(fmt.Sprintf("retrieval failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal retrieval output: %w", err)
	}
	return textResult(string(data)), nil
}

func (s *Server) handleContext(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}

	out, err := s.svc.Retrieve(ctx, query, 0)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			return errorResult(err.Error()), nil
		}
		s.logger.Error("mcp: context retrieval failed", "error", err)
		return errorResult(fmt.Sprintf("retrieval failed: %v", err)), nil
	}

	return textResult(format.Render(out, time.Now().UTC())), nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
