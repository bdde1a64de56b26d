// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package ragchat implements a chat agent over an MCP server: the server's
// tools are exposed to the model, and its resources are embedded into a
// vector store queried through a retriever tool.
package ragchat

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	loomerr "github.com/loomhq/loom/pkg/errors"
	"github.com/loomhq/loom/pkg/llm"
	"github.com/loomhq/loom/pkg/mcp"
	"github.com/loomhq/loom/pkg/memory"
)

const systemPrompt = `You are a helpful assistant. Use tools when needed. Reply in the user's language.`

const (
	retrieverToolName  = "mcp_resource_retriever"
	resourceCollection = "mcp_resources"

	maxToolTurns  = 8
	retrieverTopK = 1
)

var thinkPattern = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// Answer is one reply from the session.
type Answer struct {
	Content string
	// ToolsUsed lists the tools invoked while producing the answer, in
	// call order.
	ToolsUsed []string
	// Thought carries the model's chain-of-thought when it emits
	// <think> blocks; empty otherwise.
	Thought string
}

// Session is a stateful chat over one MCP connection. Start ingests the
// server's resources before the first question; Close releases the
// connection. A Session is not safe for concurrent Ask calls.
type Session struct {
	mcp      *mcp.Client
	provider llm.Provider
	embedder memory.Embedder
	store    memory.VectorStore
	model    string
	logger   *slog.Logger

	tools   []llm.Tool
	history []llm.Message
	started bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithModel sets the model passed to the provider.
func WithModel(model string) SessionOption {
	return func(s *Session) {
		s.model = model
	}
}

// WithVectorStore overrides the in-memory default.
func WithVectorStore(store memory.VectorStore) SessionOption {
	return func(s *Session) {
		s.store = store
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession creates a Session. Call Start before Ask.
func NewSession(provider llm.Provider, client *mcp.Client, embedder memory.Embedder, opts ...SessionOption) *Session {
	s := &Session{
		mcp:      client,
		provider: provider,
		embedder: embedder,
		store:    memory.NewInMemoryStore(),
		logger:   slog.Default(),
		history:  []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start discovers the server's tools and ingests its resources into the
// vector store.
func (s *Session) Start(ctx context.Context) error {
	tools, err := s.mcp.ListTools(ctx)
	if err != nil {
		return loomerr.New(loomerr.CodeInternal, "list mcp tools", err)
	}
	s.tools = make([]llm.Tool, 0, len(tools)+1)
	s.tools = append(s.tools, retrieverTool())
	for _, t := range tools {
		s.tools = append(s.tools, convertTool(t))
	}

	if err := s.ingestResources(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

func (s *Session) ingestResources(ctx context.Context) error {
	resources, err := s.mcp.ListResources(ctx)
	if err != nil {
		return loomerr.New(loomerr.CodeInternal, "list mcp resources", err)
	}

	var points []memory.Point
	for _, res := range resources {
		contents, err := s.mcp.ReadResource(ctx, res.URI)
		if err != nil {
			s.logger.Warn("skipping unreadable resource", "uri", res.URI, "error", err)
			continue
		}
		for _, content := range contents {
			text, ok := content.(mcpgo.TextResourceContents)
			if !ok || strings.TrimSpace(text.Text) == "" {
				continue
			}
			vector, err := s.embedder.Embed(ctx, text.Text)
			if err != nil {
				return loomerr.New(loomerr.CodeMemoryError, "embed resource", err).
					WithContext("uri", res.URI)
			}
			points = append(points, memory.Point{
				ID:     uuid.NewString(),
				Vector: vector,
				Payload: map[string]any{
					"text":     text.Text,
					"source":   res.URI,
					"mimetype": text.MIMEType,
				},
			})
		}
	}

	if len(points) == 0 {
		s.logger.Info("no mcp resources to index")
		return nil
	}

	if err := s.store.CreateCollection(ctx, resourceCollection, uint64(len(points[0].Vector))); err != nil {
		return err
	}
	if err := s.store.Upsert(ctx, resourceCollection, points); err != nil {
		return err
	}
	s.logger.Info("indexed mcp resources", "documents", len(points))
	return nil
}

// Ask sends a question through the tool loop and returns the final answer.
func (s *Session) Ask(ctx context.Context, question string) (*Answer, error) {
	if !s.started {
		return nil, loomerr.New(loomerr.CodeInternal, "session not started", nil)
	}

	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: question})
	var toolsUsed []string

	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := s.provider.Chat(ctx, llm.ChatRequest{
			Model:    s.model,
			Messages: s.history,
			Tools:    s.tools,
		})
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			clean, thought := splitThought(resp.Content)
			s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			return &Answer{Content: clean, ToolsUsed: toolsUsed, Thought: thought}, nil
		}

		s.history = append(s.history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			toolsUsed = append(toolsUsed, call.Function.Name)
			result := s.executeTool(ctx, call)
			s.history = append(s.history, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return nil, loomerr.New(loomerr.CodeLLMError, "tool loop did not converge", nil).
		WithContext("max_turns", maxToolTurns)
}

func (s *Session) executeTool(ctx context.Context, call llm.ToolCall) string {
	if call.Function.Name == retrieverToolName {
		return s.retrieve(ctx, call.Function.Arguments)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		s.logger.Warn("malformed tool arguments", "tool", call.Function.Name, "error", err)
		return `{"error": "invalid tool arguments"}`
	}

	result, err := s.mcp.CallTool(ctx, call.Function.Name, args)
	if err != nil {
		s.logger.Warn("mcp tool call failed", "tool", call.Function.Name, "error", err)
		return `{"error": "tool call failed"}`
	}
	return toolResultText(result)
}

func (s *Session) retrieve(ctx context.Context, rawArgs string) string {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil || args.Query == "" {
		return `{"error": "retriever needs a query"}`
	}

	vector, err := s.embedder.Embed(ctx, args.Query)
	if err != nil {
		s.logger.Warn("embedding query failed", "error", err)
		return `{"error": "retrieval failed"}`
	}
	results, err := s.store.Search(ctx, resourceCollection, vector, retrieverTopK, 0)
	if err != nil || len(results) == 0 {
		return "No relevant resources found."
	}

	var sb strings.Builder
	for _, r := range results {
		text, _ := r.Point.Payload["text"].(string)
		source, _ := r.Point.Payload["source"].(string)
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Source: " + source + "\n" + text)
	}
	return sb.String()
}

// Tools returns the MCP server's tools.
func (s *Session) Tools(ctx context.Context) ([]mcpgo.Tool, error) {
	return s.mcp.ListTools(ctx)
}

// Resources returns the MCP server's resources.
func (s *Session) Resources(ctx context.Context) ([]mcpgo.Resource, error) {
	return s.mcp.ListResources(ctx)
}

// Prompts returns the MCP server's prompts.
func (s *Session) Prompts(ctx context.Context) ([]mcpgo.Prompt, error) {
	return s.mcp.ListPrompts(ctx)
}

// PromptText resolves a prompt and returns its first message text, ready to
// feed into Ask.
func (s *Session) PromptText(ctx context.Context, name string) (string, error) {
	result, err := s.mcp.GetPrompt(ctx, name, nil)
	if err != nil {
		return "", err
	}
	for _, msg := range result.Messages {
		if text, ok := msg.Content.(mcpgo.TextContent); ok {
			return text.Text, nil
		}
	}
	return "", loomerr.New(loomerr.CodeInternal, "prompt has no text content", nil).
		WithContext("prompt", name)
}

// Close releases the MCP connection.
func (s *Session) Close() error {
	return s.mcp.Close()
}

func retrieverTool() llm.Tool {
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        retrieverToolName,
			Description: "Retrieves relevant resources from the MCP server for the query.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// convertTool maps an MCP tool schema onto the provider-neutral tool type.
func convertTool(t mcpgo.Tool) llm.Tool {
	var params map[string]any
	if raw, err := json.Marshal(t.InputSchema); err == nil {
		_ = json.Unmarshal(raw, &params)
	}
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		},
	}
}

func toolResultText(result *mcpgo.CallToolResult) string {
	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(mcpgo.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(text.Text)
		}
	}
	if sb.Len() == 0 {
		return "(no text result)"
	}
	return sb.String()
}

// splitThought separates <think> blocks from the visible reply.
func splitThought(content string) (clean, thought string) {
	matches := thinkPattern.FindAllStringSubmatch(content, -1)
	var thoughts []string
	for _, m := range matches {
		thoughts = append(thoughts, strings.TrimSpace(m[1]))
	}
	clean = strings.TrimSpace(thinkPattern.ReplaceAllString(content, ""))
	return clean, strings.Join(thoughts, "\n\n")
}
