// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer("test-server", "1.0.0")

	s.RegisterTool(
		mcpgo.NewTool("ping", mcpgo.WithDescription("replies with pong")),
		func(ctx context.Context, args map[string]any) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultText("pong"), nil
		},
	)

	s.RegisterResource(
		mcpgo.NewResource("file://readme", "readme",
			mcpgo.WithResourceDescription("project readme"),
			mcpgo.WithMIMEType("text/markdown"),
		),
		func(ctx context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
			return []mcpgo.ResourceContents{
				mcpgo.TextResourceContents{URI: "file://readme", MIMEType: "text/markdown", Text: "# Loom"},
			}, nil
		},
	)

	s.RegisterPrompt(
		mcpgo.NewPrompt("greet",
			mcpgo.WithPromptDescription("greeting prompt"),
			mcpgo.WithArgument("name", mcpgo.RequiredArgument()),
		),
		func(ctx context.Context, req mcpgo.GetPromptRequest) (*mcpgo.GetPromptResult, error) {
			name := req.Params.Arguments["name"]
			return mcpgo.NewGetPromptResult("greeting", []mcpgo.PromptMessage{
				mcpgo.NewPromptMessage(mcpgo.RoleUser, mcpgo.NewTextContent("Say hello to "+name)),
			}), nil
		},
	)

	return s
}

func newTestClient(t *testing.T, opts ...ClientOption) *Client {
	t.Helper()

	httpServer := mcpserver.NewTestStreamableHTTPServer(newTestServer(t).mcpServer)
	t.Cleanup(httpServer.Close)

	client, err := NewClientWithStreamableHTTP(httpServer.URL, opts...)
	if err != nil {
		t.Fatalf("NewClientWithStreamableHTTP() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestListToolsAndCall(t *testing.T) {
	client := newTestClient(t)

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "ping" {
		t.Fatalf("tools = %+v, want ping", tools)
	}

	result, err := client.CallTool(context.Background(), "ping", map[string]any{"input": "hello"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("tool result is error: %+v", result)
	}
	text, ok := result.Content[0].(mcpgo.TextContent)
	if !ok || text.Text != "pong" {
		t.Errorf("tool content = %+v, want pong", result.Content)
	}
}

func TestListToolsUsesCache(t *testing.T) {
	client := newTestClient(t, WithToolCacheTTL(time.Minute))

	first, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	second, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() cached error = %v", err)
	}
	if len(first) != len(second) {
		t.Errorf("cached result differs: %d vs %d", len(first), len(second))
	}
	// Cached slice must be a copy, not the internal cache.
	if len(second) > 0 {
		second[0].Name = "mutated"
		third, _ := client.ListTools(context.Background())
		if third[0].Name == "mutated" {
			t.Error("cache leaked a mutable reference")
		}
	}
}

func TestReadResource(t *testing.T) {
	client := newTestClient(t)

	resources, err := client.ListResources(context.Background())
	if err != nil {
		t.Fatalf("ListResources() error = %v", err)
	}
	if len(resources) != 1 || resources[0].URI != "file://readme" {
		t.Fatalf("resources = %+v", resources)
	}

	contents, err := client.ReadResource(context.Background(), "file://readme")
	if err != nil {
		t.Fatalf("ReadResource() error = %v", err)
	}
	text, ok := contents[0].(mcpgo.TextResourceContents)
	if !ok || text.Text != "# Loom" {
		t.Errorf("contents = %+v", contents)
	}
}

func TestGetPrompt(t *testing.T) {
	client := newTestClient(t)

	prompts, err := client.ListPrompts(context.Background())
	if err != nil {
		t.Fatalf("ListPrompts() error = %v", err)
	}
	if len(prompts) != 1 || prompts[0].Name != "greet" {
		t.Fatalf("prompts = %+v", prompts)
	}

	result, err := client.GetPrompt(context.Background(), "greet", map[string]string{"name": "Ada"})
	if err != nil {
		t.Fatalf("GetPrompt() error = %v", err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("messages = %+v", result.Messages)
	}
	text, ok := result.Messages[0].Content.(mcpgo.TextContent)
	if !ok || text.Text != "Say hello to Ada" {
		t.Errorf("prompt message = %+v", result.Messages[0])
	}
}
