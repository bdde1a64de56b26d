// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolHandler executes a tool call with its decoded arguments.
type ToolHandler func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

// ResourceHandler returns the contents of a resource.
type ResourceHandler func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error)

// PromptHandler resolves a prompt template.
type PromptHandler func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error)

// Server wraps the mcp-go server with registration helpers for tools,
// resources and prompts.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a server advertising tool, resource and prompt
// capabilities.
func NewServer(name, version string) *Server {
	return &Server{
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(true),
			server.WithResourceCapabilities(true, true),
			server.WithPromptCapabilities(true),
		),
	}
}

// RegisterTool registers a tool built with mcp.NewTool.
func (s *Server) RegisterTool(tool mcp.Tool, handler ToolHandler) {
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		return handler(ctx, args)
	})
}

// RegisterResource registers a resource built with mcp.NewResource.
func (s *Server) RegisterResource(resource mcp.Resource, handler ResourceHandler) {
	s.mcpServer.AddResource(resource, server.ResourceHandlerFunc(handler))
}

// RegisterPrompt registers a prompt built with mcp.NewPrompt.
func (s *Server) RegisterPrompt(prompt mcp.Prompt, handler PromptHandler) {
	s.mcpServer.AddPrompt(prompt, server.PromptHandlerFunc(handler))
}

// ServeStdio serves MCP over stdin/stdout until the peer disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
