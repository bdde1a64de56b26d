// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// The mcp-server command exposes research tools, prompts and resources over
// MCP stdio: Wikipedia summaries, current weather, and reference documents
// for retrieval.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/loomhq/loom/pkg/mcp"
)

const aithoURL = "https://aitho.it/chi-siamo/"

func main() {
	readmePath := flag.String("readme", "README.md", "path to the README served as file://readme")
	flag.Parse()

	srv := mcp.NewServer("Loom MCP Server", "1.0.0")
	registerTools(srv)
	registerPrompts(srv)
	registerResources(srv, *readmePath)

	if err := srv.ServeStdio(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func registerTools(srv *mcp.Server) {
	srv.RegisterTool(
		mcpgo.NewTool("wikipedia_search",
			mcpgo.WithDescription("Gets a summary from Wikipedia for a given query."),
			mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("The topic to look up")),
		),
		func(ctx context.Context, args map[string]any) (*mcpgo.CallToolResult, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return mcpgo.NewToolResultError("query is required"), nil
			}
			summary, err := wikipediaSummary(ctx, query)
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return mcpgo.NewToolResultText(summary), nil
		},
	)

	srv.RegisterTool(
		mcpgo.NewTool("get_weather_by_city",
			mcpgo.WithDescription("Gets the current weather for a city using the Open-Meteo APIs and decodes the weathercode."),
			mcpgo.WithString("city_name", mcpgo.Required(), mcpgo.Description("The city name")),
		),
		func(ctx context.Context, args map[string]any) (*mcpgo.CallToolResult, error) {
			city, _ := args["city_name"].(string)
			if city == "" {
				return mcpgo.NewToolResultError("city_name is required"), nil
			}
			payload, err := currentWeather(ctx, city)
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return mcpgo.NewToolResultText(payload), nil
		},
	)
}

func registerPrompts(srv *mcp.Server) {
	prompts := []struct {
		name, description, text string
	}{
		{
			name:        "wikipedia_unict",
			description: "Searches Wikipedia for information about the University of Catania",
			text:        "Cerca su Wikipedia informazioni sull'Università di Catania",
		},
		{
			name:        "catania_weather",
			description: "Searches for the weather in Catania",
			text:        "Dammi le previsioni meteo per Catania",
		},
		{
			name:        "project_readme",
			description: "Gives information about the project by reading the README file",
			text:        "Dammi il README di questa applicazione a partire dalle risorse MCP",
		},
	}

	for _, p := range prompts {
		text := p.text
		srv.RegisterPrompt(
			mcpgo.NewPrompt(p.name, mcpgo.WithPromptDescription(p.description)),
			func(ctx context.Context, req mcpgo.GetPromptRequest) (*mcpgo.GetPromptResult, error) {
				return mcpgo.NewGetPromptResult("", []mcpgo.PromptMessage{
					mcpgo.NewPromptMessage(mcpgo.RoleUser, mcpgo.NewTextContent(text)),
				}), nil
			},
		)
	}
}

func registerResources(srv *mcp.Server, readmePath string) {
	srv.RegisterResource(
		mcpgo.NewResource("web://aitho", "aitho",
			mcpgo.WithResourceDescription("Content of the Aitho website"),
			mcpgo.WithMIMEType("text/plain"),
		),
		func(ctx context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
			text, err := webPageExtract(ctx, aithoURL)
			if err != nil {
				return nil, err
			}
			return []mcpgo.ResourceContents{
				mcpgo.TextResourceContents{URI: "web://aitho", MIMEType: "text/plain", Text: text},
			}, nil
		},
	)

	srv.RegisterResource(
		mcpgo.NewResource("file://readme", "readme",
			mcpgo.WithResourceDescription("The project README"),
			mcpgo.WithMIMEType("text/markdown"),
		),
		func(ctx context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
			raw, err := os.ReadFile(filepath.Clean(readmePath))
			if err != nil {
				return nil, fmt.Errorf("read readme: %w", err)
			}
			return []mcpgo.ResourceContents{
				mcpgo.TextResourceContents{URI: "file://readme", MIMEType: "text/markdown", Text: string(raw)},
			}, nil
		},
	)
}
