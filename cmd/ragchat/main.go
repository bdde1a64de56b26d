// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// The ragchat command is an interactive chat over an MCP server: the
// server's tools are available to the model, its resources are indexed for
// retrieval, and its prompts can be run with /prompt <name>.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loomhq/loom/pkg/agents/ragchat"
	"github.com/loomhq/loom/pkg/config"
	"github.com/loomhq/loom/pkg/llm"
	"github.com/loomhq/loom/pkg/mcp"
	"github.com/loomhq/loom/pkg/memory"
	memollama "github.com/loomhq/loom/pkg/memory/ollama"
	"github.com/loomhq/loom/pkg/memory/qdrant"
	"github.com/loomhq/loom/pkg/telemetry"
	"github.com/loomhq/loom/providers/openai"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	serverCommand := flag.String("server", "", "MCP server command (overrides config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *serverCommand); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, serverCommand string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serverCommand != "" {
		cfg.MCP.Command = serverCommand
		cfg.MCP.Args = flag.Args()
	}
	if cfg.MCP.Command == "" {
		return errors.New("no MCP server command configured (set mcp.command or -server)")
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	embedder := memollama.NewEmbedder(cfg.Memory.EmbedderBaseURL, cfg.Memory.EmbedderModel)
	store, err := buildVectorStore(cfg)
	if err != nil {
		return err
	}

	mcpClient, err := mcp.NewClientWithStdio(cfg.MCP.Command, cfg.MCP.Args,
		mcp.WithTimeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("start MCP server: %w", err)
	}

	session := ragchat.NewSession(provider, mcpClient, embedder,
		ragchat.WithModel(cfg.LLM.Model),
		ragchat.WithVectorStore(store),
		ragchat.WithLogger(logger),
	)
	defer session.Close()

	fmt.Println("Ingesting MCP resources...")
	if err := session.Start(ctx); err != nil {
		return err
	}

	if err := printServerInventory(ctx, session); err != nil {
		return err
	}

	fmt.Println("\nCiao! Fammi una domanda e io cercherò di aiutarti.")
	fmt.Println("Commands: /prompt <name> runs a server prompt, :q quits.")

	stdin := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !stdin.Scan() {
			return nil
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if line == ":q" || line == "quit" {
			return nil
		}

		question := line
		if name, ok := strings.CutPrefix(line, "/prompt "); ok {
			question, err = session.PromptText(ctx, strings.TrimSpace(name))
			if err != nil {
				fmt.Println("prompt failed:", err)
				continue
			}
			fmt.Println("prompt:", question)
		}

		answer, err := session.Ask(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Println("request failed:", err)
			continue
		}

		if answer.Thought != "" {
			fmt.Println("[thinking]", answer.Thought)
		}
		if len(answer.ToolsUsed) > 0 {
			fmt.Println("[tools]", strings.Join(answer.ToolsUsed, ", "))
		}
		fmt.Println(answer.Content)
	}
}

func printServerInventory(ctx context.Context, session *ragchat.Session) error {
	tools, err := session.Tools(ctx)
	if err != nil {
		return err
	}
	fmt.Println("\nMCP Tools:")
	for _, tool := range tools {
		fmt.Printf("  - %s: %s\n", tool.Name, tool.Description)
	}

	resources, err := session.Resources(ctx)
	if err != nil {
		return err
	}
	fmt.Println("MCP Resources:")
	for _, res := range resources {
		fmt.Printf("  - %s (%s): %s\n", res.Name, res.URI, res.Description)
	}

	prompts, err := session.Prompts(ctx)
	if err != nil {
		return err
	}
	fmt.Println("MCP Prompts:")
	for _, prompt := range prompts {
		fmt.Printf("  - %s: %s\n", prompt.Name, prompt.Description)
	}
	return nil
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "ollama":
		return llm.NewOllama(cfg.LLM.BaseURL), nil
	case "openai", "":
		apiKey := cfg.LLM.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY environment variable not set")
		}
		opts := []openai.Option{openai.WithAPIKey(apiKey), openai.WithModel(cfg.LLM.Model)}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
		}
		return openai.New(opts...), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func buildVectorStore(cfg *config.Config) (memory.VectorStore, error) {
	switch cfg.Memory.Provider {
	case "qdrant":
		return qdrant.New(cfg.Memory.QdrantAddr)
	case "inmemory", "":
		return memory.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown memory provider %q", cfg.Memory.Provider)
	}
}
