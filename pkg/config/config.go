// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Loom configuration from YAML files and LOOM_
// environment variables via koanf.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root configuration for Loom binaries.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	Agent     AgentConfig     `koanf:"agent"`
	LLM       LLMConfig       `koanf:"llm"`
	Memory    MemoryConfig    `koanf:"memory"`
	MCP       MCPConfig       `koanf:"mcp"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// ServerConfig configures the A2A HTTP surface.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	// Store selects the task store backend: memory or sqlite.
	Store      string `koanf:"store"`
	SQLitePath string `koanf:"sqlite_path"`
	// PushNotifications enables the push config surface and sender.
	PushNotifications bool `koanf:"push_notifications"`
}

// AgentConfig describes the published agent identity.
type AgentConfig struct {
	Name        string `koanf:"name"`
	Description string `koanf:"description"`
	Version     string `koanf:"version"`
	// URL is the externally reachable base URL placed on the agent card.
	URL string `koanf:"url"`
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // openai, ollama
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type MemoryConfig struct {
	Enabled          bool   `koanf:"enabled"`
	Provider         string `koanf:"provider"` // qdrant, inmemory
	QdrantAddr       string `koanf:"qdrant_addr"`
	Collection       string `koanf:"collection"`
	EmbedderProvider string `koanf:"embedder_provider"` // ollama
	EmbedderBaseURL  string `koanf:"embedder_base_url"`
	EmbedderModel    string `koanf:"embedder_model"`
}

// MCPConfig describes how to reach the MCP tool server.
type MCPConfig struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"service_name"`
	Exporter     string `koanf:"exporter"` // stdout, otlp-grpc
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// Load reads configuration from the optional YAML file at path, then overlays
// LOOM_ environment variables (LOOM_LLM_PROVIDER -> llm.provider).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("server.host", "localhost")
	k.Set("server.port", 10000)
	k.Set("server.store", "memory")
	k.Set("server.sqlite_path", "loom.db")
	k.Set("server.push_notifications", true)

	k.Set("agent.name", "Currency Agent")
	k.Set("agent.description", "Helps with exchange rates for currency conversions")
	k.Set("agent.version", "1.0.0")

	k.Set("llm.provider", "openai")
	k.Set("llm.model", "gpt-4o-mini")

	k.Set("memory.enabled", false)
	k.Set("memory.provider", "inmemory")
	k.Set("memory.qdrant_addr", "localhost:6334")
	k.Set("memory.collection", "loom_docs")
	k.Set("memory.embedder_provider", "ollama")
	k.Set("memory.embedder_base_url", "http://localhost:11434")
	k.Set("memory.embedder_model", "nomic-embed-text")

	k.Set("telemetry.enabled", false)
	k.Set("telemetry.service_name", "loom")
	k.Set("telemetry.exporter", "stdout")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("LOOM_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "LOOM_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
