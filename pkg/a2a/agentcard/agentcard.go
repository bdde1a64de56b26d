// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentcard publishes and discovers A2A agent cards at the
// well-known HTTP location.
package agentcard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loomhq/loom/pkg/a2a/types"
)

// Discovery constants for AgentCard HTTP endpoints.
const (
	// WellKnownPath is the standardized location for AgentCard discovery.
	WellKnownPath = "/.well-known/agent-card.json"
	// DefaultMediaType is the A2A media type for JSON payloads.
	DefaultMediaType = "application/a2a+json"
)

// Config describes AgentCard fields that can be derived from runtime settings.
type Config struct {
	ProtocolVersion    string
	Name               string
	Description        string
	URL                string
	Version            string
	DocumentationURL   string
	Provider           *types.AgentProvider
	Capabilities       types.AgentCapabilities
	DefaultInputModes  []string
	DefaultOutputModes []string
	Skills             []types.AgentSkill
}

// Build assembles an AgentCard from the provided config.
func Build(cfg Config) *types.AgentCard {
	inputModes := cfg.DefaultInputModes
	if len(inputModes) == 0 {
		inputModes = []string{"text"}
	}
	outputModes := cfg.DefaultOutputModes
	if len(outputModes) == 0 {
		outputModes = []string{"text"}
	}
	return &types.AgentCard{
		ProtocolVersion:    cfg.ProtocolVersion,
		Name:               cfg.Name,
		Description:        cfg.Description,
		URL:                cfg.URL,
		Version:            cfg.Version,
		DocumentationURL:   cfg.DocumentationURL,
		Provider:           cfg.Provider,
		Capabilities:       cfg.Capabilities,
		DefaultInputModes:  inputModes,
		DefaultOutputModes: outputModes,
		Skills:             cfg.Skills,
	}
}

// PublishHandler serves the provided AgentCard as JSON.
func PublishHandler(card *types.AgentCard) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if card == nil {
			http.Error(w, "agent card not configured", http.StatusNotFound)
			return
		}
		payload, err := json.Marshal(card)
		if err != nil {
			http.Error(w, "failed to encode agent card", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", DefaultMediaType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	})
}

// Fetch retrieves an AgentCard from a base URL.
func Fetch(ctx context.Context, baseURL string) (*types.AgentCard, error) {
	url := strings.TrimRight(baseURL, "/") + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", DefaultMediaType)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent card fetch failed: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var card types.AgentCard
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, err
	}
	return &card, nil
}
