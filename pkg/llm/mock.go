// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"sync"

	loomerr "github.com/loomhq/loom/pkg/errors"
)

// ScriptedProvider replays a fixed sequence of responses. It is the test
// double for multi-turn tool loops: script tool-call turns followed by a
// final content turn and assert on what the agent did with them.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []ChatResponse
	err       error

	// CallCount is the number of Chat invocations so far.
	CallCount int
	// Requests records every request received, in order.
	Requests []ChatRequest
}

// NewScriptedProvider creates a provider that returns the given responses
// one per Chat call.
func NewScriptedProvider(responses ...ChatResponse) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// NewScriptedTextProvider is a shorthand for scripting content-only turns.
func NewScriptedTextProvider(contents ...string) *ScriptedProvider {
	responses := make([]ChatResponse, len(contents))
	for i, c := range contents {
		responses[i] = ChatResponse{Content: c}
	}
	return NewScriptedProvider(responses...)
}

// FailWith makes every subsequent Chat call return err.
func (s *ScriptedProvider) FailWith(err error) *ScriptedProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// Chat pops the next scripted response.
func (s *ScriptedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, req)

	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, loomerr.New(loomerr.CodeLLMError, "scripted provider: no more responses", nil)
	}

	resp := s.responses[0]
	s.responses = s.responses[1:]
	if resp.Usage == (Usage{}) {
		resp.Usage = Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}
	}
	return &resp, nil
}

var _ Provider = (*ScriptedProvider)(nil)
