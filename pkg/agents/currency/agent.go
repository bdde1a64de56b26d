// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package currency implements the currency conversion agent: an LLM tool
// loop around live exchange rates, streamed as task increments.
package currency

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/loomhq/loom/pkg/a2a/server"
	loomerr "github.com/loomhq/loom/pkg/errors"
	"github.com/loomhq/loom/pkg/llm"
)

// SupportedContentTypes lists the media types the agent accepts and emits.
var SupportedContentTypes = []string{"text", "text/plain"}

const systemPrompt = `You are a specialized assistant for currency conversions. ` +
	`Your sole purpose is to use the 'get_exchange_rate' tool to answer questions about currency exchange rates. ` +
	`If the user asks about anything other than currency conversion or exchange rates, ` +
	`politely state that you cannot help with that topic and can only assist with currency-related queries. ` +
	`Do not attempt to answer unrelated questions or use tools for other purposes. ` +
	`Respond with a single JSON object with exactly two keys: "status" and "message". ` +
	`Set status to "input_required" if the user needs to provide more information. ` +
	`Set status to "error" if there is an error while processing the request. ` +
	`Set status to "completed" if the request is complete.`

const (
	lookupNote     = "Looking up the exchange rates..."
	processingNote = "Processing the exchange rates..."

	maxToolTurns = 6
)

// Statuses the model reports in its final structured response.
const (
	statusCompleted     = "completed"
	statusInputRequired = "input_required"
	statusError         = "error"
)

var exchangeRateTool = llm.Tool{
	Type: llm.ToolTypeFunction,
	Function: llm.FunctionDef{
		Name:        "get_exchange_rate",
		Description: "Get the current exchange rate between two currencies",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"currency_from": map[string]any{
					"type":        "string",
					"description": "The currency to convert from (e.g. USD)",
				},
				"currency_to": map[string]any{
					"type":        "string",
					"description": "The currency to convert to (e.g. EUR)",
				},
				"date": map[string]any{
					"type":        "string",
					"description": "Rate date, either 'latest' or YYYY-MM-DD",
				},
			},
			"required": []string{"currency_from", "currency_to"},
		},
	},
}

// Agent answers currency conversion questions. Conversation history is kept
// per context ID so follow-up turns resume where the previous one stopped.
type Agent struct {
	provider llm.Provider
	rates    *RateClient
	model    string
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string][]llm.Message
}

// AgentOption configures the Agent.
type AgentOption func(*Agent)

// WithModel sets the model name passed to the provider.
func WithModel(model string) AgentOption {
	return func(a *Agent) {
		a.model = model
	}
}

// WithRateClient overrides the exchange rate source.
func WithRateClient(rates *RateClient) AgentOption {
	return func(a *Agent) {
		a.rates = rates
	}
}

// WithLogger sets the agent logger.
func WithLogger(logger *slog.Logger) AgentOption {
	return func(a *Agent) {
		a.logger = logger
	}
}

// NewAgent creates a currency Agent on top of an LLM provider.
func NewAgent(provider llm.Provider, opts ...AgentOption) *Agent {
	a := &Agent{
		provider: provider,
		rates:    NewRateClient(""),
		logger:   slog.Default(),
		sessions: make(map[string][]llm.Message),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// finalResponse is the structured answer the model is instructed to emit.
type finalResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Stream implements server.Streamer. It emits working increments while the
// tool loop runs and ends with exactly one terminal increment.
func (a *Agent) Stream(ctx context.Context, query, contextID string) (<-chan server.Increment, error) {
	out := make(chan server.Increment)
	go func() {
		defer close(out)
		a.run(ctx, query, contextID, out)
	}()
	return out, nil
}

func (a *Agent) run(ctx context.Context, query, contextID string, out chan<- server.Increment) {
	messages := a.resumeSession(contextID, query)

	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := a.provider.Chat(ctx, llm.ChatRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    []llm.Tool{exchangeRateTool},
		})
		if err != nil {
			emit(ctx, out, server.Increment{Err: err})
			return
		}

		if len(resp.ToolCalls) > 0 {
			if !emit(ctx, out, server.Increment{Content: lookupNote}) {
				return
			}
			messages = append(messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			for _, call := range resp.ToolCalls {
				result := a.executeTool(ctx, call)
				messages = append(messages, llm.Message{
					Role:       llm.RoleTool,
					Content:    result,
					ToolCallID: call.ID,
				})
			}
			if !emit(ctx, out, server.Increment{Content: processingNote}) {
				return
			}
			continue
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		a.saveSession(contextID, messages)
		a.emitFinal(ctx, out, resp.Content)
		return
	}

	emit(ctx, out, server.Increment{
		Err: loomerr.New(loomerr.CodeLLMError, "tool loop did not converge", nil).
			WithContext("max_turns", maxToolTurns),
	})
}

func (a *Agent) emitFinal(ctx context.Context, out chan<- server.Increment, content string) {
	final := parseFinalResponse(content)
	switch final.Status {
	case statusInputRequired:
		emit(ctx, out, server.Increment{Content: final.Message, RequireInput: true})
	case statusError:
		emit(ctx, out, server.Increment{
			Err: loomerr.New(loomerr.CodeLLMError, "agent reported an error", nil).
				WithContext("message", final.Message),
		})
	default:
		emit(ctx, out, server.Increment{Content: final.Message, Complete: true})
	}
}

// parseFinalResponse decodes the structured answer, tolerating code fences
// and falling back to a completed response with the raw text.
func parseFinalResponse(content string) finalResponse {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var final finalResponse
	if err := json.Unmarshal([]byte(text), &final); err != nil || final.Status == "" {
		return finalResponse{Status: statusCompleted, Message: content}
	}
	return final
}

// executeTool runs one tool call. Failures are returned to the model as an
// error payload so it can explain them instead of the task dying.
func (a *Agent) executeTool(ctx context.Context, call llm.ToolCall) string {
	if call.Function.Name != "get_exchange_rate" {
		a.logger.Warn("model requested unknown tool", "tool", call.Function.Name)
		return `{"error": "unknown tool"}`
	}

	var args struct {
		CurrencyFrom string `json:"currency_from"`
		CurrencyTo   string `json:"currency_to"`
		Date         string `json:"date"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		a.logger.Warn("malformed tool arguments", "error", err)
		return `{"error": "invalid tool arguments"}`
	}

	doc, err := a.rates.GetRate(ctx, args.CurrencyFrom, args.CurrencyTo, args.Date)
	if err != nil {
		a.logger.Warn("exchange rate lookup failed",
			"from", args.CurrencyFrom, "to", args.CurrencyTo, "error", err)
		return `{"error": "exchange rate lookup failed"}`
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return `{"error": "exchange rate lookup failed"}`
	}
	return string(payload)
}

func (a *Agent) resumeSession(contextID, query string) []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	messages := a.sessions[contextID]
	if len(messages) == 0 {
		messages = []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: query})
}

func (a *Agent) saveSession(contextID string, messages []llm.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[contextID] = messages
}

func emit(ctx context.Context, out chan<- server.Increment, inc server.Increment) bool {
	select {
	case out <- inc:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ server.Streamer = (*Agent)(nil)
