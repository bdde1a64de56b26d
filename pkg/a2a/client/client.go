// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package client implements the consumer side of the A2A JSON-RPC binding:
// blocking sends, SSE streaming, task queries and push config management.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loomhq/loom/pkg/a2a/agentcard"
	"github.com/loomhq/loom/pkg/a2a/types"
)

// Option configures the A2A client.
type Option func(*Client)

// Client talks to an A2A agent over JSON-RPC 2.0.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	retries int
	card    *types.AgentCard
}

// New creates a client for the agent at baseURL.
func New(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithTimeout sets a per-request timeout for unary calls. Streaming calls
// are bounded by the caller's context instead.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetries sets the number of retries for unary calls.
func WithRetries(retries int) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.retries = retries
		}
	}
}

// ResolveCard fetches and caches the agent's card from the well-known path.
func (c *Client) ResolveCard(ctx context.Context) (*types.AgentCard, error) {
	if c.card != nil {
		return c.card, nil
	}
	card, err := agentcard.Fetch(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}
	c.card = card
	return card, nil
}

// SendMessage performs a blocking message/send and returns the final task.
func (c *Client) SendMessage(ctx context.Context, params *types.MessageSendParams) (*types.Task, error) {
	var task types.Task
	if err := c.call(ctx, types.MethodMessageSend, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// StreamMessage performs message/stream and delivers each event on the
// returned channel. The channel closes when the stream ends; a trailing
// element with a non-nil Err reports a stream failure.
func (c *Client) StreamMessage(ctx context.Context, params *types.MessageSendParams) (<-chan StreamEvent, error) {
	body, err := encodeRequest(types.MethodMessageStream, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream request failed: %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		// The server answered unary, either with an error envelope or
		// because it does not stream.
		defer resp.Body.Close()
		var rpcResp types.JSONRPCResponse
		if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
			return nil, err
		}
		if rpcResp.Error != nil {
			return nil, rpcResp.Error
		}
		return nil, fmt.Errorf("expected event stream, got %s", ct)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			event, err := decodeStreamFrame(strings.TrimPrefix(line, "data: "))
			select {
			case out <- StreamEvent{Event: event, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case out <- StreamEvent{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// StreamEvent is one element of a streamed response.
type StreamEvent struct {
	Event types.Event
	Err   error
}

func decodeStreamFrame(payload string) (types.Event, error) {
	var resp types.JSONRPCResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return types.UnmarshalEvent(resp.Result)
}

// GetTask fetches the current task snapshot.
func (c *Client) GetTask(ctx context.Context, params *types.TaskQueryParams) (*types.Task, error) {
	var task types.Task
	if err := c.call(ctx, types.MethodTasksGet, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks lists tasks on the remote agent.
func (c *Client) ListTasks(ctx context.Context, params *types.TaskListParams) (*types.TaskListResult, error) {
	var result types.TaskListResult
	if err := c.call(ctx, types.MethodTasksList, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelTask requests cancellation of a task.
func (c *Client) CancelTask(ctx context.Context, params *types.TaskIDParams) (*types.Task, error) {
	var task types.Task
	if err := c.call(ctx, types.MethodTasksCancel, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SetPushConfig registers a push notification endpoint for a task.
func (c *Client) SetPushConfig(ctx context.Context, config *types.TaskPushNotificationConfig) (*types.TaskPushNotificationConfig, error) {
	var stored types.TaskPushNotificationConfig
	if err := c.call(ctx, types.MethodPushConfigSet, config, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetPushConfig returns the push notification config for a task.
func (c *Client) GetPushConfig(ctx context.Context, params *types.TaskIDParams) (*types.TaskPushNotificationConfig, error) {
	var config types.TaskPushNotificationConfig
	if err := c.call(ctx, types.MethodPushConfigGet, params, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := c.callOnce(ctx, method, params, result); err != nil {
			lastErr = err
			// JSON-RPC errors are definitive; only transport errors retry.
			if _, ok := err.(*types.JSONRPCError); ok {
				return err
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (c *Client) callOnce(ctx context.Context, method string, params, result any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	body, err := encodeRequest(method, params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rpcResp types.JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, result)
}

func encodeRequest(method string, params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(types.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  raw,
	})
}
