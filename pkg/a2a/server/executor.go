// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/loomhq/loom/pkg/a2a/types"
	loomerr "github.com/loomhq/loom/pkg/errors"
)

// ErrAmbiguousIncrement is returned when a reasoning increment claims to be
// both the final answer and a request for more input. The stream is treated
// as malformed rather than silently preferring one branch.
var ErrAmbiguousIncrement = errors.New("increment is both complete and requires input")

// Increment is one unit of incremental output from a reasoning source.
// A non-nil Err signals that the stream failed mid-flight; no further
// increments follow it.
type Increment struct {
	Content      string
	Complete     bool
	RequireInput bool
	Err          error
}

// Streamer produces a lazy sequence of reasoning increments for a query.
// Implementations must honor ctx cancellation: the consumer may abandon the
// channel after a terminal increment.
type Streamer interface {
	Stream(ctx context.Context, query, contextID string) (<-chan Increment, error)
}

// RequestContext carries one inbound invocation through validation and
// execution. Task is always set by the handler before Execute runs.
type RequestContext struct {
	Params *types.MessageSendParams
	Task   *types.Task
}

// UserInput returns the text of the inbound message.
func (c *RequestContext) UserInput() string {
	if c == nil || c.Params == nil {
		return ""
	}
	return c.Params.Message.Text()
}

// AgentExecutor runs an agent against a request and emits lifecycle events
// to the queue. Cancel asks the executor to stop a task.
type AgentExecutor interface {
	Execute(ctx context.Context, rc *RequestContext, queue *EventQueue) error
	Cancel(ctx context.Context, rc *RequestContext, queue *EventQueue) error
}

// StreamExecutor maps a Streamer's increments onto the task lifecycle:
// working updates while reasoning, input-required or completed to end the
// turn, failed on any stream error. It emits at most one terminal event per
// invocation and stops consuming increments after it.
type StreamExecutor struct {
	Agent        Streamer
	ArtifactName string
	Logger       *slog.Logger
}

// Execute drives the task state machine for one invocation. The handler has
// already ensured rc.Task exists; Execute only transitions it.
func (e *StreamExecutor) Execute(ctx context.Context, rc *RequestContext, queue *EventQueue) error {
	if err := e.validateRequest(rc); err != nil {
		return loomerr.New(loomerr.CodeInvalidParams, "invalid request", err)
	}

	task := rc.Task
	updater := NewTaskUpdater(queue, task.ID, task.ContextID)
	logger := e.logger()

	increments, err := e.Agent.Stream(ctx, rc.UserInput(), task.ContextID)
	if err != nil {
		_ = updater.Failed(ctx, "agent failed to start")
		return loomerr.New(loomerr.CodeInternal, "reasoning source failed to start", err).
			WithContext("task_id", task.ID)
	}

	for inc := range increments {
		switch {
		case inc.Err != nil:
			logger.ErrorContext(ctx, "error while streaming the response",
				slog.String("task_id", task.ID), slog.Any("error", inc.Err))
			_ = updater.Failed(ctx, "agent error")
			return loomerr.New(loomerr.CodeInternal, "streaming failed", inc.Err).
				WithContext("task_id", task.ID)

		case inc.Complete && inc.RequireInput:
			logger.ErrorContext(ctx, "ambiguous increment",
				slog.String("task_id", task.ID))
			_ = updater.Failed(ctx, "agent produced an ambiguous result")
			return loomerr.New(loomerr.CodeInternal, "ambiguous increment", ErrAmbiguousIncrement).
				WithContext("task_id", task.ID)

		case inc.RequireInput:
			// Terminal for this turn: stop consuming further increments.
			if err := updater.RequireInput(ctx, inc.Content); err != nil {
				return loomerr.New(loomerr.CodeInternal, "failed to emit input-required", err)
			}
			return nil

		case inc.Complete:
			name := e.ArtifactName
			if name == "" {
				name = "result"
			}
			if err := updater.AddArtifact(ctx, name, inc.Content); err != nil {
				return loomerr.New(loomerr.CodeInternal, "failed to emit artifact", err)
			}
			if err := updater.Complete(ctx); err != nil {
				return loomerr.New(loomerr.CodeInternal, "failed to emit completion", err)
			}
			return nil

		default:
			if err := updater.Working(ctx, inc.Content); err != nil {
				return loomerr.New(loomerr.CodeInternal, "failed to emit working update", err)
			}
		}
	}

	// The source ended without a terminal increment. The task stays in its
	// last recorded state; the caller can re-query it.
	return nil
}

// Cancel reports cancellation as unsupported. The state machine reserves the
// canceled state for a future implementation; rejecting outright keeps the
// contract distinguishable from a silent no-op.
func (e *StreamExecutor) Cancel(ctx context.Context, rc *RequestContext, queue *EventQueue) error {
	return loomerr.New(loomerr.CodeUnsupportedOperation, "cancel is not supported", nil)
}

// validateRequest rejects malformed invocations before any work starts.
// There are no agent-specific rules yet; the hook exists so future checks
// (empty query, unsupported content type) surface as invalid-params without
// changing callers.
func (e *StreamExecutor) validateRequest(rc *RequestContext) error {
	if rc == nil || rc.Params == nil || rc.Params.Message == nil {
		return errors.New("missing message")
	}
	if rc.Task == nil {
		return errors.New("missing task")
	}
	return nil
}

func (e *StreamExecutor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
