// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"time"

	"github.com/loomhq/loom/pkg/a2a/types"
)

// ErrTerminalTask is returned when an update is attempted after a final
// event has already been emitted for the invocation.
var ErrTerminalTask = errors.New("task already reached a terminal state for this invocation")

// TaskUpdater emits lifecycle events for one task invocation. It enforces
// the single-terminal-event contract: at most one final event per invocation,
// and no event after it. Not safe for concurrent use; one invocation owns it.
type TaskUpdater struct {
	queue     *EventQueue
	taskID    string
	contextID string
	terminal  bool
}

// NewTaskUpdater binds an updater to a task and its event queue.
func NewTaskUpdater(queue *EventQueue, taskID, contextID string) *TaskUpdater {
	return &TaskUpdater{
		queue:     queue,
		taskID:    taskID,
		contextID: contextID,
	}
}

// UpdateStatus emits a status transition, optionally carrying an agent
// message. A final update seals the invocation.
func (u *TaskUpdater) UpdateStatus(ctx context.Context, state types.TaskState, message *types.Message, final bool) error {
	if u.terminal {
		return ErrTerminalTask
	}
	event := &types.TaskStatusUpdateEvent{
		Kind:      types.KindStatusUpdate,
		TaskID:    u.taskID,
		ContextID: u.contextID,
		Status: types.TaskStatus{
			State:     state,
			Message:   message,
			Timestamp: time.Now().UTC(),
		},
		Final: final,
	}
	if err := u.queue.Enqueue(ctx, event); err != nil {
		return err
	}
	if final {
		u.terminal = true
	}
	return nil
}

// Working emits a non-final working status with the given agent text.
func (u *TaskUpdater) Working(ctx context.Context, text string) error {
	return u.UpdateStatus(ctx, types.TaskStateWorking, u.agentMessage(text), false)
}

// RequireInput emits a final input-required status: the turn is over until
// the caller sends a follow-up message.
func (u *TaskUpdater) RequireInput(ctx context.Context, text string) error {
	return u.UpdateStatus(ctx, types.TaskStateInputRequired, u.agentMessage(text), true)
}

// AddArtifact emits a named text artifact. Artifacts are not terminal; a
// completion status follows them.
func (u *TaskUpdater) AddArtifact(ctx context.Context, name, text string) error {
	if u.terminal {
		return ErrTerminalTask
	}
	event := &types.TaskArtifactUpdateEvent{
		Kind:      types.KindArtifactUpdate,
		TaskID:    u.taskID,
		ContextID: u.contextID,
		Artifact:  types.NewTextArtifact(name, text),
		LastChunk: true,
	}
	return u.queue.Enqueue(ctx, event)
}

// Complete emits the final completed status.
func (u *TaskUpdater) Complete(ctx context.Context) error {
	return u.UpdateStatus(ctx, types.TaskStateCompleted, nil, true)
}

// Failed emits the final failed status with an explanatory agent message.
func (u *TaskUpdater) Failed(ctx context.Context, text string) error {
	return u.UpdateStatus(ctx, types.TaskStateFailed, u.agentMessage(text), true)
}

func (u *TaskUpdater) agentMessage(text string) *types.Message {
	if text == "" {
		return nil
	}
	return types.NewMessage(types.RoleAgent, text, u.contextID, u.taskID)
}
