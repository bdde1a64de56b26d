// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomhq/loom/pkg/a2a/types"
	loomerr "github.com/loomhq/loom/pkg/errors"
	"github.com/loomhq/loom/pkg/telemetry"
)

// StreamItem is one element of a message/stream response: either an event or
// a terminal error. After an item with a non-nil Err the channel is closed.
type StreamItem struct {
	Event types.Event
	Err   error
}

// Handler is the transport-facing surface of an A2A server. The JSON-RPC
// binding dispatches each method to one of these.
type Handler interface {
	OnMessageSend(ctx context.Context, params *types.MessageSendParams) (*types.Task, error)
	OnMessageStream(ctx context.Context, params *types.MessageSendParams) (<-chan StreamItem, error)
	OnGetTask(ctx context.Context, params *types.TaskQueryParams) (*types.Task, error)
	OnListTasks(ctx context.Context, params *types.TaskListParams) (*types.TaskListResult, error)
	OnCancelTask(ctx context.Context, params *types.TaskIDParams) (*types.Task, error)
	OnResubscribe(ctx context.Context, params *types.TaskIDParams) (<-chan StreamItem, error)
	OnPushConfigSet(ctx context.Context, config *types.TaskPushNotificationConfig) (*types.TaskPushNotificationConfig, error)
	OnPushConfigGet(ctx context.Context, params *types.TaskIDParams) (*types.TaskPushNotificationConfig, error)
}

// DefaultHandler wires an AgentExecutor to a TaskStore. It owns the queue for
// each invocation: the executor produces events, the handler applies them to
// the store and forwards them to the caller.
type DefaultHandler struct {
	executor AgentExecutor
	store    TaskStore
	push     PushConfigStore
	notifier *PushNotifier
	metrics  *telemetry.TaskMetrics
	logger   *slog.Logger
}

// HandlerOption configures a DefaultHandler.
type HandlerOption func(*DefaultHandler)

// WithPushConfigStore enables push notification config management and
// best-effort delivery of terminal task snapshots.
func WithPushConfigStore(store PushConfigStore) HandlerOption {
	return func(h *DefaultHandler) {
		h.push = store
		h.notifier = NewPushNotifier(store, h.logger)
	}
}

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *DefaultHandler) { h.logger = logger }
}

// WithTaskMetrics records task outcomes and event counts on the given
// instruments.
func WithTaskMetrics(metrics *telemetry.TaskMetrics) HandlerOption {
	return func(h *DefaultHandler) { h.metrics = metrics }
}

// NewDefaultHandler creates a handler for the given executor and store.
func NewDefaultHandler(executor AgentExecutor, store TaskStore, opts ...HandlerOption) *DefaultHandler {
	h := &DefaultHandler{
		executor: executor,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnMessageSend runs one blocking invocation: the executor streams events
// into the queue while the handler drains them into the store, then the final
// task snapshot is returned.
func (h *DefaultHandler) OnMessageSend(ctx context.Context, params *types.MessageSendParams) (*types.Task, error) {
	task, err := h.prepare(ctx, params)
	if err != nil {
		return nil, err
	}
	started := time.Now()

	queue := NewEventQueue()
	rc := &RequestContext{Params: params, Task: task}

	execErr := make(chan error, 1)
	go func() {
		defer queue.Close()
		execErr <- h.runExecutor(ctx, rc, queue)
	}()

	for event := range queue.Events() {
		h.applyEvent(ctx, task.ID, event)
	}
	h.recordOutcome(ctx, task.ID, started)
	if err := <-execErr; err != nil {
		return nil, err
	}

	historyLength := 0
	if params.Configuration != nil {
		historyLength = params.Configuration.HistoryLength
	}
	return h.store.Get(ctx, task.ID, historyLength)
}

// OnMessageStream runs one invocation and streams its events live. The first
// item is the task snapshot, then status and artifact updates as the executor
// produces them. Each event is applied to the store before it is forwarded,
// so a tasks/get during the stream observes a consistent ledger.
func (h *DefaultHandler) OnMessageStream(ctx context.Context, params *types.MessageSendParams) (<-chan StreamItem, error) {
	task, err := h.prepare(ctx, params)
	if err != nil {
		return nil, err
	}
	started := time.Now()

	queue := NewEventQueue()
	rc := &RequestContext{Params: params, Task: task}

	go func() {
		defer queue.Close()
		if err := h.runExecutor(ctx, rc, queue); err != nil {
			h.logger.ErrorContext(ctx, "executor failed",
				slog.String("task_id", task.ID), slog.Any("error", err))
		}
	}()

	out := make(chan StreamItem)
	go func() {
		defer close(out)
		select {
		case out <- StreamItem{Event: task}:
		case <-ctx.Done():
			return
		}
		for event := range queue.Events() {
			h.applyEvent(ctx, task.ID, event)
			select {
			case out <- StreamItem{Event: event}:
			case <-ctx.Done():
				// The consumer is gone but the executor may still finish:
				// keep applying its events so the ledger reaches the
				// terminal state instead of stranding in working.
				detached := context.WithoutCancel(ctx)
				for event := range queue.Events() {
					h.applyEvent(detached, task.ID, event)
				}
				h.recordOutcome(detached, task.ID, started)
				return
			}
		}
		h.recordOutcome(ctx, task.ID, started)
	}()
	return out, nil
}

// runExecutor invokes the executor, converting a panic into a failed task and
// an internal error so a misbehaving agent never takes the server down.
func (h *DefaultHandler) runExecutor(ctx context.Context, rc *RequestContext, queue *EventQueue) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(ctx, "executor panicked",
				slog.String("task_id", rc.Task.ID), slog.Any("panic", r))
			_ = NewTaskUpdater(queue, rc.Task.ID, rc.Task.ContextID).Failed(ctx, "internal error")
			err = loomerr.New(loomerr.CodeInternal, fmt.Sprintf("executor panic: %v", r), nil).
				WithContext("task_id", rc.Task.ID)
		}
	}()
	return h.executor.Execute(ctx, rc, queue)
}

// OnGetTask returns the current task snapshot.
func (h *DefaultHandler) OnGetTask(ctx context.Context, params *types.TaskQueryParams) (*types.Task, error) {
	if params == nil || params.ID == "" {
		return nil, loomerr.New(loomerr.CodeInvalidParams, "task id is required", nil)
	}
	return h.store.Get(ctx, params.ID, params.HistoryLength)
}

// OnListTasks lists tasks matching the filter.
func (h *DefaultHandler) OnListTasks(ctx context.Context, params *types.TaskListParams) (*types.TaskListResult, error) {
	filter := TaskFilter{}
	if params != nil {
		filter.ContextID = params.ContextID
		filter.State = params.State
		filter.PageSize = params.PageSize
		filter.HistoryLength = params.HistoryLength
	}
	tasks, total, err := h.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &types.TaskListResult{Tasks: tasks, TotalSize: total}, nil
}

// OnCancelTask delegates cancellation to the executor. The task must exist;
// whether it can be cancelled is the executor's call.
func (h *DefaultHandler) OnCancelTask(ctx context.Context, params *types.TaskIDParams) (*types.Task, error) {
	if params == nil || params.ID == "" {
		return nil, loomerr.New(loomerr.CodeInvalidParams, "task id is required", nil)
	}
	task, err := h.store.Get(ctx, params.ID, 0)
	if err != nil {
		return nil, err
	}

	queue := NewEventQueue()
	rc := &RequestContext{Task: task}
	err = h.executor.Cancel(ctx, rc, queue)
	queue.Close()
	if err != nil {
		return nil, err
	}
	for event := range queue.Events() {
		h.applyEvent(ctx, task.ID, event)
	}
	return h.store.Get(ctx, task.ID, 0)
}

// OnResubscribe is not supported: the server keeps no per-task event log to
// replay, only the ledger snapshot available through tasks/get.
func (h *DefaultHandler) OnResubscribe(ctx context.Context, params *types.TaskIDParams) (<-chan StreamItem, error) {
	return nil, loomerr.New(loomerr.CodeUnsupportedOperation, "resubscribe is not supported", nil)
}

// OnPushConfigSet registers a push notification endpoint for a task.
func (h *DefaultHandler) OnPushConfigSet(ctx context.Context, config *types.TaskPushNotificationConfig) (*types.TaskPushNotificationConfig, error) {
	if h.push == nil {
		return nil, loomerr.New(loomerr.CodePushNotSupported, "push notifications are not supported", nil)
	}
	if config == nil || config.TaskID == "" {
		return nil, loomerr.New(loomerr.CodeInvalidParams, "push config requires a task id", nil)
	}
	if _, err := h.store.Get(ctx, config.TaskID, 0); err != nil {
		return nil, err
	}
	return h.push.Set(ctx, config)
}

// OnPushConfigGet returns the push notification config for a task.
func (h *DefaultHandler) OnPushConfigGet(ctx context.Context, params *types.TaskIDParams) (*types.TaskPushNotificationConfig, error) {
	if h.push == nil {
		return nil, loomerr.New(loomerr.CodePushNotSupported, "push notifications are not supported", nil)
	}
	if params == nil || params.ID == "" {
		return nil, loomerr.New(loomerr.CodeInvalidParams, "task id is required", nil)
	}
	if _, err := h.store.Get(ctx, params.ID, 0); err != nil {
		return nil, err
	}
	return h.push.Get(ctx, params.ID)
}

// prepare validates the request and resolves its task. Store resolution is
// the single check-and-create step, so concurrent first messages for one
// context land on the same task.
func (h *DefaultHandler) prepare(ctx context.Context, params *types.MessageSendParams) (*types.Task, error) {
	if err := ValidateSendParams(params); err != nil {
		return nil, err
	}
	task, created, err := h.store.EnsureTask(ctx, params.Message)
	if err != nil {
		return nil, err
	}
	if created {
		h.logger.DebugContext(ctx, "task created",
			slog.String("task_id", task.ID), slog.String("context_id", task.ContextID))
	}
	if params.Configuration != nil && params.Configuration.PushNotificationConfig != nil && h.push != nil {
		_, err := h.push.Set(ctx, &types.TaskPushNotificationConfig{
			TaskID: task.ID,
			Config: *params.Configuration.PushNotificationConfig,
		})
		if err != nil {
			return nil, err
		}
	}
	return task, nil
}

// recordOutcome records a terminal state on the task metrics, if enabled.
func (h *DefaultHandler) recordOutcome(ctx context.Context, taskID string, started time.Time) {
	if h.metrics == nil {
		return
	}
	task, err := h.store.Get(ctx, taskID, 0)
	if err != nil || !task.Status.State.Terminal() {
		return
	}
	h.metrics.RecordTaskDone(ctx, string(task.Status.State), time.Since(started))
}

// applyEvent folds a queue event into the store. Store failures are logged
// but do not interrupt the stream.
func (h *DefaultHandler) applyEvent(ctx context.Context, taskID string, event types.Event) {
	h.metrics.RecordEvent(ctx, event.EventKind())
	switch ev := event.(type) {
	case *types.TaskStatusUpdateEvent:
		if err := h.store.UpdateStatus(ctx, taskID, ev.Status); err != nil {
			h.logger.WarnContext(ctx, "failed to record status update",
				slog.String("task_id", taskID), slog.Any("error", err))
			return
		}
		if ev.Status.Message != nil {
			if err := h.store.AppendHistory(ctx, taskID, ev.Status.Message); err != nil {
				h.logger.WarnContext(ctx, "failed to record status message",
					slog.String("task_id", taskID), slog.Any("error", err))
			}
		}
		if ev.Final && h.notifier != nil {
			if task, err := h.store.Get(ctx, taskID, 0); err == nil {
				h.notifier.Notify(ctx, task)
			}
		}
	case *types.TaskArtifactUpdateEvent:
		if err := h.store.AddArtifact(ctx, taskID, ev.Artifact); err != nil {
			h.logger.WarnContext(ctx, "failed to record artifact",
				slog.String("task_id", taskID), slog.Any("error", err))
		}
	}
}
