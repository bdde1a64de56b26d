// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"sync"
	"time"

	"github.com/loomhq/loom/pkg/a2a/types"
	loomerr "github.com/loomhq/loom/pkg/errors"
)

// TaskFilter defines filtering options for listing tasks.
type TaskFilter struct {
	ContextID        string
	State            types.TaskState
	PageSize         int
	HistoryLength    int
	LastUpdatedAfter time.Time
}

// TaskStore provides access to task records. Implementations must make
// EnsureTask a single authoritative check-and-create step: racing first
// messages for the same context must yield exactly one task.
type TaskStore interface {
	// EnsureTask resolves the task for an inbound message, creating it when
	// the message references no existing task. The bool reports whether a
	// task was created. Referencing a task that already completed, failed or
	// was canceled is an error; an input-required task accepts the follow-up
	// and moves back to submitted for the new turn.
	EnsureTask(ctx context.Context, message *types.Message) (*types.Task, bool, error)
	Get(ctx context.Context, taskID string, historyLength int) (*types.Task, error)
	List(ctx context.Context, filter TaskFilter) ([]*types.Task, int, error)
	UpdateStatus(ctx context.Context, taskID string, status types.TaskStatus) error
	AppendHistory(ctx context.Context, taskID string, message *types.Message) error
	AddArtifact(ctx context.Context, taskID string, artifact *types.Artifact) error
}

// MemoryTaskStore keeps tasks in memory, keyed by task id with an index of
// the open task per context.
type MemoryTaskStore struct {
	mu            sync.RWMutex
	tasks         map[string]*taskRecord
	openByContext map[string]string
}

type taskRecord struct {
	task      *types.Task
	updatedAt time.Time
}

// NewMemoryTaskStore creates a new in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks:         make(map[string]*taskRecord),
		openByContext: make(map[string]string),
	}
}

// EnsureTask implements the atomic check-and-create step under one lock.
func (s *MemoryTaskStore) EnsureTask(ctx context.Context, message *types.Message) (*types.Task, bool, error) {
	if message == nil {
		return nil, false, loomerr.New(loomerr.CodeInvalidParams, "message is nil", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if message.TaskID != "" {
		record, ok := s.tasks[message.TaskID]
		if !ok {
			return nil, false, loomerr.New(loomerr.CodeTaskNotFound, "task not found", nil).
				WithContext("task_id", message.TaskID)
		}
		return s.continueLocked(record, message)
	}

	// Racing first messages for one context resolve to the same task here.
	if message.ContextID != "" {
		if taskID, ok := s.openByContext[message.ContextID]; ok {
			if record, ok := s.tasks[taskID]; ok {
				return s.continueLocked(record, message)
			}
		}
	}

	task := types.NewTask(cloneMessage(message))
	now := time.Now().UTC()
	s.tasks[task.ID] = &taskRecord{task: task, updatedAt: now}
	s.openByContext[task.ContextID] = task.ID
	return cloneTask(task), true, nil
}

func (s *MemoryTaskStore) continueLocked(record *taskRecord, message *types.Message) (*types.Task, bool, error) {
	task := record.task
	state := task.Status.State
	if state.Terminal() && state != types.TaskStateInputRequired {
		return nil, false, loomerr.New(loomerr.CodeInvalidParams, "task is in terminal state", nil).
			WithContext("task_id", task.ID).
			WithContext("state", string(state))
	}
	msg := cloneMessage(message)
	msg.TaskID = task.ID
	msg.ContextID = task.ContextID
	task.History = append(task.History, msg)
	if state == types.TaskStateInputRequired {
		task.Status = types.TaskStatus{
			State:     types.TaskStateSubmitted,
			Timestamp: time.Now().UTC(),
		}
		s.openByContext[task.ContextID] = task.ID
	}
	record.updatedAt = time.Now().UTC()
	return cloneTask(task), false, nil
}

// Get returns a task, trimming history to the requested length when > 0.
func (s *MemoryTaskStore) Get(ctx context.Context, taskID string, historyLength int) (*types.Task, error) {
	s.mu.RLock()
	record, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, loomerr.New(loomerr.CodeTaskNotFound, "task not found", nil).
			WithContext("task_id", taskID)
	}
	return trimHistory(cloneTask(record.task), historyLength), nil
}

// List returns tasks matching the filter plus the unpaged total.
func (s *MemoryTaskStore) List(ctx context.Context, filter TaskFilter) ([]*types.Task, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Task
	for _, record := range s.tasks {
		if filter.ContextID != "" && record.task.ContextID != filter.ContextID {
			continue
		}
		if filter.State != "" && record.task.Status.State != filter.State {
			continue
		}
		if !filter.LastUpdatedAfter.IsZero() && record.updatedAt.Before(filter.LastUpdatedAfter) {
			continue
		}
		out = append(out, trimHistory(cloneTask(record.task), filter.HistoryLength))
	}

	total := len(out)
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize < total {
		out = out[:pageSize]
	}
	return out, total, nil
}

// UpdateStatus records a state transition. A terminal state releases the
// context's open-task slot.
func (s *MemoryTaskStore) UpdateStatus(ctx context.Context, taskID string, status types.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tasks[taskID]
	if !ok {
		return loomerr.New(loomerr.CodeTaskNotFound, "task not found", nil).
			WithContext("task_id", taskID)
	}
	record.task.Status = cloneStatus(status)
	record.updatedAt = time.Now().UTC()
	if status.State.Terminal() && status.State != types.TaskStateInputRequired {
		if s.openByContext[record.task.ContextID] == taskID {
			delete(s.openByContext, record.task.ContextID)
		}
	}
	return nil
}

// AppendHistory adds a message to the task history.
func (s *MemoryTaskStore) AppendHistory(ctx context.Context, taskID string, message *types.Message) error {
	if message == nil {
		return loomerr.New(loomerr.CodeInvalidParams, "message is nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tasks[taskID]
	if !ok {
		return loomerr.New(loomerr.CodeTaskNotFound, "task not found", nil).
			WithContext("task_id", taskID)
	}
	record.task.History = append(record.task.History, cloneMessage(message))
	record.updatedAt = time.Now().UTC()
	return nil
}

// AddArtifact appends an artifact to the task.
func (s *MemoryTaskStore) AddArtifact(ctx context.Context, taskID string, artifact *types.Artifact) error {
	if artifact == nil {
		return loomerr.New(loomerr.CodeInvalidParams, "artifact is nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tasks[taskID]
	if !ok {
		return loomerr.New(loomerr.CodeTaskNotFound, "task not found", nil).
			WithContext("task_id", taskID)
	}
	record.task.Artifacts = append(record.task.Artifacts, cloneArtifact(artifact))
	record.updatedAt = time.Now().UTC()
	return nil
}

func trimHistory(task *types.Task, historyLength int) *types.Task {
	if historyLength > 0 && historyLength < len(task.History) {
		task.History = task.History[len(task.History)-historyLength:]
	}
	return task
}

func cloneTask(task *types.Task) *types.Task {
	if task == nil {
		return nil
	}
	out := *task
	out.History = make([]*types.Message, len(task.History))
	for i, msg := range task.History {
		out.History[i] = cloneMessage(msg)
	}
	out.Artifacts = make([]*types.Artifact, len(task.Artifacts))
	for i, artifact := range task.Artifacts {
		out.Artifacts[i] = cloneArtifact(artifact)
	}
	out.Status = cloneStatus(task.Status)
	out.Metadata = cloneMap(task.Metadata)
	return &out
}

func cloneMessage(message *types.Message) *types.Message {
	if message == nil {
		return nil
	}
	out := *message
	out.Parts = make([]types.Part, len(message.Parts))
	copy(out.Parts, message.Parts)
	out.Metadata = cloneMap(message.Metadata)
	return &out
}

func cloneArtifact(artifact *types.Artifact) *types.Artifact {
	if artifact == nil {
		return nil
	}
	out := *artifact
	out.Parts = make([]types.Part, len(artifact.Parts))
	copy(out.Parts, artifact.Parts)
	return &out
}

func cloneStatus(status types.TaskStatus) types.TaskStatus {
	out := status
	out.Message = cloneMessage(status.Message)
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
