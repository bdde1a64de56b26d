// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package types defines the A2A protocol objects used by the Loom server and
// client bindings. The objects follow the A2A specification JSON shapes so a
// Loom agent interoperates with any A2A client.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateFailed        TaskState = "failed"
	TaskStateRejected      TaskState = "rejected"
	TaskStateUnknown       TaskState = "unknown"
)

// Terminal reports whether the state admits no further transitions within
// the current turn. input-required is terminal-for-turn: a follow-up message
// continues the conversation but does not reopen the task state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateRejected, TaskStateInputRequired:
		return true
	default:
		return false
	}
}

// Role identifies the sender of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Part kinds for the Part union type.
const (
	PartKindText = "text"
	PartKindFile = "file"
	PartKindData = "data"
)

// Part is one unit of message or artifact content.
type Part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	File *FileContent   `json:"file,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// FileContent carries an inline (base64) or referenced file.
type FileContent struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// Message is a single conversational exchange between user and agent.
type Message struct {
	Kind      string         `json:"kind"`
	MessageID string         `json:"messageId"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage builds an agent message with the given text bound to a task.
func NewMessage(role Role, text, contextID, taskID string) *Message {
	return &Message{
		Kind:      KindMessage,
		MessageID: uuid.NewString(),
		Role:      role,
		Parts:     []Part{TextPart(text)},
		TaskID:    taskID,
		ContextID: contextID,
	}
}

// Text returns the concatenated text parts of the message.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var out string
	for _, part := range m.Parts {
		if part.Kind == PartKindText {
			out += part.Text
		}
	}
	return out
}

// Artifact is a named result payload attached to a task.
type Artifact struct {
	ArtifactID  string `json:"artifactId"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Parts       []Part `json:"parts"`
}

// NewTextArtifact builds a single-part text artifact.
func NewTextArtifact(name, text string) *Artifact {
	return &Artifact{
		ArtifactID: uuid.NewString(),
		Name:       name,
		Parts:      []Part{TextPart(text)},
	}
}

// Text returns the concatenated text parts of the artifact.
func (a *Artifact) Text() string {
	if a == nil {
		return ""
	}
	var out string
	for _, part := range a.Parts {
		if part.Kind == PartKindText {
			out += part.Text
		}
	}
	return out
}

// TaskStatus is the current state of a task plus the message that caused it.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is the unit of tracked agent work.
type Task struct {
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	History   []*Message     `json:"history,omitempty"`
	Artifacts []*Artifact    `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewTask creates a submitted task seeded from the incoming message. A missing
// context id is assigned here so every task belongs to exactly one context.
func NewTask(message *Message) *Task {
	taskID := uuid.NewString()
	contextID := message.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}
	message.TaskID = taskID
	message.ContextID = contextID
	return &Task{
		Kind:      KindTask,
		ID:        taskID,
		ContextID: contextID,
		Status: TaskStatus{
			State:     TaskStateSubmitted,
			Timestamp: time.Now().UTC(),
		},
		History: []*Message{message},
	}
}

// Event kinds used as the discriminator on streamed payloads.
const (
	KindTask           = "task"
	KindMessage        = "message"
	KindStatusUpdate   = "status-update"
	KindArtifactUpdate = "artifact-update"
)

// Event is a payload that can be streamed to an A2A consumer.
type Event interface {
	EventKind() string
}

func (t *Task) EventKind() string    { return KindTask }
func (m *Message) EventKind() string { return KindMessage }

// TaskStatusUpdateEvent signals a task state transition.
type TaskStatusUpdateEvent struct {
	Kind      string     `json:"kind"`
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final"`
}

func (e *TaskStatusUpdateEvent) EventKind() string { return KindStatusUpdate }

// TaskArtifactUpdateEvent delivers an artifact produced by a task.
type TaskArtifactUpdateEvent struct {
	Kind      string    `json:"kind"`
	TaskID    string    `json:"taskId"`
	ContextID string    `json:"contextId"`
	Artifact  *Artifact `json:"artifact"`
	Append    bool      `json:"append,omitempty"`
	LastChunk bool      `json:"lastChunk,omitempty"`
}

func (e *TaskArtifactUpdateEvent) EventKind() string { return KindArtifactUpdate }

// UnmarshalEvent decodes a streamed payload into its concrete event type
// using the kind discriminator.
func UnmarshalEvent(payload []byte) (Event, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, err
	}
	switch probe.Kind {
	case KindTask:
		var task Task
		if err := json.Unmarshal(payload, &task); err != nil {
			return nil, err
		}
		return &task, nil
	case KindMessage:
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	case KindStatusUpdate:
		var event TaskStatusUpdateEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return &event, nil
	case KindArtifactUpdate:
		var event TaskArtifactUpdateEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return &event, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", probe.Kind)
	}
}

// MessageSendParams carries the payload of message/send and message/stream.
type MessageSendParams struct {
	Message       *Message                  `json:"message"`
	Configuration *MessageSendConfiguration `json:"configuration,omitempty"`
	Metadata      map[string]any            `json:"metadata,omitempty"`
}

// MessageSendConfiguration tunes delivery of a message/send request.
type MessageSendConfiguration struct {
	AcceptedOutputModes    []string                `json:"acceptedOutputModes,omitempty"`
	HistoryLength          int                     `json:"historyLength,omitempty"`
	Blocking               bool                    `json:"blocking,omitempty"`
	PushNotificationConfig *PushNotificationConfig `json:"pushNotificationConfig,omitempty"`
}

// TaskQueryParams identifies a task for tasks/get.
type TaskQueryParams struct {
	ID            string `json:"id"`
	HistoryLength int    `json:"historyLength,omitempty"`
}

// TaskIDParams identifies a task for tasks/cancel and tasks/resubscribe.
type TaskIDParams struct {
	ID string `json:"id"`
}

// TaskListParams filters tasks/list.
type TaskListParams struct {
	ContextID     string    `json:"contextId,omitempty"`
	State         TaskState `json:"state,omitempty"`
	PageSize      int       `json:"pageSize,omitempty"`
	HistoryLength int       `json:"historyLength,omitempty"`
}

// TaskListResult is the tasks/list response payload.
type TaskListResult struct {
	Tasks     []*Task `json:"tasks"`
	TotalSize int     `json:"totalSize"`
}

// PushNotificationConfig is a webhook registration for task updates.
type PushNotificationConfig struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
}

// TaskPushNotificationConfig binds a push config to a task.
type TaskPushNotificationConfig struct {
	TaskID string                 `json:"taskId"`
	Config PushNotificationConfig `json:"pushNotificationConfig"`
}
