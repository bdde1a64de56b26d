// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"testing"

	"github.com/loomhq/loom/pkg/a2a/types"
)

func drainQueue(queue *EventQueue) []types.Event {
	queue.Close()
	var events []types.Event
	for event := range queue.Events() {
		events = append(events, event)
	}
	return events
}

func TestUpdaterSingleTerminalEvent(t *testing.T) {
	queue := NewEventQueue()
	updater := NewTaskUpdater(queue, "task-1", "ctx-1")
	ctx := context.Background()

	if err := updater.Working(ctx, "thinking"); err != nil {
		t.Fatalf("Working error: %v", err)
	}
	if err := updater.Complete(ctx); err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	// Every update after the terminal one must be refused.
	if err := updater.Working(ctx, "late"); !errors.Is(err, ErrTerminalTask) {
		t.Fatalf("expected ErrTerminalTask, got %v", err)
	}
	if err := updater.Complete(ctx); !errors.Is(err, ErrTerminalTask) {
		t.Fatalf("expected ErrTerminalTask, got %v", err)
	}
	if err := updater.Failed(ctx, "late failure"); !errors.Is(err, ErrTerminalTask) {
		t.Fatalf("expected ErrTerminalTask, got %v", err)
	}
	if err := updater.AddArtifact(ctx, "late", "text"); !errors.Is(err, ErrTerminalTask) {
		t.Fatalf("expected ErrTerminalTask, got %v", err)
	}

	events := drainQueue(queue)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	finals := 0
	for _, event := range events {
		if ev, ok := event.(*types.TaskStatusUpdateEvent); ok && ev.Final {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one final event, got %d", finals)
	}
}

func TestUpdaterRequireInputIsTerminal(t *testing.T) {
	queue := NewEventQueue()
	updater := NewTaskUpdater(queue, "task-1", "ctx-1")
	ctx := context.Background()

	if err := updater.RequireInput(ctx, "which currency?"); err != nil {
		t.Fatalf("RequireInput error: %v", err)
	}
	if err := updater.Working(ctx, "late"); !errors.Is(err, ErrTerminalTask) {
		t.Fatalf("expected ErrTerminalTask, got %v", err)
	}

	events := drainQueue(queue)
	final, ok := events[0].(*types.TaskStatusUpdateEvent)
	if !ok || final.Status.State != types.TaskStateInputRequired || !final.Final {
		t.Fatalf("expected final input-required event, got %#v", events[0])
	}
	if final.Status.Message.Role != types.RoleAgent {
		t.Fatalf("expected agent message, got role %q", final.Status.Message.Role)
	}
}

func TestUpdaterEventBinding(t *testing.T) {
	queue := NewEventQueue()
	updater := NewTaskUpdater(queue, "task-9", "ctx-9")

	if err := updater.AddArtifact(context.Background(), "conversion_result", "1 USD = 0.92 EUR"); err != nil {
		t.Fatalf("AddArtifact error: %v", err)
	}
	events := drainQueue(queue)
	artifact, ok := events[0].(*types.TaskArtifactUpdateEvent)
	if !ok {
		t.Fatalf("expected artifact event, got %T", events[0])
	}
	if artifact.TaskID != "task-9" || artifact.ContextID != "ctx-9" {
		t.Fatalf("artifact event not bound to task: %#v", artifact)
	}
	if !artifact.LastChunk {
		t.Fatal("expected lastChunk on single-shot artifact")
	}
}
