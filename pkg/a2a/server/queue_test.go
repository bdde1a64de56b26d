// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/loomhq/loom/pkg/a2a/types"
)

func TestQueuePreservesOrder(t *testing.T) {
	queue := NewEventQueue()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		event := &types.TaskStatusUpdateEvent{
			Kind:   types.KindStatusUpdate,
			TaskID: fmt.Sprintf("task-%d", i),
		}
		if err := queue.Enqueue(ctx, event); err != nil {
			t.Fatalf("Enqueue %d error: %v", i, err)
		}
	}
	queue.Close()

	i := 0
	for event := range queue.Events() {
		ev := event.(*types.TaskStatusUpdateEvent)
		if want := fmt.Sprintf("task-%d", i); ev.TaskID != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, ev.TaskID)
		}
		i++
	}
	if i != 10 {
		t.Fatalf("expected 10 events, got %d", i)
	}
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	queue := NewEventQueue()
	queue.Close()
	err := queue.Enqueue(context.Background(), &types.TaskStatusUpdateEvent{Kind: types.KindStatusUpdate})
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	queue := NewEventQueue()
	queue.Close()
	queue.Close()
}

func TestQueueEnqueueCanceledContextWithSpace(t *testing.T) {
	queue := NewEventQueue()
	defer queue.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// With buffer space left the event must still land: the consumer drains
	// the queue after close even when its request context is gone.
	if err := queue.Enqueue(ctx, &types.TaskStatusUpdateEvent{Kind: types.KindStatusUpdate}); err != nil {
		t.Fatalf("Enqueue with free buffer error: %v", err)
	}
}

func TestQueueEnqueueHonorsContext(t *testing.T) {
	queue := NewEventQueue()
	defer queue.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the buffer so the next Enqueue has to block.
	for i := 0; i < defaultQueueSize; i++ {
		if err := queue.Enqueue(context.Background(), &types.TaskStatusUpdateEvent{Kind: types.KindStatusUpdate}); err != nil {
			t.Fatalf("Enqueue %d error: %v", i, err)
		}
	}
	err := queue.Enqueue(ctx, &types.TaskStatusUpdateEvent{Kind: types.KindStatusUpdate})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
