// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the A2A server side: the task event queue, the
// task updater state machine, executor contracts, task stores and the
// JSON-RPC HTTP binding.
package server

import (
	"context"
	"errors"
	"sync"

	"github.com/loomhq/loom/pkg/a2a/types"
)

// ErrQueueClosed is returned by Enqueue after the queue has been closed.
var ErrQueueClosed = errors.New("event queue is closed")

const defaultQueueSize = 64

// EventQueue is the ordered, append-only channel between one task invocation
// and its consumer. Single producer (the executor goroutine), single consumer
// (the request handler). The producer closes the queue when it is done; the
// consumer drains remaining events after close.
type EventQueue struct {
	events chan types.Event
	done   chan struct{}
	once   sync.Once
}

// NewEventQueue creates a queue with the default buffer size.
func NewEventQueue() *EventQueue {
	return &EventQueue{
		events: make(chan types.Event, defaultQueueSize),
		done:   make(chan struct{}),
	}
}

// Enqueue appends an event. It blocks when the consumer lags behind and the
// buffer is full, preserving per-task emission order.
func (q *EventQueue) Enqueue(ctx context.Context, event types.Event) error {
	if event == nil {
		return errors.New("event is nil")
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	// Prefer delivery while buffer space remains: a canceled ctx must not
	// drop a terminal event the consumer will still drain after close.
	select {
	case q.events <- event:
		return nil
	default:
	}
	select {
	case q.events <- event:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the receive side of the queue. The channel is closed by
// Close; ranging over it yields every event in emission order.
func (q *EventQueue) Events() <-chan types.Event {
	return q.events
}

// Close marks the queue complete. Only the producer may call Close, and only
// after its last Enqueue has returned.
func (q *EventQueue) Close() {
	q.once.Do(func() {
		close(q.done)
		close(q.events)
	})
}
