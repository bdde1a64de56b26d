// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TaskMetrics tracks task lifecycle outcomes for production monitoring.
type TaskMetrics struct {
	taskCounter    metric.Int64Counter
	eventCounter   metric.Int64Counter
	taskDuration   metric.Float64Histogram
	pushDeliveries metric.Int64Counter
}

// NewTaskMetrics creates OTEL instruments for the task lifecycle.
func NewTaskMetrics() (*TaskMetrics, error) {
	meter := otel.Meter("loom/tasks")

	taskCounter, err := meter.Int64Counter(
		"loom.tasks.total",
		metric.WithDescription("Tasks by final state"),
	)
	if err != nil {
		return nil, err
	}
	eventCounter, err := meter.Int64Counter(
		"loom.task.events.total",
		metric.WithDescription("Streamed task events by kind"),
	)
	if err != nil {
		return nil, err
	}
	taskDuration, err := meter.Float64Histogram(
		"loom.task.duration_seconds",
		metric.WithDescription("Wall time from submitted to terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	pushDeliveries, err := meter.Int64Counter(
		"loom.push.deliveries.total",
		metric.WithDescription("Push notification delivery attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &TaskMetrics{
		taskCounter:    taskCounter,
		eventCounter:   eventCounter,
		taskDuration:   taskDuration,
		pushDeliveries: pushDeliveries,
	}, nil
}

// RecordTaskDone records a task reaching a terminal state.
func (m *TaskMetrics) RecordTaskDone(ctx context.Context, state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrTaskState, state))
	m.taskCounter.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordEvent records one streamed event.
func (m *TaskMetrics) RecordEvent(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.eventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrEventKind, kind)))
}

// RecordPushDelivery records a push notification attempt.
func (m *TaskMetrics) RecordPushDelivery(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.pushDeliveries.Add(ctx, 1, metric.WithAttributes(attribute.Bool("delivered", ok)))
}
