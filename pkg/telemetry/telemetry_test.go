// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInitStdoutShutdown(t *testing.T) {
	shutdown, err := Init("loom-test", "0.0.1")
	if err != nil {
		t.Fatalf("Init error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	if _, err := InitWithConfig("loom-test", "0.0.1", Config{Exporter: "bogus"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestInitOTLPRequiresEndpoint(t *testing.T) {
	if _, err := InitWithConfig("loom-test", "0.0.1", Config{Exporter: "otlp-grpc"}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestConfigureSlogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("visible", slog.String("key", "value"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatal("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, `"key":"value"`) {
		t.Fatalf("warn record missing: %s", out)
	}
}

func TestTaskMetrics(t *testing.T) {
	metrics, err := NewTaskMetrics()
	if err != nil {
		t.Fatalf("NewTaskMetrics error: %v", err)
	}
	ctx := context.Background()
	// Instruments must accept records without a configured provider.
	metrics.RecordTaskDone(ctx, "completed", 2*time.Second)
	metrics.RecordEvent(ctx, "status-update")
	metrics.RecordPushDelivery(ctx, true)

	var nilMetrics *TaskMetrics
	nilMetrics.RecordTaskDone(ctx, "failed", 0)
}
