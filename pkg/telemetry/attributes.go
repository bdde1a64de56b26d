// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import "go.opentelemetry.io/otel/attribute"

// Semantic conventions for Loom telemetry. LLM attributes follow the
// OpenTelemetry gen_ai conventions where one exists.
const (
	AttrTaskID    = "loom.task.id"
	AttrContextID = "loom.context.id"
	AttrTaskState = "loom.task.state"
	AttrEventKind = "loom.event.kind"

	AttrToolName       = "loom.tool.name"
	AttrToolDurationMs = "loom.tool.duration_ms"
	AttrToolSuccess    = "loom.tool.success"

	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMFinishReason = "gen_ai.finish_reason"
)

// TaskAttrs builds the standard span attributes for one task invocation.
func TaskAttrs(taskID, contextID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
		attribute.String(AttrContextID, contextID),
	}
}

// ToolAttrs builds the standard span attributes for one tool call.
func ToolAttrs(name string, durationMs int64, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.Int64(AttrToolDurationMs, durationMs),
		attribute.Bool(AttrToolSuccess, success),
	}
}
