// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"testing"
	"time"

	"github.com/loomhq/loom/pkg/a2a/types"
	loomerr "github.com/loomhq/loom/pkg/errors"
)

func currencyHandler(increments []Increment) *DefaultHandler {
	executor := &StreamExecutor{
		Agent:        &scriptedStreamer{increments: increments},
		ArtifactName: "conversion_result",
	}
	return NewDefaultHandler(executor, NewMemoryTaskStore(), WithPushConfigStore(NewMemoryPushConfigStore()))
}

func sendParams(text string) *types.MessageSendParams {
	return &types.MessageSendParams{
		Message: types.NewMessage(types.RoleUser, text, "", ""),
	}
}

func TestOnMessageSendCompletes(t *testing.T) {
	handler := currencyHandler([]Increment{
		{Content: "Looking up the exchange rates..."},
		{Content: "1 USD = 0.92 EUR", Complete: true},
	})

	task, err := handler.OnMessageSend(context.Background(), sendParams("how much is 1 USD in EUR?"))
	if err != nil {
		t.Fatalf("OnMessageSend error: %v", err)
	}
	if task.Status.State != types.TaskStateCompleted {
		t.Fatalf("expected completed, got %s", task.Status.State)
	}
	if len(task.Artifacts) != 1 || task.Artifacts[0].Name != "conversion_result" {
		t.Fatalf("expected conversion_result artifact, got %#v", task.Artifacts)
	}
	if got := task.Artifacts[0].Text(); got != "1 USD = 0.92 EUR" {
		t.Fatalf("unexpected artifact text %q", got)
	}
	// Agent working messages are folded into the ledger history.
	var sawWorking bool
	for _, msg := range task.History {
		if msg.Role == types.RoleAgent && msg.Text() == "Looking up the exchange rates..." {
			sawWorking = true
		}
	}
	if !sawWorking {
		t.Fatal("expected working message in history")
	}
}

func TestOnMessageSendRequiresInput(t *testing.T) {
	handler := currencyHandler([]Increment{
		{Content: "Which currency do you want to convert to?", RequireInput: true},
	})

	task, err := handler.OnMessageSend(context.Background(), sendParams("how much is 1 USD?"))
	if err != nil {
		t.Fatalf("OnMessageSend error: %v", err)
	}
	if task.Status.State != types.TaskStateInputRequired {
		t.Fatalf("expected input-required, got %s", task.Status.State)
	}
}

func TestOnMessageSendExecutorFailure(t *testing.T) {
	handler := currencyHandler([]Increment{
		{Err: context.DeadlineExceeded},
	})

	params := sendParams("how much is 1 USD in EUR?")
	_, err := handler.OnMessageSend(context.Background(), params)
	if code := loomerr.CodeOf(err); code != loomerr.CodeInternal {
		t.Fatalf("expected CodeInternal, got %s", code)
	}

	// The failure is recorded on the ledger even though the call errored.
	tasks, _, listErr := handler.store.List(context.Background(), TaskFilter{})
	if listErr != nil || len(tasks) != 1 {
		t.Fatalf("expected one task, got %d (err %v)", len(tasks), listErr)
	}
	if tasks[0].Status.State != types.TaskStateFailed {
		t.Fatalf("expected failed, got %s", tasks[0].Status.State)
	}
}

func TestOnMessageSendRejectsInvalidParams(t *testing.T) {
	handler := currencyHandler(nil)

	cases := []struct {
		name   string
		params *types.MessageSendParams
	}{
		{"nil params", nil},
		{"nil message", &types.MessageSendParams{}},
		{"no parts", &types.MessageSendParams{Message: &types.Message{Kind: types.KindMessage, Role: types.RoleUser}}},
		{"agent role", &types.MessageSendParams{Message: types.NewMessage(types.RoleAgent, "hi", "", "")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := handler.OnMessageSend(context.Background(), tc.params)
			if code := loomerr.CodeOf(err); code != loomerr.CodeInvalidParams {
				t.Fatalf("expected CodeInvalidParams, got %s", code)
			}
		})
	}
}

// gatedStreamer emits one working increment, then holds its terminal
// increment until release is closed.
type gatedStreamer struct {
	release chan struct{}
}

func (s *gatedStreamer) Stream(ctx context.Context, query, contextID string) (<-chan Increment, error) {
	out := make(chan Increment)
	go func() {
		defer close(out)
		out <- Increment{Content: "Looking up the exchange rates..."}
		<-s.release
		out <- Increment{Content: "1 USD = 0.92 EUR", Complete: true}
	}()
	return out, nil
}

// panicExecutor stands in for an agent that blows up mid-execution.
type panicExecutor struct{}

func (p *panicExecutor) Execute(ctx context.Context, rc *RequestContext, queue *EventQueue) error {
	panic("agent blew up")
}

func (p *panicExecutor) Cancel(ctx context.Context, rc *RequestContext, queue *EventQueue) error {
	return nil
}

func TestOnMessageStreamDisconnectAppliesTerminal(t *testing.T) {
	release := make(chan struct{})
	executor := &StreamExecutor{
		Agent:        &gatedStreamer{release: release},
		ArtifactName: "conversion_result",
	}
	store := NewMemoryTaskStore()
	handler := NewDefaultHandler(executor, store)

	ctx, cancel := context.WithCancel(context.Background())
	items, err := handler.OnMessageStream(ctx, sendParams("how much is 1 USD in EUR?"))
	if err != nil {
		t.Fatalf("OnMessageStream error: %v", err)
	}

	first := <-items
	task, ok := first.Event.(*types.Task)
	if !ok {
		t.Fatalf("expected task snapshot first, got %T", first.Event)
	}
	if item := <-items; item.Err != nil {
		t.Fatalf("unexpected stream error: %v", item.Err)
	}

	// The consumer disconnects while the agent is still working; its
	// remaining events must still land on the ledger.
	cancel()
	close(release)

	deadline := time.After(2 * time.Second)
	for {
		got, err := store.Get(context.Background(), task.ID, 0)
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if got.Status.State == types.TaskStateCompleted {
			if len(got.Artifacts) != 1 || got.Artifacts[0].Name != "conversion_result" {
				t.Fatalf("expected conversion_result artifact, got %#v", got.Artifacts)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("task stranded in %s after disconnect", got.Status.State)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOnMessageSendExecutorPanic(t *testing.T) {
	store := NewMemoryTaskStore()
	handler := NewDefaultHandler(&panicExecutor{}, store)

	_, err := handler.OnMessageSend(context.Background(), sendParams("how much is 1 USD in EUR?"))
	if code := loomerr.CodeOf(err); code != loomerr.CodeInternal {
		t.Fatalf("expected CodeInternal, got %s", code)
	}

	tasks, _, listErr := store.List(context.Background(), TaskFilter{})
	if listErr != nil || len(tasks) != 1 {
		t.Fatalf("expected one task, got %d (err %v)", len(tasks), listErr)
	}
	if tasks[0].Status.State != types.TaskStateFailed {
		t.Fatalf("expected failed, got %s", tasks[0].Status.State)
	}
}

func TestOnMessageStreamExecutorPanic(t *testing.T) {
	handler := NewDefaultHandler(&panicExecutor{}, NewMemoryTaskStore())

	items, err := handler.OnMessageStream(context.Background(), sendParams("how much is 1 USD in EUR?"))
	if err != nil {
		t.Fatalf("OnMessageStream error: %v", err)
	}
	var events []types.Event
	for item := range items {
		if item.Err != nil {
			t.Fatalf("unexpected stream error: %v", item.Err)
		}
		events = append(events, item.Event)
	}
	if len(events) != 2 {
		t.Fatalf("expected task snapshot and failed status, got %d events", len(events))
	}
	final, ok := events[1].(*types.TaskStatusUpdateEvent)
	if !ok || !final.Final || final.Status.State != types.TaskStateFailed {
		t.Fatalf("expected final failed status, got %#v", events[1])
	}
}

func TestOnMessageStreamOrder(t *testing.T) {
	handler := currencyHandler([]Increment{
		{Content: "Looking up the exchange rates..."},
		{Content: "1 USD = 0.92 EUR", Complete: true},
	})

	items, err := handler.OnMessageStream(context.Background(), sendParams("how much is 1 USD in EUR?"))
	if err != nil {
		t.Fatalf("OnMessageStream error: %v", err)
	}
	var events []types.Event
	for item := range items {
		if item.Err != nil {
			t.Fatalf("unexpected stream error: %v", item.Err)
		}
		events = append(events, item.Event)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 stream events, got %d", len(events))
	}
	if _, ok := events[0].(*types.Task); !ok {
		t.Fatalf("expected task snapshot first, got %T", events[0])
	}
	if ev, ok := events[1].(*types.TaskStatusUpdateEvent); !ok || ev.Status.State != types.TaskStateWorking {
		t.Fatalf("expected working update second, got %#v", events[1])
	}
	if _, ok := events[2].(*types.TaskArtifactUpdateEvent); !ok {
		t.Fatalf("expected artifact third, got %T", events[2])
	}
	final, ok := events[3].(*types.TaskStatusUpdateEvent)
	if !ok || !final.Final || final.Status.State != types.TaskStateCompleted {
		t.Fatalf("expected final completed last, got %#v", events[3])
	}
}

func TestOnCancelTaskUnsupported(t *testing.T) {
	handler := currencyHandler([]Increment{
		{Content: "Which currency?", RequireInput: true},
	})
	ctx := context.Background()

	task, err := handler.OnMessageSend(ctx, sendParams("how much is 1 USD?"))
	if err != nil {
		t.Fatalf("OnMessageSend error: %v", err)
	}
	_, err = handler.OnCancelTask(ctx, &types.TaskIDParams{ID: task.ID})
	if code := loomerr.CodeOf(err); code != loomerr.CodeUnsupportedOperation {
		t.Fatalf("expected CodeUnsupportedOperation, got %s", code)
	}
}

func TestOnCancelTaskNotFound(t *testing.T) {
	handler := currencyHandler(nil)
	_, err := handler.OnCancelTask(context.Background(), &types.TaskIDParams{ID: "missing"})
	if code := loomerr.CodeOf(err); code != loomerr.CodeTaskNotFound {
		t.Fatalf("expected CodeTaskNotFound, got %s", code)
	}
}

func TestOnResubscribeUnsupported(t *testing.T) {
	handler := currencyHandler(nil)
	_, err := handler.OnResubscribe(context.Background(), &types.TaskIDParams{ID: "any"})
	if code := loomerr.CodeOf(err); code != loomerr.CodeUnsupportedOperation {
		t.Fatalf("expected CodeUnsupportedOperation, got %s", code)
	}
}

func TestPushConfigRoundTrip(t *testing.T) {
	handler := currencyHandler([]Increment{
		{Content: "done", Complete: true},
	})
	ctx := context.Background()

	task, err := handler.OnMessageSend(ctx, sendParams("how much is 1 USD in EUR?"))
	if err != nil {
		t.Fatalf("OnMessageSend error: %v", err)
	}

	set, err := handler.OnPushConfigSet(ctx, &types.TaskPushNotificationConfig{
		TaskID: task.ID,
		Config: types.PushNotificationConfig{URL: "https://callback.example/hook", Token: "secret"},
	})
	if err != nil {
		t.Fatalf("OnPushConfigSet error: %v", err)
	}
	got, err := handler.OnPushConfigGet(ctx, &types.TaskIDParams{ID: task.ID})
	if err != nil {
		t.Fatalf("OnPushConfigGet error: %v", err)
	}
	if got.Config.URL != set.Config.URL || got.Config.Token != "secret" {
		t.Fatalf("push config mismatch: %#v", got)
	}
}

func TestPushConfigUnsupportedWithoutStore(t *testing.T) {
	executor := &StreamExecutor{Agent: &scriptedStreamer{}}
	handler := NewDefaultHandler(executor, NewMemoryTaskStore())

	_, err := handler.OnPushConfigSet(context.Background(), &types.TaskPushNotificationConfig{TaskID: "t"})
	if code := loomerr.CodeOf(err); code != loomerr.CodePushNotSupported {
		t.Fatalf("expected CodePushNotSupported, got %s", code)
	}
}
