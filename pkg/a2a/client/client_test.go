// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loomhq/loom/pkg/a2a/server"
	"github.com/loomhq/loom/pkg/a2a/types"
)

func newAgentServer(t *testing.T, increments []server.Increment) *httptest.Server {
	t.Helper()
	executor := &server.StreamExecutor{
		Agent:        scripted(increments),
		ArtifactName: "conversion_result",
	}
	handler := server.NewDefaultHandler(executor, server.NewMemoryTaskStore())
	srv := httptest.NewServer(server.NewJSONRPCServer(handler, nil, nil))
	t.Cleanup(srv.Close)
	return srv
}

type scripted []server.Increment

func (s scripted) Stream(ctx context.Context, query, contextID string) (<-chan server.Increment, error) {
	out := make(chan server.Increment, len(s))
	for _, inc := range s {
		out <- inc
	}
	close(out)
	return out, nil
}

func TestClientSendMessage(t *testing.T) {
	srv := newAgentServer(t, []server.Increment{
		{Content: "Looking up the exchange rates..."},
		{Content: "1 USD = 0.92 EUR", Complete: true},
	})
	c := New(srv.URL)

	task, err := c.SendMessage(context.Background(), &types.MessageSendParams{
		Message: types.NewMessage(types.RoleUser, "how much is 1 USD in EUR?", "", ""),
	})
	if err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	if task.Status.State != types.TaskStateCompleted {
		t.Fatalf("expected completed, got %s", task.Status.State)
	}
	if len(task.Artifacts) != 1 || task.Artifacts[0].Text() != "1 USD = 0.92 EUR" {
		t.Fatalf("unexpected artifacts: %#v", task.Artifacts)
	}
}

func TestClientStreamMessage(t *testing.T) {
	srv := newAgentServer(t, []server.Increment{
		{Content: "Looking up the exchange rates..."},
		{Content: "1 USD = 0.92 EUR", Complete: true},
	})
	c := New(srv.URL)

	events, err := c.StreamMessage(context.Background(), &types.MessageSendParams{
		Message: types.NewMessage(types.RoleUser, "how much is 1 USD in EUR?", "", ""),
	})
	if err != nil {
		t.Fatalf("StreamMessage error: %v", err)
	}

	var kinds []string
	for item := range events {
		if item.Err != nil {
			t.Fatalf("stream error: %v", item.Err)
		}
		kinds = append(kinds, item.Event.EventKind())
	}
	want := []string{types.KindTask, types.KindStatusUpdate, types.KindArtifactUpdate, types.KindStatusUpdate}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d events, got %d (%v)", len(want), len(kinds), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestClientGetTaskAfterSend(t *testing.T) {
	srv := newAgentServer(t, []server.Increment{
		{Content: "Which currency?", RequireInput: true},
	})
	c := New(srv.URL)
	ctx := context.Background()

	task, err := c.SendMessage(ctx, &types.MessageSendParams{
		Message: types.NewMessage(types.RoleUser, "how much is 1 USD?", "", ""),
	})
	if err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	got, err := c.GetTask(ctx, &types.TaskQueryParams{ID: task.ID})
	if err != nil {
		t.Fatalf("GetTask error: %v", err)
	}
	if got.Status.State != types.TaskStateInputRequired {
		t.Fatalf("expected input-required, got %s", got.Status.State)
	}
}

func TestClientCancelSurfacesRPCError(t *testing.T) {
	srv := newAgentServer(t, []server.Increment{
		{Content: "Which currency?", RequireInput: true},
	})
	c := New(srv.URL)
	ctx := context.Background()

	task, err := c.SendMessage(ctx, &types.MessageSendParams{
		Message: types.NewMessage(types.RoleUser, "how much is 1 USD?", "", ""),
	})
	if err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}

	_, err = c.CancelTask(ctx, &types.TaskIDParams{ID: task.ID})
	var rpcErr *types.JSONRPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected JSONRPCError, got %v", err)
	}
	if rpcErr.Code != types.CodeUnsupportedOperation {
		t.Fatalf("expected code %d, got %d", types.CodeUnsupportedOperation, rpcErr.Code)
	}
}

func TestPushListenerTokenCheck(t *testing.T) {
	var received *types.Task
	listener := &PushListener{
		Token:  "secret",
		OnTask: func(task *types.Task) { received = task },
	}
	srv := httptest.NewServer(listener)
	defer srv.Close()

	task := types.NewTask(types.NewMessage(types.RoleUser, "hello", "", ""))
	notifier := server.NewPushNotifier(pushConfig(task.ID, srv.URL, "secret"), nil)
	notifier.Notify(context.Background(), task)

	if received == nil || received.ID != task.ID {
		t.Fatalf("expected task %s delivered, got %#v", task.ID, received)
	}

	// Wrong token must be rejected and never reach the callback.
	received = nil
	notifier = server.NewPushNotifier(pushConfig(task.ID, srv.URL, "wrong"), nil)
	notifier.Notify(context.Background(), task)
	if received != nil {
		t.Fatal("expected delivery with wrong token to be rejected")
	}
}

func pushConfig(taskID, url, token string) server.PushConfigStore {
	store := server.NewMemoryPushConfigStore()
	_, _ = store.Set(context.Background(), &types.TaskPushNotificationConfig{
		TaskID: taskID,
		Config: types.PushNotificationConfig{URL: url, Token: token},
	})
	return store
}

func TestClientBaseURLTrimmed(t *testing.T) {
	c := New("http://localhost:10000///")
	if strings.HasSuffix(c.baseURL, "/") {
		t.Fatalf("expected trailing slashes trimmed, got %q", c.baseURL)
	}
}
