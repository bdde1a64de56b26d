// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomhq/loom/pkg/a2a/types"
	loomerr "github.com/loomhq/loom/pkg/errors"
)

func newSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// taskStores returns one instance of every TaskStore implementation so the
// contract tests below assert identical semantics across backends.
func taskStores(t *testing.T) map[string]TaskStore {
	t.Helper()
	sqliteStore, err := NewSQLiteTaskStore(newSQLiteDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteTaskStore error: %v", err)
	}
	return map[string]TaskStore{
		"memory": NewMemoryTaskStore(),
		"sqlite": sqliteStore,
	}
}

func TestTaskStoreContractInputRequiredContinuation(t *testing.T) {
	for name, store := range taskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := types.NewMessage(types.RoleUser, "how much is 1 USD?", "ctx-input", "")
			task, created, err := store.EnsureTask(ctx, first)
			if err != nil || !created {
				t.Fatalf("EnsureTask = created %v, err %v", created, err)
			}
			status := types.TaskStatus{State: types.TaskStateInputRequired, Timestamp: time.Now().UTC()}
			if err := store.UpdateStatus(ctx, task.ID, status); err != nil {
				t.Fatalf("UpdateStatus error: %v", err)
			}

			// A follow-up carrying only the context id continues the same
			// task and moves it back to submitted for the new turn.
			followUp := types.NewMessage(types.RoleUser, "to EUR please", task.ContextID, "")
			resumed, created, err := store.EnsureTask(ctx, followUp)
			if err != nil {
				t.Fatalf("EnsureTask follow-up error: %v", err)
			}
			if created {
				t.Fatal("follow-up after input-required created a new task")
			}
			if resumed.ID != task.ID {
				t.Fatalf("follow-up resumed task %s, want %s", resumed.ID, task.ID)
			}
			if resumed.Status.State != types.TaskStateSubmitted {
				t.Fatalf("resumed state = %s, want submitted", resumed.Status.State)
			}
		})
	}
}

func TestTaskStoreContractTerminalStateBlocksReuse(t *testing.T) {
	for name, store := range taskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := types.NewMessage(types.RoleUser, "how much is 1 USD in EUR?", "ctx-done", "")
			task, _, err := store.EnsureTask(ctx, first)
			if err != nil {
				t.Fatalf("EnsureTask error: %v", err)
			}
			status := types.TaskStatus{State: types.TaskStateCompleted, Timestamp: time.Now().UTC()}
			if err := store.UpdateStatus(ctx, task.ID, status); err != nil {
				t.Fatalf("UpdateStatus error: %v", err)
			}

			// The context is released: the next message opens a fresh task.
			next, created, err := store.EnsureTask(ctx, types.NewMessage(types.RoleUser, "and in GBP?", task.ContextID, ""))
			if err != nil {
				t.Fatalf("EnsureTask after completion error: %v", err)
			}
			if !created || next.ID == task.ID {
				t.Fatalf("expected a new task, got created %v id %s", created, next.ID)
			}

			// Referencing the completed task directly is an error.
			_, _, err = store.EnsureTask(ctx, types.NewMessage(types.RoleUser, "again", "", task.ID))
			if code := loomerr.CodeOf(err); code != loomerr.CodeInvalidParams {
				t.Fatalf("expected CodeInvalidParams, got %s", code)
			}
		})
	}
}

func TestSQLiteTaskStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteTaskStore(newSQLiteDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteTaskStore error: %v", err)
	}
	ctx := context.Background()

	task, _, err := store.EnsureTask(ctx, types.NewMessage(types.RoleUser, "how much is 1 USD in EUR?", "ctx-rt", ""))
	if err != nil {
		t.Fatalf("EnsureTask error: %v", err)
	}
	if err := store.AppendHistory(ctx, task.ID, types.NewMessage(types.RoleAgent, "Looking up the exchange rates...", task.ContextID, task.ID)); err != nil {
		t.Fatalf("AppendHistory error: %v", err)
	}
	if err := store.AddArtifact(ctx, task.ID, &types.Artifact{
		ArtifactID: "a-1",
		Name:       "conversion_result",
		Parts:      []types.Part{types.TextPart("1 USD = 0.92 EUR")},
	}); err != nil {
		t.Fatalf("AddArtifact error: %v", err)
	}
	if err := store.UpdateStatus(ctx, task.ID, types.TaskStatus{State: types.TaskStateCompleted, Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}

	got, err := store.Get(ctx, task.ID, 0)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status.State != types.TaskStateCompleted {
		t.Fatalf("state = %s, want completed", got.Status.State)
	}
	if len(got.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(got.History))
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0].Name != "conversion_result" {
		t.Fatalf("unexpected artifacts %#v", got.Artifacts)
	}

	trimmed, err := store.Get(ctx, task.ID, 1)
	if err != nil {
		t.Fatalf("Get trimmed error: %v", err)
	}
	if len(trimmed.History) != 1 || trimmed.History[0].Role != types.RoleAgent {
		t.Fatalf("expected last history message only, got %#v", trimmed.History)
	}

	if _, err := store.Get(ctx, "no-such-task", 0); loomerr.CodeOf(err) != loomerr.CodeTaskNotFound {
		t.Fatalf("expected CodeTaskNotFound, got %v", err)
	}
}

func TestSQLiteTaskStoreListFilters(t *testing.T) {
	store, err := NewSQLiteTaskStore(newSQLiteDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteTaskStore error: %v", err)
	}
	ctx := context.Background()

	a, _, _ := store.EnsureTask(ctx, types.NewMessage(types.RoleUser, "first", "ctx-a", ""))
	if _, _, err := store.EnsureTask(ctx, types.NewMessage(types.RoleUser, "second", "ctx-b", "")); err != nil {
		t.Fatalf("EnsureTask error: %v", err)
	}
	if err := store.UpdateStatus(ctx, a.ID, types.TaskStatus{State: types.TaskStateFailed, Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}

	failed, total, err := store.List(ctx, TaskFilter{State: types.TaskStateFailed})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if total != 1 || len(failed) != 1 || failed[0].ID != a.ID {
		t.Fatalf("state filter returned %d/%d tasks", len(failed), total)
	}

	byContext, total, err := store.List(ctx, TaskFilter{ContextID: "ctx-b"})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if total != 1 || len(byContext) != 1 || byContext[0].ContextID != "ctx-b" {
		t.Fatalf("context filter returned %d/%d tasks", len(byContext), total)
	}
}

func TestSQLitePushConfigRoundTrip(t *testing.T) {
	store, err := NewSQLitePushConfigStore(newSQLiteDB(t))
	if err != nil {
		t.Fatalf("NewSQLitePushConfigStore error: %v", err)
	}
	ctx := context.Background()

	config := &types.TaskPushNotificationConfig{
		TaskID: "t-push",
		Config: types.PushNotificationConfig{URL: "http://localhost:5000/notify", Token: "tok"},
	}
	if _, err := store.Set(ctx, config); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, err := store.Get(ctx, "t-push")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Config.URL != config.Config.URL || got.Config.Token != "tok" {
		t.Fatalf("round-trip mismatch: %#v", got)
	}
	if err := store.Delete(ctx, "t-push"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := store.Get(ctx, "t-push"); loomerr.CodeOf(err) != loomerr.CodeTaskNotFound {
		t.Fatalf("expected CodeTaskNotFound after delete, got %v", err)
	}
}
