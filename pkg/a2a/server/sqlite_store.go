// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/loomhq/loom/pkg/a2a/types"
	loomerr "github.com/loomhq/loom/pkg/errors"

	_ "modernc.org/sqlite"
)

const (
	taskTable       = "a2a_tasks"
	pushConfigTable = "a2a_push_configs"
)

// SQLiteTaskStore persists tasks in a SQLite database. SQLite serializes
// writers, so the select-then-insert in EnsureTask runs atomically inside a
// transaction.
type SQLiteTaskStore struct {
	db *sql.DB
}

// SQLitePushConfigStore persists push notification configs in a SQLite database.
type SQLitePushConfigStore struct {
	db *sql.DB
}

// NewSQLiteTaskStore creates a SQLite-backed task store and ensures schema.
func NewSQLiteTaskStore(db *sql.DB) (*SQLiteTaskStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSQLiteSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteTaskStore{db: db}, nil
}

// NewSQLitePushConfigStore creates a SQLite-backed push config store and ensures schema.
func NewSQLitePushConfigStore(db *sql.DB) (*SQLitePushConfigStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSQLiteSchema(db); err != nil {
		return nil, err
	}
	return &SQLitePushConfigStore{db: db}, nil
}

func ensureSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			context_id TEXT NOT NULL,
			status_state TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			task_json BLOB NOT NULL
		);`, taskTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_context ON %s(context_id);`, taskTable, taskTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status_state);`, taskTable, taskTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(updated_at);`, taskTable, taskTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			task_id TEXT PRIMARY KEY,
			config_json BLOB NOT NULL
		);`, pushConfigTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// EnsureTask resolves or creates the task for an inbound message inside one
// transaction.
func (s *SQLiteTaskStore) EnsureTask(ctx context.Context, message *types.Message) (*types.Task, bool, error) {
	if message == nil {
		return nil, false, loomerr.New(loomerr.CodeInvalidParams, "message is nil", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var task *types.Task
	switch {
	case message.TaskID != "":
		task, err = getTaskTx(ctx, tx, message.TaskID)
		if err != nil {
			return nil, false, err
		}
	case message.ContextID != "":
		task, err = openTaskForContextTx(ctx, tx, message.ContextID)
		if err != nil {
			return nil, false, err
		}
	}

	if task != nil {
		task, err = continueTaskTx(ctx, tx, task, message)
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return task, false, nil
	}

	created := types.NewTask(cloneMessage(message))
	if err := insertTaskTx(ctx, tx, created); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func continueTaskTx(ctx context.Context, tx *sql.Tx, task *types.Task, message *types.Message) (*types.Task, error) {
	state := task.Status.State
	if state.Terminal() && state != types.TaskStateInputRequired {
		return nil, loomerr.New(loomerr.CodeInvalidParams, "task is in terminal state", nil).
			WithContext("task_id", task.ID).
			WithContext("state", string(state))
	}
	msg := cloneMessage(message)
	msg.TaskID = task.ID
	msg.ContextID = task.ContextID
	task.History = append(task.History, msg)
	if state == types.TaskStateInputRequired {
		task.Status = types.TaskStatus{
			State:     types.TaskStateSubmitted,
			Timestamp: time.Now().UTC(),
		}
	}
	if err := updateTaskTx(ctx, tx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Get returns a task, trimming history to the requested length when > 0.
func (s *SQLiteTaskStore) Get(ctx context.Context, taskID string, historyLength int) (*types.Task, error) {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return trimHistory(task, historyLength), nil
}

// List returns tasks matching the filter plus the unpaged total, most
// recently updated first.
func (s *SQLiteTaskStore) List(ctx context.Context, filter TaskFilter) ([]*types.Task, int, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	where, args := buildTaskFilter(filter)
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", taskTable, where)
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT task_json FROM %s%s ORDER BY updated_at DESC, id ASC LIMIT ?", taskTable, where)
	args = append(args, pageSize)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, err
		}
		task, err := unmarshalTask(payload)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, trimHistory(task, filter.HistoryLength))
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// UpdateStatus updates the persisted task status.
func (s *SQLiteTaskStore) UpdateStatus(ctx context.Context, taskID string, status types.TaskStatus) error {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.Status = cloneStatus(status)
	return s.updateTask(ctx, task)
}

// AppendHistory appends a message to the task history.
func (s *SQLiteTaskStore) AppendHistory(ctx context.Context, taskID string, message *types.Message) error {
	if message == nil {
		return loomerr.New(loomerr.CodeInvalidParams, "message is nil", nil)
	}
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.History = append(task.History, cloneMessage(message))
	return s.updateTask(ctx, task)
}

// AddArtifact appends an artifact to a persisted task.
func (s *SQLiteTaskStore) AddArtifact(ctx context.Context, taskID string, artifact *types.Artifact) error {
	if artifact == nil {
		return loomerr.New(loomerr.CodeInvalidParams, "artifact is nil", nil)
	}
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.Artifacts = append(task.Artifacts, cloneArtifact(artifact))
	return s.updateTask(ctx, task)
}

func (s *SQLiteTaskStore) getTask(ctx context.Context, taskID string) (*types.Task, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT task_json FROM %s WHERE id = ?", taskTable), taskID).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, loomerr.New(loomerr.CodeTaskNotFound, "task not found", nil).
				WithContext("task_id", taskID)
		}
		return nil, err
	}
	return unmarshalTask(payload)
}

func (s *SQLiteTaskStore) updateTask(ctx context.Context, task *types.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	now := time.Now().UTC().UnixMilli()
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET context_id = ?, status_state = ?, updated_at = ?, task_json = ? WHERE id = ?", taskTable),
		task.ContextID, string(task.Status.State), now, payload, task.ID)
	return err
}

func getTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (*types.Task, error) {
	var payload []byte
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT task_json FROM %s WHERE id = ?", taskTable), taskID).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, loomerr.New(loomerr.CodeTaskNotFound, "task not found", nil).
				WithContext("task_id", taskID)
		}
		return nil, err
	}
	return unmarshalTask(payload)
}

func openTaskForContextTx(ctx context.Context, tx *sql.Tx, contextID string) (*types.Task, error) {
	// Input-required counts as open: the follow-up message for the context
	// continues that task instead of opening a second one.
	openStates := []string{
		string(types.TaskStateSubmitted),
		string(types.TaskStateWorking),
		string(types.TaskStateInputRequired),
	}
	var payload []byte
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT task_json FROM %s WHERE context_id = ? AND status_state IN (%s) ORDER BY updated_at DESC LIMIT 1",
			taskTable, placeholders(len(openStates))),
		append([]any{contextID}, toAnySlice(openStates)...)...).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return unmarshalTask(payload)
}

func insertTaskTx(ctx context.Context, tx *sql.Tx, task *types.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	now := time.Now().UTC().UnixMilli()
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, context_id, status_state, updated_at, task_json) VALUES (?, ?, ?, ?, ?)", taskTable),
		task.ID, task.ContextID, string(task.Status.State), now, payload)
	return err
}

func updateTaskTx(ctx context.Context, tx *sql.Tx, task *types.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	now := time.Now().UTC().UnixMilli()
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET context_id = ?, status_state = ?, updated_at = ?, task_json = ? WHERE id = ?", taskTable),
		task.ContextID, string(task.Status.State), now, payload, task.ID)
	return err
}

// Set stores a push notification config for a task, replacing any existing one.
func (s *SQLitePushConfigStore) Set(ctx context.Context, config *types.TaskPushNotificationConfig) (*types.TaskPushNotificationConfig, error) {
	if config == nil || config.TaskID == "" {
		return nil, loomerr.New(loomerr.CodeInvalidParams, "push config requires a task id", nil)
	}
	payload, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (task_id, config_json) VALUES (?, ?)
			ON CONFLICT(task_id) DO UPDATE SET config_json = excluded.config_json`, pushConfigTable),
		config.TaskID, payload)
	if err != nil {
		return nil, err
	}
	out := *config
	return &out, nil
}

// Get returns the push notification config for a task.
func (s *SQLitePushConfigStore) Get(ctx context.Context, taskID string) (*types.TaskPushNotificationConfig, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT config_json FROM %s WHERE task_id = ?", pushConfigTable), taskID).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, loomerr.New(loomerr.CodeTaskNotFound, "push config not found", nil).
				WithContext("task_id", taskID)
		}
		return nil, err
	}
	var cfg types.TaskPushNotificationConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Delete removes the push notification config for a task.
func (s *SQLitePushConfigStore) Delete(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE task_id = ?", pushConfigTable), taskID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return loomerr.New(loomerr.CodeTaskNotFound, "push config not found", nil).
			WithContext("task_id", taskID)
	}
	return nil
}

func buildTaskFilter(filter TaskFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.ContextID != "" {
		clauses = append(clauses, "context_id = ?")
		args = append(args, filter.ContextID)
	}
	if filter.State != "" {
		clauses = append(clauses, "status_state = ?")
		args = append(args, string(filter.State))
	}
	if !filter.LastUpdatedAfter.IsZero() {
		clauses = append(clauses, "updated_at >= ?")
		args = append(args, filter.LastUpdatedAfter.UTC().UnixMilli())
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func unmarshalTask(payload []byte) (*types.Task, error) {
	var task types.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, err
	}
	return &task, nil
}
