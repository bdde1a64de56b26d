// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/loomhq/loom/pkg/a2a/types"
	loomerr "github.com/loomhq/loom/pkg/errors"
	"github.com/loomhq/loom/pkg/resilience"
)

// PushConfigStore stores push notification configs per task.
type PushConfigStore interface {
	Set(ctx context.Context, config *types.TaskPushNotificationConfig) (*types.TaskPushNotificationConfig, error)
	Get(ctx context.Context, taskID string) (*types.TaskPushNotificationConfig, error)
	Delete(ctx context.Context, taskID string) error
}

// MemoryPushConfigStore keeps push configs in memory.
type MemoryPushConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*types.TaskPushNotificationConfig
}

// NewMemoryPushConfigStore creates a new in-memory push config store.
func NewMemoryPushConfigStore() *MemoryPushConfigStore {
	return &MemoryPushConfigStore{configs: make(map[string]*types.TaskPushNotificationConfig)}
}

func (s *MemoryPushConfigStore) Set(ctx context.Context, config *types.TaskPushNotificationConfig) (*types.TaskPushNotificationConfig, error) {
	if config == nil || config.TaskID == "" {
		return nil, loomerr.New(loomerr.CodeInvalidParams, "push config requires a task id", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *config
	s.configs[config.TaskID] = &stored
	out := stored
	return &out, nil
}

func (s *MemoryPushConfigStore) Get(ctx context.Context, taskID string) (*types.TaskPushNotificationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	config, ok := s.configs[taskID]
	if !ok {
		return nil, loomerr.New(loomerr.CodeTaskNotFound, "push config not found", nil).
			WithContext("task_id", taskID)
	}
	out := *config
	return &out, nil
}

func (s *MemoryPushConfigStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[taskID]; !ok {
		return loomerr.New(loomerr.CodeTaskNotFound, "push config not found", nil).
			WithContext("task_id", taskID)
	}
	delete(s.configs, taskID)
	return nil
}

// PushNotifier delivers task snapshots to registered push endpoints. Delivery
// is best effort: transient failures are retried, the rest are logged, never
// surfaced to the caller.
type PushNotifier struct {
	store  PushConfigStore
	client *http.Client
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// NewPushNotifier creates a push notifier backed by the given config store.
func NewPushNotifier(store PushConfigStore, logger *slog.Logger) *PushNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushNotifier{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultRetryConfig().WithMaxDelay(2 * time.Second),
		logger: logger,
	}
}

// Notify POSTs the task snapshot to the task's registered endpoint, if any.
// The registered token travels in the X-A2A-Notification-Token header so the
// receiver can authenticate the sender.
func (n *PushNotifier) Notify(ctx context.Context, task *types.Task) {
	if n.store == nil || task == nil {
		return
	}
	config, err := n.store.Get(ctx, task.ID)
	if err != nil {
		return
	}
	if config.Config.URL == "" {
		return
	}

	payload, err := json.Marshal(task)
	if err != nil {
		n.logger.Warn("push notification marshal failed", "task_id", task.ID, "error", err)
		return
	}
	err = n.retry.Do(ctx, func(ctx context.Context) error {
		return n.deliver(ctx, config, payload)
	})
	if err != nil {
		n.logger.Warn("push notification delivery failed",
			"task_id", task.ID, "url", config.Config.URL, "error", err)
		return
	}
	n.logger.Debug("push notification delivered", "task_id", task.ID, "url", config.Config.URL)
}

// deliver runs one POST attempt. Transport errors and 5xx responses are
// recoverable; a 4xx means the endpoint rejected the payload and retrying
// will not help.
func (n *PushNotifier) deliver(ctx context.Context, config *types.TaskPushNotificationConfig, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.Config.URL, bytes.NewReader(payload))
	if err != nil {
		return loomerr.New(loomerr.CodeInvalidParams, "building push request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if config.Config.Token != "" {
		req.Header.Set("X-A2A-Notification-Token", config.Config.Token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return loomerr.New(loomerr.CodeInternal, "push delivery failed", err).
			WithRecoverable(true)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return loomerr.New(loomerr.CodeInternal, fmt.Sprintf("push endpoint returned %d", resp.StatusCode), nil).
			WithRecoverable(true)
	}
	if resp.StatusCode >= 300 {
		return loomerr.New(loomerr.CodeInternal, fmt.Sprintf("push endpoint returned %d", resp.StatusCode), nil)
	}
	return nil
}
