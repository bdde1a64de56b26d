// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/json"
	"net/http"

	"github.com/loomhq/loom/pkg/a2a/types"
)

// PushListener receives push notifications from an A2A server. It verifies
// the notification token and hands each task snapshot to OnTask.
type PushListener struct {
	// Token must match the X-A2A-Notification-Token header when set.
	Token string
	// OnTask receives each delivered task snapshot.
	OnTask func(task *types.Task)
}

// ServeHTTP implements http.Handler for the notification callback endpoint.
func (l *PushListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if l.Token != "" && r.Header.Get("X-A2A-Notification-Token") != l.Token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var task types.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if l.OnTask != nil {
		l.OnTask(&task)
	}
	w.WriteHeader(http.StatusNoContent)
}
