// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loomhq/loom/pkg/a2a/types"
)

func rpcCall(t *testing.T, srv *JSONRPCServer, method string, params any) *types.JSONRPCResponse {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	body, err := json.Marshal(types.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var resp types.JSONRPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return &resp
}

func newTestServer(increments []Increment) *JSONRPCServer {
	card := &types.AgentCard{
		Name:         "Currency Agent",
		Capabilities: types.AgentCapabilities{Streaming: true},
	}
	return NewJSONRPCServer(currencyHandler(increments), card, nil)
}

func TestJSONRPCMessageSend(t *testing.T) {
	srv := newTestServer([]Increment{
		{Content: "Looking up the exchange rates..."},
		{Content: "1 USD = 0.92 EUR", Complete: true},
	})

	resp := rpcCall(t, srv, types.MethodMessageSend, &types.MessageSendParams{
		Message: types.NewMessage(types.RoleUser, "how much is 1 USD in EUR?", "", ""),
	})
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	var task types.Task
	if err := json.Unmarshal(resp.Result, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Status.State != types.TaskStateCompleted {
		t.Fatalf("expected completed, got %s", task.Status.State)
	}
	if len(task.Artifacts) != 1 || task.Artifacts[0].Text() != "1 USD = 0.92 EUR" {
		t.Fatalf("unexpected artifacts: %#v", task.Artifacts)
	}
}

func TestJSONRPCMessageStreamSSE(t *testing.T) {
	srv := newTestServer([]Increment{
		{Content: "Looking up the exchange rates..."},
		{Content: "1 USD = 0.92 EUR", Complete: true},
	})

	raw, _ := json.Marshal(&types.MessageSendParams{
		Message: types.NewMessage(types.RoleUser, "how much is 1 USD in EUR?", "", ""),
	})
	body, _ := json.Marshal(types.JSONRPCRequest{JSONRPC: "2.0", ID: 7, Method: types.MethodMessageStream, Params: raw})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", got)
	}

	var events []types.Event
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var resp types.JSONRPCResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &resp); err != nil {
			t.Fatalf("decode SSE frame: %v", err)
		}
		if resp.Error != nil {
			t.Fatalf("unexpected stream error: %+v", resp.Error)
		}
		event, err := types.UnmarshalEvent(resp.Result)
		if err != nil {
			t.Fatalf("decode event: %v", err)
		}
		events = append(events, event)
	}

	if len(events) != 4 {
		t.Fatalf("expected 4 SSE events, got %d", len(events))
	}
	if _, ok := events[0].(*types.Task); !ok {
		t.Fatalf("expected task first, got %T", events[0])
	}
	final, ok := events[3].(*types.TaskStatusUpdateEvent)
	if !ok || !final.Final || final.Status.State != types.TaskStateCompleted {
		t.Fatalf("expected final completed event, got %#v", events[3])
	}
}

func TestJSONRPCCancelMapsToUnsupported(t *testing.T) {
	srv := newTestServer([]Increment{
		{Content: "Which currency?", RequireInput: true},
	})

	sendResp := rpcCall(t, srv, types.MethodMessageSend, &types.MessageSendParams{
		Message: types.NewMessage(types.RoleUser, "how much is 1 USD?", "", ""),
	})
	var task types.Task
	if err := json.Unmarshal(sendResp.Result, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}

	resp := rpcCall(t, srv, types.MethodTasksCancel, &types.TaskIDParams{ID: task.ID})
	if resp.Error == nil || resp.Error.Code != types.CodeUnsupportedOperation {
		t.Fatalf("expected code %d, got %+v", types.CodeUnsupportedOperation, resp.Error)
	}
}

func TestJSONRPCErrorMapping(t *testing.T) {
	srv := newTestServer(nil)

	resp := rpcCall(t, srv, types.MethodTasksGet, &types.TaskQueryParams{ID: "missing"})
	if resp.Error == nil || resp.Error.Code != types.CodeTaskNotFound {
		t.Fatalf("expected code %d, got %+v", types.CodeTaskNotFound, resp.Error)
	}

	resp = rpcCall(t, srv, types.MethodMessageSend, &types.MessageSendParams{})
	if resp.Error == nil || resp.Error.Code != types.CodeInvalidParams {
		t.Fatalf("expected code %d, got %+v", types.CodeInvalidParams, resp.Error)
	}

	resp = rpcCall(t, srv, "no/such/method", struct{}{})
	if resp.Error == nil || resp.Error.Code != types.CodeMethodNotFound {
		t.Fatalf("expected code %d, got %+v", types.CodeMethodNotFound, resp.Error)
	}
}

func TestJSONRPCParseError(t *testing.T) {
	srv := newTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var resp types.JSONRPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != types.CodeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestJSONRPCAgentCard(t *testing.T) {
	srv := newTestServer(nil)
	resp := rpcCall(t, srv, types.MethodAgentCard, struct{}{})
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	var card types.AgentCard
	if err := json.Unmarshal(resp.Result, &card); err != nil {
		t.Fatalf("decode card: %v", err)
	}
	if card.Name != "Currency Agent" {
		t.Fatalf("unexpected card name %q", card.Name)
	}
}
