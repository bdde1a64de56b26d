// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/loomhq/loom/pkg/a2a/types"
	loomerr "github.com/loomhq/loom/pkg/errors"
)

// JSONRPCServer exposes a Handler over the A2A JSON-RPC 2.0 HTTP binding.
// Streaming methods respond as Server-Sent Events, one JSON-RPC response
// envelope per event.
type JSONRPCServer struct {
	handler Handler
	card    *types.AgentCard
	logger  *slog.Logger
}

// NewJSONRPCServer creates the HTTP binding for a handler. The card, when
// set, is served for agent/getAuthenticatedExtendedCard.
func NewJSONRPCServer(handler Handler, card *types.AgentCard, logger *slog.Logger) *JSONRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONRPCServer{handler: handler, card: card, logger: logger}
}

// ServeHTTP handles JSON-RPC 2.0 requests.
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req types.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, &types.JSONRPCError{Code: types.CodeParseError, Message: "invalid json"})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCError(w, req.ID, &types.JSONRPCError{Code: types.CodeInvalidRequest, Message: "invalid request"})
		return
	}

	switch req.Method {
	case types.MethodMessageSend:
		s.handleMessageSend(w, r, req)
	case types.MethodMessageStream:
		s.handleMessageStream(w, r, req)
	case types.MethodTasksGet:
		s.handleTasksGet(w, r, req)
	case types.MethodTasksList:
		s.handleTasksList(w, r, req)
	case types.MethodTasksCancel:
		s.handleTasksCancel(w, r, req)
	case types.MethodTasksResubscribe:
		s.handleResubscribe(w, r, req)
	case types.MethodPushConfigSet:
		s.handlePushConfigSet(w, r, req)
	case types.MethodPushConfigGet:
		s.handlePushConfigGet(w, r, req)
	case types.MethodAgentCard:
		s.handleAgentCard(w, req)
	default:
		writeRPCError(w, req.ID, &types.JSONRPCError{Code: types.CodeMethodNotFound, Message: "method not found"})
	}
}

func (s *JSONRPCServer) handleMessageSend(w http.ResponseWriter, r *http.Request, req types.JSONRPCRequest) {
	var params types.MessageSendParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, &types.JSONRPCError{Code: types.CodeInvalidParams, Message: err.Error()})
		return
	}
	task, err := s.handler.OnMessageSend(r.Context(), &params)
	if err != nil {
		writeRPCError(w, req.ID, ToJSONRPCError(err))
		return
	}
	writeResult(w, req.ID, task)
}

func (s *JSONRPCServer) handleMessageStream(w http.ResponseWriter, r *http.Request, req types.JSONRPCRequest) {
	var params types.MessageSendParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, &types.JSONRPCError{Code: types.CodeInvalidParams, Message: err.Error()})
		return
	}
	items, err := s.handler.OnMessageStream(r.Context(), &params)
	if err != nil {
		writeRPCError(w, req.ID, ToJSONRPCError(err))
		return
	}
	s.streamItems(w, req.ID, items)
}

func (s *JSONRPCServer) handleResubscribe(w http.ResponseWriter, r *http.Request, req types.JSONRPCRequest) {
	var params types.TaskIDParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, &types.JSONRPCError{Code: types.CodeInvalidParams, Message: err.Error()})
		return
	}
	items, err := s.handler.OnResubscribe(r.Context(), &params)
	if err != nil {
		writeRPCError(w, req.ID, ToJSONRPCError(err))
		return
	}
	s.streamItems(w, req.ID, items)
}

func (s *JSONRPCServer) streamItems(w http.ResponseWriter, id any, items <-chan StreamItem) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, id, &types.JSONRPCError{Code: types.CodeInternalError, Message: "streaming not supported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for item := range items {
		var resp types.JSONRPCResponse
		resp.JSONRPC = "2.0"
		resp.ID = id
		if item.Err != nil {
			resp.Error = ToJSONRPCError(item.Err)
		} else {
			payload, err := json.Marshal(item.Event)
			if err != nil {
				s.logger.Error("failed to marshal stream event", "error", err)
				return
			}
			resp.Result = payload
		}
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("failed to marshal stream envelope", "error", err)
			return
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if _, err := w.Write(data); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *JSONRPCServer) handleTasksGet(w http.ResponseWriter, r *http.Request, req types.JSONRPCRequest) {
	var params types.TaskQueryParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, &types.JSONRPCError{Code: types.CodeInvalidParams, Message: err.Error()})
		return
	}
	task, err := s.handler.OnGetTask(r.Context(), &params)
	if err != nil {
		writeRPCError(w, req.ID, ToJSONRPCError(err))
		return
	}
	writeResult(w, req.ID, task)
}

func (s *JSONRPCServer) handleTasksList(w http.ResponseWriter, r *http.Request, req types.JSONRPCRequest) {
	var params types.TaskListParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeRPCError(w, req.ID, &types.JSONRPCError{Code: types.CodeInvalidParams, Message: err.Error()})
			return
		}
	}
	result, err := s.handler.OnListTasks(r.Context(), &params)
	if err != nil {
		writeRPCError(w, req.ID, ToJSONRPCError(err))
		return
	}
	writeResult(w, req.ID, result)
}

func (s *JSONRPCServer) handleTasksCancel(w http.ResponseWriter, r *http.Request, req types.JSONRPCRequest) {
	var params types.TaskIDParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, &types.JSONRPCError{Code: types.CodeInvalidParams, Message: err.Error()})
		return
	}
	task, err := s.handler.OnCancelTask(r.Context(), &params)
	if err != nil {
		writeRPCError(w, req.ID, ToJSONRPCError(err))
		return
	}
	writeResult(w, req.ID, task)
}

func (s *JSONRPCServer) handlePushConfigSet(w http.ResponseWriter, r *http.Request, req types.JSONRPCRequest) {
	var config types.TaskPushNotificationConfig
	if err := decodeParams(req.Params, &config); err != nil {
		writeRPCError(w, req.ID, &types.JSONRPCError{Code: types.CodeInvalidParams, Message: err.Error()})
		return
	}
	stored, err := s.handler.OnPushConfigSet(r.Context(), &config)
	if err != nil {
		writeRPCError(w, req.ID, ToJSONRPCError(err))
		return
	}
	writeResult(w, req.ID, stored)
}

func (s *JSONRPCServer) handlePushConfigGet(w http.ResponseWriter, r *http.Request, req types.JSONRPCRequest) {
	var params types.TaskIDParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, &types.JSONRPCError{Code: types.CodeInvalidParams, Message: err.Error()})
		return
	}
	config, err := s.handler.OnPushConfigGet(r.Context(), &params)
	if err != nil {
		writeRPCError(w, req.ID, ToJSONRPCError(err))
		return
	}
	writeResult(w, req.ID, config)
}

func (s *JSONRPCServer) handleAgentCard(w http.ResponseWriter, req types.JSONRPCRequest) {
	if s.card == nil {
		err := loomerr.New(loomerr.CodeUnsupportedOperation, "extended agent card is not available", nil)
		writeRPCError(w, req.ID, ToJSONRPCError(err))
		return
	}
	writeResult(w, req.ID, s.card)
}

func decodeParams(params json.RawMessage, target any) error {
	if len(params) == 0 {
		return loomerr.New(loomerr.CodeInvalidParams, "missing params", nil)
	}
	return json.Unmarshal(params, target)
}

func writeResult(w http.ResponseWriter, id any, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		writeRPCError(w, id, &types.JSONRPCError{Code: types.CodeInternalError, Message: err.Error()})
		return
	}
	resp := types.JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: raw}
	writeJSON(w, resp)
}

func writeRPCError(w http.ResponseWriter, id any, rpcErr *types.JSONRPCError) {
	resp := types.JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, payload types.JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
