// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/loomhq/loom/pkg/a2a/types"
	loomerr "github.com/loomhq/loom/pkg/errors"
)

// ValidateSendParams checks an inbound message/send or message/stream request
// before it reaches the store or an executor. A failure here maps to an
// InvalidParams JSON-RPC error, not a failed task.
func ValidateSendParams(params *types.MessageSendParams) error {
	if params == nil || params.Message == nil {
		return loomerr.New(loomerr.CodeInvalidParams, "message is required", nil)
	}
	msg := params.Message
	if len(msg.Parts) == 0 {
		return loomerr.New(loomerr.CodeInvalidParams, "message has no parts", nil)
	}
	for i, part := range msg.Parts {
		switch part.Kind {
		case types.PartKindText:
			if part.Text == "" {
				return loomerr.New(loomerr.CodeInvalidParams, "text part is empty", nil).
					WithContext("part_index", i)
			}
		case types.PartKindFile:
			if part.File == nil {
				return loomerr.New(loomerr.CodeInvalidParams, "file part has no file", nil).
					WithContext("part_index", i)
			}
		case types.PartKindData:
			if part.Data == nil {
				return loomerr.New(loomerr.CodeInvalidParams, "data part has no data", nil).
					WithContext("part_index", i)
			}
		default:
			return loomerr.New(loomerr.CodeInvalidParams, "unknown part kind", nil).
				WithContext("part_index", i).
				WithContext("kind", part.Kind)
		}
	}
	if msg.Role != "" && msg.Role != types.RoleUser {
		return loomerr.New(loomerr.CodeInvalidParams, "inbound message role must be user", nil).
			WithContext("role", string(msg.Role))
	}
	if cfg := params.Configuration; cfg != nil && cfg.HistoryLength < 0 {
		return loomerr.New(loomerr.CodeInvalidParams, "history length must be non-negative", nil)
	}
	return nil
}
