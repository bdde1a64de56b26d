// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/loomhq/loom/pkg/a2a/types"
	loomerr "github.com/loomhq/loom/pkg/errors"
)

// ToJSONRPCError translates an internal error into the JSON-RPC error object
// the A2A wire format expects. Unclassified errors come out as -32603 so no
// internal detail leaks past the boundary untyped.
func ToJSONRPCError(err error) *types.JSONRPCError {
	if err == nil {
		return nil
	}
	le := loomerr.AsLoomError(err)
	return &types.JSONRPCError{
		Code:    jsonrpcCode(le.Code),
		Message: le.Message,
	}
}

func jsonrpcCode(code loomerr.ErrorCode) int {
	switch code {
	case loomerr.CodeInvalidParams:
		return types.CodeInvalidParams
	case loomerr.CodeTaskNotFound:
		return types.CodeTaskNotFound
	case loomerr.CodeTaskNotCancelable:
		return types.CodeTaskNotCancelable
	case loomerr.CodePushNotSupported:
		return types.CodePushNotSupported
	case loomerr.CodeUnsupportedOperation:
		return types.CodeUnsupportedOperation
	default:
		return types.CodeInternalError
	}
}
