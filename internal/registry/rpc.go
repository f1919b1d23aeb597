// ABOUTME: Procedure-level error type returned by the dispatcher.
// ABOUTME: Codes follow JSON-RPC 2.0 numbering so inner failures stay recognisable in logs.

package registry

import (
	"errors"
	"fmt"
)

// JSON-RPC style error codes reported by procedures and the dispatcher.
const (
	CodeInvalidParams = -32602
	CodeServerError   = -32000
	CodeAccessDenied  = -32001
)

// RPCError is a procedure-level failure: the call reached the procedure (or its
// parameter and access checks) and was rejected. Anything else the dispatcher
// returns is a fault.
type RPCError struct {
	Code    int
	Message string
	Data    any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewError builds an RPCError with the server error code.
func NewError(format string, args ...any) *RPCError {
	return &RPCError{Code: CodeServerError, Message: fmt.Sprintf(format, args...)}
}

// InvalidParams builds an RPCError for bad arguments.
func InvalidParams(format string, args ...any) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// AsRPCError extracts an RPCError from err.
func AsRPCError(err error) (*RPCError, bool) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}
