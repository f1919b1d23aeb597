// ABOUTME: MCP JSON-RPC 2.0 endpoint (POST /mcp) over the same controller
// ABOUTME: Supports initialize, tools/list and tools/call without sessions

package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/2389/toolbridge/internal/auth"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

type listToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content           []Content       `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// Content represents content in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// handleJSONRPC processes a JSON-RPC message sent via HTTP POST.
func (a *API) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		a.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, asError(err).Message, nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		a.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	if v := r.Header.Get("Mcp-Protocol-Version"); v != "" && req.Method != "initialize" && !supportedProtocolVersions[v] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	// Notifications (no "id" member at all) get HTTP 202 with no body. An
	// explicit null id is a request and is answered.
	if len(req.ID) == 0 {
		if !strings.HasPrefix(req.Method, "notifications/") {
			a.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		a.handleInitialize(w, req)
	case "ping":
		a.sendJSONRPCResult(w, req.ID, map[string]any{})
	case "tools/list":
		a.handleRPCToolsList(w, r, req)
	case "tools/call":
		a.handleRPCToolsCall(w, r, req)
	default:
		a.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

func (a *API) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	a.sendJSONRPCResult(w, req.ID, map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    "toolbridge",
			"version": "1.0.0",
		},
	})
}

func (a *API) handleRPCToolsList(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params listToolsParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			a.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}

	result, err := a.controller.List(r.Context(), auth.PrincipalOrAnonymous(r.Context()), params.Cursor)
	if err != nil {
		a.sendControllerError(w, req.ID, "list", err)
		return
	}
	a.metrics.ObserveRequest("list", "ok")
	a.sendJSONRPCResult(w, req.ID, result)
}

func (a *API) handleRPCToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params callToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			a.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}
	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	principal := auth.PrincipalOrAnonymous(r.Context())
	result, err := a.controller.Invoke(r.Context(), principal, params.Name, args, r.Header.Get("Authorization"))
	if err != nil {
		e := asError(err)
		if e.Code == CodeExecutionError {
			// Tool failures are results, not protocol errors.
			a.metrics.ObserveRequest("invoke", e.Code)
			a.sendJSONRPCResult(w, req.ID, CallToolResult{
				Content: []Content{{Type: "text", Text: e.Message}},
				IsError: true,
			})
			return
		}
		a.sendControllerError(w, req.ID, "invoke", err)
		return
	}

	a.metrics.ObserveRequest("invoke", "ok")
	a.sendJSONRPCResult(w, req.ID, CallToolResult{
		Content:           []Content{{Type: "text", Text: string(result.Result)}},
		StructuredContent: structured(result.Result),
	})
}

// structured returns raw when it is a JSON object, as structuredContent must be.
func structured(raw json.RawMessage) json.RawMessage {
	if isObject(raw) {
		return raw
	}
	return nil
}

// sendControllerError maps an outer error to a JSON-RPC error. Gate denials
// keep their HTTP status and challenge so clients can start an OAuth flow.
func (a *API) sendControllerError(w http.ResponseWriter, id json.RawMessage, operation string, err error) {
	e := asError(err)
	a.metrics.ObserveRequest(operation, e.Code)

	data := map[string]any{"code": e.Code}
	switch e.Code {
	case CodeUnauthenticated, CodeInvalidToken, CodeInsufficientScope:
		if e.Challenge != "" {
			w.Header().Set("WWW-Authenticate", e.Challenge)
		}
		if e.Code == CodeInsufficientScope {
			data["requiredScopes"] = nonNil(e.RequiredScopes)
			data["missingScopes"] = nonNil(e.MissingScopes)
			data["currentScopes"] = nonNil(e.CurrentScopes)
		}
		a.writeJSONRPC(w, e.Status, JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &JSONRPCError{Code: JSONRPCInvalidRequest, Message: e.Message, Data: data},
		})
		return
	case CodeExecutionError:
		a.sendJSONRPCError(w, id, JSONRPCInternalError, e.Message, data)
		return
	}
	a.sendJSONRPCError(w, id, JSONRPCInvalidParams, e.Message, data)
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (a *API) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	a.writeJSONRPC(w, http.StatusOK, JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

// sendJSONRPCError sends a JSON-RPC error response.
func (a *API) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	a.writeJSONRPC(w, http.StatusOK, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
	})
}

func (a *API) writeJSONRPC(w http.ResponseWriter, status int, resp JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}
