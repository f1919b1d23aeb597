// Package gateway serves registered procedures as tools.
//
// # Overview
//
// The gateway package wires the procedure registry, discovery service and
// OAuth gate into an HTTP surface. It owns the store, the HTTP server, an
// optional gRPC health server and, when enabled, a tailscale node.
//
// # HTTP API
//
// Tool routes are mounted at both "" and "/mcp":
//
//   - GET /tools/list?cursor= - One page of tools visible to the caller
//   - GET /tools/describe?name= - A single tool
//   - POST /tools/invoke - {"name": ..., "arguments": {...}}
//   - GET|POST /tools/{name} - Per-tool alias of invoke
//   - POST /tools/invalidate - Drop cached discovery results (admin)
//
// Plus:
//
//   - POST /mcp - JSON-RPC 2.0 (initialize, ping, tools/list, tools/call)
//   - GET /.well-known/oauth-protected-resource - Resource metadata
//   - GET /health, GET /health/ready - Liveness and readiness
//
// Errors use a single envelope:
//
//	{"error": {"code": "tool_not_found", "message": "..."}}
//
// Authorization failures add a WWW-Authenticate challenge and, for
// insufficient_scope, the required, missing and current scopes.
//
// # Caching
//
// Discovery responses are private to the caller and carry a strong ETag
// derived from the registry version and the caller's fingerprint, so a
// conditional request is answered 304 without running discovery. Invocation
// responses and every error are no-store.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	err = gw.Run(ctx)
//
// # Key Files
//
//   - gateway.go: Gateway struct, wiring, Run/Shutdown
//   - controller.go: list, describe and invoke operations
//   - http.go: REST handlers
//   - jsonrpc.go: JSON-RPC endpoint
//   - routes.go: per-tool alias table
//   - cache.go: ETag and Cache-Control helpers
package gateway
