// ABOUTME: Controller orchestrating discovery, normalization, the OAuth gate and dispatch
// ABOUTME: Implements list, describe and invoke independently of the HTTP transport

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/toolbridge/internal/auth"
	"github.com/2389/toolbridge/internal/discovery"
	"github.com/2389/toolbridge/internal/oauth"
	"github.com/2389/toolbridge/internal/registry"
	"github.com/2389/toolbridge/internal/store"
	"github.com/2389/toolbridge/internal/tool"
)

// Discoverer computes the tools a principal may see.
type Discoverer interface {
	Discover(ctx context.Context, principal *auth.Principal) (*discovery.Result, error)
}

// Authorizer is the OAuth gate consulted before every invocation.
type Authorizer interface {
	Authorize(ctx context.Context, req tool.AuthRequirement, principal *auth.Principal, authorization string) oauth.Decision
}

// Dispatcher executes a procedure by ID.
type Dispatcher interface {
	Call(ctx context.Context, procedureID string, params json.RawMessage, correlationID string) (json.RawMessage, error)
}

// InvocationRecorder persists an audit record of each invocation.
type InvocationRecorder interface {
	RecordInvocation(ctx context.Context, inv *store.Invocation) error
}

// ListResult is the response to list.
type ListResult struct {
	Tools      []tool.Tool `json:"tools"`
	NextCursor *string     `json:"nextCursor"`
}

// DescribeResult is the response to describe.
type DescribeResult struct {
	Tool tool.Tool `json:"tool"`
}

// InvokeResult is the response to invoke.
type InvokeResult struct {
	Result json.RawMessage `json:"result"`
}

// ControllerConfig holds the controller's collaborators.
type ControllerConfig struct {
	Discovery  Discoverer
	Normalizer *tool.Normalizer
	Gate       Authorizer
	Dispatcher Dispatcher
	Audit      InvocationRecorder // optional
	Metrics    *Metrics           // optional
	PageSize   int
	Logger     *slog.Logger
}

// Controller implements the tool operations. It holds no per-request state.
type Controller struct {
	discovery  Discoverer
	normalizer *tool.Normalizer
	gate       Authorizer
	dispatcher Dispatcher
	audit      InvocationRecorder
	metrics    *Metrics
	pageSize   int
	logger     *slog.Logger
}

// NewController creates a Controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Discovery == nil {
		return nil, errors.New("discovery is required")
	}
	if cfg.Normalizer == nil {
		return nil, errors.New("normalizer is required")
	}
	if cfg.Gate == nil {
		return nil, errors.New("gate is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = tool.DefaultPageSize
	}
	return &Controller{
		discovery:  cfg.Discovery,
		normalizer: cfg.Normalizer,
		gate:       cfg.Gate,
		dispatcher: cfg.Dispatcher,
		audit:      cfg.Audit,
		metrics:    cfg.Metrics,
		pageSize:   pageSize,
		logger:     logger,
	}, nil
}

// List returns one page of tools visible to principal.
func (c *Controller) List(ctx context.Context, principal *auth.Principal, cursor string) (*ListResult, error) {
	result, err := c.discovery.Discover(ctx, principal)
	if err != nil {
		return nil, executionError("Tool discovery failed", err)
	}

	page, next, err := tool.Page(result.Entries(), cursor, c.pageSize)
	if err != nil {
		return nil, &Error{
			Status:  http.StatusBadRequest,
			Code:    CodeInvalidCursor,
			Message: "Cursor is not valid",
			Err:     err,
		}
	}

	tools := make([]tool.Tool, 0, len(page))
	for _, e := range page {
		tools = append(tools, c.normalizer.Normalize(e.Descriptor))
	}
	return &ListResult{Tools: tools, NextCursor: next}, nil
}

// Describe returns a single tool visible to principal.
func (c *Controller) Describe(ctx context.Context, principal *auth.Principal, name string) (*DescribeResult, error) {
	if name == "" {
		return nil, missingParameter("name")
	}
	entry, err := c.lookup(ctx, principal, name)
	if err != nil {
		return nil, err
	}
	return &DescribeResult{Tool: c.normalizer.Normalize(entry.Descriptor)}, nil
}

// Invoke runs a tool on behalf of principal. arguments must be a JSON object.
// authorization is the raw Authorization header, if any.
func (c *Controller) Invoke(ctx context.Context, principal *auth.Principal, name string, arguments json.RawMessage, authorization string) (*InvokeResult, error) {
	if name == "" {
		return nil, missingParameter("name")
	}
	if !isObject(arguments) {
		return nil, missingParameter("arguments")
	}
	if principal == nil {
		principal = auth.Anonymous(nil)
	}

	start := time.Now()
	correlationID := "mcp_" + uuid.New().String()
	result, label, err := c.invoke(ctx, principal, name, arguments, authorization, correlationID)

	outcome := "ok"
	if err != nil {
		outcome = asError(err).Code
	}
	duration := time.Since(start)
	c.metrics.ObserveInvocation(label, outcome, duration)
	c.record(ctx, &store.Invocation{
		ID:            uuid.New().String(),
		ToolName:      name,
		PrincipalID:   principal.ID,
		CorrelationID: correlationID,
		Outcome:       outcome,
		Duration:      duration,
		CreatedAt:     start.UTC(),
	})

	c.logger.Info("tool invoked",
		"tool_name", name,
		"request_id", correlationID,
		"principal_id", principal.ID,
		"status", outcome,
		"duration", duration,
	)
	return result, err
}

// invoke also returns the metrics label for the call: the procedure ID once
// the tool is known, unknownToolLabel before that. Client-supplied names never
// become label values.
func (c *Controller) invoke(ctx context.Context, principal *auth.Principal, name string, arguments json.RawMessage, authorization, correlationID string) (*InvokeResult, string, error) {
	entry, err := c.lookup(ctx, principal, name)
	if err != nil {
		return nil, unknownToolLabel, err
	}
	label := entry.Descriptor.ID

	decision := c.gate.Authorize(ctx, tool.RequirementFor(entry.Extension), principal, authorization)
	if !decision.Allowed {
		c.metrics.ObserveGateDenial(decision.Code)
		return nil, label, errorFromDecision(decision)
	}

	out, err := c.dispatcher.Call(auth.WithPrincipal(ctx, principal), entry.Descriptor.ID, arguments, correlationID)
	if err != nil {
		return nil, label, translateCallError(err)
	}
	return &InvokeResult{Result: out}, label, nil
}

// lookup discovers name for principal. Unknown and forbidden tools are
// indistinguishable.
func (c *Controller) lookup(ctx context.Context, principal *auth.Principal, name string) (discovery.Entry, error) {
	result, err := c.discovery.Discover(ctx, principal)
	if err != nil {
		return discovery.Entry{}, executionError("Tool discovery failed", err)
	}
	entry, ok := result.Lookup(name)
	if !ok {
		return discovery.Entry{}, toolNotFound(name)
	}
	return entry, nil
}

func (c *Controller) record(ctx context.Context, inv *store.Invocation) {
	if c.audit == nil {
		return
	}
	if err := c.audit.RecordInvocation(context.WithoutCancel(ctx), inv); err != nil {
		c.logger.Warn("failed to record invocation", "tool_name", inv.ToolName, "error", err)
	}
}

// translateCallError maps dispatcher failures to execution errors.
func translateCallError(err error) *Error {
	if rpcErr, ok := registry.AsRPCError(err); ok {
		return executionError(rpcErr.Message, err)
	}
	if errors.Is(err, registry.ErrNoResponse) {
		return executionError("Tool execution returned no response", err)
	}
	return executionError(fmt.Sprintf("Tool execution failed: %s", err), err)
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
