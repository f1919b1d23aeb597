// ABOUTME: Dispatches procedure calls with correlation IDs, timeouts, and panic recovery.
// ABOUTME: Validates params against declared schemas and enforces procedure access lists.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/toolbridge/internal/auth"
)

// ErrDuplicateCorrelationID indicates the correlation ID is already in flight.
var ErrDuplicateCorrelationID = errors.New("duplicate correlation ID")

// ErrDispatcherClosed indicates the dispatcher no longer accepts calls.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// ErrProcedurePanic indicates the procedure panicked.
var ErrProcedurePanic = errors.New("procedure panicked")

// ErrNoResponse indicates the procedure returned neither a result nor an error.
var ErrNoResponse = errors.New("procedure returned no response")

// DefaultTimeout is the default timeout for a procedure call.
const DefaultTimeout = 30 * time.Second

// DispatcherConfig contains configuration options for the Dispatcher.
type DispatcherConfig struct {
	Registry    *Registry
	Permissions auth.PermissionPredicate
	Logger      *slog.Logger
	Timeout     time.Duration
}

// Dispatcher executes registered procedures.
type Dispatcher struct {
	registry    *Registry
	permissions auth.PermissionPredicate
	logger      *slog.Logger
	timeout     time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

type callResult struct {
	out json.RawMessage
	err error
}

// NewDispatcher creates a Dispatcher with the given configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:    cfg.Registry,
		permissions: cfg.Permissions,
		logger:      logger,
		timeout:     timeout,
		pending:     make(map[string]struct{}),
	}
}

// Call executes procedureID with params under correlationID.
// A rejected call (bad params, access denied, procedure error) is returned as
// *RPCError; timeouts, panics, unknown procedures and a closed dispatcher are
// returned as plain errors.
func (d *Dispatcher) Call(ctx context.Context, procedureID string, params json.RawMessage, correlationID string) (json.RawMessage, error) {
	e, ok := d.registry.lookup(procedureID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProcedureNotFound, procedureID)
	}

	if err := d.createPending(correlationID); err != nil {
		return nil, err
	}
	defer d.closePending(correlationID)

	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage("{}")
	}

	if err := validateParams(e, params); err != nil {
		return nil, err
	}

	if d.permissions != nil {
		principal := auth.PrincipalOrAnonymous(ctx)
		if !d.permissions.Permits(ctx, principal, e.proc.Descriptor.Access) {
			d.logger.Debug("procedure access denied",
				"procedure_id", procedureID,
				"request_id", correlationID,
				"principal_id", principal.ID,
			)
			return nil, &RPCError{Code: CodeAccessDenied, Message: "Access denied"}
		}
	}

	timeout := d.timeout
	if e.proc.Timeout > 0 {
		timeout = e.proc.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.logger.Info("→ dispatching procedure",
		"procedure_id", procedureID,
		"request_id", correlationID,
	)

	resultCh := make(chan callResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- callResult{err: fmt.Errorf("%w: %v", ErrProcedurePanic, rec)}
			}
		}()
		out, err := e.proc.Handler(ctx, params)
		resultCh <- callResult{out: out, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			if errors.Is(res.err, ErrProcedurePanic) {
				d.logger.Error("procedure panicked",
					"procedure_id", procedureID,
					"request_id", correlationID,
					"error", res.err,
				)
				return nil, res.err
			}
			d.logger.Warn("procedure error",
				"procedure_id", procedureID,
				"request_id", correlationID,
				"error", res.err,
			)
			if rpcErr, ok := AsRPCError(res.err); ok {
				return nil, rpcErr
			}
			return nil, &RPCError{Code: CodeServerError, Message: res.err.Error()}
		}
		if res.out == nil {
			return nil, ErrNoResponse
		}
		d.logger.Info("← procedure responded",
			"procedure_id", procedureID,
			"request_id", correlationID,
		)
		return res.out, nil
	case <-ctx.Done():
		d.logger.Warn("procedure call timed out or cancelled",
			"procedure_id", procedureID,
			"request_id", correlationID,
			"timeout", timeout,
			"error", ctx.Err(),
		)
		return nil, ctx.Err()
	}
}

// createPending registers a correlation ID as in flight.
func (d *Dispatcher) createPending(correlationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	if _, exists := d.pending[correlationID]; exists {
		return ErrDuplicateCorrelationID
	}
	d.pending[correlationID] = struct{}{}
	return nil
}

func (d *Dispatcher) closePending(correlationID string) {
	d.mu.Lock()
	delete(d.pending, correlationID)
	d.mu.Unlock()
}

// Pending returns the number of calls in flight.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close stops accepting new calls. In-flight calls run to completion.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	d.logger.Info("dispatcher closed", "pending_calls", len(d.pending))
}

func validateParams(e *entry, params json.RawMessage) error {
	var instance any
	if err := json.Unmarshal(params, &instance); err != nil {
		return InvalidParams("params must be valid JSON: %v", err)
	}
	if _, ok := instance.(map[string]any); !ok {
		return InvalidParams("params must be an object")
	}
	if e.params == nil {
		return nil
	}
	if err := e.params.Validate(instance); err != nil {
		return InvalidParams("%v", err)
	}
	return nil
}
