// ABOUTME: Thread-safe registry of procedures, their handlers, and extension metadata.
// ABOUTME: Keeps registration order, a version counter, and notifies subscribers on change.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrProcedureExists indicates a procedure with the same ID is already registered.
var ErrProcedureExists = errors.New("procedure already registered")

// ErrProcedureNotFound indicates the requested procedure is not registered.
var ErrProcedureNotFound = errors.New("procedure not found")

// ErrInvalidSchema indicates a parameter schema could not be compiled.
var ErrInvalidSchema = errors.New("invalid parameter schema")

// Handler executes a procedure. params is the JSON object of named arguments.
// The calling principal, if any, is available from the context.
type Handler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Procedure is everything needed to register a callable procedure.
type Procedure struct {
	Descriptor   Descriptor
	Handler      Handler
	Extension    *Extension    // nil means not exposed as a tool
	OutputSchema any           // optional, returned by OutputSchema when non-nil
	Timeout      time.Duration // overrides the dispatcher default when > 0
}

// EventType identifies a registry change.
type EventType string

const (
	EventRegistered   EventType = "registered"
	EventUnregistered EventType = "unregistered"
	EventExtension    EventType = "extension"
)

// Event is delivered to subscribers after every mutation.
type Event struct {
	Type        EventType
	ProcedureID string
	Version     uint64
}

// Source is the read side of the registry consumed by discovery and routing.
type Source interface {
	Procedures() []Descriptor
	Version() uint64
	Extension(impl string) (*Extension, bool)
	OutputSchema(impl string) (any, bool)
	Subscribe(fn func(Event)) (cancel func())
}

type entry struct {
	proc   Procedure
	params *jsonschema.Resolved
}

// Registry maintains registered procedures in registration order.
type Registry struct {
	mu         sync.RWMutex
	order      []string
	procedures map[string]*entry
	extensions map[string]*Extension // impl -> extension
	outputs    map[string]any        // impl -> output schema
	version    uint64
	logger     *slog.Logger

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

var _ Source = (*Registry)(nil)

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		procedures: make(map[string]*entry),
		extensions: make(map[string]*Extension),
		outputs:    make(map[string]any),
		logger:     logger,
		subs:       make(map[int]func(Event)),
	}
}

// Register validates and stores a procedure.
// Returns ErrProcedureExists if the ID is taken, ErrInvalidSchema if a
// parameter schema does not compile, ErrInvalidAuthLevel or
// ErrAnnotationsNotMap if the extension's auth annotation is malformed.
func (r *Registry) Register(p Procedure) error {
	desc := p.Descriptor
	if desc.ID == "" {
		return errors.New("procedure id is required")
	}
	if p.Handler == nil {
		return fmt.Errorf("procedure %q: handler is required", desc.ID)
	}
	if desc.Impl == "" {
		desc.Impl = desc.ID
		p.Descriptor = desc
	}

	if p.Extension != nil {
		if err := validateAuthAnnotation(p.Extension.Annotations); err != nil {
			return fmt.Errorf("procedure %q: %w", desc.ID, err)
		}
	}

	resolved, err := compileParams(desc)
	if err != nil {
		return fmt.Errorf("%w: procedure %q: %v", ErrInvalidSchema, desc.ID, err)
	}

	r.mu.Lock()
	if _, exists := r.procedures[desc.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProcedureExists, desc.ID)
	}
	r.procedures[desc.ID] = &entry{proc: p, params: resolved}
	r.order = append(r.order, desc.ID)
	if p.Extension != nil {
		r.extensions[desc.Impl] = p.Extension
	}
	if p.OutputSchema != nil {
		r.outputs[desc.Impl] = p.OutputSchema
	}
	r.version++
	version := r.version
	total := len(r.order)
	r.mu.Unlock()

	r.logger.Info("=== PROCEDURE REGISTERED ===",
		"procedure_id", desc.ID,
		"exposed", p.Extension != nil,
		"param_count", len(desc.Params),
		"total_procedures", total,
	)

	r.notify(Event{Type: EventRegistered, ProcedureID: desc.ID, Version: version})
	return nil
}

// Unregister removes a procedure and its side-table entries.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	e, exists := r.procedures[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProcedureNotFound, id)
	}
	delete(r.procedures, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	delete(r.extensions, e.proc.Descriptor.Impl)
	delete(r.outputs, e.proc.Descriptor.Impl)
	r.version++
	version := r.version
	total := len(r.order)
	r.mu.Unlock()

	r.logger.Info("=== PROCEDURE UNREGISTERED ===",
		"procedure_id", id,
		"total_procedures", total,
	)

	r.notify(Event{Type: EventUnregistered, ProcedureID: id, Version: version})
	return nil
}

// SetExtension attaches or replaces extension metadata for an implementation
// reference. Used when applying the exposure manifest.
func (r *Registry) SetExtension(impl string, ext *Extension) {
	r.mu.Lock()
	if ext == nil {
		delete(r.extensions, impl)
	} else {
		r.extensions[impl] = ext
	}
	r.version++
	version := r.version
	r.mu.Unlock()

	r.notify(Event{Type: EventExtension, ProcedureID: impl, Version: version})
}

// Procedures returns all descriptors in registration order.
func (r *Registry) Procedures() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.procedures[id].proc.Descriptor)
	}
	return out
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.procedures[id]
	if !ok {
		return Descriptor{}, false
	}
	return e.proc.Descriptor, true
}

// Version returns a counter bumped by every mutation.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Extension looks up extension metadata by implementation reference.
func (r *Registry) Extension(impl string) (*Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.extensions[impl]
	return ext, ok
}

// OutputSchema looks up the output schema by implementation reference.
func (r *Registry) OutputSchema(impl string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.outputs[impl]
	return schema, ok
}

// Subscribe registers fn to be called after every mutation. Callbacks run
// synchronously on the mutating goroutine, outside the registry lock.
func (r *Registry) Subscribe(fn func(Event)) (cancel func()) {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) notify(ev Event) {
	r.subMu.Lock()
	fns := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// lookup returns the internal entry for dispatch.
func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.procedures[id]
	return e, ok
}

// compileParams builds the object schema for a descriptor's params and
// resolves it for validation.
func compileParams(desc Descriptor) (*jsonschema.Resolved, error) {
	props := make(map[string]any, len(desc.Params))
	var required []string
	for _, p := range desc.Params {
		if p.Name == "" {
			return nil, errors.New("parameter name is required")
		}
		schema := p.Spec.Schema
		if schema == nil {
			schema = map[string]any{}
		}
		props[p.Name] = schema
		if p.Spec.Required {
			required = append(required, p.Name)
		}
	}
	obj := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		obj["required"] = required
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	return schema.Resolve(nil)
}
