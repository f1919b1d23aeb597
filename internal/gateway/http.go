// ABOUTME: HTTP handlers for list, describe, invoke, per-tool aliases and metadata
// ABOUTME: Routes are mounted at the root and again under the /mcp prefix

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/2389/toolbridge/internal/auth"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// DefaultMaxAge is the Cache-Control max-age for discovery responses, in seconds.
const DefaultMaxAge = 60

// routePrefixes are the mount points of the tool routes.
var routePrefixes = []string{"", "/mcp"}

// DiscoveryService is what the HTTP layer needs beyond the controller.
type DiscoveryService interface {
	Discoverer
	Version() uint64
	Invalidate()
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Controller *Controller
	Discovery  DiscoveryService
	Routes     *RouteTable
	// Resolver attaches the calling principal to each request.
	Resolver func(http.Handler) http.Handler
	Metadata MetadataConfig
	MaxAge   int
	Metrics  *Metrics
	Logger   *slog.Logger
}

// API serves the tool surface over HTTP.
type API struct {
	controller *Controller
	discovery  DiscoveryService
	routes     *RouteTable
	resolver   func(http.Handler) http.Handler
	metadata   MetadataConfig
	maxAge     int
	metrics    *Metrics
	logger     *slog.Logger
}

// NewAPI creates the HTTP API.
func NewAPI(cfg APIConfig) (*API, error) {
	if cfg.Controller == nil {
		return nil, errors.New("controller is required")
	}
	if cfg.Discovery == nil {
		return nil, errors.New("discovery is required")
	}
	if cfg.Routes == nil {
		return nil, errors.New("route table is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = func(next http.Handler) http.Handler { return next }
	}
	maxAge := cfg.MaxAge
	if maxAge < 0 {
		maxAge = 0
	}
	return &API{
		controller: cfg.Controller,
		discovery:  cfg.Discovery,
		routes:     cfg.Routes,
		resolver:   resolver,
		metadata:   cfg.Metadata,
		maxAge:     maxAge,
		metrics:    cfg.Metrics,
		logger:     logger.With("component", "http"),
	}, nil
}

// RegisterRoutes registers the tool surface on mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	admin := auth.RequireAdminHTTP()
	for _, prefix := range routePrefixes {
		mux.Handle("GET "+prefix+"/tools/list", a.wrap(a.handleList))
		mux.Handle("GET "+prefix+"/tools/describe", a.wrap(a.handleDescribe))
		mux.Handle("POST "+prefix+"/tools/invoke", a.wrap(a.handleInvoke))
		mux.Handle("POST "+prefix+"/tools/invalidate", a.resolver(admin(http.HandlerFunc(a.handleInvalidate))))
		mux.Handle("GET "+prefix+"/tools/{name}", a.wrap(a.handleAlias))
		mux.Handle("POST "+prefix+"/tools/{name}", a.wrap(a.handleAlias))
	}
	mux.Handle("GET "+ResourceMetadataPath, a.wrap(a.handleResourceMetadata))
	mux.Handle("POST /mcp", a.wrap(a.handleJSONRPC))
}

func (a *API) wrap(h http.HandlerFunc) http.Handler {
	return a.resolver(h)
}

// handleList serves GET /tools/list?cursor=.
func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalOrAnonymous(r.Context())
	cursor := r.URL.Query().Get("cursor")

	etag := discoveryETag(a.discovery.Version(), auth.Fingerprint(principal), "cursor="+cursor)
	if notModified(w, r, a.maxAge, etag) {
		a.metrics.ObserveRequest("list", "not_modified")
		return
	}

	result, err := a.controller.List(r.Context(), principal, cursor)
	if err != nil {
		a.fail(w, "list", err)
		return
	}
	setDiscoveryHeaders(w.Header(), a.maxAge, etag)
	a.metrics.ObserveRequest("list", "ok")
	writeJSON(w, a.logger, result)
}

// handleDescribe serves GET /tools/describe?name=.
func (a *API) handleDescribe(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalOrAnonymous(r.Context())
	name := r.URL.Query().Get("name")
	if name == "" {
		a.fail(w, "describe", missingParameter("name"))
		return
	}

	etag := discoveryETag(a.discovery.Version(), auth.Fingerprint(principal), "name="+name)
	if notModified(w, r, a.maxAge, etag) {
		a.metrics.ObserveRequest("describe", "not_modified")
		return
	}

	result, err := a.controller.Describe(r.Context(), principal, name)
	if err != nil {
		a.fail(w, "describe", err)
		return
	}
	setDiscoveryHeaders(w.Header(), a.maxAge, etag)
	a.metrics.ObserveRequest("describe", "ok")
	writeJSON(w, a.logger, result)
}

// handleInvoke serves POST /tools/invoke with {"name","arguments"}.
func (a *API) handleInvoke(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		a.fail(w, "invoke", err)
		return
	}

	var req map[string]json.RawMessage
	if err := json.Unmarshal(body, &req); err != nil || req == nil {
		a.fail(w, "invoke", invalidJSON())
		return
	}

	var name string
	if err := json.Unmarshal(req["name"], &name); err != nil || name == "" {
		a.fail(w, "invoke", missingParameter("name"))
		return
	}

	a.invoke(w, r, name, req["arguments"])
}

// handleAlias serves GET|POST /tools/{name} as a shortcut for invoke.
func (a *API) handleAlias(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	route, ok := a.routes.Lookup(name)
	if !ok {
		a.fail(w, "invoke", toolNotFound(name))
		return
	}

	var args json.RawMessage
	if r.Method == http.MethodGet {
		var err error
		args, err = queryArguments(r)
		if err != nil {
			a.fail(w, "invoke", err)
			return
		}
	} else {
		body, err := readBody(r)
		if err != nil {
			a.fail(w, "invoke", err)
			return
		}
		args, err = bodyArguments(body)
		if err != nil {
			a.fail(w, "invoke", err)
			return
		}
	}

	a.logger.Debug("tool alias",
		"tool_name", route.Name,
		"auth_level", route.Auth.Level,
		"method", r.Method,
	)
	a.invoke(w, r, name, args)
}

func (a *API) invoke(w http.ResponseWriter, r *http.Request, name string, args json.RawMessage) {
	principal := auth.PrincipalOrAnonymous(r.Context())
	result, err := a.controller.Invoke(r.Context(), principal, name, args, r.Header.Get("Authorization"))
	if err != nil {
		a.fail(w, "invoke", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	a.metrics.ObserveRequest("invoke", "ok")
	writeJSON(w, a.logger, result)
}

// handleInvalidate drops every cached discovery result. Admin only.
func (a *API) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	a.discovery.Invalidate()
	a.routes.Rebuild()

	principal := auth.FromContext(r.Context())
	a.logger.Info("discovery invalidated by request", "principal_id", principal.ID)

	w.Header().Set("Cache-Control", "no-store")
	a.metrics.ObserveRequest("invalidate", "ok")
	writeJSON(w, a.logger, map[string]any{
		"invalidated": true,
		"version":     a.discovery.Version(),
	})
}

// handleResourceMetadata serves the RFC 9728 document for the caller.
func (a *API) handleResourceMetadata(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalOrAnonymous(r.Context())

	etag := discoveryETag(a.discovery.Version(), auth.Fingerprint(principal), "metadata")
	if notModified(w, r, a.maxAge, etag) {
		return
	}

	result, err := a.discovery.Discover(r.Context(), principal)
	if err != nil {
		a.fail(w, "metadata", executionError("Tool discovery failed", err))
		return
	}
	setDiscoveryHeaders(w.Header(), a.maxAge, etag)
	a.metrics.ObserveRequest("metadata", "ok")
	writeJSON(w, a.logger, BuildResourceMetadata(a.metadata, result))
}

func (a *API) fail(w http.ResponseWriter, operation string, err error) {
	e := asError(err)
	if e.Status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "operation", operation, "code", e.Code, "error", err)
	} else {
		a.logger.Debug("request rejected", "operation", operation, "code", e.Code, "message", e.Message)
	}
	a.metrics.ObserveRequest(operation, e.Code)
	writeError(w, a.logger, e)
}

// readBody reads at most MaxRequestBodySize bytes.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		return nil, invalidJSON()
	}
	if int64(len(body)) > MaxRequestBodySize {
		return nil, &Error{
			Status:  http.StatusRequestEntityTooLarge,
			Code:    CodeInvalidJSON,
			Message: "Request body too large",
		}
	}
	return body, nil
}

// queryArguments builds arguments from the query string: an "arguments"
// parameter holding a JSON object, or each parameter as a string argument.
func queryArguments(r *http.Request) (json.RawMessage, error) {
	q := r.URL.Query()
	if raw := q.Get("arguments"); raw != "" {
		if !isObject(json.RawMessage(raw)) {
			return nil, missingParameter("arguments")
		}
		return json.RawMessage(raw), nil
	}
	args := make(map[string]string, len(q))
	for key := range q {
		args[key] = q.Get(key)
	}
	out, err := json.Marshal(args)
	if err != nil {
		return nil, invalidJSON()
	}
	return out, nil
}

// bodyArguments accepts {"arguments":{...}} or the bare arguments object.
// An empty body means no arguments.
func bodyArguments(body []byte) (json.RawMessage, error) {
	if len(body) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return nil, invalidJSON()
	}
	if inner, ok := obj["arguments"]; ok && len(obj) == 1 && isObject(inner) {
		return inner, nil
	}
	return json.RawMessage(body), nil
}
