// ABOUTME: Gateway orchestrator that wires the registry, discovery, gate and HTTP surface
// ABOUTME: Manages store, listeners (TCP or tailscale), gRPC health and shutdown lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/toolbridge/internal/auth"
	"github.com/2389/toolbridge/internal/config"
	"github.com/2389/toolbridge/internal/discovery"
	"github.com/2389/toolbridge/internal/examples"
	"github.com/2389/toolbridge/internal/oauth"
	"github.com/2389/toolbridge/internal/registry"
	"github.com/2389/toolbridge/internal/store"
	"github.com/2389/toolbridge/internal/tool"
)

// tokenSweepInterval is how often expired bearer tokens are purged.
const tokenSweepInterval = 10 * time.Minute

// bearerTokens is a token store that can also resolve the owning principal.
type bearerTokens interface {
	oauth.TokenStore
	auth.BearerLookup
}

// Gateway orchestrates the toolbridge server components.
// It serves the tool surface over HTTP and, optionally, gRPC health checks.
type Gateway struct {
	config     *config.Config
	store      *store.SQLiteStore
	registry   *registry.Registry
	dispatcher *registry.Dispatcher
	discovery  *discovery.Service
	routes     *RouteTable
	tokens     bearerTokens
	metrics    *Metrics
	handler    http.Handler

	httpServer  *http.Server
	grpcServer  *grpc.Server // nil when gRPC is disabled
	health      *health.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// initStore opens the SQLite database, creating its directory if needed.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TOOLBRIDGE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initTokens selects the bearer token backend.
func initTokens(cfg *config.Config, s *store.SQLiteStore) bearerTokens {
	if cfg.OAuth.TokenStore == config.TokenStoreMemory {
		return oauth.NewMemoryTokenStore()
	}
	return oauth.NewSQLTokenStore(s)
}

// applyExposure attaches the configured extension metadata to procedures.
func applyExposure(reg *registry.Registry, entries []config.ExposureEntry, logger *slog.Logger) error {
	known := make(map[string]bool)
	for _, d := range reg.Procedures() {
		known[d.Impl] = true
	}
	for _, entry := range entries {
		ext, err := entry.Extension()
		if err != nil {
			return fmt.Errorf("exposure %s: %w", entry.Impl, err)
		}
		if !known[entry.Impl] {
			logger.Warn("exposure entry matches no registered procedure", "impl", entry.Impl)
		}
		reg.SetExtension(entry.Impl, ext)
	}
	return nil
}

// resourceMetadataURL returns the absolute metadata URL for challenges, or ""
// when no resource identifier is configured.
func resourceMetadataURL(cfg *config.Config) string {
	if cfg.OAuth.Resource == "" {
		return ""
	}
	return cfg.OAuth.Resource + ResourceMetadataPath
}

// createGRPCServer creates the gRPC server carrying the health service.
func createGRPCServer(logger *slog.Logger) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(loggingUnaryInterceptor(logger)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

func loggingUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call", "method", info.FullMethod, "duration", time.Since(start), "error", err)
		return resp, err
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := build(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

func build(cfg *config.Config, s *store.SQLiteStore, logger *slog.Logger) (*Gateway, error) {
	ctx := context.Background()

	reg := registry.New(logger.With("component", "registry"))
	if cfg.Examples.Enabled {
		if err := examples.Seed(ctx, s); err != nil {
			return nil, fmt.Errorf("seeding example content: %w", err)
		}
		if err := examples.Register(reg, s); err != nil {
			return nil, fmt.Errorf("registering examples: %w", err)
		}
	}
	if err := applyExposure(reg, cfg.Exposure, logger); err != nil {
		return nil, err
	}

	permissions := auth.RoleChecker{AllowEmpty: true}
	dispatcher := registry.NewDispatcher(registry.DispatcherConfig{
		Registry:    reg,
		Permissions: permissions,
		Logger:      logger.With("component", "dispatcher"),
		Timeout:     cfg.Dispatch.Timeout,
	})

	disc, err := discovery.New(discovery.Config{
		Registry:    reg,
		Permissions: permissions,
		CacheTTL:    cfg.Discovery.CacheTTL,
		CacheSize:   cfg.Discovery.CacheSize,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating discovery service: %w", err)
	}

	tokens := initTokens(cfg, s)
	gate, err := oauth.NewGate(oauth.GateConfig{
		Tokens:              tokens,
		Realm:               cfg.OAuth.Realm,
		ResourceMetadataURL: resourceMetadataURL(cfg),
		Logger:              logger.With("component", "gate"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating gate: %w", err)
	}

	resolverCfg := auth.ResolverConfig{
		Principals:           s,
		Bearers:              tokens,
		CookieName:           cfg.Auth.SessionCookie,
		AnonymousPermissions: cfg.Auth.AnonymousPermissions,
		Logger:               logger.With("component", "resolver"),
	}
	if cfg.Auth.JWTSecret != "" {
		signer, err := auth.NewSessionSigner([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating session signer: %w", err)
		}
		resolverCfg.Sessions = signer
	} else {
		logger.Warn("session cookies disabled - no jwt_secret configured")
	}

	metrics := NewMetrics(nil)
	routes := NewRouteTable(reg, metrics, logger)

	controller, err := NewController(ControllerConfig{
		Discovery:  disc,
		Normalizer: tool.NewNormalizer(reg),
		Gate:       gate,
		Dispatcher: dispatcher,
		Audit:      s,
		Metrics:    metrics,
		PageSize:   cfg.Discovery.PageSize,
		Logger:     logger.With("component", "controller"),
	})
	if err != nil {
		return nil, err
	}

	api, err := NewAPI(APIConfig{
		Controller: controller,
		Discovery:  disc,
		Routes:     routes,
		Resolver:   auth.ResolvePrincipal(resolverCfg),
		Metadata: MetadataConfig{
			Resource:             cfg.OAuth.Resource,
			ResourceName:         cfg.OAuth.ResourceName,
			AuthorizationServers: cfg.OAuth.AuthorizationServers,
		},
		MaxAge:  cfg.Discovery.HTTPMaxAge,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:     cfg,
		store:      s,
		registry:   reg,
		dispatcher: dispatcher,
		discovery:  disc,
		routes:     routes,
		tokens:     tokens,
		metrics:    metrics,
		logger:     logger.With("component", "gateway"),
		sweepStop:  make(chan struct{}),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	api.RegisterRoutes(mux)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, metrics.Handler())
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	if cfg.Server.GRPCAddr != "" || cfg.Tailscale.Enabled {
		gw.grpcServer, gw.health = createGRPCServer(logger.With("component", "grpc"))
	}

	gw.handler = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway configured",
		"procedures", len(reg.Procedures()),
		"exposed_tools", len(routes.Names()),
		"token_store", cfg.OAuth.TokenStore,
		"examples", cfg.Examples.Enabled,
	)
	return gw, nil
}

// Handler returns the HTTP handler serving every gateway route.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Registry returns the procedure registry so callers can register their own
// procedures before Run.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// Store returns the underlying SQLite store.
func (g *Gateway) Store() *store.SQLiteStore {
	return g.store
}

// Tokens returns the bearer token store used by the gate.
func (g *Gateway) Tokens() oauth.TokenStore {
	return g.tokens
}

// setupTCPListeners creates standard TCP listeners for HTTP and, when
// configured, gRPC.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning an error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	go g.sweepExpiredTokens()

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// sweepExpiredTokens deletes expired persisted tokens until shutdown.
func (g *Gateway) sweepExpiredTokens() {
	if _, ok := g.tokens.(*oauth.SQLTokenStore); !ok {
		return
	}
	ticker := time.NewTicker(tokenSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := g.store.DeleteExpiredTokens(ctx, time.Now())
			cancel()
			if err != nil {
				g.logger.Warn("token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				g.logger.Info("expired tokens removed", "count", n)
			}
		case <-g.sweepStop:
			return
		}
	}
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "toolbridge", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg, grpcLn)
	if err != nil {
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
	if g.config.OAuth.Resource == "" && dnsName != "" {
		g.logger.Warn("oauth.resource is not set; challenges will omit resource_metadata", "suggested", "https://"+dnsName)
	}
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig, grpcLn net.Listener) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener(grpcLn)
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener(grpcLn net.Listener) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)
	g.sweepOnce.Do(func() { close(g.sweepStop) })

	g.dispatcher.Close()
	g.routes.Close()
	g.discovery.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the database is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d procedures, %d tools, version %d)",
		len(g.registry.Procedures()), len(g.routes.Names()), g.registry.Version())
}
