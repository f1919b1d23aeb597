// ABOUTME: Configuration loading and parsing for toolbridge
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/toolbridge/internal/registry"
)

// Defaults applied by Load when a value is not set.
const (
	DefaultPageSize        = 50
	DefaultCacheSize       = 1024
	DefaultHTTPMaxAge      = 60
	DefaultDispatchTimeout = 30 * time.Second
	DefaultMetricsPath     = "/metrics"
	DefaultTokenStore      = TokenStoreSQLite
	DefaultRealm           = "MCP Tools"
	DefaultSessionCookie   = "toolbridge_session"
)

// Token store backends.
const (
	TokenStoreSQLite = "sqlite"
	TokenStoreMemory = "memory"
)

// minSecretLength matches the session signer's requirement.
const minSecretLength = 32

// Config represents the complete toolbridge configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	OAuth     OAuthConfig     `yaml:"oauth" toml:"oauth"`
	Discovery DiscoveryConfig `yaml:"discovery" toml:"discovery"`
	Dispatch  DispatchConfig  `yaml:"dispatch" toml:"dispatch"`
	Exposure  []ExposureEntry `yaml:"exposure" toml:"exposure"`
	Examples  ExamplesConfig  `yaml:"examples" toml:"examples"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr enables the gRPC health service when set.
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	// PublicURL is the externally visible base URL, used for resource metadata.
	PublicURL string `yaml:"public_url" toml:"public_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds principal resolution configuration
type AuthConfig struct {
	// JWTSecret signs session cookies. Sessions are disabled when empty.
	JWTSecret     string `yaml:"jwt_secret" toml:"jwt_secret"`
	SessionCookie string `yaml:"session_cookie" toml:"session_cookie"`
	// AnonymousPermissions are granted to every caller, signed in or not.
	AnonymousPermissions []string `yaml:"anonymous_permissions" toml:"anonymous_permissions"`
}

// OAuthConfig holds bearer token and resource metadata configuration
type OAuthConfig struct {
	Realm                string   `yaml:"realm" toml:"realm"`
	Resource             string   `yaml:"resource" toml:"resource"`
	ResourceName         string   `yaml:"resource_name" toml:"resource_name"`
	AuthorizationServers []string `yaml:"authorization_servers" toml:"authorization_servers"`
	TokenStore           string   `yaml:"token_store" toml:"token_store"`
}

// DiscoveryConfig holds listing and caching configuration
type DiscoveryConfig struct {
	PageSize   int           `yaml:"page_size" toml:"page_size"`
	CacheTTL   time.Duration `yaml:"-" toml:"-"`
	CacheSize  int           `yaml:"cache_size" toml:"cache_size"`
	HTTPMaxAge int           `yaml:"http_max_age" toml:"http_max_age"`

	// Raw string values for unmarshaling
	CacheTTLRaw string `yaml:"cache_ttl" toml:"cache_ttl"`
}

// DispatchConfig holds procedure execution configuration
type DispatchConfig struct {
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// ExposureEntry exposes a registered procedure as a tool by attaching
// extension metadata to its implementation reference.
type ExposureEntry struct {
	Impl        string `yaml:"impl" toml:"impl"`
	Title       string `yaml:"title" toml:"title"`
	Annotations any    `yaml:"annotations" toml:"annotations"`
}

// Extension validates the entry and builds its extension metadata.
func (e ExposureEntry) Extension() (*registry.Extension, error) {
	return registry.NewExtension(e.Title, normalizeAnnotations(e.Annotations))
}

// ExamplesConfig controls the bundled example procedures
type ExamplesConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// envVarPattern matches ${VAR_NAME}.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Auth.SessionCookie == "" {
		c.Auth.SessionCookie = DefaultSessionCookie
	}
	if c.OAuth.Realm == "" {
		c.OAuth.Realm = DefaultRealm
	}
	if c.OAuth.TokenStore == "" {
		c.OAuth.TokenStore = DefaultTokenStore
	}
	if c.OAuth.Resource == "" && c.Server.PublicURL != "" {
		c.OAuth.Resource = strings.TrimRight(c.Server.PublicURL, "/")
	}
	if c.Discovery.PageSize == 0 {
		c.Discovery.PageSize = DefaultPageSize
	}
	if c.Discovery.CacheSize == 0 {
		c.Discovery.CacheSize = DefaultCacheSize
	}
	if c.Discovery.HTTPMaxAge == 0 {
		c.Discovery.HTTPMaxAge = DefaultHTTPMaxAge
	}
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = DefaultDispatchTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}

	switch c.OAuth.TokenStore {
	case TokenStoreSQLite, TokenStoreMemory:
	default:
		return fmt.Errorf("oauth.token_store must be %q or %q, got %q", TokenStoreSQLite, TokenStoreMemory, c.OAuth.TokenStore)
	}

	if c.Discovery.PageSize < 0 {
		return errors.New("discovery.page_size must be positive")
	}
	if c.Discovery.CacheSize < 0 {
		return errors.New("discovery.cache_size must be positive")
	}
	if c.Discovery.CacheTTL < 0 {
		return errors.New("discovery.cache_ttl must not be negative")
	}
	if c.Dispatch.Timeout < 0 {
		return errors.New("dispatch.timeout must be positive")
	}

	seen := make(map[string]bool, len(c.Exposure))
	for i, e := range c.Exposure {
		if e.Impl == "" {
			return fmt.Errorf("exposure[%d].impl is required", i)
		}
		if seen[e.Impl] {
			return fmt.Errorf("exposure[%d]: duplicate impl %q", i, e.Impl)
		}
		seen[e.Impl] = true
		if _, err := e.Extension(); err != nil {
			return fmt.Errorf("exposure[%d] (%s): %w", i, e.Impl, err)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Discovery.CacheTTLRaw != "" {
		cfg.Discovery.CacheTTL, err = time.ParseDuration(cfg.Discovery.CacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache_ttl %q: %w", cfg.Discovery.CacheTTLRaw, err)
		}
	}

	if cfg.Dispatch.TimeoutRaw != "" {
		cfg.Dispatch.Timeout, err = time.ParseDuration(cfg.Dispatch.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.Dispatch.TimeoutRaw, err)
		}
	}

	return nil
}

// normalizeAnnotations converts decoder output into the shapes
// registry.NewExtension accepts. YAML may yield map[any]any for nested maps.
func normalizeAnnotations(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[fmt.Sprint(k)] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any, map[any]any:
		return normalizeAnnotations(val)
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeAnnotations(inner)
		}
		return out
	default:
		return v
	}
}
