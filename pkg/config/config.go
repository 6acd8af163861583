// Package config provides unified configuration for the steward core.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (STEWARD_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the steward core.
type Config struct {
	Servers       []ServerConfig      `yaml:"servers"`
	Permissions   PermissionConfig    `yaml:"permissions"`
	Storage       StorageConfig       `yaml:"storage"`
	Admin         AdminConfig         `yaml:"admin"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// TransportKind selects the physical channel used to reach an MCP server.
type TransportKind string

const (
	TransportStdio     TransportKind = "stdio"
	TransportHTTP      TransportKind = "http"
	TransportSSE       TransportKind = "sse"
	TransportWebsocket TransportKind = "websocket"
)

// processBased reports whether the transport spawns a local process.
func (t TransportKind) processBased() bool {
	return t == TransportStdio
}

// ServerConfig describes one configured MCP server. It is immutable
// input; the connection manager only reads it.
type ServerConfig struct {
	// ID is the unique identifier used in all API calls and events.
	ID string `yaml:"id"`

	// Name is the human-readable display name.
	Name string `yaml:"name"`

	// Description explains what the server provides.
	Description string `yaml:"description"`

	// Transport selects the channel: stdio, http, sse, or websocket.
	Transport TransportKind `yaml:"transport"`

	// Command, Args, and Env configure process-based (stdio) servers.
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`

	// URL is the endpoint for network-based (http/sse/websocket) servers.
	URL string `yaml:"url"`

	// Headers contains additional HTTP headers to send with requests,
	// typically used for authentication (API keys, bearer tokens, etc.).
	Headers map[string]string `yaml:"headers"`

	// Auth configures dynamic authentication for network transports.
	Auth AuthConfig `yaml:"auth"`

	// Enabled gates whether the server may be started at all.
	Enabled bool `yaml:"enabled"`

	// AutoStart starts the server when the daemon boots.
	AutoStart bool `yaml:"auto_start"`
}

// AuthConfig describes how to authenticate against a network MCP server.
type AuthConfig struct {
	// Type is "", "oauth_client_credentials", or "jwt".
	Type string `yaml:"type"`

	// OAuth client credentials grant settings.
	TokenURL         string   `yaml:"token_url"`
	ClientID         string   `yaml:"client_id"`
	ClientIDFile     string   `yaml:"client_id_file"`
	ClientSecret     string   `yaml:"client_secret"`
	ClientSecretFile string   `yaml:"client_secret_file"`
	Scopes           []string `yaml:"scopes"`

	// Signed-JWT bearer settings (HS256 from a shared secret).
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTSecretFile string        `yaml:"jwt_secret_file"`
	JWTIssuer     string        `yaml:"jwt_issuer"`
	JWTAudience   string        `yaml:"jwt_audience"`
	JWTTTL        time.Duration `yaml:"jwt_ttl"` // default: 5m
}

// PermissionConfig holds the process-wide authorization policy.
type PermissionConfig struct {
	// AutoApproveLevel auto-approves requests at or below this risk
	// level: "none", "low", "medium", or "high". "none" never approves.
	AutoApproveLevel string `yaml:"auto_approve_level"` // default: "none"

	// RequestTimeoutSeconds bounds the wait for an interactive approval.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"` // default: 30

	// Per-category approval requirements. When set, a request touching
	// the category always prompts, regardless of AutoApproveLevel.
	RequireApprovalForFile    bool `yaml:"require_approval_for_file"`
	RequireApprovalForNetwork bool `yaml:"require_approval_for_network"`
	RequireApprovalForSystem  bool `yaml:"require_approval_for_system"` // default: true

	// TrustedServers bypass authorization entirely.
	TrustedServers []string `yaml:"trusted_servers"`

	// AlwaysPermissionDays is the lifetime of an "always" grant in
	// days; 0 means grants never expire.
	AlwaysPermissionDays int `yaml:"always_permission_days"` // default: 30

	// EnableArgumentValidation fences grant reuse by the arguments of
	// the authorizing call (path prefix, URL host, exact match).
	EnableArgumentValidation bool `yaml:"enable_argument_validation"` // default: true

	// MaxSessionPermissions bounds the session grant set (FIFO evict).
	MaxSessionPermissions int `yaml:"max_session_permissions"` // default: 50

	// NotifyBeforeExpiry emits permissionExpiringSoon one day before an
	// always-grant expires.
	NotifyBeforeExpiry bool `yaml:"notify_before_expiry"` // default: true
}

// StorageConfig selects where "always" grants persist.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"` // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`         // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"`  // default: false
}

// AdminConfig holds the admin HTTP surface settings.
type AdminConfig struct {
	Port         int           `yaml:"port"`          // default: 8090
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 60s
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Permissions: PermissionConfig{
			AutoApproveLevel:         "none",
			RequestTimeoutSeconds:    30,
			RequireApprovalForSystem: true,
			AlwaysPermissionDays:     30,
			EnableArgumentValidation: true,
			MaxSessionPermissions:    50,
			NotifyBeforeExpiry:       true,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 10,
			},
		},
		Admin: AdminConfig{
			Port:         8090,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// RequestTimeout returns the approval wait bound as a duration.
func (p PermissionConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSeconds) * time.Second
}

// AlwaysPermissionDuration returns the always-grant lifetime as a
// duration; zero means grants never expire.
func (p PermissionConfig) AlwaysPermissionDuration() time.Duration {
	return time.Duration(p.AlwaysPermissionDays) * 24 * time.Hour
}
