package config

import (
	"fmt"

	"github.com/steward-dev/steward/pkg/api"
)

var validAutoApproveLevels = map[string]bool{
	"none": true, "low": true, "medium": true, "high": true,
}

// Validate checks the full configuration for consistency.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for i := range c.Servers {
		sc := &c.Servers[i]
		if err := sc.Validate(); err != nil {
			return err
		}
		if seen[sc.ID] {
			return api.NewConfigError(sc.ID, "duplicate server id")
		}
		seen[sc.ID] = true
	}

	p := c.Permissions
	if !validAutoApproveLevels[p.AutoApproveLevel] {
		return api.NewConfigError("", fmt.Sprintf("invalid auto_approve_level %q", p.AutoApproveLevel))
	}
	if p.RequestTimeoutSeconds <= 0 {
		return api.NewConfigError("", "request_timeout_seconds must be positive")
	}
	if p.AlwaysPermissionDays < 0 {
		return api.NewConfigError("", "always_permission_days must not be negative")
	}
	if p.MaxSessionPermissions <= 0 {
		return api.NewConfigError("", "max_session_permissions must be positive")
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return api.NewConfigError("", "storage.postgres.dsn is required for postgres storage")
		}
	default:
		return api.NewConfigError("", fmt.Sprintf("unknown storage type %q", c.Storage.Type))
	}

	return nil
}

// Validate checks a single server configuration. The same check runs at
// config load and again when a transport is built, so a malformed entry
// fails StartServer with a config error rather than a connect error.
func (s *ServerConfig) Validate() error {
	if s.ID == "" {
		return api.NewConfigError("", "server id must not be empty")
	}

	switch s.Transport {
	case TransportStdio, TransportHTTP, TransportSSE, TransportWebsocket:
	default:
		return api.NewConfigError(s.ID, fmt.Sprintf("unknown transport %q", s.Transport))
	}

	if s.Transport.processBased() {
		if s.Command == "" {
			return api.NewConfigError(s.ID, "command is required for stdio transport")
		}
	} else {
		if s.URL == "" {
			return api.NewConfigError(s.ID, fmt.Sprintf("url is required for %s transport", s.Transport))
		}
	}

	switch s.Auth.Type {
	case "", "oauth_client_credentials", "jwt":
	default:
		return api.NewConfigError(s.ID, fmt.Sprintf("unknown auth type %q", s.Auth.Type))
	}
	if s.Auth.Type == "oauth_client_credentials" && s.Auth.TokenURL == "" {
		return api.NewConfigError(s.ID, "auth.token_url is required for oauth_client_credentials")
	}
	if s.Auth.Type == "jwt" && s.Auth.JWTSecret == "" && s.Auth.JWTSecretFile == "" {
		return api.NewConfigError(s.ID, "auth.jwt_secret is required for jwt auth")
	}

	return nil
}
