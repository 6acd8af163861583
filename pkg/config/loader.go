package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, STEWARD_CONFIG env, ./config.yaml, /etc/steward/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Apply environment variable overrides.
	applyEnvOverrides(&cfg)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. STEWARD_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/steward/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("STEWARD_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/steward/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STEWARD_AUTO_APPROVE_LEVEL"); v != "" {
		cfg.Permissions.AutoApproveLevel = v
	}
	if v := os.Getenv("STEWARD_REQUEST_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Permissions.RequestTimeoutSeconds = secs
		}
	}
	if v := os.Getenv("STEWARD_TRUSTED_SERVERS"); v != "" {
		cfg.Permissions.TrustedServers = splitAndTrim(v)
	}
	if v := os.Getenv("STEWARD_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("STEWARD_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("STEWARD_ADMIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Admin.Port = port
		}
	}

	// STEWARD_SERVERS: JSON array of server configs.
	if v := os.Getenv("STEWARD_SERVERS"); v != "" {
		servers, err := parseServersJSON(v)
		if err == nil && len(servers) > 0 {
			cfg.Servers = servers
		}
	}
}

// parseServersJSON parses a JSON array of server configurations.
func parseServersJSON(jsonStr string) ([]ServerConfig, error) {
	var servers []ServerConfig
	if err := json.Unmarshal([]byte(jsonStr), &servers); err != nil {
		return nil, fmt.Errorf("parsing servers JSON: %w", err)
	}
	return servers, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// storage.postgres.dsn_file -> storage.postgres.dsn
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	// servers[*].auth secret files.
	for i := range cfg.Servers {
		auth := &cfg.Servers[i].Auth
		if auth.ClientIDFile != "" && auth.ClientID == "" {
			val, err := readSecretFile(auth.ClientIDFile)
			if err != nil {
				return fmt.Errorf("servers[%d].auth.client_id_file: %w", i, err)
			}
			auth.ClientID = val
		}
		if auth.ClientSecretFile != "" && auth.ClientSecret == "" {
			val, err := readSecretFile(auth.ClientSecretFile)
			if err != nil {
				return fmt.Errorf("servers[%d].auth.client_secret_file: %w", i, err)
			}
			auth.ClientSecret = val
		}
		if auth.JWTSecretFile != "" && auth.JWTSecret == "" {
			val, err := readSecretFile(auth.JWTSecretFile)
			if err != nil {
				return fmt.Errorf("servers[%d].auth.jwt_secret_file: %w", i, err)
			}
			auth.JWTSecret = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding
// whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
