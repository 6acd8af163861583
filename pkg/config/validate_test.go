package config

import (
	"testing"

	"github.com/steward-dev/steward/pkg/api"
)

func validServer() ServerConfig {
	return ServerConfig{
		ID:        "fs",
		Transport: TransportStdio,
		Command:   "mcp-fs",
		Enabled:   true,
	}
}

func TestServerConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ServerConfig)
		ok     bool
	}{
		{"valid stdio", func(*ServerConfig) {}, true},
		{"empty id", func(s *ServerConfig) { s.ID = "" }, false},
		{"unknown transport", func(s *ServerConfig) { s.Transport = "grpc" }, false},
		{"stdio without command", func(s *ServerConfig) { s.Command = "" }, false},
		{"http without url", func(s *ServerConfig) {
			s.Transport = TransportHTTP
			s.URL = ""
		}, false},
		{"websocket with url", func(s *ServerConfig) {
			s.Transport = TransportWebsocket
			s.URL = "wss://x.example.com/mcp"
		}, true},
		{"oauth without token url", func(s *ServerConfig) {
			s.Transport = TransportHTTP
			s.URL = "https://x.example.com/mcp"
			s.Auth = AuthConfig{Type: "oauth_client_credentials"}
		}, false},
		{"jwt without secret", func(s *ServerConfig) {
			s.Transport = TransportHTTP
			s.URL = "https://x.example.com/mcp"
			s.Auth = AuthConfig{Type: "jwt"}
		}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sc := validServer()
			c.mutate(&sc)
			err := sc.Validate()
			if c.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !c.ok {
				if err == nil {
					t.Fatal("Validate() = nil, want config error")
				}
				if !api.IsKind(err, api.ErrorKindConfig) {
					t.Errorf("error kind = %v, want config_error", err)
				}
			}
		})
	}
}

func TestConfigValidateRejectsDuplicateIDs(t *testing.T) {
	cfg := Defaults()
	cfg.Servers = []ServerConfig{validServer(), validServer()}

	if err := cfg.Validate(); err == nil {
		t.Error("duplicate server ids should fail validation")
	}
}

func TestConfigValidatePolicy(t *testing.T) {
	cfg := Defaults()
	cfg.Permissions.AutoApproveLevel = "extreme"
	if err := cfg.Validate(); err == nil {
		t.Error("invalid auto_approve_level should fail validation")
	}

	cfg = Defaults()
	cfg.Storage.Type = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("postgres storage without DSN should fail validation")
	}
}
