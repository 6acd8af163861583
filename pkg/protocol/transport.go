package protocol

import (
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/steward-dev/steward/pkg/api"
	"github.com/steward-dev/steward/pkg/config"
)

// buildTransport creates an MCP transport for the tagged transport kind.
// Malformed configurations surface as config errors, not connect errors.
func buildTransport(cfg config.ServerConfig) (mcp.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Transport {
	case config.TransportStdio:
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := os.Environ()
			for k, v := range cfg.Env {
				env = append(env, k+"="+v)
			}
			cmd.Env = env
		}
		return &mcp.CommandTransport{Command: cmd}, nil

	case config.TransportHTTP:
		return &mcp.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: buildHTTPClient(cfg),
		}, nil

	case config.TransportSSE:
		return &mcp.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: buildHTTPClient(cfg),
		}, nil

	case config.TransportWebsocket:
		return &websocketTransport{
			Endpoint:   cfg.URL,
			HTTPClient: buildHTTPClient(cfg),
			Header:     headerFromMap(cfg.Headers),
		}, nil

	default:
		// Unreachable after Validate, kept for defense against new kinds.
		return nil, api.NewConfigError(cfg.ID, "unknown transport "+string(cfg.Transport))
	}
}

// buildHTTPClient returns an HTTP client carrying static headers and the
// configured auth provider. Returns nil when nothing is configured, so
// the SDK falls back to its default client.
func buildHTTPClient(cfg config.ServerConfig) *http.Client {
	provider := authProviderFor(cfg.Auth)
	if len(cfg.Headers) == 0 && provider == nil {
		return nil
	}
	return &http.Client{
		Transport: &authAwareTransport{
			base:         http.DefaultTransport,
			headers:      cfg.Headers,
			authProvider: provider,
		},
	}
}

// authAwareTransport is an http.RoundTripper that adds static headers
// and dynamically obtained auth headers to every request.
type authAwareTransport struct {
	base         http.RoundTripper
	headers      map[string]string
	authProvider AuthProvider
}

func (t *authAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Apply static headers first.
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	// Auth provider headers may override static ones (e.g. Authorization).
	if t.authProvider != nil {
		authHeaders, err := t.authProvider.GetHeaders(req.Context())
		if err != nil {
			return nil, err
		}
		for k, v := range authHeaders {
			req.Header.Set(k, v)
		}
	}

	return t.base.RoundTrip(req)
}

func headerFromMap(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

// isMethodUnavailable reports whether an error indicates the server does
// not implement the requested method. Discovery treats that as an empty
// capability list, not a failure.
func isMethodUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "method not found") ||
		strings.Contains(msg, "not implemented") ||
		strings.Contains(msg, "unsupported")
}
