package protocol

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/steward-dev/steward/pkg/config"
)

// Client is the protocol surface consumed by the connection manager.
// One Client is bound to one server; how a given transport implements
// the contract is opaque to callers.
type Client interface {
	// Connect opens the transport and performs the protocol handshake.
	Connect(ctx context.Context) error

	// Close tears the session down. Safe to call on a dead transport.
	Close() error

	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	ListResources(ctx context.Context) ([]*mcp.Resource, error)
	ListPrompts(ctx context.Context) ([]*mcp.Prompt, error)

	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)

	SubscribeResource(ctx context.Context, uri string) error
	UnsubscribeResource(ctx context.Context, uri string) error
}

// SDKClient implements Client on top of the official MCP SDK.
type SDKClient struct {
	cfg       config.ServerConfig
	transport mcp.Transport // non-nil only when injected for tests

	client  *mcp.Client
	session *mcp.ClientSession
}

// Ensure SDKClient implements Client at compile time.
var _ Client = (*SDKClient)(nil)

// NewClient creates a client for the given server configuration.
// Call Connect to establish the connection.
func NewClient(cfg config.ServerConfig) *SDKClient {
	return &SDKClient{cfg: cfg}
}

// NewClientWithTransport creates a client bound to the given transport,
// bypassing config-based transport construction. Used by tests with
// in-memory transports.
func NewClientWithTransport(cfg config.ServerConfig, transport mcp.Transport) *SDKClient {
	return &SDKClient{cfg: cfg, transport: transport}
}

// Connect establishes the MCP connection, performing the handshake.
func (c *SDKClient) Connect(ctx context.Context) error {
	c.client = mcp.NewClient(
		&mcp.Implementation{
			Name:    "steward",
			Version: "1.0.0",
		},
		&mcp.ClientOptions{
			Capabilities: &mcp.ClientCapabilities{},
		},
	)

	transport := c.transport
	if transport == nil {
		t, err := buildTransport(c.cfg)
		if err != nil {
			return err
		}
		transport = t
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connecting to MCP server %q: %w", c.cfg.ID, err)
	}
	c.session = session
	return nil
}

// Close closes the MCP session.
func (c *SDKClient) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *SDKClient) ensureSession() (*mcp.ClientSession, error) {
	if c.session == nil {
		return nil, fmt.Errorf("MCP client %q not connected", c.cfg.ID)
	}
	return c.session, nil
}

// ListTools queries the server for its tools.
func (c *SDKClient) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	session, err := c.ensureSession()
	if err != nil {
		return nil, err
	}
	res, err := session.ListTools(ctx, nil)
	if err != nil {
		if isMethodUnavailable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing tools from %q: %w", c.cfg.ID, err)
	}
	return res.Tools, nil
}

// ListResources queries the server for its resources. Servers without
// resource support yield an empty list rather than an error.
func (c *SDKClient) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	session, err := c.ensureSession()
	if err != nil {
		return nil, err
	}
	res, err := session.ListResources(ctx, nil)
	if err != nil {
		if isMethodUnavailable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing resources from %q: %w", c.cfg.ID, err)
	}
	return res.Resources, nil
}

// ListPrompts queries the server for its prompts. Servers without
// prompt support yield an empty list rather than an error.
func (c *SDKClient) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	session, err := c.ensureSession()
	if err != nil {
		return nil, err
	}
	res, err := session.ListPrompts(ctx, nil)
	if err != nil {
		if isMethodUnavailable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing prompts from %q: %w", c.cfg.ID, err)
	}
	return res.Prompts, nil
}

// CallTool executes a tool call and returns the protocol-level result.
func (c *SDKClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	session, err := c.ensureSession()
	if err != nil {
		return nil, err
	}
	return session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
}

// ReadResource reads the resource at the given URI.
func (c *SDKClient) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	session, err := c.ensureSession()
	if err != nil {
		return nil, err
	}
	return session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
}

// GetPrompt executes a prompt with the given arguments.
func (c *SDKClient) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	session, err := c.ensureSession()
	if err != nil {
		return nil, err
	}
	return session.GetPrompt(ctx, &mcp.GetPromptParams{
		Name:      name,
		Arguments: args,
	})
}

// SubscribeResource subscribes to update notifications for a URI.
func (c *SDKClient) SubscribeResource(ctx context.Context, uri string) error {
	session, err := c.ensureSession()
	if err != nil {
		return err
	}
	return session.Subscribe(ctx, &mcp.SubscribeParams{URI: uri})
}

// UnsubscribeResource cancels a subscription previously created with
// SubscribeResource.
func (c *SDKClient) UnsubscribeResource(ctx context.Context, uri string) error {
	session, err := c.ensureSession()
	if err != nil {
		return err
	}
	return session.Unsubscribe(ctx, &mcp.UnsubscribeParams{URI: uri})
}
