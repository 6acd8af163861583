package conn

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/steward-dev/steward/pkg/api"
	"github.com/steward-dev/steward/pkg/config"
	"github.com/steward-dev/steward/pkg/debug"
	"github.com/steward-dev/steward/pkg/events"
	"github.com/steward-dev/steward/pkg/observability"
	"github.com/steward-dev/steward/pkg/permission"
	"github.com/steward-dev/steward/pkg/protocol"
)

// ClientFactory builds the protocol client for a server. Swapped out in
// tests for in-memory fakes.
type ClientFactory func(cfg config.ServerConfig) protocol.Client

// serverEntry is the manager-owned record for one configured server.
// All fields are guarded by Manager.mu.
type serverEntry struct {
	cfg         config.ServerConfig
	state       State
	lastErr     error
	client      protocol.Client
	tools       map[string]*mcp.Tool
	resources   []*mcp.Resource
	prompts     map[string]*mcp.Prompt
	subscribed  map[string]bool
	connectedAt time.Time
}

// Manager owns the set of configured MCP servers.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*serverEntry

	engine    *permission.Engine
	bus       *events.Bus
	newClient ClientFactory
	logger    *slog.Logger
}

// Option customizes manager construction.
type Option func(*Manager)

// WithClientFactory replaces the production client factory. Tests use
// this to inject fake protocol clients.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) { m.newClient = f }
}

// NewManager registers the given servers in the configured state.
func NewManager(servers []config.ServerConfig, engine *permission.Engine, bus *events.Bus, opts ...Option) *Manager {
	m := &Manager{
		servers: make(map[string]*serverEntry, len(servers)),
		engine:  engine,
		bus:     bus,
		newClient: func(cfg config.ServerConfig) protocol.Client {
			return protocol.NewClient(cfg)
		},
		logger: slog.Default().With("component", "conn"),
	}
	for _, o := range opts {
		o(m)
	}
	for _, cfg := range servers {
		if !cfg.Enabled {
			continue
		}
		m.servers[cfg.ID] = &serverEntry{cfg: cfg, state: StateConfigured}
	}
	return m
}

// AddServer registers a server at runtime. It fails when the ID is
// already taken or the configuration does not validate.
func (m *Manager) AddServer(cfg config.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.servers[cfg.ID]; exists {
		return api.NewConfigError(cfg.ID, "server already registered")
	}
	m.servers[cfg.ID] = &serverEntry{cfg: cfg, state: StateConfigured}
	return nil
}

// RemoveServer stops and deregisters a server. Removing an unknown
// server is a no-op.
func (m *Manager) RemoveServer(id string) {
	m.StopServer(id)
	m.mu.Lock()
	delete(m.servers, id)
	m.mu.Unlock()
}

// StartServer connects to one configured server and discovers its
// tools, resources, and prompts. Starting a server that is already
// starting or ready is rejected.
func (m *Manager) StartServer(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.servers[id]
	if !ok {
		m.mu.Unlock()
		return api.NewNotFoundError(id, "server not configured")
	}
	if e.state == StateStarting || e.state == StateReady {
		m.mu.Unlock()
		return api.NewConnectionError(id, fmt.Errorf("server is %s", e.state))
	}
	cfg := e.cfg
	e.state = StateStarting
	e.lastErr = nil
	m.mu.Unlock()
	m.transition(id, StateStarting, nil)

	client := m.newClient(cfg)
	tools, resources, prompts, err := m.connect(ctx, client)
	if err != nil {
		client.Close()
		m.mu.Lock()
		if e.state == StateStarting {
			e.state = StateFailed
			e.lastErr = err
		}
		m.mu.Unlock()
		m.transition(id, StateFailed, err)
		return api.NewConnectionError(id, err)
	}

	m.mu.Lock()
	if e.state != StateStarting {
		// Stopped or removed while the handshake was in flight.
		m.mu.Unlock()
		client.Close()
		return api.NewConnectionError(id, fmt.Errorf("server is %s", e.state))
	}
	e.client = client
	e.state = StateReady
	e.connectedAt = time.Now()
	e.tools = make(map[string]*mcp.Tool, len(tools))
	for _, t := range tools {
		e.tools[t.Name] = t
	}
	e.resources = resources
	e.prompts = make(map[string]*mcp.Prompt, len(prompts))
	for _, p := range prompts {
		e.prompts[p.Name] = p
	}
	e.subscribed = make(map[string]bool)
	m.mu.Unlock()
	m.transition(id, StateReady, nil)

	m.logger.Info("server ready", "server", id,
		"tools", len(tools), "resources", len(resources), "prompts", len(prompts))
	return nil
}

// connect performs the handshake and initial discovery.
func (m *Manager) connect(ctx context.Context, client protocol.Client) ([]*mcp.Tool, []*mcp.Resource, []*mcp.Prompt, error) {
	if err := client.Connect(ctx); err != nil {
		return nil, nil, nil, err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	resources, err := client.ListResources(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	prompts, err := client.ListPrompts(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return tools, resources, prompts, nil
}

// StopServer closes the server's session and marks it stopped. Close
// errors are logged, not returned; stopping an unknown or idle server
// is a no-op.
func (m *Manager) StopServer(id string) {
	m.mu.Lock()
	e, ok := m.servers[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if e.state != StateReady && e.state != StateStarting {
		// Nothing is running; the entry keeps its state.
		m.mu.Unlock()
		return
	}
	client := e.client
	e.client = nil
	e.state = StateStopped
	e.tools = nil
	e.resources = nil
	e.prompts = nil
	e.subscribed = nil
	e.connectedAt = time.Time{}
	m.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			m.logger.Warn("closing server session", "server", id, "error", err)
		}
	}
	m.transition(id, StateStopped, nil)
}

// StopAll stops every managed server.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.StopServer(id)
	}
}

// ExecuteTool authorizes and runs one tool call. The call is denied
// without reaching the server unless the permission engine approves it.
// A failing or panicking tool leaves the connection ready.
func (m *Manager) ExecuteTool(ctx context.Context, server, tool string, args map[string]any) (result *mcp.CallToolResult, err error) {
	m.mu.RLock()
	e, ok := m.servers[server]
	if !ok || e.state != StateReady {
		m.mu.RUnlock()
		return nil, api.NewNotFoundError(server, "server not connected")
	}
	desc, ok := e.tools[tool]
	if !ok {
		m.mu.RUnlock()
		return nil, api.NewNotFoundError(server, fmt.Sprintf("tool %q not found", tool))
	}
	client := e.client
	m.mu.RUnlock()

	allowed, err := m.engine.RequestPermission(ctx, server,
		permission.ToolRef{Name: desc.Name, Description: desc.Description}, args)
	if err != nil {
		return nil, err
	}
	if !allowed {
		observability.ToolExecutions.WithLabelValues(server, "denied").Inc()
		return nil, api.NewPermissionDeniedError(server, fmt.Sprintf("permission denied for tool %q", tool))
	}

	debug.Log(debug.Conn, "calling tool", "server", server, "tool", tool)
	start := time.Now()
	defer func() {
		observability.ToolDuration.WithLabelValues(server).Observe(time.Since(start).Seconds())
		// A panicking client must not take the manager down with it.
		if r := recover(); r != nil {
			observability.ToolExecutions.WithLabelValues(server, "panic").Inc()
			result = nil
			err = api.NewToolExecutionError(server, fmt.Errorf("tool %q panicked: %s", tool, api.MessageOf(r)))
		}
	}()

	res, callErr := client.CallTool(ctx, tool, args)
	if callErr != nil {
		observability.ToolExecutions.WithLabelValues(server, "error").Inc()
		return nil, api.NewToolExecutionError(server, callErr)
	}
	observability.ToolExecutions.WithLabelValues(server, "ok").Inc()
	return res, nil
}

// ReadResource reads a resource from a connected server. Resource
// reads above low risk (by URI shape) go through the permission engine
// like tool calls.
func (m *Manager) ReadResource(ctx context.Context, server, uri string) (*mcp.ReadResourceResult, error) {
	client, err := m.readyClient(server)
	if err != nil {
		return nil, err
	}

	// The descriptor wording stays clear of classifier keywords so the
	// risk level comes from the URI's shape, not from the gate itself.
	ref := permission.ToolRef{Name: "resource", Description: "Resource access"}
	args := map[string]any{"uri": uri}
	if err := m.gate(ctx, server, ref, args); err != nil {
		return nil, err
	}

	res, err := client.ReadResource(ctx, uri)
	if err != nil {
		return nil, api.NewToolExecutionError(server, err)
	}
	return res, nil
}

// ExecutePrompt renders a prompt from a connected server. Prompts are
// gated the same way as resources.
func (m *Manager) ExecutePrompt(ctx context.Context, server, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	m.mu.RLock()
	e, ok := m.servers[server]
	if !ok || e.state != StateReady {
		m.mu.RUnlock()
		return nil, api.NewNotFoundError(server, "server not connected")
	}
	if _, ok := e.prompts[name]; !ok {
		m.mu.RUnlock()
		return nil, api.NewNotFoundError(server, fmt.Sprintf("prompt %q not found", name))
	}
	client := e.client
	m.mu.RUnlock()

	anyArgs := make(map[string]any, len(args))
	for k, v := range args {
		anyArgs[k] = v
	}
	ref := permission.ToolRef{Name: "prompt", Description: "Render prompt " + name}
	if err := m.gate(ctx, server, ref, anyArgs); err != nil {
		return nil, err
	}

	res, err := client.GetPrompt(ctx, name, args)
	if err != nil {
		return nil, api.NewToolExecutionError(server, err)
	}
	return res, nil
}

// gate authorizes a non-tool operation. Low-risk operations pass
// without prompting; anything above low goes through the engine.
func (m *Manager) gate(ctx context.Context, server string, ref permission.ToolRef, args map[string]any) error {
	if m.engine.AssessRisk(ref, args).Level <= permission.RiskLow {
		return nil
	}
	allowed, err := m.engine.RequestPermission(ctx, server, ref, args)
	if err != nil {
		return err
	}
	if !allowed {
		return api.NewPermissionDeniedError(server, fmt.Sprintf("permission denied for %s", ref.Name))
	}
	return nil
}

// SubscribeResource subscribes to change notifications for a resource.
func (m *Manager) SubscribeResource(ctx context.Context, server, uri string) error {
	client, err := m.readyClient(server)
	if err != nil {
		return err
	}
	if err := client.SubscribeResource(ctx, uri); err != nil {
		return api.NewToolExecutionError(server, err)
	}
	m.mu.Lock()
	if e, ok := m.servers[server]; ok && e.subscribed != nil {
		e.subscribed[uri] = true
	}
	m.mu.Unlock()
	return nil
}

// UnsubscribeResource cancels a subscription. Unsubscribing from a
// resource that was never subscribed is a silent no-op.
func (m *Manager) UnsubscribeResource(ctx context.Context, server, uri string) error {
	m.mu.Lock()
	e, ok := m.servers[server]
	if !ok || e.state != StateReady {
		m.mu.Unlock()
		return api.NewNotFoundError(server, "server not connected")
	}
	if !e.subscribed[uri] {
		m.mu.Unlock()
		return nil
	}
	delete(e.subscribed, uri)
	client := e.client
	m.mu.Unlock()

	if err := client.UnsubscribeResource(ctx, uri); err != nil {
		return api.NewToolExecutionError(server, err)
	}
	return nil
}

// GetServerState returns a snapshot of one server.
func (m *Manager) GetServerState(id string) (ServerConnection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.servers[id]
	if !ok {
		return ServerConnection{}, false
	}
	return m.snapshotLocked(e), true
}

// ListServers returns snapshots of all managed servers, sorted by ID.
func (m *Manager) ListServers() []ServerConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerConnection, 0, len(m.servers))
	for _, e := range m.servers {
		out = append(out, m.snapshotLocked(e))
	}
	slices.SortFunc(out, func(a, b ServerConnection) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (m *Manager) snapshotLocked(e *serverEntry) ServerConnection {
	sc := ServerConnection{
		ID:          e.cfg.ID,
		Name:        e.cfg.Name,
		State:       e.state,
		Resources:   slices.Clone(e.resources),
		ConnectedAt: e.connectedAt,
	}
	if e.lastErr != nil {
		sc.Error = e.lastErr.Error()
	}
	for _, t := range e.tools {
		sc.Tools = append(sc.Tools, t)
	}
	slices.SortFunc(sc.Tools, func(a, b *mcp.Tool) int { return strings.Compare(a.Name, b.Name) })
	for _, p := range e.prompts {
		sc.Prompts = append(sc.Prompts, p)
	}
	slices.SortFunc(sc.Prompts, func(a, b *mcp.Prompt) int { return strings.Compare(a.Name, b.Name) })
	return sc
}

// readyClient returns the client of a ready server.
func (m *Manager) readyClient(server string) (protocol.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.servers[server]
	if !ok || e.state != StateReady {
		return nil, api.NewNotFoundError(server, "server not connected")
	}
	return e.client, nil
}

// transition records a state change in metrics and on the event bus.
func (m *Manager) transition(id string, state State, cause error) {
	observability.StateTransitions.WithLabelValues(id, string(state)).Inc()
	ev := events.Event{
		Type:   events.TypeStateChange,
		Server: id,
		Payload: map[string]any{
			"state": string(state),
		},
		At: time.Now(),
	}
	if cause != nil {
		ev.Payload = map[string]any{
			"state": string(state),
			"error": cause.Error(),
		}
	}
	m.bus.Publish(ev)
	debug.Log(debug.Conn, "state change", "server", id, "state", string(state), "error", cause)
}
