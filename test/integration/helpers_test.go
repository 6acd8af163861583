// Package integration provides integration tests for the steward host.
//
// Tests run against a real MCP server connected over in-memory
// transports, with the admin HTTP API served in-process using
// net/http/httptest.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/steward-dev/steward/pkg/admin"
	"github.com/steward-dev/steward/pkg/config"
	"github.com/steward-dev/steward/pkg/conn"
	"github.com/steward-dev/steward/pkg/events"
	"github.com/steward-dev/steward/pkg/permission"
	"github.com/steward-dev/steward/pkg/protocol"
	"github.com/steward-dev/steward/pkg/storage/memory"
)

// TestEnvironment holds the admin server and its wiring for one test.
type TestEnvironment struct {
	Server  *httptest.Server
	Manager *conn.Manager
	Engine  *permission.Engine
	Bus     *events.Bus
}

func (e *TestEnvironment) BaseURL() string {
	return e.Server.URL
}

// newTestEnvironment wires a full host: in-memory grant store, event
// bus, permission engine, connection manager backed by an in-process
// MCP server, and the admin API on an httptest server.
func newTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	policy := config.PermissionConfig{
		AutoApproveLevel:         "low",
		RequestTimeoutSeconds:    5,
		RequireApprovalForSystem: true,
		AlwaysPermissionDays:     30,
		EnableArgumentValidation: true,
		MaxSessionPermissions:    50,
	}

	bus := events.NewBus()
	engine, err := permission.New(policy, memory.New(), bus)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}

	servers := []config.ServerConfig{{
		ID:        "tools",
		Name:      "Tool server",
		Transport: config.TransportStdio,
		Command:   "/bin/true",
		Enabled:   true,
	}}
	manager := conn.NewManager(servers, engine, bus,
		conn.WithClientFactory(newToolServerClient))

	adapter := admin.NewAdapter(manager, engine, bus)
	srv := httptest.NewServer(adapter.Handler())

	t.Cleanup(func() {
		srv.Close()
		manager.StopAll()
		engine.Shutdown()
		bus.Close()
	})

	return &TestEnvironment{Server: srv, Manager: manager, Engine: engine, Bus: bus}
}

// newToolServerClient builds an in-process MCP server with one tool
// per risk tier plus a resource and a prompt, and returns a client
// connected to it over in-memory transports.
func newToolServerClient(cfg config.ServerConfig) protocol.Client {
	// Subscribe handlers advertise the resource-subscribe capability;
	// without them the SDK rejects subscription requests outright.
	server := mcp.NewServer(&mcp.Implementation{Name: cfg.ID, Version: "0.1.0"}, &mcp.ServerOptions{
		SubscribeHandler: func(context.Context, *mcp.SubscribeRequest) error {
			return nil
		},
		UnsubscribeHandler: func(context.Context, *mcp.UnsubscribeRequest) error {
			return nil
		},
	})

	server.AddTool(&mcp.Tool{
		Name:        "get_time",
		Description: "Returns the current time",
		InputSchema: map[string]any{"type": "object"},
	}, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult(time.Now().UTC().Format(time.RFC3339)), nil
	})

	server.AddTool(&mcp.Tool{
		Name:        "read_file",
		Description: "Reads a file from disk",
		InputSchema: map[string]any{"type": "object"},
	}, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult("contents of file"), nil
	})

	server.AddTool(&mcp.Tool{
		Name:        "run_command",
		Description: "Runs a shell command",
		InputSchema: map[string]any{"type": "object"},
	}, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult("ok"), nil
	})

	server.AddResource(&mcp.Resource{
		URI:         "steward://greeting",
		Name:        "greeting",
		MIMEType:    "text/plain",
		Description: "A static greeting resource",
	}, func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: req.Params.URI, MIMEType: "text/plain", Text: "hello"},
			},
		}, nil
	})

	server.AddPrompt(&mcp.Prompt{
		Name:        "summarize",
		Description: "Builds a summarization instruction",
		Arguments: []*mcp.PromptArgument{
			{Name: "topic", Required: true},
		},
	}, func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Messages: []*mcp.PromptMessage{
				{Role: "user", Content: &mcp.TextContent{Text: "Summarize: " + req.Params.Arguments["topic"]}},
			},
		}, nil
	})

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()

	return protocol.NewClientWithTransport(cfg, clientTransport)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// getURL performs a GET request and fails the test on transport errors.
func getURL(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

// postJSON performs a POST with a JSON-encoded body. A nil body sends
// an empty request.
func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

// sendJSON issues a request with a JSON body for methods http.Post
// does not cover.
func sendJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encoding body: %v", err)
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(b)
}

// decodeInto drains the response body into dst and closes it.
func decodeInto(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// startToolServer starts the "tools" server and asserts it came up.
func startToolServer(t *testing.T, env *TestEnvironment) conn.ServerConnection {
	t.Helper()
	resp := postJSON(t, env.BaseURL()+"/api/servers/tools/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start returned %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var sc conn.ServerConnection
	decodeInto(t, resp, &sc)
	if sc.State != conn.StateReady {
		t.Fatalf("state after start = %q, want ready", sc.State)
	}
	return sc
}

// executeAsync fires a tool call in the background and delivers the
// response on the returned channel once the engine resolves it.
func executeAsync(t *testing.T, env *TestEnvironment, tool string, args map[string]any) <-chan *http.Response {
	t.Helper()
	ch := make(chan *http.Response, 1)
	go func() {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(map[string]any{"arguments": args})
		resp, err := http.Post(env.BaseURL()+"/api/servers/tools/tools/"+tool, "application/json", &buf)
		if err != nil {
			return
		}
		ch <- resp
	}()
	return ch
}

// waitPending polls the pending-approvals endpoint until a prompt for
// the given tool shows up.
func waitPending(t *testing.T, env *TestEnvironment, tool string) permission.PendingApproval {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var pending []permission.PendingApproval
		decodeInto(t, getURL(t, env.BaseURL()+"/api/permissions/pending"), &pending)
		for _, p := range pending {
			if p.Tool == tool {
				return p
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no pending approval for %q", tool)
	return permission.PendingApproval{}
}

// respond answers a pending approval through the admin API.
func respond(t *testing.T, env *TestEnvironment, id string, approved bool, scope permission.Scope) {
	t.Helper()
	resp := postJSON(t, env.BaseURL()+"/api/permissions/pending/"+id, permission.Response{
		Approved: approved,
		Scope:    scope,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("respond returned %d", resp.StatusCode)
	}
}

// awaitResponse waits for an asynchronous tool call to finish.
func awaitResponse(t *testing.T, ch <-chan *http.Response) *http.Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("tool call did not complete")
		return nil
	}
}
