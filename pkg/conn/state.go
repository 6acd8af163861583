package conn

import (
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// State is the lifecycle state of a configured server.
type State string

const (
	// StateConfigured means the server is known but has never started.
	StateConfigured State = "configured"

	// StateStarting means the handshake is in flight.
	StateStarting State = "starting"

	// StateReady means the session is established and discovery has
	// completed.
	StateReady State = "ready"

	// StateFailed means the last start attempt did not produce a
	// session. The server can be started again.
	StateFailed State = "failed"

	// StateStopped means the server was shut down deliberately.
	StateStopped State = "stopped"
)

// ServerConnection is a point-in-time snapshot of one managed server.
type ServerConnection struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	State       State           `json:"state"`
	Error       string          `json:"error,omitempty"`
	Tools       []*mcp.Tool     `json:"tools,omitempty"`
	Resources   []*mcp.Resource `json:"resources,omitempty"`
	Prompts     []*mcp.Prompt   `json:"prompts,omitempty"`
	ConnectedAt time.Time       `json:"connectedAt,omitzero"`
}
