package protocol

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxFrameSize bounds a single JSON-RPC frame read from the socket.
const maxFrameSize = 16 << 20

// websocketTransport carries MCP JSON-RPC messages over a persistent
// websocket, one message per text frame. The SDK ships no websocket
// client transport, so this implements mcp.Transport directly.
type websocketTransport struct {
	Endpoint   string
	HTTPClient *http.Client
	Header     http.Header
}

// Ensure the transport satisfies the SDK contract at compile time.
var _ mcp.Transport = (*websocketTransport)(nil)

func (t *websocketTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, _, err := websocket.Dial(ctx, t.Endpoint, &websocket.DialOptions{
		HTTPClient: t.HTTPClient,
		HTTPHeader: t.Header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameSize)
	return &websocketConnection{conn: conn}, nil
}

type websocketConnection struct {
	conn *websocket.Conn
}

func (c *websocketConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return jsonrpc.DecodeMessage(data)
}

func (c *websocketConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *websocketConnection) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// SessionID returns the empty string; websocket sessions are identified
// by the connection itself.
func (c *websocketConnection) SessionID() string { return "" }
