// Package conn manages the lifecycle of configured MCP servers and
// routes tool, resource, and prompt operations through the permission
// engine.
//
// Every server moves through a small state machine: configured,
// starting, ready, failed, stopped. State is owned by the manager's
// mutex; the protocol handshake and all server calls happen outside it,
// so a slow server never blocks inspection of the others.
package conn
