// Package protocol wraps a single MCP server connection behind the
// small client contract the connection manager programs against:
// connect, discovery (tools/resources/prompts), invocation (call tool,
// read resource, get prompt), resource subscriptions, and close.
//
// Transports are selected by the tagged ServerConfig.Transport kind:
// a spawned process over stdio, streamable HTTP, an SSE stream, or a
// persistent websocket. Network transports can authenticate with static
// headers, OAuth client credentials, or a signed JWT bearer.
package protocol
