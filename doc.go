// Package mcpapps implements the host communication channel of MCP Apps: interactive widgets
// that a chat host embeds and talks to over a postMessage-style channel using JSON-RPC 2.0.
//
// On the guest side, Client performs the ui/initialize handshake, sends requests and
// notifications, and caches the latest tool input and tool result pushed by the host. Compat
// puts a single action surface (open a link, send a message, call a tool, change the display
// mode, read host context and widget data) over both the JSON-RPC channel and the legacy
// OpenAI Apps global object, choosing per action or following an explicit override.
//
// On the host side, Host answers the handshake, serves guest requests through handler
// interfaces and pushes tool state and host context changes.
//
// Both sides talk through a Port. MemoryPort connects the two in-process, StdIO uses
// newline-delimited JSON streams, SSEServer and SSEClient use Server-Sent Events with HTTP POST,
// and WebSocketPort uses a WebSocket connection.
package mcpapps
