package mcpapps

import (
	"context"
	"encoding/json"
	"errors"
)

// Port is one end of a postMessage-style channel between a guest UI and its host. PostMessage
// delivers data to the peer with no origin restriction. Listeners added with
// AddMessageListener receive every message the peer posts.
//
// Implementations must invoke listeners from a single goroutine, one inbound message at a
// time, each listener running to completion before the next message is delivered. This is
// what lets Client and Host process responses and notifications without interleaving.
//
// The ID identifies the underlying window or connection and is the key a Registry shares
// clients by.
type Port interface {
	ID() string
	PostMessage(ctx context.Context, data []byte) error
	// AddMessageListener registers l and returns a function that removes it. Removing an
	// already removed listener is a no-op.
	AddMessageListener(l MessageListener) (remove func())
}

// MessageListener receives a raw inbound message from a Port.
type MessageListener func(data []byte)

// NotificationHandler receives the raw params of a notification. Params is nil when the
// notification carried none.
type NotificationHandler func(params json.RawMessage)

// HostContextHandler receives the merged HostContext after the host reported a change.
type HostContextHandler func(HostContext)

// LinkOpener handles ui/open-link requests on a Host.
type LinkOpener interface {
	OpenLink(ctx context.Context, params OpenLinkParams) error
}

// MessageHandler handles ui/message requests on a Host, typically by appending the text as a
// user turn of the conversation.
type MessageHandler interface {
	HandleMessage(ctx context.Context, params MessageParams) error
}

// ToolCaller handles tools/call requests on a Host. The returned value becomes the result of
// the response. ToolRegistry implements it.
type ToolCaller interface {
	CallTool(ctx context.Context, params CallToolParams) (ToolResult, error)
}

// ToolStateStore persists the latest tool input and tool result a Host pushed for a widget, so
// a guest that reloads and initializes again can be brought up to date. The store package
// provides memory and Redis implementations.
type ToolStateStore interface {
	SaveToolInput(ctx context.Context, widgetID string, input json.RawMessage) error
	SaveToolResult(ctx context.Context, widgetID string, result json.RawMessage) error
	// ToolState returns nil for whichever value was never saved.
	ToolState(ctx context.Context, widgetID string) (input, result json.RawMessage, err error)
}

var (
	// ErrPortClosed is returned when posting on a Port that has been closed.
	ErrPortClosed = errors.New("port is closed")

	// ErrLegacyUnavailable is returned by Compat when the legacy path is forced but the legacy
	// host object lacks the function for the requested action.
	ErrLegacyUnavailable = errors.New("legacy host API does not provide this action")

	// ErrCallPending is returned by Call.Result before the response arrived.
	ErrCallPending = errors.New("call is still pending")

	// ErrToolNotFound is returned by ToolRegistry for unknown tool names.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidToolArguments is returned by ToolRegistry when arguments fail schema validation.
	ErrInvalidToolArguments = errors.New("invalid tool arguments")
)
