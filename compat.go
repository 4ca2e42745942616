package mcpapps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// CompatOption is a function that configures a Compat.
type CompatOption func(*Compat)

// Compat gives widget code one action surface that works on both host protocols. For every
// action it decides between the legacy host API and the JSON-RPC Client: an explicit override
// is honored exactly, otherwise the legacy API is used when it offers the action.
//
// The transport client is connected and a background handshake started the first time an
// action or a context read needs it. Handshake failures are logged and the client keeps working
// without host context.
type Compat struct {
	legacy   any
	client   *Client
	override Protocol
	log      *logrus.Entry
}

// CompatHostContext is the merged view of the legacy globals and the transport host context.
// Nil fields were provided by neither source. Legacy and Transport expose the raw sources.
type CompatHostContext struct {
	Theme       *Theme
	DisplayMode *DisplayMode
	MaxHeight   *float64
	SafeArea    *SafeAreaInsets
	Locale      *string
	// UserAgent is a JSON string on the transport path and may be an object on the legacy
	// path.
	UserAgent json.RawMessage

	Legacy    *OpenAIGlobals
	Transport *HostContext
}

// WithProtocolOverride forces every action onto one protocol. ProtocolAuto restores
// auto-detection.
func WithProtocolOverride(p Protocol) CompatOption {
	return func(c *Compat) {
		c.override = p
	}
}

// WithCompatLogger sets the logger for the compatibility layer.
func WithCompatLogger(logger *logrus.Logger) CompatOption {
	return func(c *Compat) {
		c.log = logger.WithField("component", "compat")
	}
}

// NewCompat creates a compatibility layer over the legacy host object and the transport client.
// legacy may be nil when the host injected no global object. client must not be nil; it is
// usually obtained from a Registry so all widgets on a port share it.
func NewCompat(legacy any, client *Client, options ...CompatOption) *Compat {
	c := &Compat{
		legacy: legacy,
		client: client,
		log:    logrus.StandardLogger().WithField("component", "compat"),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Override returns the configured override.
func (c *Compat) Override() Protocol {
	return c.override
}

// Backend reports where action would be routed right now.
func (c *Compat) Backend(action Action) Backend {
	return SelectBackend(c.override, Probe(c.legacy, action))
}

// OpenLink opens href through the legacy openExternal or a ui/open-link request.
func (c *Compat) OpenLink(ctx context.Context, href string) error {
	if c.Backend(ActionOpenLink) == BackendLegacy {
		opener, ok := c.legacy.(ExternalOpener)
		if !ok {
			return fmt.Errorf("failed to open link: %w", ErrLegacyUnavailable)
		}
		return opener.OpenExternal(ctx, OpenExternalParams{Href: href})
	}

	c.client.bootstrap(ctx)
	return c.client.OpenLink(ctx, href)
}

// SendMessage posts text as a user message through the legacy sendFollowUpMessage or a
// ui/message request.
func (c *Compat) SendMessage(ctx context.Context, text string) error {
	if c.Backend(ActionSendMessage) == BackendLegacy {
		messenger, ok := c.legacy.(FollowUpMessenger)
		if !ok {
			return fmt.Errorf("failed to send message: %w", ErrLegacyUnavailable)
		}
		return messenger.SendFollowUpMessage(ctx, FollowUpMessageParams{Prompt: text})
	}

	c.client.bootstrap(ctx)
	return c.client.SendMessage(ctx, text)
}

// CallTool runs a tool through the legacy callTool or a tools/call request.
func (c *Compat) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if c.Backend(ActionCallTool) == BackendLegacy {
		caller, ok := c.legacy.(LegacyToolCaller)
		if !ok {
			return nil, fmt.Errorf("failed to call tool %s: %w", name, ErrLegacyUnavailable)
		}
		return caller.CallTool(ctx, name, args)
	}

	c.client.bootstrap(ctx)
	return c.client.CallTool(ctx, name, args)
}

// RequestDisplayMode asks the host for a different display mode. The transport protocol has no
// such request, so on that path it succeeds at once with the requested mode and contacts no one.
func (c *Compat) RequestDisplayMode(ctx context.Context, mode DisplayMode) (DisplayModeResult, error) {
	if c.Backend(ActionRequestDisplayMode) == BackendLegacy {
		requester, ok := c.legacy.(DisplayModeRequester)
		if !ok {
			return DisplayModeResult{}, fmt.Errorf("failed to request display mode: %w", ErrLegacyUnavailable)
		}
		return requester.RequestDisplayMode(ctx, DisplayModeParams{Mode: mode})
	}

	return DisplayModeResult{Mode: mode}, nil
}

// HostContext returns the merged host context. Unless the legacy protocol is forced, the first
// read starts the transport handshake in the background, so transport fields show up on later
// reads.
func (c *Compat) HostContext(ctx context.Context) CompatHostContext {
	var legacy *OpenAIGlobals
	if g, ok := legacyGlobals(c.legacy); ok {
		legacy = &g
	}

	var transport *HostContext
	if c.override != ProtocolLegacy {
		c.client.bootstrap(ctx)
		if hc, ok := c.client.HostContext(); ok {
			transport = &hc
		}
	}

	return MergeHostContext(c.override, legacy, transport)
}

// WidgetData returns the data the widget should render: the legacy toolOutput, else the
// structuredContent of the latest tool result, else defaultValue. An override restricts the
// choice to its own source.
func (c *Compat) WidgetData(ctx context.Context, defaultValue json.RawMessage) json.RawMessage {
	if c.override != ProtocolTransport {
		if g, ok := legacyGlobals(c.legacy); ok && !isNullJSON(g.ToolOutput) {
			return g.ToolOutput
		}
	}

	if c.override != ProtocolLegacy {
		c.client.bootstrap(ctx)
		if raw := c.client.LatestToolResult(); raw != nil {
			res, err := DecodeToolResult(raw)
			if err != nil {
				c.log.WithError(err).Debug("ignoring malformed tool result")
			} else if !isNullJSON(res.StructuredContent) {
				return res.StructuredContent
			}
		}
	}

	return defaultValue
}

// DecodeWidgetData decodes WidgetData into T, returning defaultValue when neither source has
// data yet.
func DecodeWidgetData[T any](ctx context.Context, c *Compat, defaultValue T) (T, error) {
	raw := c.WidgetData(ctx, nil)
	if raw == nil {
		return defaultValue, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return defaultValue, fmt.Errorf("failed to unmarshal widget data: %w", err)
	}
	return v, nil
}

// MergeHostContext merges the two sources field by field. Without an override the legacy value
// wins when present, then the transport value. ProtocolLegacy consults only the legacy globals
// and ProtocolTransport only the transport context, even when that leaves a field empty.
func MergeHostContext(override Protocol, legacy *OpenAIGlobals, transport *HostContext) CompatHostContext {
	res := CompatHostContext{
		Legacy:    legacy,
		Transport: transport,
	}

	var l, t CompatHostContext
	if legacy != nil && override != ProtocolTransport {
		l = legacyFields(*legacy)
	}
	if transport != nil && override != ProtocolLegacy {
		t = transportFields(*transport)
	}

	res.Theme = firstNonNil(l.Theme, t.Theme)
	res.DisplayMode = firstNonNil(l.DisplayMode, t.DisplayMode)
	res.MaxHeight = firstNonNil(l.MaxHeight, t.MaxHeight)
	res.SafeArea = firstNonNil(l.SafeArea, t.SafeArea)
	res.Locale = firstNonNil(l.Locale, t.Locale)
	res.UserAgent = l.UserAgent
	if res.UserAgent == nil {
		res.UserAgent = t.UserAgent
	}

	return res
}

func legacyFields(g OpenAIGlobals) CompatHostContext {
	res := CompatHostContext{
		Theme:       g.Theme,
		DisplayMode: g.DisplayMode,
		MaxHeight:   g.MaxHeight,
		Locale:      g.Locale,
	}
	if g.SafeArea != nil {
		insets := g.SafeArea.Insets
		res.SafeArea = &insets
	}
	if !isNullJSON(g.UserAgent) {
		res.UserAgent = g.UserAgent
	}
	return res
}

func transportFields(hc HostContext) CompatHostContext {
	var res CompatHostContext
	if hc.Theme != "" {
		theme := hc.Theme
		res.Theme = &theme
	}
	if hc.DisplayMode != "" {
		mode := hc.DisplayMode
		res.DisplayMode = &mode
	}
	if hc.Viewport != nil {
		res.MaxHeight = hc.Viewport.MaxHeight
	}
	res.SafeArea = hc.SafeAreaInsets
	if hc.Locale != "" {
		locale := hc.Locale
		res.Locale = &locale
	}
	if hc.UserAgent != "" {
		// Marshaling a string cannot fail.
		ua, _ := json.Marshal(hc.UserAgent)
		res.UserAgent = ua
	}
	return res
}

func firstNonNil[T any](values ...*T) *T {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
