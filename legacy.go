package mcpapps

import (
	"context"
	"encoding/json"
)

// The legacy host API is the OpenAI Apps global object a host injects into the widget. In Go
// it is any value handed to NewCompat; the functions it offers are discovered by asserting the
// interfaces below, so a host object only implements what it actually supports.

// ExternalOpener is the legacy openExternal function.
type ExternalOpener interface {
	OpenExternal(ctx context.Context, params OpenExternalParams) error
}

// FollowUpMessenger is the legacy sendFollowUpMessage function.
type FollowUpMessenger interface {
	SendFollowUpMessage(ctx context.Context, params FollowUpMessageParams) error
}

// LegacyToolCaller is the legacy callTool function.
type LegacyToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// DisplayModeRequester is the legacy requestDisplayMode function.
type DisplayModeRequester interface {
	RequestDisplayMode(ctx context.Context, params DisplayModeParams) (DisplayModeResult, error)
}

// GlobalsReader exposes the passive legacy globals.
type GlobalsReader interface {
	Globals() OpenAIGlobals
}

// OpenExternalParams is the argument of the legacy openExternal.
type OpenExternalParams struct {
	Href string `json:"href"`
}

// FollowUpMessageParams is the argument of the legacy sendFollowUpMessage.
type FollowUpMessageParams struct {
	Prompt string `json:"prompt"`
}

// DisplayModeParams is the argument of requestDisplayMode.
type DisplayModeParams struct {
	Mode DisplayMode `json:"mode"`
}

// DisplayModeResult is what requestDisplayMode resolves with.
type DisplayModeResult struct {
	Mode DisplayMode `json:"mode"`
}

// OpenAIGlobals are the passive values of the legacy host object. A nil field means the host
// did not set it. UserAgent is kept raw: hosts send either a string or an object describing the
// device.
type OpenAIGlobals struct {
	Theme       *Theme          `json:"theme,omitempty"`
	DisplayMode *DisplayMode    `json:"displayMode,omitempty"`
	MaxHeight   *float64        `json:"maxHeight,omitempty"`
	SafeArea    *SafeArea       `json:"safeArea,omitempty"`
	Locale      *string         `json:"locale,omitempty"`
	UserAgent   json.RawMessage `json:"userAgent,omitempty"`
	ToolInput   json.RawMessage `json:"toolInput,omitempty"`
	ToolOutput  json.RawMessage `json:"toolOutput,omitempty"`
	WidgetState json.RawMessage `json:"widgetState,omitempty"`
}

// SafeArea is the legacy shape of the safe-area global.
type SafeArea struct {
	Insets SafeAreaInsets `json:"insets"`
}

// Action is a host action the compatibility layer can route.
type Action int

// Availability is the outcome of probing the legacy host object for an action.
type Availability int

const (
	ActionOpenLink Action = iota
	ActionSendMessage
	ActionCallTool
	ActionRequestDisplayMode
)

const (
	Unavailable Availability = iota
	Available
)

// Probe reports whether the legacy host object provides the function behind action. A nil
// object provides nothing.
func Probe(legacy any, action Action) Availability {
	if legacy == nil {
		return Unavailable
	}

	var ok bool
	switch action {
	case ActionOpenLink:
		_, ok = legacy.(ExternalOpener)
	case ActionSendMessage:
		_, ok = legacy.(FollowUpMessenger)
	case ActionCallTool:
		_, ok = legacy.(LegacyToolCaller)
	case ActionRequestDisplayMode:
		_, ok = legacy.(DisplayModeRequester)
	}
	if ok {
		return Available
	}
	return Unavailable
}

func (a Action) String() string {
	switch a {
	case ActionOpenLink:
		return "openLink"
	case ActionSendMessage:
		return "sendMessage"
	case ActionCallTool:
		return "callTool"
	case ActionRequestDisplayMode:
		return "requestDisplayMode"
	default:
		return "unknown"
	}
}

func (a Availability) String() string {
	if a == Available {
		return "available"
	}
	return "unavailable"
}

func legacyGlobals(legacy any) (OpenAIGlobals, bool) {
	r, ok := legacy.(GlobalsReader)
	if !ok {
		return OpenAIGlobals{}, false
	}
	return r.Globals(), true
}
