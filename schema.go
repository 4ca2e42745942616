package mcpapps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID identifies a request and its matching response. Guests assign ids starting at 1
// and never reuse them within one Client. Unmarshaling also accepts numeric strings, since
// some hosts echo ids back as strings.
type RequestID int64

// MessageKind is the shape of a JSONRPCMessage, derived from which fields it carries.
type MessageKind int

// JSONRPCMessage represents a JSON-RPC 2.0 message exchanged between a guest UI and its host.
// It can represent either a request, response, or notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and optionally Params are set
//   - Response: JSONRPC, ID, and exactly one of Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
//
// A Result holding the JSON literal null is still a result: the raw bytes "null" are kept.
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID pairs requests with responses, nil for notifications
	ID *RequestID `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol. It is also the error
// value a Call fails with when the host answers with an error object.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error. Hosts may omit it, in which case
	// Error reports UnknownErrorMessage.
	Message string `json:"message,omitempty"`

	// Data contains additional information about the error.
	Data json.RawMessage `json:"data,omitempty"`
}

// Info identifies either side of the channel, sent as clientInfo in ui/initialize and
// returned as hostInfo.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities is the capabilities object a guest declares in ui/initialize. It is empty
// for now and marshals as {}.
type ClientCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
}

// InitializeParams is the payload of the ui/initialize request.
type InitializeParams struct {
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
	ProtocolVersion string             `json:"protocolVersion"`
}

// InitializeResult is the host's answer to ui/initialize.
type InitializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	// HostCapabilities is kept opaque, hosts advertise different shapes.
	HostCapabilities json.RawMessage `json:"hostCapabilities,omitempty"`
	HostInfo         *Info           `json:"hostInfo,omitempty"`
	HostContext      *HostContext    `json:"hostContext,omitempty"`
}

// Theme is the host's color scheme.
type Theme string

// DisplayMode is how the host presents the widget.
type DisplayMode string

// Platform is the kind of client the host runs on.
type Platform string

// HostContext describes the environment the host renders the guest in. Every field is
// optional; zero values mean the host did not say.
type HostContext struct {
	ToolInfo              *ToolInfo           `json:"toolInfo,omitempty"`
	Theme                 Theme               `json:"theme,omitempty"`
	DisplayMode           DisplayMode         `json:"displayMode,omitempty"`
	AvailableDisplayModes []DisplayMode       `json:"availableDisplayModes,omitempty"`
	Viewport              *Viewport           `json:"viewport,omitempty"`
	Locale                string              `json:"locale,omitempty"`
	TimeZone              string              `json:"timeZone,omitempty"`
	UserAgent             string              `json:"userAgent,omitempty"`
	Platform              Platform            `json:"platform,omitempty"`
	DeviceCapabilities    *DeviceCapabilities `json:"deviceCapabilities,omitempty"`
	SafeAreaInsets        *SafeAreaInsets     `json:"safeAreaInsets,omitempty"`
}

// ToolInfo identifies the tool call that produced the widget. ID may be a string or a number.
type ToolInfo struct {
	ID   json.RawMessage `json:"id,omitempty"`
	Tool json.RawMessage `json:"tool,omitempty"`
}

// Viewport is the area available to the widget, in CSS pixels.
type Viewport struct {
	Width     float64  `json:"width"`
	Height    float64  `json:"height"`
	MaxHeight *float64 `json:"maxHeight,omitempty"`
	MaxWidth  *float64 `json:"maxWidth,omitempty"`
}

// DeviceCapabilities reports input capabilities of the user's device.
type DeviceCapabilities struct {
	Touch *bool `json:"touch,omitempty"`
	Hover *bool `json:"hover,omitempty"`
}

// SafeAreaInsets are the insets the widget must keep clear of.
type SafeAreaInsets struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// OpenLinkParams is the payload of ui/open-link.
type OpenLinkParams struct {
	URL string `json:"url"`
}

// MessageParams is the payload of ui/message.
type MessageParams struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is a single content block of a ui/message.
type MessageContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolParams is the payload of tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the conventional payload of ui/notifications/tool-result and of a tools/call
// response.
type ToolResult struct {
	Content           []Content       `json:"content,omitempty"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	Meta              json.RawMessage `json:"_meta,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// Content is a content block of a ToolResult.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// SizeChangedParams is the payload of ui/notifications/size-changed.
type SizeChangedParams struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is the protocol version a Client declares in ui/initialize.
	ProtocolVersion = "2025-06-18"

	// UnknownErrorMessage is reported for error responses that carry no message.
	UnknownErrorMessage = "Unknown error"

	MethodInitialize         = "ui/initialize"
	MethodInitialized        = "ui/notifications/initialized"
	MethodToolInput          = "ui/notifications/tool-input"
	MethodToolResult         = "ui/notifications/tool-result"
	MethodHostContextChanged = "ui/notifications/host-context-changed"
	MethodSizeChanged        = "ui/notifications/size-changed"
	MethodOpenLink           = "ui/open-link"
	MethodMessage            = "ui/message"
	MethodToolsCall          = "tools/call"

	// JSONRPCParseError indicates invalid JSON was received by the server.
	JSONRPCParseError = -32700
	// JSONRPCInvalidRequest indicates the JSON sent is not a valid Request object.
	JSONRPCInvalidRequest = -32600
	// JSONRPCMethodNotFound indicates the method does not exist or is not available.
	JSONRPCMethodNotFound = -32601
	// JSONRPCInvalidParams indicates invalid method parameter(s).
	JSONRPCInvalidParams = -32602
	// JSONRPCInternalError indicates an internal JSON-RPC error.
	JSONRPCInternalError = -32603
	// JSONRPCRateLimited is returned by a Host when a guest exceeds its request budget.
	JSONRPCRateLimited = -32000

	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"

	DisplayModeInline     DisplayMode = "inline"
	DisplayModeFullscreen DisplayMode = "fullscreen"
	DisplayModePIP        DisplayMode = "pip"
	DisplayModeCarousel   DisplayMode = "carousel"

	PlatformWeb     Platform = "web"
	PlatformDesktop Platform = "desktop"
	PlatformMobile  Platform = "mobile"
)

const (
	// KindInvalid is anything that is not a well-formed JSON-RPC 2.0 message.
	KindInvalid MessageKind = iota
	KindRequest
	KindResponse
	KindNotification
)

var defaultClientInfo = Info{Name: "fastapps-ui", Version: "1.0.0"}

// Kind classifies the message. A message with an id and a method is a request, with an id and
// no method a response (which must carry exactly one of result and error), with a method and
// no id a notification. Everything else, including a wrong protocol marker, is KindInvalid.
func (m JSONRPCMessage) Kind() MessageKind {
	if m.JSONRPC != JSONRPCVersion {
		return KindInvalid
	}
	switch {
	case m.ID != nil && m.Method != "":
		return KindRequest
	case m.ID != nil:
		if (m.Result != nil) == (m.Error != nil) {
			return KindInvalid
		}
		return KindResponse
	case m.Method != "":
		return KindNotification
	}
	return KindInvalid
}

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// UnmarshalJSON accepts a JSON number or a string holding an integer.
func (r *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("request id %q is not an integer: %w", s, err)
		}
		*r = RequestID(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to unmarshal request id: %w", err)
	}
	*r = RequestID(v)
	return nil
}

func (r RequestID) String() string {
	return strconv.FormatInt(int64(r), 10)
}

func (j *JSONRPCError) Error() string {
	if j.Message == "" {
		return UnknownErrorMessage
	}
	return j.Message
}

// Merge returns a copy of h with every field that is set in partial replaced by partial's
// value. Fields absent from partial are kept.
func (h HostContext) Merge(partial HostContext) HostContext {
	if partial.ToolInfo != nil {
		h.ToolInfo = partial.ToolInfo
	}
	if partial.Theme != "" {
		h.Theme = partial.Theme
	}
	if partial.DisplayMode != "" {
		h.DisplayMode = partial.DisplayMode
	}
	if partial.AvailableDisplayModes != nil {
		h.AvailableDisplayModes = partial.AvailableDisplayModes
	}
	if partial.Viewport != nil {
		h.Viewport = partial.Viewport
	}
	if partial.Locale != "" {
		h.Locale = partial.Locale
	}
	if partial.TimeZone != "" {
		h.TimeZone = partial.TimeZone
	}
	if partial.UserAgent != "" {
		h.UserAgent = partial.UserAgent
	}
	if partial.Platform != "" {
		h.Platform = partial.Platform
	}
	if partial.DeviceCapabilities != nil {
		h.DeviceCapabilities = partial.DeviceCapabilities
	}
	if partial.SafeAreaInsets != nil {
		h.SafeAreaInsets = partial.SafeAreaInsets
	}
	return h
}

// DecodeToolResult decodes a cached or pushed tool-result payload. A nil payload decodes to
// the zero ToolResult.
func DecodeToolResult(raw json.RawMessage) (ToolResult, error) {
	var res ToolResult
	if isNullJSON(raw) {
		return res, nil
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, fmt.Errorf("failed to unmarshal tool result: %w", err)
	}
	return res, nil
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
