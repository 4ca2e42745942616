package mcpapps

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Protocol is an explicit choice of host protocol. The zero value, ProtocolAuto, means no
// override: each action prefers the legacy host API when it offers the action.
type Protocol string

// Backend is where the compatibility layer routes a single action.
type Backend int

const (
	ProtocolAuto      Protocol = ""
	ProtocolLegacy    Protocol = "legacy"
	ProtocolTransport Protocol = "transport"

	// ProtocolEnv is the well-known slot the override is read from. Servers set it for the
	// widget by injecting a protocol hint into the page.
	ProtocolEnv = "FASTAPPS_PROTOCOL"

	// UIExtension is the client capability extension that advertises MCP Apps support.
	UIExtension = "io.modelcontextprotocol/ui"
	// UIMimeType is the resource mime type of MCP Apps widgets.
	UIMimeType = "text/html+mcp"
)

const (
	BackendLegacy Backend = iota
	BackendTransport
)

// ParseProtocol parses an override value. Besides the canonical names it accepts the hint
// values "openai-apps" and "mcp-apps". The empty string and "auto" mean no override.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ProtocolAuto, nil
	case "legacy", "openai-apps", "openai":
		return ProtocolLegacy, nil
	case "transport", "mcp-apps", "mcp":
		return ProtocolTransport, nil
	}
	return ProtocolAuto, fmt.Errorf("unknown protocol %q", s)
}

// ProtocolFromEnv reads the override from the FASTAPPS_PROTOCOL environment variable.
func ProtocolFromEnv() (Protocol, error) {
	return ParseProtocol(os.Getenv(ProtocolEnv))
}

// HintValue is the value written into a page's protocol hint.
func (p Protocol) HintValue() string {
	switch p {
	case ProtocolLegacy:
		return "openai-apps"
	case ProtocolTransport:
		return "mcp-apps"
	default:
		return ""
	}
}

func (p Protocol) String() string {
	if p == ProtocolAuto {
		return "auto"
	}
	return string(p)
}

func (b Backend) String() string {
	if b == BackendLegacy {
		return "legacy"
	}
	return "transport"
}

// SelectBackend decides where an action goes. An override is honored exactly; without one the
// legacy host API wins whenever it offers the action.
func SelectBackend(override Protocol, legacy Availability) Backend {
	switch override {
	case ProtocolLegacy:
		return BackendLegacy
	case ProtocolTransport:
		return BackendTransport
	}
	if legacy == Available {
		return BackendLegacy
	}
	return BackendTransport
}

// InjectProtocolHint makes a widget page carry the override for protocol by inserting a script
// that sets window.__FASTAPPS_PROTOCOL. The script goes right before the first </head>, or at
// the very start when the page has no head. ProtocolAuto leaves the page untouched.
func InjectProtocolHint(html string, protocol Protocol) string {
	value := protocol.HintValue()
	if value == "" {
		return html
	}

	script := fmt.Sprintf(`<script>window.__FASTAPPS_PROTOCOL=%q;</script>`, value)
	if i := strings.Index(html, "</head>"); i >= 0 {
		return html[:i] + script + html[i:]
	}
	return script + html
}

// DetectProtocol picks the protocol to serve a client from the extensions it advertised in
// its capabilities: ProtocolTransport when the MCP Apps UI extension lists the widget mime
// type, ProtocolLegacy otherwise.
func DetectProtocol(extensions map[string]json.RawMessage) Protocol {
	raw, ok := extensions[UIExtension]
	if !ok {
		return ProtocolLegacy
	}

	var ext struct {
		MimeTypes []string `json:"mimeTypes"`
	}
	if err := json.Unmarshal(raw, &ext); err != nil {
		return ProtocolLegacy
	}
	for _, mt := range ext.MimeTypes {
		if strings.EqualFold(mt, UIMimeType) {
			return ProtocolTransport
		}
	}
	return ProtocolLegacy
}
