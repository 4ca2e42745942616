package mcpapps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ToolHandler runs a tool with already validated arguments.
type ToolHandler func(ctx context.Context, args map[string]any) (ToolResult, error)

// Tool is a tool a Host lets its guest call through tools/call.
type Tool struct {
	Name        string
	Title       string
	Description string
	// InputSchema is a JSON Schema the arguments must satisfy. Nil accepts any arguments.
	InputSchema json.RawMessage
	Handler     ToolHandler
}

// ToolRegistry holds the tools of a Host and implements ToolCaller.
type ToolRegistry struct {
	tools map[string]registeredTool
	names []string
}

type registeredTool struct {
	Tool
	schema *gojsonschema.Schema
}

// NewToolRegistry validates and registers tools. Every tool needs a unique name, a description,
// a handler and, when given, a schema that compiles.
func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{tools: make(map[string]registeredTool, len(tools))}
	for _, t := range tools {
		if err := r.register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Tools returns the registered tools in registration order.
func (r *ToolRegistry) Tools() []Tool {
	tools := make([]Tool, 0, len(r.names))
	for _, name := range r.names {
		tools = append(tools, r.tools[name].Tool)
	}
	return tools
}

// CallTool validates the arguments against the tool's schema and runs it.
func (r *ToolRegistry) CallTool(ctx context.Context, params CallToolParams) (ToolResult, error) {
	t, ok := r.tools[params.Name]
	if !ok {
		return ToolResult{}, fmt.Errorf("%w: %s", ErrToolNotFound, params.Name)
	}

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}

	if t.schema != nil {
		res, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
		if err != nil {
			return ToolResult{}, fmt.Errorf("failed to validate arguments of %s: %w", params.Name, err)
		}
		if !res.Valid() {
			msgs := make([]string, 0, len(res.Errors()))
			for _, e := range res.Errors() {
				msgs = append(msgs, e.String())
			}
			return ToolResult{}, fmt.Errorf("%w for %s: %s", ErrInvalidToolArguments, params.Name, strings.Join(msgs, "; "))
		}
	}

	return t.Handler(ctx, args)
}

func (r *ToolRegistry) register(t Tool) error {
	if t.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	if t.Description == "" {
		return fmt.Errorf("tool %s: description cannot be empty", t.Name)
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: handler cannot be nil", t.Name)
	}
	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("tool %s: already registered", t.Name)
	}

	rt := registeredTool{Tool: t}
	if t.InputSchema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(string(t.InputSchema)))
		if err != nil {
			return fmt.Errorf("tool %s: invalid input schema: %w", t.Name, err)
		}
		rt.schema = schema
	}

	r.tools[t.Name] = rt
	r.names = append(r.names, t.Name)
	return nil
}
