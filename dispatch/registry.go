package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jonwraymond/toolauth/auth"
)

var (
	// ErrUnknownTool indicates the tool is not in the registry.
	ErrUnknownTool = errors.New("dispatch: unknown tool")
	// ErrInvalidTool indicates a tool definition cannot be registered.
	ErrInvalidTool = errors.New("dispatch: invalid tool definition")
)

// Handler executes a tool for an authorized caller.
type Handler func(ctx context.Context, ac auth.AuthenticationContext, input any) (any, error)

// Tool is one entry in the static tool table.
type Tool struct {
	Name        string
	Description string
	Requirement auth.Requirement
	Handler     Handler
}

// Registry is an immutable table of tools keyed by name.
type Registry struct {
	tools map[string]Tool
	names []string
}

// NewRegistry builds a registry from tools. Names are trimmed and must be
// unique; every tool needs a handler and a satisfiable requirement.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		tool.Name = strings.TrimSpace(tool.Name)
		if tool.Name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidTool)
		}
		if tool.Handler == nil {
			return nil, fmt.Errorf("%w: tool %q has no handler", ErrInvalidTool, tool.Name)
		}
		if err := tool.Requirement.Validate(); err != nil {
			return nil, fmt.Errorf("%w: tool %q: %w", ErrInvalidTool, tool.Name, err)
		}
		if _, exists := r.tools[tool.Name]; exists {
			return nil, fmt.Errorf("%w: tool %q already registered", ErrInvalidTool, tool.Name)
		}
		r.tools[tool.Name] = tool
		r.names = append(r.names, tool.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Requirement returns the capability requirement declared by name.
func (r *Registry) Requirement(name string) (auth.Requirement, bool) {
	tool, ok := r.tools[name]
	return tool.Requirement, ok
}

// Names returns the registered tool names in order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}
