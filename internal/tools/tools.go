// Package tools defines the tool collaborator surface the governance core
// dispatches to: a typed registry resolving names to implementations, and a
// filesystem sandbox shared by file tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// ToolContext provides shared context to tool implementations.
type ToolContext struct {
	// Sandbox enforces path allow/deny rules for file tools.
	Sandbox *Sandbox
	// CWD is the working directory for command tools.
	CWD string
	// SessionID identifies the current session.
	SessionID string
}

// ToolResult is the result of a tool invocation.
type ToolResult struct {
	// Content holds the tool output payload.
	Content string
	// IsError reports whether the tool failed.
	IsError bool
}

// Tool defines a callable tool. ClassifyArgs exposes the argument strings
// allow/deny patterns are matched against: the command text for shell tools,
// file paths for file tools.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	ClassifyArgs(input json.RawMessage) []string
	Run(ctx context.Context, input json.RawMessage, toolCtx ToolContext) (ToolResult, error)
}

// Registry resolves tool names to implementations, fixed at startup.
type Registry struct {
	// tools stores implementations keyed by name.
	tools map[string]Tool
	// order preserves deterministic tool ordering.
	order []string
}

// NewRegistry constructs a registry, de-duplicating by name in input order.
func NewRegistry(tools []Tool) *Registry {
	toolMap := make(map[string]Tool, len(tools))
	order := make([]string, 0, len(tools))
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		name := tool.Name()
		if name == "" {
			continue
		}
		if _, exists := toolMap[name]; exists {
			continue
		}
		toolMap[name] = tool
		order = append(order, name)
	}
	return &Registry{tools: toolMap, order: order}
}

// Lookup returns the tool for a name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in deterministic order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	if len(r.order) > 0 {
		names := make([]string, len(r.order))
		copy(names, r.order)
		return names
	}
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes a tool by name. An unknown name is a tool-level error, not a
// Go error, so batches keep going.
func (r *Registry) Run(ctx context.Context, name string, args json.RawMessage, toolCtx ToolContext) (ToolResult, error) {
	tool, ok := r.tools[name]
	if !ok {
		return ToolResult{IsError: true, Content: fmt.Sprintf("tool not found: %s", name)}, nil
	}
	return tool.Run(ctx, args, toolCtx)
}

// ClassifyArgs asks the named tool to classify arguments for pattern
// matching. Unknown tools classify to nothing.
func (r *Registry) ClassifyArgs(name string, args json.RawMessage) []string {
	tool, ok := r.tools[name]
	if !ok {
		return nil
	}
	return tool.ClassifyArgs(args)
}

// Filter applies allow/deny name constraints to a tool list.
func Filter(tools []Tool, allowed []string, disallowed []string) []Tool {
	allowedSet := toNameSet(allowed)
	disallowedSet := toNameSet(disallowed)

	var filtered []Tool
	for _, tool := range tools {
		name := tool.Name()
		if len(allowedSet) > 0 && !allowedSet[name] {
			continue
		}
		if disallowedSet[name] {
			continue
		}
		filtered = append(filtered, tool)
	}
	return filtered
}

// toNameSet converts a list of names to a lookup set.
func toNameSet(names []string) map[string]bool {
	set := make(map[string]bool)
	for _, name := range names {
		if name == "" {
			continue
		}
		set[name] = true
	}
	return set
}

// DefaultTools returns the built-in tool set.
func DefaultTools() []Tool {
	return []Tool{
		&BashTool{},
		&ReadTool{},
		&WriteTool{},
	}
}
