// Package skills implements the capability layer: built-in coded
// skills, filesystem-discovered instruction skill packages, and the
// registry that dispatches LLM tool calls to them.
package skills

import (
	"context"
	"fmt"
)

// ToolDefinition describes one callable tool. Parameters is a JSON
// Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolResult is the outcome of executing a tool.
type ToolResult struct {
	Success bool
	Output  any
	Error   string
}

// Ok builds a successful result.
func Ok(output any) ToolResult {
	return ToolResult{Success: true, Output: output}
}

// Fail builds a failed result.
func Fail(format string, args ...any) ToolResult {
	return ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Skill is a bundle of related tools with shared configuration.
type Skill interface {
	Name() string
	Tools() []ToolDefinition
	Execute(ctx context.Context, tool string, args map[string]any) ToolResult
}
