package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry errors.
var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid tool arguments")
	ErrToolCollision    = errors.New("tool name already registered")
)

// Registry routes tool calls to the skill that provides them and
// validates arguments against each tool's JSON Schema before
// dispatch.
type Registry struct {
	mu      sync.RWMutex
	skills  map[string]Skill
	byTool  map[string]Skill
	order   []ToolDefinition
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		skills:  make(map[string]Skill),
		byTool:  make(map[string]Skill),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  slog.Default().With("component", "skills"),
	}
}

// Register adds a skill and all of its tools. A tool name already
// claimed by another skill is an error.
func (r *Registry) Register(skill Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tools := skill.Tools()
	for _, tool := range tools {
		if _, exists := r.byTool[tool.Name]; exists {
			return fmt.Errorf("%w: %s", ErrToolCollision, tool.Name)
		}
	}

	for _, tool := range tools {
		schema, err := compileSchema(tool)
		if err != nil {
			return fmt.Errorf("compiling schema for tool %s: %w", tool.Name, err)
		}
		r.byTool[tool.Name] = skill
		r.schemas[tool.Name] = schema
		r.order = append(r.order, tool)
	}
	r.skills[skill.Name()] = skill

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	r.logger.Info("skill registered", "skill", skill.Name(), "tools", names)
	return nil
}

// Tools returns every registered tool in registration order.
func (r *Registry) Tools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, len(r.order))
	copy(out, r.order)
	return out
}

// SkillFor returns the skill providing a tool, or nil.
func (r *Registry) SkillFor(tool string) Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byTool[tool]
}

// SkillNames lists registered skills.
func (r *Registry) SkillNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	return names
}

// Dispatch validates args against the tool's schema and executes it.
// Validation failures surface as ErrInvalidArguments without reaching
// the skill.
func (r *Registry) Dispatch(ctx context.Context, tool string, args map[string]any) (ToolResult, error) {
	r.mu.RLock()
	skill, ok := r.byTool[tool]
	schema := r.schemas[tool]
	r.mu.RUnlock()

	if !ok {
		return ToolResult{}, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	if args == nil {
		args = map[string]any{}
	}
	if schema != nil {
		if err := schema.Validate(normalizeForSchema(args)); err != nil {
			return ToolResult{}, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, tool, err)
		}
	}
	return skill.Execute(ctx, tool, args), nil
}

// compileSchema turns a tool's Parameters map into a compiled JSON
// Schema validator.
func compileSchema(tool ToolDefinition) (*jsonschema.Schema, error) {
	if tool.Parameters == nil {
		return nil, nil
	}
	raw, err := json.Marshal(tool.Parameters)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := "schema://" + tool.Name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// normalizeForSchema round-trips args through JSON so numeric types
// validate the way the wire format would.
func normalizeForSchema(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}
