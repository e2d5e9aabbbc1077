package skills

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Bridge exposes discovered instruction skill packages to the LLM
// through two tools: load_skill for full instructions and
// read_skill_file for scripts and references. It is only registered
// when packages were discovered.
type Bridge struct {
	mu      sync.RWMutex
	packs   map[string]PackMetadata
	content map[string]*PackContent
	logger  *slog.Logger
}

var _ Skill = (*Bridge)(nil)

// NewBridge builds the bridge over the given packages.
func NewBridge(packs []PackMetadata) *Bridge {
	b := &Bridge{
		packs:   make(map[string]PackMetadata, len(packs)),
		content: make(map[string]*PackContent),
		logger:  slog.Default().With("component", "skill", "skill", "bridge"),
	}
	for _, pack := range packs {
		b.packs[pack.Name] = pack
	}
	return b
}

// SetPacks replaces the package registry after a re-discovery and
// drops the content cache.
func (b *Bridge) SetPacks(packs []PackMetadata) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packs = make(map[string]PackMetadata, len(packs))
	for _, pack := range packs {
		b.packs[pack.Name] = pack
	}
	b.content = make(map[string]*PackContent)
}

func (b *Bridge) Name() string { return "skill_bridge" }

func (b *Bridge) Tools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name: "load_skill",
			Description: "Load the full instructions for an instruction skill by name. " +
				"Call this when you need detailed instructions to perform a task " +
				"matching an available skill from the skill index.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"skill_name": map[string]any{
						"type":        "string",
						"description": "Name of the skill to load",
					},
				},
				"required": []any{"skill_name"},
			},
		},
		{
			Name: "read_skill_file",
			Description: "Read a specific file from a skill package. " +
				"Use for scripts or references listed in skill instructions.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"skill_name": map[string]any{
						"type":        "string",
						"description": "Name of the skill",
					},
					"file_path": map[string]any{
						"type":        "string",
						"description": "Filename to read (from scripts/ or references/)",
					},
				},
				"required": []any{"skill_name", "file_path"},
			},
		},
	}
}

func (b *Bridge) Execute(ctx context.Context, tool string, args map[string]any) ToolResult {
	skillName, _ := args["skill_name"].(string)
	switch tool {
	case "load_skill":
		return b.loadSkill(skillName)
	case "read_skill_file":
		filePath, _ := args["file_path"].(string)
		return b.readSkillFile(skillName, filePath)
	default:
		return Fail("Unknown tool: %s", tool)
	}
}

func (b *Bridge) loadSkill(name string) ToolResult {
	content, result := b.getContent(name)
	if content == nil {
		return result
	}
	return Ok(formatInstructions(content))
}

func (b *Bridge) readSkillFile(name, filePath string) ToolResult {
	// File names are bare entries from scripts/ or references/; any
	// path syntax is a traversal attempt and never touches the
	// filesystem.
	if filePath == "" {
		return Fail("file_path is required")
	}
	if strings.Contains(filePath, "..") || strings.ContainsAny(filePath, `/\`) {
		return Fail("Invalid file_path '%s': must be a bare file name from the skill package", filePath)
	}

	content, result := b.getContent(name)
	if content == nil {
		return result
	}
	if data, ok := content.Scripts[filePath]; ok {
		return Ok(data)
	}
	if data, ok := content.References[filePath]; ok {
		return Ok(data)
	}

	available := make([]string, 0, len(content.Scripts)+len(content.References))
	for fname := range content.Scripts {
		available = append(available, fname)
	}
	for fname := range content.References {
		available = append(available, fname)
	}
	sort.Strings(available)
	return Fail("File '%s' not found in skill '%s'. Available files: %s",
		filePath, name, strings.Join(available, ", "))
}

// getContent loads and caches a package's full content. On failure
// the second return carries the error result.
func (b *Bridge) getContent(name string) (*PackContent, ToolResult) {
	b.mu.RLock()
	cached, ok := b.content[name]
	meta, known := b.packs[name]
	b.mu.RUnlock()

	if ok {
		return cached, ToolResult{}
	}
	if !known {
		b.mu.RLock()
		names := make([]string, 0, len(b.packs))
		for n := range b.packs {
			names = append(names, n)
		}
		b.mu.RUnlock()
		sort.Strings(names)
		return nil, Fail("Skill '%s' not found. Available skills: %s", name, strings.Join(names, ", "))
	}

	content, err := LoadPackContent(meta)
	if err != nil {
		b.logger.Error("failed to load skill package", "skill", name, "error", err)
		return nil, Fail("Failed to load skill '%s': %v", name, err)
	}

	b.mu.Lock()
	b.content[name] = content
	b.mu.Unlock()
	return content, ToolResult{}
}

func formatInstructions(content *PackContent) string {
	var b strings.Builder
	b.WriteString("# Skill: " + content.Metadata.Name + "\n\n")
	b.WriteString(content.Instructions)

	if len(content.References) > 0 {
		b.WriteString("\n\n## Available References\n")
		for _, fname := range sortedKeys(content.References) {
			b.WriteString("- " + fname + "\n")
		}
	}
	if len(content.Scripts) > 0 {
		b.WriteString("\n\n## Available Scripts\n")
		for _, fname := range sortedKeys(content.Scripts) {
			b.WriteString("- " + fname + "\n")
		}
		b.WriteString("\nUse the read_skill_file tool to read any script or reference file.")
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
