package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileOps reads, writes, and lists files confined to a base
// directory.
type FileOps struct {
	basePath          string
	allowedExtensions []string
}

var _ Skill = (*FileOps)(nil)

// NewFileOps builds the file operations skill rooted at basePath. A
// nil allowedExtensions permits every extension.
func NewFileOps(basePath string, allowedExtensions []string) (*FileOps, error) {
	if basePath == "" {
		basePath = "."
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolving base path: %w", err)
	}
	return &FileOps{basePath: abs, allowedExtensions: allowedExtensions}, nil
}

func (f *FileOps) Name() string { return "file_ops" }

func (f *FileOps) Tools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read the contents of a file",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to the file (relative to base path)",
					},
				},
				"required": []any{"path"},
			},
		},
		{
			Name:        "write_file",
			Description: "Write content to a file (creates if not exists)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to the file (relative to base path)",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Content to write",
					},
					"append": map[string]any{
						"type":        "boolean",
						"description": "Append to file instead of overwriting",
						"default":     false,
					},
				},
				"required": []any{"path", "content"},
			},
		},
		{
			Name:        "list_directory",
			Description: "List files and directories in a path",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Directory path (relative to base path)",
						"default":     ".",
					},
				},
			},
		},
	}
}

func (f *FileOps) Execute(ctx context.Context, tool string, args map[string]any) ToolResult {
	switch tool {
	case "read_file":
		return f.readFile(args)
	case "write_file":
		return f.writeFile(args)
	case "list_directory":
		return f.listDirectory(args)
	default:
		return Fail("Unknown tool: %s", tool)
	}
}

// resolve confines a relative path to the base directory.
func (f *FileOps) resolve(rel string) (string, bool) {
	abs := filepath.Join(f.basePath, rel)
	abs = filepath.Clean(abs)
	if abs != f.basePath && !strings.HasPrefix(abs, f.basePath+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}

func (f *FileOps) extensionAllowed(path string) bool {
	if f.allowedExtensions == nil {
		return true
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, allowed := range f.allowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (f *FileOps) readFile(args map[string]any) ToolResult {
	rel, _ := args["path"].(string)
	path, ok := f.resolve(rel)
	if !ok {
		return Fail("Invalid or disallowed path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Fail("File not found: %s", rel)
	}
	if info.IsDir() {
		return Fail("Not a file: %s", rel)
	}
	if !f.extensionAllowed(path) {
		return Fail("File extension not allowed: %s", filepath.Ext(path))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Fail("Failed to read file: %v", err)
	}
	return Ok(map[string]any{"path": rel, "content": string(content)})
}

func (f *FileOps) writeFile(args map[string]any) ToolResult {
	rel, _ := args["path"].(string)
	content, _ := args["content"].(string)
	appendMode, _ := args["append"].(bool)

	path, ok := f.resolve(rel)
	if !ok {
		return Fail("Invalid or disallowed path")
	}
	if !f.extensionAllowed(path) {
		return Fail("File extension not allowed: %s", filepath.Ext(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Fail("Failed to write file: %v", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return Fail("Failed to write file: %v", err)
	}
	defer file.Close()
	if _, err := file.WriteString(content); err != nil {
		return Fail("Failed to write file: %v", err)
	}
	return Ok(map[string]any{"path": rel, "bytes_written": len(content)})
}

func (f *FileOps) listDirectory(args map[string]any) ToolResult {
	rel, _ := args["path"].(string)
	if rel == "" {
		rel = "."
	}
	path, ok := f.resolve(rel)
	if !ok {
		return Fail("Invalid or disallowed path")
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail("Directory not found: %s", rel)
		}
		return Fail("Failed to list directory: %v", err)
	}

	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{"name": entry.Name()}
		if entry.IsDir() {
			item["type"] = "directory"
		} else {
			item["type"] = "file"
			if info, err := entry.Info(); err == nil {
				item["size"] = info.Size()
			}
		}
		items = append(items, item)
	}
	return Ok(map[string]any{"path": rel, "items": items})
}
