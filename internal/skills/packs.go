package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Instruction skill packages are directories carrying a SKILL.md
// manifest: YAML frontmatter plus markdown instructions, with
// optional scripts/ and references/ subdirectories.

var (
	frontmatterRe = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n(.*)`)
	packNameRe    = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)
)

// validManifestFields are the only frontmatter keys a manifest may
// carry.
var validManifestFields = map[string]bool{
	"name": true, "description": true, "license": true,
	"compatibility": true, "metadata": true, "allowed-tools": true,
}

// PackMetadata is the cheap tier of a skill package, loaded at
// discovery. Only name and description reach the system prompt.
type PackMetadata struct {
	Name          string
	Description   string
	Path          string
	License       string
	Compatibility string
	Metadata      map[string]string
	AllowedTools  string
}

// PackContent is the full package, loaded on demand by the bridge.
type PackContent struct {
	Metadata     PackMetadata
	Instructions string
	Scripts      map[string]string
	References   map[string]string
}

type packManifest struct {
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	License       string            `yaml:"license"`
	Compatibility string            `yaml:"compatibility"`
	Metadata      map[string]string `yaml:"metadata"`
	AllowedTools  string            `yaml:"allowed-tools"`
}

// parseManifest splits SKILL.md into frontmatter and body.
func parseManifest(content string) (packManifest, map[string]bool, string, error) {
	match := frontmatterRe.FindStringSubmatch(content)
	if match == nil {
		return packManifest{}, nil, "", fmt.Errorf("no valid YAML frontmatter")
	}

	var manifest packManifest
	if err := yaml.Unmarshal([]byte(match[1]), &manifest); err != nil {
		return packManifest{}, nil, "", fmt.Errorf("parsing frontmatter: %w", err)
	}

	// Track present keys to reject unknown fields.
	var rawKeys map[string]any
	if err := yaml.Unmarshal([]byte(match[1]), &rawKeys); err != nil {
		return packManifest{}, nil, "", fmt.Errorf("parsing frontmatter: %w", err)
	}
	present := make(map[string]bool, len(rawKeys))
	for key := range rawKeys {
		present[key] = true
	}

	return manifest, present, strings.TrimSpace(match[2]), nil
}

// validateManifest checks frontmatter against the package spec.
func validateManifest(manifest packManifest, present map[string]bool, dirName string) []string {
	var errs []string
	for key := range present {
		if !validManifestFields[key] {
			errs = append(errs, fmt.Sprintf("unknown frontmatter field: %s", key))
		}
	}
	switch {
	case manifest.Name == "":
		errs = append(errs, "missing required field: name")
	case !packNameRe.MatchString(manifest.Name) || len(manifest.Name) > 64:
		errs = append(errs, fmt.Sprintf("invalid name: %s", manifest.Name))
	case manifest.Name != dirName:
		errs = append(errs, fmt.Sprintf("name '%s' doesn't match directory '%s'", manifest.Name, dirName))
	}
	switch {
	case manifest.Description == "":
		errs = append(errs, "missing required field: description")
	case len(manifest.Description) > 1024:
		errs = append(errs, "description exceeds 1024 characters")
	}
	sort.Strings(errs)
	return errs
}

// LoadPackMetadata reads only the manifest of one package directory.
// Invalid packages return nil with the problems logged.
func LoadPackMetadata(dir string) *PackMetadata {
	logger := slog.Default().With("component", "skills")

	raw, err := os.ReadFile(filepath.Join(dir, "SKILL.md"))
	if err != nil {
		return nil
	}
	manifest, present, _, err := parseManifest(string(raw))
	if err != nil {
		logger.Warn("failed to parse skill manifest", "dir", dir, "error", err)
		return nil
	}
	if errs := validateManifest(manifest, present, filepath.Base(dir)); len(errs) > 0 {
		logger.Warn("skill package has validation errors", "dir", dir, "errors", errs)
		return nil
	}
	return &PackMetadata{
		Name:          manifest.Name,
		Description:   manifest.Description,
		Path:          dir,
		License:       manifest.License,
		Compatibility: manifest.Compatibility,
		Metadata:      manifest.Metadata,
		AllowedTools:  manifest.AllowedTools,
	}
}

// LoadPackContent reads the full package: instructions plus every
// file under scripts/ and references/.
func LoadPackContent(meta PackMetadata) (*PackContent, error) {
	raw, err := os.ReadFile(filepath.Join(meta.Path, "SKILL.md"))
	if err != nil {
		return nil, fmt.Errorf("reading skill manifest: %w", err)
	}
	_, _, body, err := parseManifest(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing skill manifest: %w", err)
	}

	content := &PackContent{
		Metadata:     meta,
		Instructions: body,
		Scripts:      map[string]string{},
		References:   map[string]string{},
	}
	for sub, dest := range map[string]map[string]string{
		"scripts":    content.Scripts,
		"references": content.References,
	} {
		entries, err := os.ReadDir(filepath.Join(meta.Path, sub))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(meta.Path, sub, entry.Name()))
			if err != nil {
				continue
			}
			dest[entry.Name()] = string(data)
		}
	}
	return content, nil
}

// DiscoverPacks scans directories in order for skill packages. The
// first occurrence of a name wins.
func DiscoverPacks(skillDirs []string) []PackMetadata {
	logger := slog.Default().With("component", "skills")

	var packs []PackMetadata
	seen := map[string]bool{}
	for _, dir := range skillDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.Debug("skill directory not readable", "dir", dir)
			continue
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			meta := LoadPackMetadata(filepath.Join(dir, name))
			if meta == nil || seen[meta.Name] {
				continue
			}
			packs = append(packs, *meta)
			seen[meta.Name] = true
		}
	}
	return packs
}

// FormatPackIndex renders the compact skill index injected into the
// system prompt. Empty when no packages were discovered.
func FormatPackIndex(packs []PackMetadata) string {
	if len(packs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Available Skills\n")
	b.WriteString("You have access to the following instruction skills. ")
	b.WriteString("To use a skill, call the `load_skill` tool with the skill name to get its full instructions.\n")
	for _, pack := range packs {
		fmt.Fprintf(&b, "\n- **%s**: %s", pack.Name, pack.Description)
	}
	return b.String()
}
