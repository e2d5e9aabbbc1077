package skills

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/pulsebot/internal/config"
)

// FromConfig builds a registry with the configured built-in skills
// plus, when instruction skill packages are discovered, the bridge.
// The returned bridge is nil when no packages were found.
func FromConfig(cfg config.SkillsConfig) (*Registry, *Bridge, []PackMetadata, error) {
	logger := slog.Default().With("component", "skills")
	registry := NewRegistry()

	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, name := range cfg.Disabled {
		disabled[name] = true
	}

	for _, name := range cfg.Builtin {
		if disabled[name] {
			continue
		}
		skill, err := buildBuiltin(name, cfg)
		if err != nil {
			logger.Warn("failed to load builtin skill", "skill", name, "error", err)
			continue
		}
		if err := registry.Register(skill); err != nil {
			return nil, nil, nil, fmt.Errorf("registering skill %s: %w", name, err)
		}
	}

	var bridge *Bridge
	var packs []PackMetadata
	if len(cfg.SkillDirs) > 0 {
		discovered := DiscoverPacks(cfg.SkillDirs)
		for _, pack := range discovered {
			if disabled[pack.Name] {
				continue
			}
			packs = append(packs, pack)
		}
		if len(packs) > 0 {
			bridge = NewBridge(packs)
			if err := registry.Register(bridge); err != nil {
				return nil, nil, nil, fmt.Errorf("registering skill bridge: %w", err)
			}
			names := make([]string, len(packs))
			for i, pack := range packs {
				names[i] = pack.Name
			}
			logger.Info("discovered instruction skills", "count", len(packs), "skills", names)
		}
	}

	return registry, bridge, packs, nil
}

func buildBuiltin(name string, cfg config.SkillsConfig) (Skill, error) {
	switch name {
	case "web_search":
		return NewWebSearch(cfg.WebSearch.Provider, cfg.WebSearch.APIKey, cfg.WebSearch.SearxngURL)
	case "file_ops":
		return NewFileOps(cfg.FileOps.BasePath, cfg.FileOps.AllowedExtensions)
	case "shell":
		var allowed []string
		if len(cfg.Shell.AllowedCommands) > 0 {
			allowed = cfg.Shell.AllowedCommands
		}
		return NewShell(allowed, cfg.Shell.WorkingDirectory, time.Duration(cfg.Shell.TimeoutSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown builtin skill: %s", name)
	}
}
