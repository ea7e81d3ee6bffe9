// Package policy resolves the governance configuration for tool calls:
// per-tool permission levels, static allow/deny patterns, and hook bindings.
// Configuration is layered YAML: user, project, then local files, with later
// layers winning and missing files ignored.
package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toolwarden/toolwarden/internal/hooks"
)

// Level is the configured permission level for a tool.
type Level string

const (
	// LevelAlways executes without approval.
	LevelAlways Level = "always"
	// LevelNever refuses the tool outright.
	LevelNever Level = "never"
	// LevelAsk requires interactive approval on every call.
	LevelAsk Level = "ask"
	// LevelAskTime asks once and may grant a time window.
	LevelAskTime Level = "ask_time"
	// LevelAskIterations asks once and may grant a use count.
	LevelAskIterations Level = "ask_iterations"
)

// knownLevels guards against typos in config files.
var knownLevels = map[Level]bool{
	LevelAlways:        true,
	LevelNever:         true,
	LevelAsk:           true,
	LevelAskTime:       true,
	LevelAskIterations: true,
}

// HookBinding is one hook entry in the config file.
type HookBinding struct {
	// Command is passed to the shell.
	Command string `yaml:"command"`
	// Timeout bounds the hook in seconds.
	Timeout int `yaml:"timeout"`
	// Matcher selects which tools trigger the hook.
	Matcher string `yaml:"matcher"`
}

// SandboxRule configures filesystem confinement for file tools.
type SandboxRule struct {
	// ExtraRoots adds allowed directories beyond the working directory.
	ExtraRoots []string `yaml:"extra_roots"`
	// Deny adds forbidden path prefixes to the built-in protected set.
	Deny []string `yaml:"deny"`
}

// ToolRule is the per-tool configuration block.
type ToolRule struct {
	// Level overrides the default permission level.
	Level Level `yaml:"level"`
	// Allow lists argument patterns that execute without approval.
	Allow []string `yaml:"allow"`
	// Deny lists argument patterns that are refused outright.
	Deny []string `yaml:"deny"`
}

// File is the on-disk policy schema (warden.yaml).
type File struct {
	// DefaultLevel applies to tools without an explicit rule; defaults to ask.
	DefaultLevel Level `yaml:"default_level"`
	// Tools holds per-tool rules keyed by tool name.
	Tools map[string]ToolRule `yaml:"tools"`
	// Allow lists global allowlist patterns ("Tool" or "Tool(argpattern)").
	Allow []string `yaml:"allow"`
	// Deny lists global denylist patterns.
	Deny []string `yaml:"deny"`
	// Hooks maps lifecycle event names to hook bindings.
	Hooks map[string][]HookBinding `yaml:"hooks"`
	// Sandbox configures filesystem confinement for file tools.
	Sandbox SandboxRule `yaml:"sandbox"`
}

// Resolver answers per-tool policy questions for the orchestrator.
type Resolver struct {
	file File
}

// NewResolver wraps an already-merged policy file.
func NewResolver(file File) *Resolver {
	return &Resolver{file: file}
}

// Load reads and merges policy files for a working directory. An explicit
// path, when given, is layered last and must exist.
func Load(cwd string, explicitPath string) (*Resolver, error) {
	paths, err := configPaths(cwd)
	if err != nil {
		return nil, err
	}

	merged := File{}
	for _, path := range paths {
		layer, err := loadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		merged = mergeFiles(merged, layer)
	}

	if explicitPath != "" {
		layer, err := loadFile(explicitPath)
		if err != nil {
			return nil, err
		}
		merged = mergeFiles(merged, layer)
	}

	return NewResolver(merged), nil
}

// configPaths resolves the user, project, and local policy file locations.
func configPaths(cwd string) ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home dir: %w", err)
	}
	projectRoot := findProjectRoot(cwd)
	return []string{
		filepath.Join(home, ".toolwarden", "warden.yaml"),
		filepath.Join(projectRoot, "warden.yaml"),
		filepath.Join(cwd, ".warden.yaml"),
	}, nil
}

// loadFile parses one YAML policy file.
func loadFile(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return File{}, fmt.Errorf("parse policy %s: %w", path, err)
	}
	return file, nil
}

// mergeFiles layers overlay on top of base: the default level and per-tool
// rules are replaced, list-valued fields are appended.
func mergeFiles(base File, overlay File) File {
	merged := File{
		DefaultLevel: base.DefaultLevel,
		Tools:        map[string]ToolRule{},
		Allow:        append([]string{}, base.Allow...),
		Deny:         append([]string{}, base.Deny...),
		Hooks:        map[string][]HookBinding{},
	}
	for name, rule := range base.Tools {
		merged.Tools[name] = rule
	}
	for event, bindings := range base.Hooks {
		merged.Hooks[event] = append([]HookBinding{}, bindings...)
	}

	if overlay.DefaultLevel != "" {
		merged.DefaultLevel = overlay.DefaultLevel
	}
	for name, rule := range overlay.Tools {
		merged.Tools[name] = rule
	}
	merged.Allow = append(merged.Allow, overlay.Allow...)
	merged.Deny = append(merged.Deny, overlay.Deny...)
	for event, bindings := range overlay.Hooks {
		merged.Hooks[event] = append(merged.Hooks[event], bindings...)
	}
	merged.Sandbox.ExtraRoots = append(append([]string{}, base.Sandbox.ExtraRoots...), overlay.Sandbox.ExtraRoots...)
	merged.Sandbox.Deny = append(append([]string{}, base.Sandbox.Deny...), overlay.Sandbox.Deny...)
	return merged
}

// LevelFor returns the configured level for a tool. Unknown tools and
// unrecognized levels fall back to the default, and the default falls back
// to ask.
func (r *Resolver) LevelFor(toolName string) Level {
	if rule, ok := r.file.Tools[toolName]; ok && knownLevels[rule.Level] {
		return rule.Level
	}
	if knownLevels[r.file.DefaultLevel] {
		return r.file.DefaultLevel
	}
	return LevelAsk
}

// AllowPatterns returns global plus per-tool allowlist patterns.
func (r *Resolver) AllowPatterns(toolName string) []string {
	patterns := append([]string{}, r.file.Allow...)
	if rule, ok := r.file.Tools[toolName]; ok {
		for _, arg := range rule.Allow {
			patterns = append(patterns, fmt.Sprintf("%s(%s)", toolName, arg))
		}
	}
	return patterns
}

// DenyPatterns returns global plus per-tool denylist patterns.
func (r *Resolver) DenyPatterns(toolName string) []string {
	patterns := append([]string{}, r.file.Deny...)
	if rule, ok := r.file.Tools[toolName]; ok {
		for _, arg := range rule.Deny {
			patterns = append(patterns, fmt.Sprintf("%s(%s)", toolName, arg))
		}
	}
	return patterns
}

// HooksFor converts the bindings for a lifecycle event into hook specs.
func (r *Resolver) HooksFor(event string) []hooks.Spec {
	bindings := r.file.Hooks[event]
	if len(bindings) == 0 {
		return nil
	}
	specs := make([]hooks.Spec, 0, len(bindings))
	for _, binding := range bindings {
		if strings.TrimSpace(binding.Command) == "" {
			continue
		}
		specs = append(specs, hooks.Spec{
			Command: binding.Command,
			Timeout: time.Duration(binding.Timeout) * time.Second,
			Matcher: binding.Matcher,
		})
	}
	return specs
}

// SandboxRoots returns the configured extra workspace roots.
func (r *Resolver) SandboxRoots() []string {
	return append([]string{}, r.file.Sandbox.ExtraRoots...)
}

// SandboxDeny returns the configured forbidden path prefixes.
func (r *Resolver) SandboxDeny() []string {
	return append([]string{}, r.file.Sandbox.Deny...)
}

// findProjectRoot locates the nearest parent directory containing .git,
// falling back to the working directory itself.
func findProjectRoot(cwd string) string {
	current := filepath.Clean(cwd)
	for {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return cwd
		}
		current = parent
	}
}
