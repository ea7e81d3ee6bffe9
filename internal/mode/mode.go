package mode

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Mode identifies an operating mode for the governance pipeline.
type Mode string

const (
	// Plan is a read-only planning mode; write-like tools are blocked.
	Plan Mode = "plan"
	// Normal prompts for risky tool calls and permits writes.
	Normal Mode = "normal"
	// Auto approves tool calls without prompting but keeps policy checks.
	Auto Mode = "auto"
	// Yolo approves everything; intended for disposable environments.
	Yolo Mode = "yolo"
	// Architect is a read-only review mode focused on design feedback.
	Architect Mode = "architect"
)

// cycleOrder is the fixed rotation used by Cycle.
var cycleOrder = []Mode{Plan, Normal, Auto, Yolo, Architect}

// Profile describes the immutable capabilities of a mode.
type Profile struct {
	// AutoApprove skips interactive approval for tool calls.
	AutoApprove bool
	// ReadOnly blocks write-like tool calls entirely.
	ReadOnly bool
	// Label is the uppercase display name for prompts and refusals.
	Label string
	// PromptModifier is appended to the system prompt while the mode is active.
	PromptModifier string
}

// profiles holds the static capability table, keyed by mode.
var profiles = map[Mode]Profile{
	Plan: {
		ReadOnly: true,
		Label:    "PLAN",
		PromptModifier: "You are in PLAN mode. Investigate and design only. " +
			"Do not modify files or run commands with side effects; produce a plan instead.",
	},
	Normal: {
		Label:          "NORMAL",
		PromptModifier: "You are in NORMAL mode. Ask before risky actions and explain destructive commands.",
	},
	Auto: {
		AutoApprove:    true,
		Label:          "AUTO",
		PromptModifier: "You are in AUTO mode. Tool calls are approved automatically; keep changes small and verifiable.",
	},
	Yolo: {
		AutoApprove:    true,
		Label:          "YOLO",
		PromptModifier: "You are in YOLO mode. All tool calls run without approval. Proceed quickly but do not be reckless.",
	},
	Architect: {
		ReadOnly: true,
		Label:    "ARCHITECT",
		PromptModifier: "You are in ARCHITECT mode. Review structure and design read-only. " +
			"Describe changes instead of making them.",
	},
}

// Transition records one mode change for the append-only history.
type Transition struct {
	// Mode is the mode entered by the transition.
	Mode Mode `json:"mode"`
	// At is when the transition happened.
	At time.Time `json:"at"`
}

// State is a snapshot of the manager's current mode and mirrored flags.
type State struct {
	// Current is the active mode.
	Current Mode
	// AutoApprove mirrors the profile of Current.
	AutoApprove bool
	// ReadOnly mirrors the profile of Current.
	ReadOnly bool
	// EnteredAt is when Current became active.
	EnteredAt time.Time
	// History lists every transition since construction, oldest first.
	History []Transition
}

// Manager holds the operating mode and answers write-blocking questions.
// All methods are safe for concurrent use and none of them can fail.
type Manager struct {
	mu        sync.Mutex
	current   Mode
	enteredAt time.Time
	history   []Transition
}

// NewManager starts in the given mode, defaulting to Normal for unknown input.
func NewManager(initial Mode) *Manager {
	if _, ok := profiles[initial]; !ok {
		initial = Normal
	}
	now := time.Now()
	return &Manager{
		current:   initial,
		enteredAt: now,
		history:   []Transition{{Mode: initial, At: now}},
	}
}

// Parse maps a user-supplied string to a Mode.
func Parse(value string) (Mode, error) {
	candidate := Mode(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := profiles[candidate]; !ok {
		return "", fmt.Errorf("unknown mode: %q", value)
	}
	return candidate, nil
}

// All returns the modes in cycle order.
func All() []Mode {
	out := make([]Mode, len(cycleOrder))
	copy(out, cycleOrder)
	return out
}

// ProfileOf returns the static profile for a mode.
func ProfileOf(m Mode) Profile {
	return profiles[m]
}

// Current returns the active mode.
func (m *Manager) Current() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// StateSnapshot returns a copy of the full mode state.
func (m *Manager) StateSnapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile := profiles[m.current]
	history := make([]Transition, len(m.history))
	copy(history, m.history)
	return State{
		Current:     m.current,
		AutoApprove: profile.AutoApprove,
		ReadOnly:    profile.ReadOnly,
		EnteredAt:   m.enteredAt,
		History:     history,
	}
}

// Cycle advances to the next mode in the fixed rotation and returns it.
func (m *Manager) Cycle() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	index := 0
	for position, candidate := range cycleOrder {
		if candidate == m.current {
			index = position
			break
		}
	}
	next := cycleOrder[(index+1)%len(cycleOrder)]
	m.transitionLocked(next)
	return next
}

// Set transitions directly to the given mode, defaulting unknown modes to Normal.
func (m *Manager) Set(target Mode) {
	if _, ok := profiles[target]; !ok {
		target = Normal
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionLocked(target)
}

// transitionLocked mutates current mode and appends history. Caller holds mu.
func (m *Manager) transitionLocked(target Mode) {
	now := time.Now()
	m.current = target
	m.enteredAt = now
	m.history = append(m.history, Transition{Mode: target, At: now})
}

// SystemPromptModifier returns the fixed guidance text for the active mode.
func (m *Manager) SystemPromptModifier() string {
	return profiles[m.Current()].PromptModifier
}

// AutoApprove reports whether the active mode skips interactive approval.
func (m *Manager) AutoApprove() bool {
	return profiles[m.Current()].AutoApprove
}

// ShouldBlockTool reports whether the active mode forbids the call and why.
// Unknown tool names are treated as non-write, so they are never blocked.
func (m *Manager) ShouldBlockTool(toolName string, args json.RawMessage) (bool, string) {
	current := m.Current()
	profile := profiles[current]
	if !profile.ReadOnly {
		return false, ""
	}
	if !classifyWrite(toolName, args) {
		return false, ""
	}
	reason := fmt.Sprintf(
		"%s is blocked: %s mode is read-only. Do not retry this call; describe the change instead.",
		toolName, profile.Label,
	)
	return true, reason
}

// writeTools names tools that always count as write-like.
var writeTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
	"write_file":   true,
	"edit_file":    true,
	"delete_file":  true,
}

// shellTools names generic command tools whose writes depend on the command.
var shellTools = map[string]bool{
	"Bash":        true,
	"bash":        true,
	"shell":       true,
	"sh":          true,
	"run_command": true,
}

// safeCommandPrefixes lists shell invocations that do not count as writes
// on their own. Output redirection still makes them writes.
var safeCommandPrefixes = []string{
	"git status", "git diff", "git log", "git show", "git branch",
	"ls", "cat", "head", "tail", "pwd", "echo", "which", "env",
	"grep", "rg", "find", "wc", "whoami", "date", "go version",
}

// redirectionPattern matches shell output redirection; it trumps the safe
// prefix allowlist because any command can write a file through it.
var redirectionPattern = regexp.MustCompile(`(^|[^>])>{1,2}`)

// writeSignatures matches shell commands with filesystem or state side effects.
var writeSignatures = []*regexp.Regexp{
	regexp.MustCompile(`^\s*(sudo\s+)?(rm|mv|dd|mkfs|chmod|chown|ln|truncate|shred)\b`),
	regexp.MustCompile(`^\s*(mkdir|touch|rmdir|cp)\b`),
	regexp.MustCompile(`\btee\b`),
	regexp.MustCompile(`\bsed\s+(-\S*\s+)*-i\b`),
	regexp.MustCompile(`\bperl\s+(-\S*\s+)*-i\b`),
	regexp.MustCompile(`^\s*git\s+(commit|push|reset|clean|checkout|rebase|merge|cherry-pick|stash|rm|mv)\b`),
	regexp.MustCompile(`\b(npm|pnpm|yarn|pip3?|apt(-get)?|brew|yum|dnf)\s+(install|uninstall|remove|upgrade|add)\b`),
	regexp.MustCompile(`\bkill(all)?\b`),
}

// classifyWrite reports whether a call is write-like.
func classifyWrite(toolName string, args json.RawMessage) bool {
	if writeTools[toolName] {
		return true
	}
	if !shellTools[toolName] {
		return false
	}
	command := commandFromArgs(args)
	if command == "" {
		return false
	}
	if redirectionPattern.MatchString(command) {
		return true
	}
	trimmed := strings.TrimSpace(command)
	for _, prefix := range safeCommandPrefixes {
		if trimmed == prefix || strings.HasPrefix(trimmed, prefix+" ") {
			return false
		}
	}
	for _, signature := range writeSignatures {
		if signature.MatchString(command) {
			return true
		}
	}
	return false
}

// commandFromArgs extracts the shell command string from tool arguments.
func commandFromArgs(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var payload struct {
		Command string `json:"command"`
	}
	// Malformed arguments classify as non-write; validation happens elsewhere.
	if err := json.Unmarshal(args, &payload); err != nil {
		return ""
	}
	return payload.Command
}
