package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/toolwarden/toolwarden/internal/hooks"
)

// samplePolicy exercises every schema section.
const samplePolicy = `
default_level: ask
tools:
  Read:
    level: always
  Bash:
    level: ask_iterations
    allow:
      - "git status*"
    deny:
      - "rm -rf*"
  Dangerous:
    level: never
deny:
  - "Write(/etc/**)"
hooks:
  PreToolUse:
    - command: "./check.sh"
      timeout: 5
      matcher: "Bash"
sandbox:
  extra_roots:
    - "/srv/shared"
  deny:
    - "/srv/shared/secrets"
`

// writePolicy drops a policy file into a temp directory.
func writePolicy(testingHandle *testing.T, contents string) string {
	testingHandle.Helper()
	dir := testingHandle.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		testingHandle.Fatalf("write policy: %v", err)
	}
	return path
}

// TestLoadExplicitPolicy verifies levels, patterns, and hooks resolve.
func TestLoadExplicitPolicy(testingHandle *testing.T) {
	path := writePolicy(testingHandle, samplePolicy)
	resolver, err := Load(testingHandle.TempDir(), path)
	if err != nil {
		testingHandle.Fatalf("load policy: %v", err)
	}

	if level := resolver.LevelFor("Read"); level != LevelAlways {
		testingHandle.Fatalf("Read level: %s", level)
	}
	if level := resolver.LevelFor("Bash"); level != LevelAskIterations {
		testingHandle.Fatalf("Bash level: %s", level)
	}
	if level := resolver.LevelFor("Dangerous"); level != LevelNever {
		testingHandle.Fatalf("Dangerous level: %s", level)
	}
	if level := resolver.LevelFor("Unlisted"); level != LevelAsk {
		testingHandle.Fatalf("unlisted tools default to ask, got %s", level)
	}

	specs := resolver.HooksFor(hooks.EventPreToolUse)
	if len(specs) != 1 {
		testingHandle.Fatalf("expected 1 hook spec, got %d", len(specs))
	}
	if specs[0].Timeout != 5*time.Second || specs[0].Matcher != "Bash" {
		testingHandle.Fatalf("hook spec mismatch: %+v", specs[0])
	}

	if roots := resolver.SandboxRoots(); len(roots) != 1 || roots[0] != "/srv/shared" {
		testingHandle.Fatalf("sandbox roots mismatch: %v", roots)
	}
	if deny := resolver.SandboxDeny(); len(deny) != 1 || deny[0] != "/srv/shared/secrets" {
		testingHandle.Fatalf("sandbox deny mismatch: %v", deny)
	}
}

// TestPatternMatching verifies the Tool(argpattern) forms.
func TestPatternMatching(testingHandle *testing.T) {
	cases := []struct {
		pattern    string
		tool       string
		classified []string
		want       bool
	}{
		{"Bash", "Bash", nil, true},
		{"Bash", "Write", nil, false},
		{"*", "Anything", nil, true},
		{"Bash(git status*)", "Bash", []string{"git status"}, true},
		{"Bash(git status*)", "Bash", []string{"git status --short"}, true},
		{"Bash(git status*)", "Bash", []string{"git push"}, false},
		{"Write(/etc/**)", "Write", []string{"/etc/passwd"}, true},
		{"Write(/etc/**)", "Write", []string{"/home/user/x"}, false},
		{"Bash(rm -rf*)", "Bash", []string{"rm -rf /"}, true},
	}
	for _, item := range cases {
		got := ParsePattern(item.pattern).Matches(item.tool, item.classified)
		if got != item.want {
			testingHandle.Fatalf("pattern %q vs %s%v: got %v, want %v",
				item.pattern, item.tool, item.classified, got, item.want)
		}
	}
}

// TestResolverPatternLists verifies global and per-tool patterns combine.
func TestResolverPatternLists(testingHandle *testing.T) {
	path := writePolicy(testingHandle, samplePolicy)
	resolver, err := Load(testingHandle.TempDir(), path)
	if err != nil {
		testingHandle.Fatalf("load policy: %v", err)
	}

	allow := resolver.AllowPatterns("Bash")
	if _, ok := MatchAny(allow, "Bash", []string{"git status --short"}); !ok {
		testingHandle.Fatalf("expected git status allowed by %v", allow)
	}
	deny := resolver.DenyPatterns("Bash")
	if _, ok := MatchAny(deny, "Bash", []string{"rm -rf /"}); !ok {
		testingHandle.Fatalf("expected rm -rf denied by %v", deny)
	}
	deny = resolver.DenyPatterns("Write")
	if source, ok := MatchAny(deny, "Write", []string{"/etc/hosts"}); !ok || source != "Write(/etc/**)" {
		testingHandle.Fatalf("expected global deny to match, got %q %v", source, ok)
	}
}

// TestMergeLayers verifies later layers win per tool and lists append.
func TestMergeLayers(testingHandle *testing.T) {
	base := File{
		DefaultLevel: LevelAsk,
		Tools:        map[string]ToolRule{"Bash": {Level: LevelAsk}},
		Deny:         []string{"Bash(rm*)"},
	}
	overlay := File{
		Tools:   map[string]ToolRule{"Bash": {Level: LevelAlways}},
		Deny:    []string{"Write(/etc/**)"},
		Sandbox: SandboxRule{Deny: []string{"/srv/secrets"}},
	}
	merged := mergeFiles(base, overlay)
	if merged.Tools["Bash"].Level != LevelAlways {
		testingHandle.Fatalf("overlay rule should win: %+v", merged.Tools["Bash"])
	}
	if len(merged.Deny) != 2 {
		testingHandle.Fatalf("deny lists should append: %v", merged.Deny)
	}
	if merged.DefaultLevel != LevelAsk {
		testingHandle.Fatalf("base default should survive empty overlay")
	}
	if len(merged.Sandbox.Deny) != 1 || merged.Sandbox.Deny[0] != "/srv/secrets" {
		testingHandle.Fatalf("sandbox deny should merge: %v", merged.Sandbox.Deny)
	}
}
