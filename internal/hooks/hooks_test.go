package hooks

import (
	"context"
	"testing"
	"time"
)

// TestMergeDenyBeatsAllow verifies one deny among allows denies the call and
// keeps the denier's reason.
func TestMergeDenyBeatsAllow(testingHandle *testing.T) {
	decisions := []Decision{
		{Continue: true, PermissionDecision: PermissionAllow},
		{Continue: true, PermissionDecision: PermissionDeny, Reason: "X"},
		{Continue: true, PermissionDecision: PermissionAllow},
	}
	merged := mergeDecisions(decisions)
	if merged.ShouldExecute() {
		testingHandle.Fatalf("expected should_execute=false")
	}
	if merged.Reason != "X" {
		testingHandle.Fatalf("expected reason X, got %q", merged.Reason)
	}
}

// TestMergeContinueFalseDenies verifies continue=false is a deny.
func TestMergeContinueFalseDenies(testingHandle *testing.T) {
	merged := mergeDecisions([]Decision{
		{Continue: true},
		{Continue: false, Reason: "stop"},
	})
	if merged.Verdict != VerdictDeny {
		testingHandle.Fatalf("expected deny, got %s", merged.Verdict)
	}
}

// TestMergeAskWhenNoDeny verifies ask wins over allow but not deny.
func TestMergeAskWhenNoDeny(testingHandle *testing.T) {
	merged := mergeDecisions([]Decision{
		{Continue: true, PermissionDecision: PermissionAllow},
		{Continue: true, PermissionDecision: PermissionAsk},
	})
	if merged.Verdict != VerdictAsk {
		testingHandle.Fatalf("expected ask, got %s", merged.Verdict)
	}

	merged = mergeDecisions([]Decision{
		{Continue: true, PermissionDecision: PermissionAsk},
		{Continue: true, PermissionDecision: PermissionDeny},
	})
	if merged.Verdict != VerdictDeny {
		testingHandle.Fatalf("deny must win over ask, got %s", merged.Verdict)
	}
}

// TestMergeUpdatedInputKeyByKey verifies inputs merge per key, not wholesale.
func TestMergeUpdatedInputKeyByKey(testingHandle *testing.T) {
	merged := mergeDecisions([]Decision{
		{Continue: true, UpdatedInput: map[string]any{"command": "ls", "cwd": "/tmp"}},
		{Continue: true, UpdatedInput: map[string]any{"cwd": "/var"}},
	})
	if merged.UpdatedInput["command"] != "ls" {
		testingHandle.Fatalf("earlier key lost: %+v", merged.UpdatedInput)
	}
	if merged.UpdatedInput["cwd"] != "/var" {
		testingHandle.Fatalf("later hook should win per key: %+v", merged.UpdatedInput)
	}
}

// TestMergeSystemMessagesConcatenated verifies message ordering.
func TestMergeSystemMessagesConcatenated(testingHandle *testing.T) {
	merged := mergeDecisions([]Decision{
		{Continue: true, SystemMessage: "first"},
		{Continue: true},
		{Continue: true, SystemMessage: "second"},
	})
	if merged.SystemMessage != "first\nsecond" {
		testingHandle.Fatalf("unexpected concatenation: %q", merged.SystemMessage)
	}
}

// TestParseDecisionDefaults verifies lenient parsing.
func TestParseDecisionDefaults(testingHandle *testing.T) {
	for _, raw := range []string{"", "not json", "{}", `{"unknown_key": 1}`} {
		decision := parseDecision([]byte(raw))
		if !decision.Continue {
			testingHandle.Fatalf("input %q should default to continue", raw)
		}
		if decision.PermissionDecision != "" {
			testingHandle.Fatalf("input %q should have no permission decision", raw)
		}
	}
	decision := parseDecision([]byte(`{"permission_decision":"bogus","continue":false}`))
	if decision.Continue {
		testingHandle.Fatalf("continue=false should parse")
	}
	if decision.PermissionDecision != "" {
		testingHandle.Fatalf("unrecognized permission decisions are dropped")
	}
}

// TestMatcherSemantics verifies the wildcard, token, pipe, and regex forms.
func TestMatcherSemantics(testingHandle *testing.T) {
	cases := []struct {
		source string
		tool   string
		want   bool
	}{
		{"*", "Bash", true},
		{"", "Bash", true},
		{"Bash", "Bash", true},
		{"Bash", "Write", false},
		{"Bash|Write", "Write", true},
		{"Bash|Write", "Read", false},
		{"^Web.*", "WebFetch", true},
		{"^Web.*", "Bash", false},
		{"(", "Bash", false},
	}
	for _, item := range cases {
		if got := compileMatcher(item.source).Matches(item.tool); got != item.want {
			testingHandle.Fatalf("matcher %q vs %q: got %v, want %v", item.source, item.tool, got, item.want)
		}
	}
}

// TestMatcherCachedPerSource verifies compilation is memoized by source string.
func TestMatcherCachedPerSource(testingHandle *testing.T) {
	first := compileMatcher("^Cache.*Probe$")
	second := compileMatcher("^Cache.*Probe$")
	if first != second {
		testingHandle.Fatalf("expected the same compiled matcher instance")
	}
}

// TestRunPreToolUseDeny verifies a real subprocess deny is honored.
func TestRunPreToolUseDeny(testingHandle *testing.T) {
	runner := NewRunner("session-1", testingHandle.TempDir(), nil)
	specs := []Spec{
		{Command: `echo '{"permission_decision":"deny","reason":"blocked by test"}'`, Matcher: "*"},
		{Command: `echo '{"permission_decision":"allow"}'`, Matcher: "*"},
	}
	aggregate := runner.RunPreToolUse(context.Background(), specs, "Bash", map[string]any{"command": "ls"})
	if aggregate.ShouldExecute() {
		testingHandle.Fatalf("expected deny")
	}
	if aggregate.Reason != "blocked by test" {
		testingHandle.Fatalf("unexpected reason: %q", aggregate.Reason)
	}
}

// TestRunExitCodeTwoHardDenies verifies the reserved exit code denies even
// with an allow body.
func TestRunExitCodeTwoHardDenies(testingHandle *testing.T) {
	runner := NewRunner("session-1", testingHandle.TempDir(), nil)
	specs := []Spec{
		{Command: `echo '{"permission_decision":"allow"}'; exit 2`, Matcher: "*"},
	}
	aggregate := runner.RunPreToolUse(context.Background(), specs, "Bash", nil)
	if aggregate.ShouldExecute() {
		testingHandle.Fatalf("exit code 2 must hard-deny")
	}
}

// TestRunTimeoutIsPermissive verifies a hung hook degrades to allow.
func TestRunTimeoutIsPermissive(testingHandle *testing.T) {
	runner := NewRunner("session-1", testingHandle.TempDir(), nil)
	specs := []Spec{
		{Command: "sleep 5", Timeout: time.Second, Matcher: "*"},
	}
	start := time.Now()
	aggregate := runner.RunPreToolUse(context.Background(), specs, "Bash", nil)
	if !aggregate.ShouldExecute() {
		testingHandle.Fatalf("timeout must not deny")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		testingHandle.Fatalf("hook was not killed at its timeout: %s", elapsed)
	}
}

// TestRunNonMatchingHookSkipped verifies matchers filter hook execution.
func TestRunNonMatchingHookSkipped(testingHandle *testing.T) {
	runner := NewRunner("session-1", testingHandle.TempDir(), nil)
	specs := []Spec{
		{Command: `echo '{"permission_decision":"deny","reason":"write only"}'`, Matcher: "Write"},
	}
	aggregate := runner.RunPreToolUse(context.Background(), specs, "Bash", nil)
	if !aggregate.ShouldExecute() {
		testingHandle.Fatalf("non-matching hook must not run")
	}
}

// TestRunMalformedOutputIsPermissive verifies garbage stdout degrades.
func TestRunMalformedOutputIsPermissive(testingHandle *testing.T) {
	runner := NewRunner("session-1", testingHandle.TempDir(), nil)
	specs := []Spec{
		{Command: `echo 'this is not json'`, Matcher: "*"},
	}
	aggregate := runner.RunPreToolUse(context.Background(), specs, "Bash", nil)
	if !aggregate.ShouldExecute() {
		testingHandle.Fatalf("malformed output must not deny")
	}
}

// TestRunPromptSubmitSkipsToolBoundHooks verifies tool matchers do not fire
// on prompt submission.
func TestRunPromptSubmitSkipsToolBoundHooks(testingHandle *testing.T) {
	runner := NewRunner("session-1", testingHandle.TempDir(), nil)
	specs := []Spec{
		{Command: `echo '{"modified_prompt":"rewritten"}'`, Matcher: "Bash"},
	}
	aggregate := runner.RunUserPromptSubmit(context.Background(), specs, "original")
	if aggregate.ModifiedPrompt != "" {
		testingHandle.Fatalf("tool-bound hook must not run on prompts, got %q", aggregate.ModifiedPrompt)
	}
}

// TestRunPromptSubmitModifiesPrompt verifies the prompt-submit flow.
func TestRunPromptSubmitModifiesPrompt(testingHandle *testing.T) {
	runner := NewRunner("session-1", testingHandle.TempDir(), nil)
	specs := []Spec{
		{Command: `echo '{"modified_prompt":"rewritten"}'`, Matcher: "*"},
	}
	aggregate := runner.RunUserPromptSubmit(context.Background(), specs, "original")
	if aggregate.ModifiedPrompt != "rewritten" {
		testingHandle.Fatalf("expected modified prompt, got %q", aggregate.ModifiedPrompt)
	}
}
