// Package hooks runs externally configured policy scripts at lifecycle
// events. Each hook is a child process that receives one JSON object on stdin
// and may answer with one JSON object on stdout. Hook faults degrade to
// permissive defaults; the only hard signal is the reserved exit code 2.
package hooks

import (
	"encoding/json"
	"time"
)

// Lifecycle event names, following the Claude hook convention.
const (
	EventPreToolUse       = "PreToolUse"
	EventPostToolUse      = "PostToolUse"
	EventUserPromptSubmit = "UserPromptSubmit"
	EventSessionEnd       = "SessionEnd"
)

// Permission decisions a hook may return for pre-tool-use events.
const (
	PermissionAllow = "allow"
	PermissionDeny  = "deny"
	PermissionAsk   = "ask"
)

// Spec configures one hook: the command to run, how long to wait for it, and
// which tools it applies to.
type Spec struct {
	// Command is passed to sh -c.
	Command string
	// Timeout bounds the child process; clamped to [1s, 60s], default 10s.
	Timeout time.Duration
	// Matcher selects tools: "*" or empty matches all, simple tokens match
	// exactly, anything else compiles as a regular expression.
	Matcher string
}

const (
	minHookTimeout     = time.Second
	maxHookTimeout     = 60 * time.Second
	defaultHookTimeout = 10 * time.Second
)

// effectiveTimeout clamps the configured timeout into the allowed range.
func (s Spec) effectiveTimeout() time.Duration {
	if s.Timeout == 0 {
		return defaultHookTimeout
	}
	if s.Timeout < minHookTimeout {
		return minHookTimeout
	}
	if s.Timeout > maxHookTimeout {
		return maxHookTimeout
	}
	return s.Timeout
}

// Payload is the JSON object written to a hook's stdin. Event-specific fields
// are omitted when empty.
type Payload struct {
	// SessionID identifies the governed session.
	SessionID string `json:"session_id"`
	// CWD is the working directory of the session.
	CWD string `json:"cwd"`
	// HookEventName names the lifecycle event.
	HookEventName string `json:"hook_event_name"`
	// ToolName is set for tool-use events.
	ToolName string `json:"tool_name,omitempty"`
	// ToolInput is set for tool-use events.
	ToolInput map[string]any `json:"tool_input,omitempty"`
	// UserPrompt is set for prompt-submit events.
	UserPrompt string `json:"user_prompt,omitempty"`
	// MessageCount is set for session-end events.
	MessageCount int `json:"message_count,omitempty"`
	// TotalTokens is set for session-end events.
	TotalTokens int `json:"total_tokens,omitempty"`
}

// Decision is one hook's parsed output. Malformed or absent output degrades
// to the all-defaults decision and never surfaces as an error.
type Decision struct {
	// Continue is true unless the hook asked to stop the pipeline.
	Continue bool
	// SuppressOutput hides the hook's stdout from transcripts.
	SuppressOutput bool
	// SystemMessage is surfaced to the session as advisory text.
	SystemMessage string
	// PermissionDecision is allow, deny, ask, or empty (pre-tool-use only).
	PermissionDecision string
	// UpdatedInput replaces individual tool input keys.
	UpdatedInput map[string]any
	// Reason explains a deny or ask.
	Reason string
	// ModifiedPrompt rewrites the user prompt (prompt-submit only).
	ModifiedPrompt string
	// Err annotates a hook fault (timeout, exec failure) for logging. It is
	// advisory and does not itself deny.
	Err error
}

// defaultDecision is what every hook run starts from.
func defaultDecision() Decision {
	return Decision{Continue: true}
}

// wireDecision is the lenient stdout schema. Unknown fields are ignored and
// missing fields keep their defaults.
type wireDecision struct {
	Continue           *bool          `json:"continue"`
	SuppressOutput     *bool          `json:"suppress_output"`
	SystemMessage      string         `json:"system_message"`
	PermissionDecision string         `json:"permission_decision"`
	UpdatedInput       map[string]any `json:"updated_input"`
	Reason             string         `json:"reason"`
	ModifiedPrompt     string         `json:"modified_prompt"`
}

// parseDecision interprets hook stdout, degrading to defaults on any problem.
func parseDecision(output []byte) Decision {
	decision := defaultDecision()
	var wire wireDecision
	if err := json.Unmarshal(output, &wire); err != nil {
		return decision
	}
	if wire.Continue != nil {
		decision.Continue = *wire.Continue
	}
	if wire.SuppressOutput != nil {
		decision.SuppressOutput = *wire.SuppressOutput
	}
	decision.SystemMessage = wire.SystemMessage
	switch wire.PermissionDecision {
	case PermissionAllow, PermissionDeny, PermissionAsk:
		decision.PermissionDecision = wire.PermissionDecision
	}
	decision.UpdatedInput = wire.UpdatedInput
	decision.Reason = wire.Reason
	decision.ModifiedPrompt = wire.ModifiedPrompt
	return decision
}

// Verdict is the merged outcome of all matching hooks for one event.
type Verdict string

const (
	// VerdictAllow lets the pipeline continue.
	VerdictAllow Verdict = "allow"
	// VerdictDeny stops the call with feedback.
	VerdictDeny Verdict = "deny"
	// VerdictAsk forces interactive approval.
	VerdictAsk Verdict = "ask"
)

// Aggregate is the reduction of all matching hook decisions.
type Aggregate struct {
	// Verdict is deny if any hook denied or stopped, else ask if any asked,
	// else allow.
	Verdict Verdict
	// Reason is the first non-empty reason in hook order.
	Reason string
	// ExplicitAllow is set when at least one hook answered allow and nothing
	// denied or asked; it lets the pipeline skip further approval checks.
	ExplicitAllow bool
	// UpdatedInput is the key-by-key merge of all updated inputs, hook order.
	UpdatedInput map[string]any
	// SystemMessage concatenates all hook system messages in hook order.
	SystemMessage string
	// ModifiedPrompt is the first non-empty modified prompt in hook order.
	ModifiedPrompt string
}

// ShouldExecute reports whether the merged verdict permits the call.
func (a Aggregate) ShouldExecute() bool {
	return a.Verdict != VerdictDeny
}

// mergeDecisions reduces per-hook decisions in hook order.
func mergeDecisions(decisions []Decision) Aggregate {
	aggregate := Aggregate{Verdict: VerdictAllow}
	var messages []string
	for _, decision := range decisions {
		if decision.PermissionDecision == PermissionDeny || !decision.Continue {
			aggregate.Verdict = VerdictDeny
		} else if decision.PermissionDecision == PermissionAsk && aggregate.Verdict != VerdictDeny {
			aggregate.Verdict = VerdictAsk
		} else if decision.PermissionDecision == PermissionAllow {
			aggregate.ExplicitAllow = true
		}
		if aggregate.Reason == "" && decision.Reason != "" {
			aggregate.Reason = decision.Reason
		}
		if len(decision.UpdatedInput) > 0 {
			if aggregate.UpdatedInput == nil {
				aggregate.UpdatedInput = map[string]any{}
			}
			for key, value := range decision.UpdatedInput {
				aggregate.UpdatedInput[key] = value
			}
		}
		if decision.SystemMessage != "" {
			messages = append(messages, decision.SystemMessage)
		}
		if aggregate.ModifiedPrompt == "" && decision.ModifiedPrompt != "" {
			aggregate.ModifiedPrompt = decision.ModifiedPrompt
		}
	}
	if aggregate.Verdict != VerdictAllow {
		aggregate.ExplicitAllow = false
	}
	if len(messages) > 0 {
		aggregate.SystemMessage = joinMessages(messages)
	}
	return aggregate
}

// joinMessages concatenates system messages with newlines.
func joinMessages(messages []string) string {
	joined := messages[0]
	for _, message := range messages[1:] {
		joined += "\n" + message
	}
	return joined
}
