package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"sync"

	"github.com/charmbracelet/log"
)

// hardDenyExitCode is reserved: a hook exiting with it denies the call
// regardless of anything its body says.
const hardDenyExitCode = 2

// Runner executes configured hooks for lifecycle events.
type Runner struct {
	// SessionID is included in every payload.
	SessionID string
	// CWD is included in every payload.
	CWD string
	// Logger records hook faults; they are invisible to the end user but must
	// be diagnosable. Nil falls back to the package default logger.
	Logger *log.Logger
}

// NewRunner constructs a hook runner for a session.
func NewRunner(sessionID string, cwd string, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{SessionID: sessionID, CWD: cwd, Logger: logger}
}

// RunPreToolUse runs all hooks matching the tool concurrently and merges
// their decisions. With no matching hooks the result is a plain allow.
func (r *Runner) RunPreToolUse(ctx context.Context, specs []Spec, toolName string, toolInput map[string]any) Aggregate {
	payload := Payload{
		SessionID:     r.SessionID,
		CWD:           r.CWD,
		HookEventName: EventPreToolUse,
		ToolName:      toolName,
		ToolInput:     toolInput,
	}
	return mergeDecisions(r.runMatching(ctx, specs, toolName, payload))
}

// RunPostToolUse notifies matching hooks after a tool ran. Decisions are
// advisory; only system messages are surfaced.
func (r *Runner) RunPostToolUse(ctx context.Context, specs []Spec, toolName string, toolInput map[string]any) Aggregate {
	payload := Payload{
		SessionID:     r.SessionID,
		CWD:           r.CWD,
		HookEventName: EventPostToolUse,
		ToolName:      toolName,
		ToolInput:     toolInput,
	}
	return mergeDecisions(r.runMatching(ctx, specs, toolName, payload))
}

// RunUserPromptSubmit runs prompt-submit hooks. Matchers are compared against
// the empty tool name, so tool-bound hooks do not fire on prompts.
func (r *Runner) RunUserPromptSubmit(ctx context.Context, specs []Spec, prompt string) Aggregate {
	payload := Payload{
		SessionID:     r.SessionID,
		CWD:           r.CWD,
		HookEventName: EventUserPromptSubmit,
		UserPrompt:    prompt,
	}
	return mergeDecisions(r.runMatching(ctx, specs, "", payload))
}

// RunSessionEnd notifies session-end hooks with transcript statistics.
func (r *Runner) RunSessionEnd(ctx context.Context, specs []Spec, messageCount int, totalTokens int) Aggregate {
	payload := Payload{
		SessionID:     r.SessionID,
		CWD:           r.CWD,
		HookEventName: EventSessionEnd,
		MessageCount:  messageCount,
		TotalTokens:   totalTokens,
	}
	return mergeDecisions(r.runAll(ctx, specs, payload))
}

// runMatching filters specs by matcher, then fans the payload out.
func (r *Runner) runMatching(ctx context.Context, specs []Spec, toolName string, payload Payload) []Decision {
	matched := make([]Spec, 0, len(specs))
	for _, spec := range specs {
		if compileMatcher(spec.Matcher).Matches(toolName) {
			matched = append(matched, spec)
		}
	}
	return r.runAll(ctx, matched, payload)
}

// runAll executes hooks concurrently and returns decisions in spec order.
// One hook's timeout or crash never blocks or excludes the others.
func (r *Runner) runAll(ctx context.Context, specs []Spec, payload Payload) []Decision {
	if len(specs) == 0 {
		return nil
	}
	decisions := make([]Decision, len(specs))
	var waitGroup sync.WaitGroup
	for index, spec := range specs {
		waitGroup.Add(1)
		go func(index int, spec Spec) {
			defer waitGroup.Done()
			decisions[index] = r.runOne(ctx, spec, payload)
		}(index, spec)
	}
	waitGroup.Wait()
	return decisions
}

// runOne executes a single hook process and parses its decision.
func (r *Runner) runOne(ctx context.Context, spec Spec, payload Payload) Decision {
	input, err := json.Marshal(payload)
	if err != nil {
		// Payload marshalling cannot realistically fail; degrade anyway.
		r.Logger.Warn("hook payload marshal failed", "command", spec.Command, "err", err)
		decision := defaultDecision()
		decision.Err = err
		return decision
	}

	runCtx, cancel := context.WithTimeout(ctx, spec.effectiveTimeout())
	defer cancel()

	command := exec.CommandContext(runCtx, "sh", "-c", spec.Command)
	// Abandon the output pipes shortly after the kill so a surviving
	// grandchild holding stdout cannot block the await past the timeout.
	command.WaitDelay = spec.effectiveTimeout()
	command.Dir = r.CWD
	command.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	runErr := command.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		// The process was killed; a timeout annotates but does not deny.
		r.Logger.Warn("hook timed out",
			"command", spec.Command,
			"event", payload.HookEventName,
			"timeout", spec.effectiveTimeout(),
		)
		decision := defaultDecision()
		decision.Err = context.DeadlineExceeded
		return decision
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		if exitErr.ExitCode() == hardDenyExitCode {
			// Reserved hard deny overrides any parsed body.
			r.Logger.Warn("hook hard-denied",
				"command", spec.Command,
				"event", payload.HookEventName,
				"stderr", stderr.String(),
			)
			decision := defaultDecision()
			decision.Continue = false
			decision.PermissionDecision = PermissionDeny
			decision.Reason = reasonFromBody(stdout.Bytes())
			return decision
		}
		// Other non-zero exits are advisory; the body still counts.
		r.Logger.Warn("hook exited non-zero",
			"command", spec.Command,
			"event", payload.HookEventName,
			"code", exitErr.ExitCode(),
			"stderr", stderr.String(),
		)
		decision := parseDecision(stdout.Bytes())
		decision.Err = runErr
		return decision
	}
	if runErr != nil {
		// The command could not start at all.
		r.Logger.Warn("hook failed to run", "command", spec.Command, "err", runErr)
		decision := defaultDecision()
		decision.Err = runErr
		return decision
	}

	return parseDecision(stdout.Bytes())
}

// reasonFromBody extracts a reason from a hard-denying hook's stdout, falling
// back to a fixed explanation when the body is unusable.
func reasonFromBody(output []byte) string {
	var wire wireDecision
	if err := json.Unmarshal(output, &wire); err == nil && wire.Reason != "" {
		return wire.Reason
	}
	return "denied by hook (exit code 2)"
}
