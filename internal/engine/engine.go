// Package engine is the tool execution orchestrator: for each proposed tool
// call it merges the operating mode, hook verdicts, static allow/deny
// patterns, per-tool permission levels, temporary grants, and interactive
// approval into a single execute-or-skip verdict, then invokes the tool and
// reports ordered call/result events. Cancellation is never absorbed: the
// engine saves the session first and then propagates.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/toolwarden/toolwarden/internal/events"
	"github.com/toolwarden/toolwarden/internal/grants"
	"github.com/toolwarden/toolwarden/internal/hooks"
	"github.com/toolwarden/toolwarden/internal/mode"
	"github.com/toolwarden/toolwarden/internal/policy"
	"github.com/toolwarden/toolwarden/internal/tools"
)

// CallState tracks a call through the pipeline. Blocked, Succeeded, Failed,
// and Skipped are terminal; Approved is reachable only through the full
// precedence chain.
type CallState string

const (
	// StateProposed is the initial state of every parsed call.
	StateProposed CallState = "proposed"
	// StateBlocked means a policy source refused the call before approval.
	StateBlocked CallState = "blocked"
	// StateApproved means the precedence chain concluded with execute.
	StateApproved CallState = "approved"
	// StateSucceeded means the tool ran and reported success.
	StateSucceeded CallState = "succeeded"
	// StateFailed means the tool ran and failed, or the call was malformed.
	StateFailed CallState = "failed"
	// StateSkipped means the user declined the call interactively.
	StateSkipped CallState = "skipped"
)

// Call is one proposed tool invocation.
type Call struct {
	// ID associates the call with its result; generated when absent.
	ID string
	// Name is the requested tool name.
	Name string
	// Args is the raw argument payload.
	Args json.RawMessage
	// ParseError marks a call that failed to parse from the model; such
	// calls are reported as failed results without entering the pipeline.
	ParseError string
}

// CallRecord is the engine's per-call outcome.
type CallRecord struct {
	Call
	// State is the terminal pipeline state.
	State CallState
	// Feedback carries the refusal reason for blocked or skipped calls.
	Feedback string
	// Output carries tool output or the failure message.
	Output string
	// Duration is the tool execution time for executed calls.
	Duration time.Duration
}

// Response is the user's answer on the approval channel.
type Response string

const (
	// ResponseYes approves this call, optionally with a grant.
	ResponseYes Response = "yes"
	// ResponseAlways approves this call and every later one in the session.
	ResponseAlways Response = "always"
	// ResponseNo declines the call.
	ResponseNo Response = "no"
)

// ApprovalRequest is handed to the approval channel for one call.
type ApprovalRequest struct {
	// ToolName is the requested tool.
	ToolName string
	// Args is the argument payload after hook updates.
	Args json.RawMessage
	// CallID identifies the call being approved.
	CallID string
	// Level is the configured permission level for the tool.
	Level policy.Level
	// PriorReason explains an expired or exhausted grant, when one applies.
	PriorReason string
}

// Approval is the approval channel's answer.
type Approval struct {
	// Response is yes, always, or no.
	Response Response
	// Feedback is surfaced as the skip reason when declining.
	Feedback string
	// GrantDuration installs a time-based grant when approving.
	GrantDuration time.Duration
	// GrantUses installs a use-count grant when approving.
	GrantUses int
}

// ApprovalFunc is the injectable, possibly long-suspending approval channel.
type ApprovalFunc func(ctx context.Context, request ApprovalRequest) (Approval, error)

// Saver persists the session transcript; it is invoked on interruption
// before the cancellation propagates.
type Saver interface {
	Save(ctx context.Context) error
}

// SaverFunc adapts a function to the Saver interface.
type SaverFunc func(ctx context.Context) error

// Save calls the wrapped function.
func (fn SaverFunc) Save(ctx context.Context) error {
	return fn(ctx)
}

// saveTimeout bounds the interrupt-time save. The save runs on a fresh
// context because the triggering one is already cancelled.
const saveTimeout = 5 * time.Second

// Engine orchestrates the governance pipeline for a session.
type Engine struct {
	// Registry dispatches approved calls to tool implementations.
	Registry *tools.Registry
	// ToolContext provides filesystem/session context to tools.
	ToolContext tools.ToolContext
	// Modes answers read-only blocking and mode auto-approval.
	Modes *mode.Manager
	// Grants is the temporary grant ledger.
	Grants *grants.Tracker
	// Hooks runs configured policy scripts.
	Hooks *hooks.Runner
	// Policy resolves levels, patterns, and hook bindings per tool.
	Policy *policy.Resolver
	// Approve is the interactive approval channel; nil declines.
	Approve ApprovalFunc
	// Saver persists the transcript on interruption.
	Saver Saver
	// Events receives ordered call and result records.
	Events *events.Writer
	// Logger records decisions and hook faults.
	Logger *log.Logger
	// SessionID scopes events to the session.
	SessionID string

	// autoApprove is flipped by an "always" answer; it is owned by the
	// engine and never a package-level global.
	autoApprove bool
}

// AutoApproved reports whether the session-wide auto-approve flag is set.
func (e *Engine) AutoApproved() bool {
	return e.autoApprove
}

// EnableAutoApprove pre-sets the session-wide auto-approve flag, as an
// "always" answer would.
func (e *Engine) EnableAutoApprove() {
	e.autoApprove = true
}

// logger returns the configured logger or the package default.
func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// RunBatch processes the calls of one model turn sequentially. A tool fault
// fails that call and the loop continues; cancellation emits a best-effort
// result event, saves the session, and propagates, aborting the rest.
func (e *Engine) RunBatch(ctx context.Context, calls []Call) ([]CallRecord, error) {
	records := make([]CallRecord, 0, len(calls))
	for _, call := range calls {
		if call.ID == "" {
			call.ID = events.NewUUID()
		}
		record := CallRecord{Call: call, State: StateProposed}
		e.emit(events.NewToolCall(e.SessionID, call.ID, call.Name, call.Args))

		// Malformed calls never enter the pipeline.
		if call.ParseError != "" {
			record.State = StateFailed
			record.Output = fmt.Sprintf("malformed tool call: %s", call.ParseError)
			e.emitResult(record, events.StatusError)
			records = append(records, record)
			continue
		}

		approved, err := e.decide(ctx, &record)
		if err != nil {
			// Interrupted while deciding (typically inside the approval
			// suspension). Save first, then propagate.
			record.Feedback = "interrupted before execution"
			e.emitResult(record, events.StatusCancelled)
			records = append(records, record)
			e.saveOnInterrupt()
			return records, err
		}
		if !approved {
			status := events.StatusSkipped
			if record.State == StateBlocked {
				status = events.StatusBlocked
			}
			e.emitResult(record, status)
			records = append(records, record)
			continue
		}

		record.State = StateApproved
		interrupted, cause := e.execute(ctx, &record)
		records = append(records, record)
		if interrupted {
			e.saveOnInterrupt()
			return records, cause
		}
	}
	return records, nil
}

// decide applies the precedence chain, stopping at the first conclusive
// answer. It returns an error only for cancellation, which the caller treats
// as an interruption.
func (e *Engine) decide(ctx context.Context, record *CallRecord) (bool, error) {
	name := record.Name

	// 1. Mode block.
	if blocked, reason := e.Modes.ShouldBlockTool(name, record.Args); blocked {
		record.State = StateBlocked
		record.Feedback = reason
		return false, nil
	}

	// 2. Pre-tool-use hooks.
	forceAsk := false
	if specs := e.Policy.HooksFor(hooks.EventPreToolUse); len(specs) > 0 && e.Hooks != nil {
		aggregate := e.Hooks.RunPreToolUse(ctx, specs, name, inputMap(record.Args))
		if aggregate.SystemMessage != "" {
			e.logger().Info("hook message", "tool", name, "message", aggregate.SystemMessage)
		}
		if len(aggregate.UpdatedInput) > 0 {
			record.Args = mergeArgs(record.Args, aggregate.UpdatedInput)
		}
		switch aggregate.Verdict {
		case hooks.VerdictDeny:
			record.State = StateBlocked
			record.Feedback = aggregate.Reason
			if record.Feedback == "" {
				record.Feedback = fmt.Sprintf("%s call denied by hook", name)
			}
			return false, nil
		case hooks.VerdictAsk:
			forceAsk = true
		default:
			if aggregate.ExplicitAllow {
				return true, nil
			}
		}
	}

	// 3. Session-wide auto-approval from an earlier "always" answer.
	if e.autoApprove {
		return true, nil
	}

	// 4. Static allow/deny patterns over the tool's classified arguments.
	classified := e.Registry.ClassifyArgs(name, record.Args)
	if pattern, ok := policy.MatchAny(e.Policy.DenyPatterns(name), name, classified); ok {
		record.State = StateBlocked
		record.Feedback = fmt.Sprintf("%s call matches deny pattern %q", name, pattern)
		return false, nil
	}
	if _, ok := policy.MatchAny(e.Policy.AllowPatterns(name), name, classified); ok {
		return true, nil
	}

	// 5. Per-tool configured level. A never level is a conclusive refusal
	// even when a hook asked for confirmation; always defers to the ask.
	level := e.Policy.LevelFor(name)
	if level == policy.LevelNever {
		record.State = StateBlocked
		record.Feedback = fmt.Sprintf("%s is disabled by policy", name)
		return false, nil
	}
	if level == policy.LevelAlways && !forceAsk {
		return true, nil
	}

	// 6. Temporary grants for the asking levels.
	priorReason := ""
	if level == policy.LevelAskTime || level == policy.LevelAskIterations {
		granted, denial := e.Grants.CheckAndReserveIteration(name)
		if granted {
			return true, nil
		}
		switch denial {
		case grants.TimeExpired:
			priorReason = "the previous time-based grant expired"
		case grants.IterationsExhausted:
			priorReason = "the previous grant's uses are exhausted"
		}
	}

	// 7. Interactive approval. Auto-approving modes answer yes here, after
	// the conclusive refusals above have had their say.
	if e.Modes.AutoApprove() {
		return true, nil
	}
	if e.Approve == nil {
		record.State = StateSkipped
		record.Feedback = fmt.Sprintf("%s requires approval but no approval channel is configured", name)
		return false, nil
	}
	answer, err := e.Approve(ctx, ApprovalRequest{
		ToolName:    name,
		Args:        record.Args,
		CallID:      record.ID,
		Level:       level,
		PriorReason: priorReason,
	})
	if err != nil {
		return false, err
	}
	switch answer.Response {
	case ResponseAlways:
		e.autoApprove = true
		return true, nil
	case ResponseYes:
		if answer.GrantDuration != 0 {
			e.Grants.GrantTimeBased(name, answer.GrantDuration)
		} else if answer.GrantUses != 0 {
			e.Grants.GrantIterationBased(name, answer.GrantUses)
		}
		return true, nil
	default:
		record.State = StateSkipped
		record.Feedback = answer.Feedback
		if record.Feedback == "" {
			record.Feedback = fmt.Sprintf("%s call declined by user", name)
		}
		return false, nil
	}
}

// execute invokes the tool and classifies the outcome. It reports whether
// the call was interrupted, in which case the caller saves and propagates.
func (e *Engine) execute(ctx context.Context, record *CallRecord) (bool, error) {
	start := time.Now()
	result, runErr := e.Registry.Run(ctx, record.Name, record.Args, e.ToolContext)
	record.Duration = time.Since(start)

	// Only the batch context decides interruption; a tool's own internal
	// timeout is an ordinary failure.
	if ctx.Err() != nil {
		record.State = StateFailed
		record.Feedback = "interrupted during execution"
		e.emitResult(*record, events.StatusCancelled)
		return true, ctx.Err()
	}

	if runErr != nil {
		record.State = StateFailed
		record.Output = runErr.Error()
		e.emitResult(*record, events.StatusError)
	} else if result.IsError {
		record.State = StateFailed
		record.Output = result.Content
		e.emitResult(*record, events.StatusError)
	} else {
		record.State = StateSucceeded
		record.Output = result.Content
		e.emitResult(*record, events.StatusSuccess)
	}

	// Post-tool-use hooks are advisory.
	if specs := e.Policy.HooksFor(hooks.EventPostToolUse); len(specs) > 0 && e.Hooks != nil {
		aggregate := e.Hooks.RunPostToolUse(ctx, specs, record.Name, inputMap(record.Args))
		if aggregate.SystemMessage != "" {
			e.logger().Info("post-tool hook message", "tool", record.Name, "message", aggregate.SystemMessage)
		}
	}
	return false, nil
}

// Preview runs the decision pipeline without executing the tool. Grant uses
// are still consumed, since the check is the reservation.
func (e *Engine) Preview(ctx context.Context, call Call) (CallRecord, error) {
	if call.ID == "" {
		call.ID = events.NewUUID()
	}
	record := CallRecord{Call: call, State: StateProposed}
	if call.ParseError != "" {
		record.State = StateFailed
		record.Output = fmt.Sprintf("malformed tool call: %s", call.ParseError)
		return record, nil
	}
	approved, err := e.decide(ctx, &record)
	if err != nil {
		return record, err
	}
	if approved {
		record.State = StateApproved
	}
	return record, nil
}

// GovernPrompt runs prompt-submit hooks over a user prompt. It returns the
// possibly rewritten prompt, whether it may proceed, and any feedback.
func (e *Engine) GovernPrompt(ctx context.Context, prompt string) (string, bool, string) {
	specs := e.Policy.HooksFor(hooks.EventUserPromptSubmit)
	if len(specs) == 0 || e.Hooks == nil {
		return prompt, true, ""
	}
	aggregate := e.Hooks.RunUserPromptSubmit(ctx, specs, prompt)
	if !aggregate.ShouldExecute() {
		reason := aggregate.Reason
		if reason == "" {
			reason = "prompt rejected by hook"
		}
		return prompt, false, reason
	}
	if aggregate.ModifiedPrompt != "" {
		prompt = aggregate.ModifiedPrompt
	}
	return prompt, true, aggregate.SystemMessage
}

// FinishSession notifies session-end hooks with transcript statistics.
func (e *Engine) FinishSession(ctx context.Context, messageCount int, totalTokens int) {
	specs := e.Policy.HooksFor(hooks.EventSessionEnd)
	if len(specs) == 0 || e.Hooks == nil {
		return
	}
	aggregate := e.Hooks.RunSessionEnd(ctx, specs, messageCount, totalTokens)
	if aggregate.SystemMessage != "" {
		e.logger().Info("session-end hook message", "message", aggregate.SystemMessage)
	}
}

// saveOnInterrupt runs the guaranteed save around the interruption. The
// cancellation itself is propagated by the caller afterwards.
func (e *Engine) saveOnInterrupt() {
	if e.Saver == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := e.Saver.Save(saveCtx); err != nil {
		e.logger().Error("session save on interrupt failed", "err", err)
	}
}

// emit writes an event, logging failures instead of surfacing them.
func (e *Engine) emit(event any) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Write(event); err != nil {
		e.logger().Warn("event write failed", "err", err)
	}
}

// emitResult writes the tool_result event for a record.
func (e *Engine) emitResult(record CallRecord, status string) {
	event := events.NewToolResult(e.SessionID, record.ID, record.Name, status)
	event.Output = record.Output
	event.Feedback = record.Feedback
	event.DurationMS = record.Duration.Milliseconds()
	e.emit(event)
}

// inputMap decodes raw arguments into the map hooks receive.
func inputMap(args json.RawMessage) map[string]any {
	if len(args) == 0 {
		return nil
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return nil
	}
	return decoded
}

// mergeArgs applies hook-updated keys onto the original arguments.
func mergeArgs(args json.RawMessage, updates map[string]any) json.RawMessage {
	merged := inputMap(args)
	if merged == nil {
		merged = map[string]any{}
	}
	for key, value := range updates {
		merged[key] = value
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return args
	}
	return encoded
}
