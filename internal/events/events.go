// Package events emits the governance core's observability records as JSON
// Lines: one record per dispatched tool call and one per outcome, in order.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result statuses for tool_result events.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusSkipped   = "skipped"
	StatusBlocked   = "blocked"
	StatusCancelled = "cancelled"
)

// ToolCallEvent records a tool call entering the pipeline.
type ToolCallEvent struct {
	// Type is always "tool_call".
	Type string `json:"type"`
	// CallID associates the call with its result.
	CallID string `json:"call_id"`
	// ToolName is the requested tool.
	ToolName string `json:"tool_name"`
	// Arguments stores the raw argument payload.
	Arguments json.RawMessage `json:"arguments,omitempty"`
	// SessionID scopes the event to a session.
	SessionID string `json:"session_id"`
	// UUID uniquely identifies the event.
	UUID string `json:"uuid"`
	// Timestamp is the emission time in RFC 3339 form.
	Timestamp string `json:"timestamp"`
}

// ToolResultEvent records the outcome of a tool call.
type ToolResultEvent struct {
	// Type is always "tool_result".
	Type string `json:"type"`
	// CallID associates the result with its call.
	CallID string `json:"call_id"`
	// ToolName is the requested tool.
	ToolName string `json:"tool_name"`
	// Status is one of success, error, skipped, blocked, cancelled.
	Status string `json:"status"`
	// Output holds the tool output for executed calls.
	Output string `json:"output,omitempty"`
	// Feedback holds the refusal reason for skipped or blocked calls.
	Feedback string `json:"feedback,omitempty"`
	// DurationMS is the execution time for executed calls.
	DurationMS int64 `json:"duration_ms,omitempty"`
	// SessionID scopes the event to a session.
	SessionID string `json:"session_id"`
	// UUID uniquely identifies the event.
	UUID string `json:"uuid"`
	// Timestamp is the emission time in RFC 3339 form.
	Timestamp string `json:"timestamp"`
}

// ModeChangeEvent records a mode transition.
type ModeChangeEvent struct {
	// Type is always "mode_change".
	Type string `json:"type"`
	// Mode is the mode entered.
	Mode string `json:"mode"`
	// SessionID scopes the event to a session.
	SessionID string `json:"session_id"`
	// UUID uniquely identifies the event.
	UUID string `json:"uuid"`
	// Timestamp is the emission time in RFC 3339 form.
	Timestamp string `json:"timestamp"`
}

// Writer emits events as JSON Lines. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriter constructs an event writer.
func NewWriter(writer io.Writer) *Writer {
	return &Writer{writer: writer}
}

// Write emits a single event as a JSON line.
func (w *Writer) Write(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// NewUUID returns a new UUID string for events.
func NewUUID() string {
	return uuid.NewString()
}

// Now returns the current time in the event timestamp format.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewToolCall builds a tool_call event.
func NewToolCall(sessionID string, callID string, toolName string, arguments json.RawMessage) ToolCallEvent {
	return ToolCallEvent{
		Type:      "tool_call",
		CallID:    callID,
		ToolName:  toolName,
		Arguments: arguments,
		SessionID: sessionID,
		UUID:      NewUUID(),
		Timestamp: Now(),
	}
}

// NewToolResult builds a tool_result event.
func NewToolResult(sessionID string, callID string, toolName string, status string) ToolResultEvent {
	return ToolResultEvent{
		Type:      "tool_result",
		CallID:    callID,
		ToolName:  toolName,
		Status:    status,
		SessionID: sessionID,
		UUID:      NewUUID(),
		Timestamp: Now(),
	}
}

// NewModeChange builds a mode_change event.
func NewModeChange(sessionID string, modeName string) ModeChangeEvent {
	return ModeChangeEvent{
		Type:      "mode_change",
		Mode:      modeName,
		SessionID: sessionID,
		UUID:      NewUUID(),
		Timestamp: Now(),
	}
}
