package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/toolwarden/toolwarden/internal/engine"
	"github.com/toolwarden/toolwarden/internal/session"
)

// wireCall is the stdin JSONL request schema. Both "name"/"tool_name" and
// "arguments"/"input" spellings are accepted.
type wireCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	Input     json.RawMessage `json:"input"`
}

// decodeCalls reads one call per line. Malformed lines become calls with a
// parse error so they surface as failed results instead of killing the batch.
func decodeCalls(reader io.Reader) ([]engine.Call, error) {
	var calls []engine.Call
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var wire wireCall
		if err := json.Unmarshal([]byte(line), &wire); err != nil {
			calls = append(calls, engine.Call{
				Name:       "unknown",
				ParseError: fmt.Sprintf("line %d: %v", lineNumber, err),
			})
			continue
		}
		call := engine.Call{ID: wire.ID, Name: wire.Name, Args: wire.Arguments}
		if call.Name == "" {
			call.Name = wire.ToolName
		}
		if len(call.Args) == 0 {
			call.Args = wire.Input
		}
		if call.Name == "" {
			call.Name = "unknown"
			call.ParseError = fmt.Sprintf("line %d: missing tool name", lineNumber)
		}
		calls = append(calls, call)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read calls: %w", err)
	}
	return calls, nil
}

// recorder tees emitted event lines so the transcript can be persisted. It
// implements io.Writer under the event writer's own lock; flushed lines are
// not re-saved.
type recorder struct {
	mu      sync.Mutex
	out     io.Writer
	pending []json.RawMessage
}

func newRecorder(out io.Writer) *recorder {
	return &recorder{out: out}
}

// Write forwards a complete event line and buffers a copy.
func (r *recorder) Write(data []byte) (int, error) {
	line := strings.TrimSpace(string(data))
	if line != "" {
		r.mu.Lock()
		r.pending = append(r.pending, json.RawMessage(line))
		r.mu.Unlock()
	}
	return r.out.Write(data)
}

// flushTo appends the buffered events to the session store, clearing the
// buffer only on success so a failed save can be retried.
func (r *recorder) flushTo(store *session.Store, sessionID string) error {
	r.mu.Lock()
	pending := r.pending
	r.mu.Unlock()

	saved := 0
	for _, event := range pending {
		if err := store.AppendEvent(sessionID, event); err != nil {
			r.drop(saved)
			return err
		}
		saved++
	}
	r.drop(saved)
	return nil
}

// drop discards the first saved lines from the buffer.
func (r *recorder) drop(saved int) {
	if saved == 0 {
		return
	}
	r.mu.Lock()
	r.pending = r.pending[saved:]
	r.mu.Unlock()
}
