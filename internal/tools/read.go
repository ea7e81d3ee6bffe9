package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// maxReadBytes caps file reads so tool output stays bounded.
const maxReadBytes = 1024 * 1024

// ReadTool reads a file from disk with sandbox and size protections.
type ReadTool struct{}

func (t *ReadTool) Name() string {
	return "Read"
}

func (t *ReadTool) Description() string {
	return "Read the contents of a file from disk."
}

func (t *ReadTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Absolute path to the file to read.",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "Line number to start reading from (1-indexed).",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of lines to read.",
			},
		},
		"required": []string{"file_path"},
	}
}

// ClassifyArgs exposes the file path for allow/deny pattern matching.
func (t *ReadTool) ClassifyArgs(input json.RawMessage) []string {
	payload, err := parseReadArgs(input)
	if err != nil || payload.FilePath == "" {
		return nil
	}
	return []string{payload.FilePath}
}

// readArgs is the parsed Read payload.
type readArgs struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

// parseReadArgs decodes the tool input.
func parseReadArgs(input json.RawMessage) (readArgs, error) {
	var payload readArgs
	if err := json.Unmarshal(input, &payload); err != nil {
		return readArgs{}, err
	}
	return payload, nil
}

func (t *ReadTool) Run(ctx context.Context, input json.RawMessage, toolCtx ToolContext) (ToolResult, error) {
	// The tool is synchronous, so the context is unused.
	_ = ctx

	payload, err := parseReadArgs(input)
	if err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if payload.FilePath == "" {
		return ToolResult{IsError: true, Content: "file_path is required"}, nil
	}

	path, err := toolCtx.Sandbox.ResolveExisting(payload.FilePath)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if info.IsDir() {
		return ToolResult{IsError: true, Content: "path is a directory"}, nil
	}
	if info.Size() > maxReadBytes {
		return ToolResult{IsError: true, Content: fmt.Sprintf("file too large: %d bytes", info.Size())}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	content := string(raw)
	if payload.Offset > 0 || payload.Limit > 0 {
		content = lineWindow(content, payload.Offset, payload.Limit)
	}
	return ToolResult{Content: content}, nil
}

// lineWindow slices content by 1-indexed offset and line limit.
func lineWindow(content string, offset int, limit int) string {
	lines := strings.Split(content, "\n")
	start := 0
	if offset > 1 {
		start = offset - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return strings.Join(lines[start:end], "\n")
}
