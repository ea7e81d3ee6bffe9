package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteTool writes full file contents to disk atomically under sandbox rules.
type WriteTool struct{}

func (t *WriteTool) Name() string {
	return "Write"
}

func (t *WriteTool) Description() string {
	return "Write content to a file, creating it if needed."
}

func (t *WriteTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Absolute path to the file to write.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full file contents to write.",
			},
		},
		"required": []string{"file_path", "content"},
	}
}

// ClassifyArgs exposes the file path for allow/deny pattern matching.
func (t *WriteTool) ClassifyArgs(input json.RawMessage) []string {
	payload, err := parseWriteArgs(input)
	if err != nil || payload.FilePath == "" {
		return nil
	}
	return []string{payload.FilePath}
}

// writeArgs is the parsed Write payload.
type writeArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// parseWriteArgs decodes the tool input.
func parseWriteArgs(input json.RawMessage) (writeArgs, error) {
	var payload writeArgs
	if err := json.Unmarshal(input, &payload); err != nil {
		return writeArgs{}, err
	}
	return payload, nil
}

func (t *WriteTool) Run(ctx context.Context, input json.RawMessage, toolCtx ToolContext) (ToolResult, error) {
	// The tool is synchronous, so the context is unused.
	_ = ctx

	payload, err := parseWriteArgs(input)
	if err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if payload.FilePath == "" {
		return ToolResult{IsError: true, Content: "file_path is required"}, nil
	}

	path, err := toolCtx.Sandbox.Resolve(payload.FilePath)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	mode := os.FileMode(0o644)
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.IsDir() {
			return ToolResult{IsError: true, Content: "path is a directory"}, nil
		}
		mode = info.Mode().Perm()
	case os.IsNotExist(err):
		// New file keeps the default mode.
	default:
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	if err := writeAtomic(path, []byte(payload.Content), mode); err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("write failed: %v", err)}, nil
	}
	return ToolResult{Content: "ok"}, nil
}

// writeAtomic writes via a temp file and rename so readers never see a
// partial file.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	temp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return err
	}
	tempPath := temp.Name()
	defer os.Remove(tempPath)

	if _, err := temp.Write(data); err != nil {
		temp.Close()
		return err
	}
	if err := temp.Chmod(mode); err != nil {
		temp.Close()
		return err
	}
	if err := temp.Close(); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}
