package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// maxCommandOutput limits combined stdout/stderr output.
const maxCommandOutput = 64 * 1024

// BashTool runs shell commands.
type BashTool struct{}

func (t *BashTool) Name() string {
	return "Bash"
}

func (t *BashTool) Description() string {
	return "Run a shell command."
}

func (t *BashTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Working directory.",
			},
		},
		"required": []string{"command"},
	}
}

// ClassifyArgs exposes the command text for allow/deny pattern matching.
func (t *BashTool) ClassifyArgs(input json.RawMessage) []string {
	payload, err := parseBashArgs(input)
	if err != nil || payload.Command == "" {
		return nil
	}
	return []string{payload.Command}
}

// bashArgs is the parsed Bash payload.
type bashArgs struct {
	Command string `json:"command"`
	CWD     string `json:"cwd"`
}

// parseBashArgs decodes the tool input.
func parseBashArgs(input json.RawMessage) (bashArgs, error) {
	var payload bashArgs
	if err := json.Unmarshal(input, &payload); err != nil {
		return bashArgs{}, err
	}
	return payload, nil
}

func (t *BashTool) Run(ctx context.Context, input json.RawMessage, toolCtx ToolContext) (ToolResult, error) {
	payload, err := parseBashArgs(input)
	if err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if strings.TrimSpace(payload.Command) == "" {
		return ToolResult{IsError: true, Content: "command is required"}, nil
	}

	// Default to the session working directory, or validate the provided one.
	workingDir := toolCtx.CWD
	if payload.CWD != "" {
		resolved, err := toolCtx.Sandbox.ResolveExisting(payload.CWD)
		if err != nil {
			return ToolResult{IsError: true, Content: err.Error()}, nil
		}
		workingDir = resolved
	}

	command := exec.CommandContext(ctx, "bash", "-lc", payload.Command)
	command.Dir = workingDir

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	runErr := command.Run()
	// Cancellation propagates as an error so the orchestrator can save state.
	if ctx.Err() != nil {
		return ToolResult{IsError: true, Content: "command cancelled"}, ctx.Err()
	}

	output := strings.TrimSpace(stdout.String())
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += strings.TrimSpace(stderr.String())
	}
	if len(output) > maxCommandOutput {
		output = output[:maxCommandOutput] + "\n...[truncated]"
	}

	if runErr != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("command failed: %v\n%s", runErr, output)}, nil
	}
	return ToolResult{Content: output}, nil
}
