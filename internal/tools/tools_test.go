package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testContext builds a ToolContext sandboxed to a temp directory.
func testContext(testingHandle *testing.T) (ToolContext, string) {
	testingHandle.Helper()
	dir := testingHandle.TempDir()
	return ToolContext{
		Sandbox:   NewSandbox([]string{dir}, nil),
		CWD:       dir,
		SessionID: "session-1",
	}, dir
}

// TestRegistryDeduplicatesAndOrders verifies registry construction.
func TestRegistryDeduplicatesAndOrders(testingHandle *testing.T) {
	registry := NewRegistry([]Tool{&BashTool{}, &ReadTool{}, &BashTool{}, nil, &WriteTool{}})
	names := registry.Names()
	want := []string{"Bash", "Read", "Write"}
	if len(names) != len(want) {
		testingHandle.Fatalf("expected %v, got %v", want, names)
	}
	for index, name := range want {
		if names[index] != name {
			testingHandle.Fatalf("expected %v, got %v", want, names)
		}
	}
}

// TestRegistryUnknownTool verifies unknown names return a tool-level error.
func TestRegistryUnknownTool(testingHandle *testing.T) {
	registry := NewRegistry(DefaultTools())
	toolCtx, _ := testContext(testingHandle)
	result, err := registry.Run(context.Background(), "Missing", nil, toolCtx)
	if err != nil {
		testingHandle.Fatalf("unknown tool must not return a Go error: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "Missing") {
		testingHandle.Fatalf("unexpected result: %+v", result)
	}
}

// TestClassifyArgs verifies tools expose pattern-matching strings.
func TestClassifyArgs(testingHandle *testing.T) {
	registry := NewRegistry(DefaultTools())

	args, _ := json.Marshal(map[string]string{"command": "git status"})
	classified := registry.ClassifyArgs("Bash", args)
	if len(classified) != 1 || classified[0] != "git status" {
		testingHandle.Fatalf("bash classification: %v", classified)
	}

	args, _ = json.Marshal(map[string]string{"file_path": "/tmp/x", "content": "hi"})
	classified = registry.ClassifyArgs("Write", args)
	if len(classified) != 1 || classified[0] != "/tmp/x" {
		testingHandle.Fatalf("write classification: %v", classified)
	}

	if classified := registry.ClassifyArgs("Bash", json.RawMessage(`bad`)); classified != nil {
		testingHandle.Fatalf("malformed args should classify to nothing: %v", classified)
	}
}

// TestWriteThenRead verifies the file tools round-trip inside the sandbox.
func TestWriteThenRead(testingHandle *testing.T) {
	toolCtx, dir := testContext(testingHandle)
	path := filepath.Join(dir, "note.txt")

	writeInput, _ := json.Marshal(map[string]string{"file_path": path, "content": "hello"})
	result, err := (&WriteTool{}).Run(context.Background(), writeInput, toolCtx)
	if err != nil || result.IsError {
		testingHandle.Fatalf("write failed: %v %+v", err, result)
	}

	readInput, _ := json.Marshal(map[string]string{"file_path": path})
	result, err = (&ReadTool{}).Run(context.Background(), readInput, toolCtx)
	if err != nil || result.IsError {
		testingHandle.Fatalf("read failed: %v %+v", err, result)
	}
	if result.Content != "hello" {
		testingHandle.Fatalf("unexpected content: %q", result.Content)
	}
}

// TestSandboxBlocksOutsideWrites verifies path enforcement.
func TestSandboxBlocksOutsideWrites(testingHandle *testing.T) {
	toolCtx, _ := testContext(testingHandle)
	outside := filepath.Join(os.TempDir(), "outside-sandbox-probe.txt")

	writeInput, _ := json.Marshal(map[string]string{"file_path": outside, "content": "x"})
	result, err := (&WriteTool{}).Run(context.Background(), writeInput, toolCtx)
	if err != nil {
		testingHandle.Fatalf("sandbox refusal must be a tool-level error: %v", err)
	}
	if !result.IsError {
		testingHandle.Fatalf("expected write outside sandbox to fail")
	}
}

// TestBashRunsCommands verifies basic command execution.
func TestBashRunsCommands(testingHandle *testing.T) {
	toolCtx, _ := testContext(testingHandle)
	input, _ := json.Marshal(map[string]string{"command": "echo governance"})
	result, err := (&BashTool{}).Run(context.Background(), input, toolCtx)
	if err != nil || result.IsError {
		testingHandle.Fatalf("bash failed: %v %+v", err, result)
	}
	if result.Content != "governance" {
		testingHandle.Fatalf("unexpected output: %q", result.Content)
	}
}
