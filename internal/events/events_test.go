package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/toolwarden/toolwarden/internal/testutil"
)

func TestWriterEmitsOneLinePerEvent(testingHandle *testing.T) {
	var buffer bytes.Buffer
	writer := NewWriter(&buffer)

	call := NewToolCall("session-1", "call-1", "Bash", json.RawMessage(`{"command":"ls"}`))
	testutil.RequireNoError(testingHandle, writer.Write(call), "write call")

	result := NewToolResult("session-1", "call-1", "Bash", StatusSuccess)
	result.Output = "ok"
	result.DurationMS = 12
	testutil.RequireNoError(testingHandle, writer.Write(result), "write result")

	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	testutil.RequireEqual(testingHandle, len(lines), 2, "line count")

	var decodedCall ToolCallEvent
	testutil.RequireNoError(testingHandle, json.Unmarshal([]byte(lines[0]), &decodedCall), "decode call line")
	testutil.RequireEqual(testingHandle, decodedCall.Type, "tool_call", "call type")
	testutil.RequireEqual(testingHandle, decodedCall.CallID, "call-1", "call id")
	testutil.RequireTrue(testingHandle, decodedCall.UUID != "", "call uuid stamped")

	var decodedResult ToolResultEvent
	testutil.RequireNoError(testingHandle, json.Unmarshal([]byte(lines[1]), &decodedResult), "decode result line")
	testutil.RequireEqual(testingHandle, decodedResult.Status, StatusSuccess, "result status")
	testutil.RequireEqual(testingHandle, decodedResult.DurationMS, int64(12), "result duration")
}

func TestResultOmitsEmptyOptionalFields(testingHandle *testing.T) {
	var buffer bytes.Buffer
	writer := NewWriter(&buffer)
	testutil.RequireNoError(testingHandle, writer.Write(NewToolResult("s", "c", "Bash", StatusBlocked)), "write")

	line := buffer.String()
	testutil.RequireTrue(testingHandle, !strings.Contains(line, `"output"`), "empty output omitted")
	testutil.RequireTrue(testingHandle, !strings.Contains(line, `"duration_ms"`), "zero duration omitted")
}

func TestModeChangeEvent(testingHandle *testing.T) {
	event := NewModeChange("session-1", "plan")
	testutil.RequireEqual(testingHandle, event.Type, "mode_change", "type")
	testutil.RequireEqual(testingHandle, event.Mode, "plan", "mode")
	testutil.RequireTrue(testingHandle, event.Timestamp != "", "timestamp stamped")
}
