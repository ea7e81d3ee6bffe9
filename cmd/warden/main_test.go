package main

import (
	"strings"
	"testing"
	"time"

	"github.com/toolwarden/toolwarden/internal/engine"
	"github.com/toolwarden/toolwarden/internal/testutil"
)

func TestDecodeCallsAcceptsBothSpellings(testingHandle *testing.T) {
	input := strings.Join([]string{
		`{"id":"1","name":"Bash","arguments":{"command":"ls"}}`,
		``,
		`{"tool_name":"Read","input":{"file_path":"/tmp/a"}}`,
	}, "\n")

	calls, err := decodeCalls(strings.NewReader(input))
	testutil.RequireNoError(testingHandle, err, "decode")
	testutil.RequireEqual(testingHandle, len(calls), 2, "call count")
	testutil.RequireEqual(testingHandle, calls[0].Name, "Bash", "first name")
	testutil.RequireEqual(testingHandle, calls[0].ID, "1", "first id")
	testutil.RequireEqual(testingHandle, calls[1].Name, "Read", "second name")
	testutil.RequireStringContains(testingHandle, string(calls[1].Args), "file_path", "second args")
}

func TestDecodeCallsMarksMalformedLines(testingHandle *testing.T) {
	input := "{not json}\n" + `{"arguments":{"command":"ls"}}` + "\n"

	calls, err := decodeCalls(strings.NewReader(input))
	testutil.RequireNoError(testingHandle, err, "decode")
	testutil.RequireEqual(testingHandle, len(calls), 2, "call count")
	testutil.RequireStringContains(testingHandle, calls[0].ParseError, "line 1", "json error carries line")
	testutil.RequireStringContains(testingHandle, calls[1].ParseError, "missing tool name", "nameless call flagged")
}

func TestInlineCallValidatesJSON(testingHandle *testing.T) {
	good := inlineCall("Bash", `{"command":"ls"}`)
	testutil.RequireEqual(testingHandle, good.ParseError, "", "valid json accepted")

	bad := inlineCall("Bash", "{oops")
	testutil.RequireStringContains(testingHandle, bad.ParseError, "not valid JSON", "invalid json flagged")
}

func TestParseAnswer(testingHandle *testing.T) {
	cases := []struct {
		line     string
		response engine.Response
		feedback string
		duration time.Duration
		uses     int
	}{
		{line: "y\n", response: engine.ResponseYes},
		{line: "yes\n", response: engine.ResponseYes},
		{line: "a\n", response: engine.ResponseAlways},
		{line: "n use rg instead\n", response: engine.ResponseNo, feedback: "use rg instead"},
		{line: "please don't\n", response: engine.ResponseNo, feedback: "please don't"},
		{line: "y 10m\n", response: engine.ResponseYes, duration: 10 * time.Minute},
		{line: "y 5x\n", response: engine.ResponseYes, uses: 5},
		{line: "y nonsense\n", response: engine.ResponseYes},
		{line: "\n", response: engine.ResponseNo},
	}
	for _, testCase := range cases {
		approval := parseAnswer(testCase.line)
		testutil.RequireEqual(testingHandle, approval.Response, testCase.response, "response for "+testCase.line)
		testutil.RequireEqual(testingHandle, approval.Feedback, testCase.feedback, "feedback for "+testCase.line)
		testutil.RequireEqual(testingHandle, approval.GrantDuration, testCase.duration, "duration for "+testCase.line)
		testutil.RequireEqual(testingHandle, approval.GrantUses, testCase.uses, "uses for "+testCase.line)
	}
}

func TestRenderDecision(testingHandle *testing.T) {
	approved := renderDecision(engine.CallRecord{
		Call:  engine.Call{Name: "Bash"},
		State: engine.StateApproved,
	})
	testutil.RequireStringContains(testingHandle, approved, "allow", "approved verdict")

	blocked := renderDecision(engine.CallRecord{
		Call:     engine.Call{Name: "Bash"},
		State:    engine.StateBlocked,
		Feedback: "matches deny pattern",
	})
	testutil.RequireStringContains(testingHandle, blocked, "matches deny pattern", "blocked feedback surfaced")
}
