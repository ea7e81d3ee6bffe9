package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/toolwarden/toolwarden/internal/engine"
	"github.com/toolwarden/toolwarden/internal/policy"
)

var (
	toolStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	argStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	questionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	blockedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	allowedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true)
)

// approvalChannel returns an interactive approval function reading from the
// controlling terminal, or nil when no terminal is available. Stdin is left
// alone because it carries the call stream.
func approvalChannel(logger *log.Logger) engine.ApprovalFunc {
	tty, err := os.Open("/dev/tty")
	if err != nil {
		logger.Debug("no controlling terminal; interactive approval disabled", "err", err)
		return nil
	}
	if !term.IsTerminal(int(tty.Fd())) {
		tty.Close()
		return nil
	}
	reader := bufio.NewReader(tty)

	return func(ctx context.Context, request engine.ApprovalRequest) (engine.Approval, error) {
		fmt.Fprintln(os.Stderr, renderApprovalPrompt(request))

		type answer struct {
			line string
			err  error
		}
		answers := make(chan answer, 1)
		go func() {
			line, err := reader.ReadString('\n')
			answers <- answer{line: line, err: err}
		}()

		select {
		case <-ctx.Done():
			return engine.Approval{}, ctx.Err()
		case got := <-answers:
			if got.err != nil {
				return engine.Approval{Response: engine.ResponseNo, Feedback: "approval input closed"}, nil
			}
			return parseAnswer(got.line), nil
		}
	}
}

// renderApprovalPrompt formats the approval question for one call.
func renderApprovalPrompt(request engine.ApprovalRequest) string {
	var b strings.Builder
	b.WriteString(toolStyle.Render(request.ToolName))
	if len(request.Args) > 0 {
		b.WriteString(" ")
		b.WriteString(argStyle.Render(truncate(string(request.Args), 200)))
	}
	b.WriteString("\n")
	if request.PriorReason != "" {
		b.WriteString(argStyle.Render(request.PriorReason))
		b.WriteString("\n")
	}
	hint := "[y]es / [a]lways / [n]o"
	switch request.Level {
	case policy.LevelAskTime:
		hint += ", or e.g. \"y 10m\" to grant a time window"
	case policy.LevelAskIterations:
		hint += ", or e.g. \"y 5x\" to grant uses"
	}
	b.WriteString(questionStyle.Render("Allow this call? " + hint + " "))
	return b.String()
}

// parseAnswer interprets a typed approval line. Anything unrecognized is a
// decline whose text becomes the feedback.
func parseAnswer(line string) engine.Approval {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return engine.Approval{Response: engine.ResponseNo}
	}
	switch strings.ToLower(fields[0]) {
	case "y", "yes":
		approval := engine.Approval{Response: engine.ResponseYes}
		if len(fields) > 1 {
			applyGrantSpec(&approval, fields[1])
		}
		return approval
	case "a", "always":
		return engine.Approval{Response: engine.ResponseAlways}
	case "n", "no":
		return engine.Approval{Response: engine.ResponseNo, Feedback: strings.Join(fields[1:], " ")}
	default:
		return engine.Approval{Response: engine.ResponseNo, Feedback: strings.TrimSpace(line)}
	}
}

// applyGrantSpec parses a "10m" duration or "5x" use count onto an approval.
func applyGrantSpec(approval *engine.Approval, spec string) {
	if strings.HasSuffix(spec, "x") {
		if uses, err := strconv.Atoi(strings.TrimSuffix(spec, "x")); err == nil && uses > 0 {
			approval.GrantUses = uses
		}
		return
	}
	if duration, err := time.ParseDuration(spec); err == nil && duration > 0 {
		approval.GrantDuration = duration
	}
}

// renderModeLine formats one mode entry for the modes listing.
func renderModeLine(label string, name string) string {
	return fmt.Sprintf("%s  %s", labelStyle.Render(label), name)
}

// renderDecision formats a dry-run verdict for the check subcommand.
func renderDecision(record engine.CallRecord) string {
	switch record.State {
	case engine.StateApproved:
		return allowedStyle.Render("allow") + "  " + record.Name
	case engine.StateFailed:
		return blockedStyle.Render("invalid") + "  " + record.Output
	default:
		verdict := blockedStyle.Render(string(record.State))
		if record.Feedback != "" {
			return verdict + "  " + record.Feedback
		}
		return verdict + "  " + record.Name
	}
}

// truncate bounds prompt argument previews.
func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max] + "…"
}
