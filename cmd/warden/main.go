package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/toolwarden/toolwarden/internal/engine"
	"github.com/toolwarden/toolwarden/internal/events"
	"github.com/toolwarden/toolwarden/internal/grants"
	"github.com/toolwarden/toolwarden/internal/hooks"
	"github.com/toolwarden/toolwarden/internal/mode"
	"github.com/toolwarden/toolwarden/internal/policy"
	"github.com/toolwarden/toolwarden/internal/session"
	"github.com/toolwarden/toolwarden/internal/tools"
)

// version is the CLI build version.
const version = "0.1.0"

// sweepInterval is how often expired grants are reaped in the background.
const sweepInterval = 30 * time.Second

// options holds all CLI flags.
type options struct {
	// AddDirs are extra directories added to the sandbox allowlist.
	AddDirs []string
	// AutoApprove pre-approves every call for the whole session.
	AutoApprove bool
	// Call is an inline "name json" call pair, replacing stdin input.
	Call []string
	// CWD overrides the working directory.
	CWD string
	// Mode selects the starting operating mode.
	Mode string
	// NoSessionPersistence disables saving the transcript to disk.
	NoSessionPersistence bool
	// Policy is an explicit policy file layered last.
	Policy string
	// SessionID sets a fixed session id.
	SessionID string
	// Verbose raises the log level to debug.
	Verbose bool
	// Version prints the CLI version.
	Version bool
}

// main wires Cobra and executes the CLI.
func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "warden",
		Short: "toolwarden - governed tool execution for coding agents",
		Long: "warden reads tool-call requests as JSON lines on stdin, decides each one\n" +
			"against the operating mode, hooks, policy patterns and grants, executes the\n" +
			"approved ones, and writes call/result events as JSON lines on stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Version {
				fmt.Println(version)
				return nil
			}
			return runRoot(opts)
		},
	}
	rootCmd.Args = cobra.NoArgs

	applyFlags(rootCmd.Flags(), opts)

	rootCmd.AddCommand(modesCommand())
	rootCmd.AddCommand(checkCommand(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlags defines the shared CLI flags.
func applyFlags(flags *pflag.FlagSet, opts *options) {
	flags.StringSliceVar(&opts.AddDirs, "add-dir", nil, "Additional directories to allow tool access to")
	flags.BoolVar(&opts.AutoApprove, "auto-approve", false, "Approve every call for the whole session")
	flags.StringSliceVar(&opts.Call, "call", nil, "Inline call as two values: tool name, arguments JSON")
	flags.StringVar(&opts.CWD, "cwd", "", "Working directory (defaults to the current directory)")
	flags.StringVar(&opts.Mode, "mode", "normal", "Starting mode (plan|normal|auto|yolo|architect)")
	flags.BoolVar(&opts.NoSessionPersistence, "no-session-persistence", false, "Disable saving the transcript")
	flags.StringVar(&opts.Policy, "policy", "", "Policy file layered over discovered configuration")
	flags.StringVar(&opts.SessionID, "session-id", "", "Use a specific session ID")
	flags.BoolVar(&opts.Verbose, "verbose", false, "Verbose output")
	flags.BoolVarP(&opts.Version, "version", "v", false, "Output the version number")
}

// runRoot builds the engine and governs the batch from stdin or --call.
func runRoot(opts *options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := buildEnvironment(ctx, opts)
	if err != nil {
		return err
	}

	calls, err := readCalls(opts)
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		return errors.New("no tool calls provided; pipe JSON lines to stdin or use --call")
	}

	if err := env.engine.Events.Write(events.NewModeChange(env.sessionID, string(env.engine.Modes.Current()))); err != nil {
		return err
	}

	records, runErr := env.engine.RunBatch(ctx, calls)
	env.engine.FinishSession(ctx, len(records), 0)
	env.flush()

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			env.logger.Info("interrupted; session saved", "session", env.sessionID)
			return nil
		}
		return runErr
	}
	return nil
}

// environment bundles the wired collaborators for one invocation.
type environment struct {
	engine    *engine.Engine
	logger    *log.Logger
	sessionID string
	flush     func()
}

// buildEnvironment wires the policy, mode, grants, hooks, tools, events and
// session collaborators into an engine.
func buildEnvironment(ctx context.Context, opts *options) (*environment, error) {
	cwd := opts.CWD
	if cwd == "" {
		resolved, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get cwd: %w", err)
		}
		cwd = resolved
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if opts.Verbose {
		logger.SetLevel(log.DebugLevel)
	}

	startMode, err := mode.Parse(opts.Mode)
	if err != nil {
		return nil, err
	}

	resolver, err := policy.Load(cwd, opts.Policy)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	store, err := session.NewStore()
	if err != nil {
		return nil, err
	}

	rootDirs := append([]string{cwd}, opts.AddDirs...)
	rootDirs = append(rootDirs, resolver.SandboxRoots()...)
	sandbox := tools.NewSandbox(rootDirs, resolver.SandboxDeny())

	tracker := grants.NewTracker()
	tracker.StartSweeper(ctx, sweepInterval)

	recorder := newRecorder(os.Stdout)
	writer := events.NewWriter(recorder)

	eng := &engine.Engine{
		Registry:    tools.NewRegistry(tools.DefaultTools()),
		ToolContext: tools.ToolContext{Sandbox: sandbox, CWD: cwd, SessionID: sessionID},
		Modes:       mode.NewManager(startMode),
		Grants:      tracker,
		Hooks:       hooks.NewRunner(sessionID, cwd, logger),
		Policy:      resolver,
		Events:      writer,
		Logger:      logger,
		SessionID:   sessionID,
	}
	if opts.AutoApprove {
		eng.EnableAutoApprove()
	}
	eng.Approve = approvalChannel(logger)

	flush := func() {}
	if !opts.NoSessionPersistence {
		save := func(context.Context) error {
			if err := recorder.flushTo(store, sessionID); err != nil {
				return err
			}
			return store.SaveLastSession(session.ProjectHash(cwd), sessionID)
		}
		eng.Saver = engine.SaverFunc(save)
		flush = func() {
			if err := save(context.Background()); err != nil {
				logger.Error("session save failed", "err", err)
			}
		}
	}

	return &environment{engine: eng, logger: logger, sessionID: sessionID, flush: flush}, nil
}

// readCalls collects the batch from --call or stdin JSON lines.
func readCalls(opts *options) ([]engine.Call, error) {
	if len(opts.Call) > 0 {
		if len(opts.Call) != 2 {
			return nil, errors.New("--call takes exactly two values: tool name, arguments JSON")
		}
		return []engine.Call{inlineCall(opts.Call[0], opts.Call[1])}, nil
	}
	return decodeCalls(os.Stdin)
}

// inlineCall builds one call from the --call flag pair, carrying a parse
// error instead of failing the process on malformed JSON.
func inlineCall(name string, rawArgs string) engine.Call {
	call := engine.Call{Name: name, Args: json.RawMessage(rawArgs)}
	if !json.Valid(call.Args) {
		call.ParseError = fmt.Sprintf("arguments are not valid JSON: %q", rawArgs)
		call.Args = nil
	}
	return call
}

// modesCommand lists the operating modes and their profiles.
func modesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List operating modes and their profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, m := range mode.All() {
				profile := mode.ProfileOf(m)
				traits := make([]string, 0, 2)
				if profile.ReadOnly {
					traits = append(traits, "read-only")
				}
				if profile.AutoApprove {
					traits = append(traits, "auto-approve")
				}
				suffix := ""
				if len(traits) > 0 {
					suffix = " (" + strings.Join(traits, ", ") + ")"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", renderModeLine(profile.Label, string(m)), suffix)
			}
			return nil
		},
	}
}

// checkCommand dry-runs the decision pipeline for one call.
func checkCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <tool> <arguments-json>",
		Short: "Decide a call without executing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := buildEnvironment(ctx, opts)
			if err != nil {
				return err
			}
			// A dry run never prompts; reaching the interactive step is the answer.
			env.engine.Approve = func(context.Context, engine.ApprovalRequest) (engine.Approval, error) {
				return engine.Approval{Response: engine.ResponseNo, Feedback: "would require interactive approval"}, nil
			}
			record, err := env.engine.Preview(ctx, inlineCall(args[0], args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDecision(record))
			if record.State != engine.StateApproved {
				os.Exit(1)
			}
			return nil
		},
	}
	applyFlags(cmd.Flags(), opts)
	return cmd
}
