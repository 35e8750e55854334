package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evrenesat/asky/internal/turn"
)

// askFlags collects every per-turn flag on the root command.
type askFlags struct {
	configPath string
	verbose    bool

	model    string
	session  string
	resume   string
	selector string

	lean     bool
	research bool
	elephant bool
	noSave   bool

	corpusPaths   []string
	replaceCorpus bool

	maxTurns  int
	shortlist bool
	toolOff   []string
}

// newAskCmd creates the root command. Asking a question is the default
// action: `asky "question"` with no subcommand runs a turn.
func newAskCmd() *cobra.Command {
	var flags askFlags

	cmd := &cobra.Command{
		Use:   "asky [flags] <question>",
		Short: "asky - research assistant for the terminal",
		Long: `asky answers questions from the terminal through an LLM, with
optional web research, local document corpora, sessions and memory.

The answer is written to stdout; progress and notices go to stderr, so
output pipes cleanly into other tools.`,
		Example: `  # Direct question
  asky "explain the two-phase commit protocol"

  # Web research with a named session
  asky -R -s dbs "compare raft and paxos leader election"

  # Answer from local documents only
  asky --corpus ./notes "what did I decide about the cache layer"

  # Pull earlier interactions into context
  asky -x ~1,~2 "now put those together"`,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, args, &flags)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to configuration file (default: ~/.asky/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Debug logging and progress output")

	cmd.Flags().StringVarP(&flags.model, "model", "m", "", "Model alias to use for this turn")
	cmd.Flags().StringVarP(&flags.session, "session", "s", "", "Named session: adopts the most recent one within the sticky window")
	cmd.Flags().StringVarP(&flags.resume, "resume", "r", "", "Resume a session by id or unique name")
	cmd.Flags().StringVarP(&flags.selector, "context", "x", "", "History selectors to include as context (ids, ~N, comma-separated)")
	cmd.Flags().BoolVarP(&flags.lean, "lean", "l", false, "Lean mode: no tools, no preload, just the model")
	cmd.Flags().BoolVarP(&flags.research, "research", "R", false, "Research mode: web search and acquisition tools")
	cmd.Flags().BoolVar(&flags.elephant, "elephant", false, "Force memory extraction for this turn's session")
	cmd.Flags().BoolVar(&flags.noSave, "no-save", false, "Do not persist this interaction")
	cmd.Flags().StringSliceVar(&flags.corpusPaths, "corpus", nil, "Local corpus files or directories to ingest (repeatable)")
	cmd.Flags().BoolVar(&flags.replaceCorpus, "replace-corpus", false, "Re-ingest the corpus even when already cached")
	cmd.Flags().IntVar(&flags.maxTurns, "max-turns", 0, "Override the tool-loop iteration cap for this turn")
	cmd.Flags().BoolVar(&flags.shortlist, "shortlist", true, "Run the source shortlist before answering")
	cmd.Flags().StringSliceVar(&flags.toolOff, "tool-off", nil, "Disable named tools for this turn (repeatable)")

	return cmd
}

func runAsk(cmd *cobra.Command, args []string, flags *askFlags) error {
	query := strings.TrimSpace(strings.Join(args, " "))

	// Session maintenance commands run with an empty question, but an
	// empty invocation with no session directive is just a usage error.
	if query == "" && flags.session == "" && flags.resume == "" {
		return cmd.Help()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, flags.configPath, flags.verbose)
	if err != nil {
		return err
	}
	defer rt.close()

	req := turn.TurnRequest{
		Query:            query,
		HistorySelectors: flags.selector,
		SessionName:      flags.session,
		ResumeSelector:   flags.resume,
		ShellSessionID:   os.Getenv("ASKY_SHELL_SESSION"),
		ModelAlias:       flags.model,
		Lean:             flags.lean,
		Research:         flags.research,
		ResearchSet:      cmd.Flags().Changed("research"),
		ElephantMode:     flags.elephant,
		ReplaceCorpus:    flags.replaceCorpus,
		NoSave:           flags.noSave,
		CorpusPaths:      flags.corpusPaths,
		MaxTurnsOverride: flags.maxTurns,
		DisabledTools:    flags.toolOff,
	}
	if cmd.Flags().Changed("shortlist") {
		req.ShortlistOverride = &flags.shortlist
	}

	// Piped stdin becomes additional source material for the turn.
	if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
		if err == nil && len(strings.TrimSpace(string(data))) > 0 {
			req.AdditionalContext = string(data)
		}
	}

	started := time.Now()
	result, err := rt.orch.Run(ctx, req)
	rt.recordTurn(result, err, time.Since(started))
	if err != nil {
		return err
	}

	for _, notice := range result.Notices {
		fmt.Fprintln(os.Stderr, "notice:", notice)
	}

	if result.Halted {
		return reportHalt(result)
	}

	fmt.Println(result.Answer)

	if flags.verbose {
		fmt.Fprintln(os.Stderr, result.MainUsage.String())
		if result.SummaryUsage.Calls > 0 {
			fmt.Fprintln(os.Stderr, result.SummaryUsage.String())
		}
	}
	return nil
}

// reportHalt translates a halted turn into exit behavior. Maintenance
// invocations exit cleanly; everything else is an error the user can fix.
func reportHalt(result *turn.TurnResult) error {
	switch result.HaltReason {
	case turn.HaltSessionCommandOnly:
		fmt.Fprintf(os.Stderr, "session %d updated\n", result.SessionID)
		return nil
	case turn.HaltSessionNotFound:
		return fmt.Errorf("no such session; run `asky sessions list` to see what exists")
	case turn.HaltSessionAmbiguous:
		return fmt.Errorf("session name matches more than one session; resume by id instead")
	case turn.HaltCorpusMissing:
		return fmt.Errorf("local corpus requested but no corpus paths are configured")
	case turn.HaltCorpusIngestionFailed:
		return fmt.Errorf("local corpus ingestion failed; see notices above")
	default:
		return fmt.Errorf("turn halted: %s", result.HaltReason)
	}
}

// parseIDArgs converts positional id arguments for the delete commands.
func parseIDArgs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id < 1 {
			return nil, fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
