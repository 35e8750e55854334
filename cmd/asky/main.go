// Package main provides the CLI entry point for asky, a research
// assistant that answers questions from the terminal.
//
// asky runs one question per invocation through an LLM with optional
// web research, a local document corpus, session continuity and
// long-term memory.
//
// # Basic Usage
//
// Ask a question:
//
//	asky "how does io_uring differ from epoll"
//
// Ask with web research:
//
//	asky -R "what changed in the latest sqlite release"
//
// Continue a named session:
//
//	asky -s kernel "and how does that interact with cgroups"
//
// Answer from local files:
//
//	asky --corpus ./docs "summarize the deployment runbook"
//
// # Environment Variables
//
//   - ASKY_CONFIG: path to the configuration file (default: ~/.asky/config.yaml)
//   - ASKY_SHELL_SESSION: shell session identifier for per-terminal sessions
//   - OPENAI_API_KEY: OpenAI API key
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - BRAVE_API_KEY: Brave search API key
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := newAskCmd()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	rootCmd.AddCommand(
		buildSessionsCmd(),
		buildHistoryCmd(),
		buildCacheCmd(),
	)
	return rootCmd
}
