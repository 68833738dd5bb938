// Package main implements the codetective CLI: multi-agent code scanning
// and automated fixing from the command line.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Eng-Elias/codetective/internal/version"
)

var (
	// flagConfig points at an explicit config file; empty uses the default
	// search locations.
	flagConfig string
	// flagLogLevel and flagLogFormat override the configured logging.
	flagLogLevel  string
	flagLogFormat string
)

// exitCode is the process exit status. Commands that find issues set it
// without aborting command execution, so deferred cleanup still runs.
var exitCode int

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:   "codetective",
	Short: "Multi-agent code scanning and fixing",
	Long: `codetective orchestrates code analysis agents (semgrep, trivy, an
AI reviewer and a built-in secrets detector) over a codebase, persists the
findings as a JSON document, and drives AI agents that fix or annotate the
detected issues.

Examples:
  # Scan the current directory with the default agents
  codetective scan .

  # Scan with specific agents in parallel, rescanning on file changes
  codetective scan --agents semgrep,secrets --mode parallel --watch src/

  # Fix the issues recorded by a previous scan
  codetective fix codetective_scan_results.json --agent edit

  # Check which scanner tools are installed
  codetective info`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: .codetective.yaml, ~/.codetective/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format override (console, json)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
