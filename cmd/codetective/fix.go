package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Eng-Elias/codetective/internal/models"
	"github.com/Eng-Elias/codetective/internal/report"
)

var (
	fixAgent      string
	fixIssues     []string
	fixNoBackup   bool
	fixKeepBackup bool
	fixDryRun     bool
)

func init() {
	fixCmd.Flags().StringVarP(&fixAgent, "agent", "a", "edit", "output agent to apply (edit, comment)")
	fixCmd.Flags().StringSliceVar(&fixIssues, "issues", nil, "issue IDs to fix (default: all detected issues)")
	fixCmd.Flags().BoolVar(&fixNoBackup, "no-backup", false, "skip file backups before modification")
	fixCmd.Flags().BoolVar(&fixKeepBackup, "keep-backup", false, "keep backup files after the run")
	fixCmd.Flags().BoolVar(&fixDryRun, "dry-run", false, "report what would change without touching files")
}

var fixCmd = &cobra.Command{
	Use:   "fix <results.json>",
	Short: "Fix the issues recorded in a scan result document",
	Long: `Load a scan result document, run an output agent over the detected
issues and save the updated document back in place.

The edit agent rewrites code to resolve issues; the comment agent annotates
the offending lines instead. Files are backed up before modification unless
--no-backup is given.

Examples:
  # Fix everything the last scan found
  codetective fix codetective_scan_results.json

  # Annotate two specific issues instead of editing
  codetective fix results.json --agent comment --issues semgrep-0,secrets-2

  # Preview without modifying anything
  codetective fix results.json --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runFix,
}

func runFix(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	docPath := args[0]
	result, err := report.Load(docPath)
	if err != nil {
		return err
	}

	cfg := *a.cfg
	cfg.Fix.BackupFiles = !fixNoBackup
	cfg.Fix.KeepBackup = fixKeepBackup
	cfg.Fix.SelectedIssueIDs = fixIssues
	cfg.Fix.DryRun = fixDryRun

	fix, err := a.svc.Fix(ctx, result, fixAgent, &cfg)
	if err != nil {
		return err
	}

	// Dry runs leave the document untouched, so there is nothing to save.
	if !fixDryRun {
		if err := report.Save(docPath, result); err != nil {
			return fmt.Errorf("save updated document: %w", err)
		}
	}

	fmt.Println(renderFixSummary(fix, docPath, fixDryRun))

	if fix.CountByStatus(models.StatusFailed) > 0 {
		exitCode = 1
	}
	return nil
}
