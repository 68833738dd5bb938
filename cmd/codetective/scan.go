package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Eng-Elias/codetective/internal/config"
	"github.com/Eng-Elias/codetective/internal/models"
	"github.com/Eng-Elias/codetective/internal/report"
	"github.com/Eng-Elias/codetective/internal/watch"
)

var (
	scanAgents   []string
	scanTimeout  int
	scanOutput   string
	scanMode     string
	scanMaxFiles int
	scanWatch    bool
)

func init() {
	scanCmd.Flags().StringSliceVarP(&scanAgents, "agents", "a", nil, "scan agents to run (semgrep, trivy, ai_review, secrets)")
	scanCmd.Flags().IntVarP(&scanTimeout, "timeout", "t", 0, "per-agent timeout in seconds")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "result document path")
	scanCmd.Flags().StringVar(&scanMode, "mode", "", "execution mode (sequential, parallel)")
	scanCmd.Flags().IntVar(&scanMaxFiles, "max-files", 0, "cap on files the AI reviewer examines")
	scanCmd.Flags().BoolVar(&scanWatch, "watch", false, "rescan when files under the scanned paths change")
}

var scanCmd = &cobra.Command{
	Use:   "scan [paths...]",
	Short: "Scan paths for issues and persist the findings",
	Long: `Scan the given paths (default: the current directory) with the
configured agents and write the findings to a JSON result document.

The command exits 1 when issues are found, 0 otherwise.

Examples:
  # Scan the current directory
  codetective scan

  # Scan two paths with specific agents, in parallel
  codetective scan --agents semgrep,secrets --mode parallel src/ cmd/

  # Keep rescanning as files change
  codetective scan --watch .`,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	// Shutdown flushes telemetry; the signal context is already cancelled
	// by then, so use a fresh one.
	defer a.Close(context.Background())

	paths := args
	if len(paths) == 0 {
		paths = []string{"."}
	}

	cfg := *a.cfg
	if len(scanAgents) > 0 {
		cfg.Scan.Agents = scanAgents
	}
	if scanTimeout > 0 {
		cfg.Scan.Timeout = scanTimeout
	}
	if scanMode != "" {
		cfg.Scan.ExecutionMode = scanMode
	}
	if scanMaxFiles > 0 {
		cfg.Scan.MaxFiles = scanMaxFiles
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	outPath := cfg.Output.File
	if scanOutput != "" {
		outPath = scanOutput
	}

	result, err := scanOnce(ctx, a, paths, &cfg, outPath)
	if err != nil {
		return err
	}

	if !scanWatch {
		if result.TotalIssues > 0 {
			exitCode = 1
		}
		return nil
	}
	return watchLoop(ctx, a, paths, &cfg, outPath)
}

// scanOnce runs one scan pass, persists the document and prints the summary.
func scanOnce(ctx context.Context, a *app, paths []string, cfg *config.Config, outPath string) (*models.ScanResult, error) {
	result, err := a.svc.Scan(ctx, paths, cfg)
	if err != nil {
		return nil, err
	}
	if err := report.Save(outPath, result); err != nil {
		return nil, err
	}
	fmt.Println(renderScanSummary(result, outPath))
	return result, nil
}

// watchLoop rescans whenever the watchers report a debounced change batch,
// until the context is cancelled (Ctrl-C).
func watchLoop(ctx context.Context, a *app, paths []string, cfg *config.Config, outPath string) error {
	ignore := []string{filepath.Base(outPath)}

	merged := make(chan watch.Event)
	var watchers []*watch.Watcher
	defer func() {
		for _, w := range watchers {
			w.Stop()
		}
	}()

	for _, root := range watchRoots(paths) {
		w, err := watch.New(root, watch.DefaultDebounce, ignore, a.log)
		if err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		watchers = append(watchers, w)

		go func(w *watch.Watcher) {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-w.Events():
					select {
					case merged <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(w)
	}

	fmt.Println(dimStyle.Render("watching for changes, Ctrl-C to stop"))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-merged:
			a.log.Info(ctx, "changes detected, rescanning",
				zap.Int("changed_files", len(ev.Paths)))
			if _, err := scanOnce(ctx, a, paths, cfg, outPath); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(os.Stderr, "rescan failed: %v\n", err)
			}
		}
	}
}

// watchRoots maps scan paths to the directories to watch: files watch their
// parent, duplicates collapse.
func watchRoots(paths []string) []string {
	seen := make(map[string]bool)
	var roots []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			abs = filepath.Dir(abs)
		}
		if !seen[abs] {
			seen[abs] = true
			roots = append(roots, abs)
		}
	}
	return roots
}
