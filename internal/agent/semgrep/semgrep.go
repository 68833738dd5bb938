// Package semgrep adapts the semgrep CLI as a scan agent. Findings come from
// the registry rule pack and are normalized into issue documents.
package semgrep

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Eng-Elias/codetective/internal/agent"
	"github.com/Eng-Elias/codetective/internal/execx"
	"github.com/Eng-Elias/codetective/internal/logging"
	"github.com/Eng-Elias/codetective/internal/models"
	"github.com/Eng-Elias/codetective/internal/supervisor"
)

const (
	binary = "semgrep"

	// rulePack is the hosted registry pack every scan runs with.
	rulePack = "r/all"

	// ruleTimeoutSeconds is semgrep's own per-rule timeout flag.
	ruleTimeoutSeconds = "60"

	// maxRunTimeout caps the whole invocation regardless of the configured
	// agent timeout; semgrep runs that long have hung on rule download.
	maxRunTimeout = 90 * time.Second
)

// Agent runs semgrep against files and directories.
type Agent struct {
	runner execx.Runner
	log    *logging.Logger
}

var _ agent.ScanAgent = (*Agent)(nil)

// New creates the agent. A nil runner uses the host; a nil logger is silent.
func New(runner execx.Runner, log *logging.Logger) *Agent {
	if runner == nil {
		runner = execx.OSRunner{}
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Agent{runner: runner, log: log.Named("semgrep")}
}

func (a *Agent) Name() string { return string(agent.KindSemgrep) }

// Available reports whether the semgrep binary resolves on PATH.
func (a *Agent) Available(ctx context.Context) bool {
	_, err := a.runner.LookPath(binary)
	return err == nil
}

// Execute scans the given files. Individual files are batched into one
// invocation; each directory gets its own. A failed directory does not abort
// the rest.
func (a *Agent) Execute(ctx context.Context, files []string, cfg agent.Settings) models.AgentResult {
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > maxRunTimeout {
		timeout = maxRunTimeout
	}

	outcome := supervisor.Run(ctx, timeout, func(runCtx context.Context) ([]models.Issue, error) {
		return a.scan(runCtx, files)
	})
	if !outcome.Success() {
		return models.FailedResult(a.Name(), outcome.Reason(), outcome.Duration)
	}
	return models.AgentResult{
		AgentName: a.Name(),
		Success:   true,
		Issues:    outcome.Value,
		Duration:  outcome.Duration.Seconds(),
	}
}

func (a *Agent) scan(ctx context.Context, paths []string) ([]models.Issue, error) {
	var batch, dirs []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			a.log.Warn(ctx, "skipping missing path", zap.String("path", p))
			continue
		}
		if info.IsDir() {
			dirs = append(dirs, p)
		} else {
			batch = append(batch, p)
		}
	}

	var issues []models.Issue
	var firstErr error

	seen := make(map[string]int)
	if len(batch) > 0 {
		found, err := a.run(ctx, batch, seen)
		if err != nil {
			firstErr = err
		}
		issues = append(issues, found...)
	}
	for _, dir := range dirs {
		found, err := a.run(ctx, []string{dir}, seen)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			a.log.Warn(ctx, "directory scan failed",
				zap.String("path", dir), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		issues = append(issues, found...)
	}

	// Partial results win over a partial failure; fail only when nothing
	// was produced at all.
	if len(issues) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return issues, nil
}

func (a *Agent) run(ctx context.Context, targets []string, seen map[string]int) ([]models.Issue, error) {
	args := []string{
		"--config=" + rulePack,
		"--json",
		"--metrics=off",
		"--timeout", ruleTimeoutSeconds,
	}
	args = append(args, targets...)

	res, err := a.runner.Run(ctx, binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("semgrep: %w (stderr: %s)", err, firstLine(res.Stderr))
	}
	if len(res.Stdout) == 0 {
		return nil, nil
	}
	return parseOutput(res.Stdout, seen)
}

// output mirrors the fields of semgrep's --json document that matter here.
type output struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		Extra struct {
			Message  string `json:"message"`
			Severity string `json:"severity"`
			Metadata struct {
				References []string `json:"references"`
			} `json:"metadata"`
		} `json:"extra"`
	} `json:"results"`
}

func parseOutput(data []byte, seen map[string]int) ([]models.Issue, error) {
	var doc output
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse semgrep output: %w", err)
	}

	issues := make([]models.Issue, 0, len(doc.Results))
	for _, r := range doc.Results {
		rule := r.CheckID
		if rule == "" {
			rule = "unknown"
		}
		message := r.Extra.Message
		if message == "" {
			message = "SemGrep finding"
		}
		line := r.Start.Line
		if line < 1 {
			line = 1
		}

		// A rule can fire more than once on the same line; repeats get an
		// ordinal suffix so ids stay unique.
		id := models.IssueID("semgrep", rule, r.Path, line)
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s-%d", id, n)
		}

		issue := models.Issue{
			ID:          id,
			Title:       "SemGrep: " + rule,
			Description: message,
			Severity:    mapSeverity(r.Extra.Severity),
			FilePath:    r.Path,
			LineNumber:  models.IntPtr(line),
			RuleID:      models.StringPtr(rule),
			Status:      models.StatusDetected,
			SourceAgent: string(agent.KindSemgrep),
		}
		if refs := r.Extra.Metadata.References; len(refs) > 0 {
			issue.FixSuggestion = models.StringPtr(joinRefs(refs))
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// mapSeverity folds semgrep's rule confidence levels into the shared scale.
func mapSeverity(s string) models.Severity {
	switch s {
	case "ERROR":
		return models.SeverityHigh
	case "WARNING":
		return models.SeverityMedium
	case "INFO", "EXPERIMENT":
		return models.SeverityLow
	default:
		return models.SeverityMedium
	}
}

func joinRefs(refs []string) string {
	out := refs[0]
	for _, r := range refs[1:] {
		out += ", " + r
	}
	return out
}

func firstLine(b []byte) string {
	for i, c := range b {
		if c == '\n' {
			return string(b[:i])
		}
	}
	return string(b)
}
