// Package trivy adapts the trivy CLI's filesystem scan as a scan agent.
// One invocation covers vulnerabilities, misconfigurations, secrets and
// license findings.
package trivy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Eng-Elias/codetective/internal/agent"
	"github.com/Eng-Elias/codetective/internal/execx"
	"github.com/Eng-Elias/codetective/internal/logging"
	"github.com/Eng-Elias/codetective/internal/models"
	"github.com/Eng-Elias/codetective/internal/supervisor"
)

const (
	binary = "trivy"

	scanners = "vuln,misconfig,secret,license"

	defaultTimeout = 300 * time.Second
)

// Agent runs trivy filesystem scans.
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
	return &Agent{runner: runner, log: log.Named("trivy")}
}

func (a *Agent) Name() string { return string(agent.KindTrivy) }

// Available reports whether the trivy binary resolves on PATH.
func (a *Agent) Available(ctx context.Context) bool {
	_, err := a.runner.LookPath(binary)
	return err == nil
}

// Execute scans the given paths. Individual files are widened to their parent
// directory since trivy fs operates on directories; each distinct directory is
// scanned once.
func (a *Agent) Execute(ctx context.Context, files []string, cfg agent.Settings) models.AgentResult {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	outcome := supervisor.Run(ctx, timeout, func(runCtx context.Context) ([]models.Issue, error) {
		return a.scan(runCtx, files, timeout)
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

func (a *Agent) scan(ctx context.Context, paths []string, timeout time.Duration) ([]models.Issue, error) {
	var issues []models.Issue
	var firstErr error

	seen := make(map[string]int)
	for _, target := range scanTargets(paths) {
		found, err := a.run(ctx, target, timeout, seen)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			a.log.Warn(ctx, "trivy scan failed",
				zap.String("path", target), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		issues = append(issues, found...)
	}

	if len(issues) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return issues, nil
}

// scanTargets widens files to their parent directory and deduplicates,
// preserving first-seen order.
func scanTargets(paths []string) []string {
	seen := make(map[string]bool)
	var targets []string
	for _, p := range paths {
		target := p
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			target = filepath.Dir(p)
		}
		if !seen[target] {
			seen[target] = true
			targets = append(targets, target)
		}
	}
	return targets
}

func (a *Agent) run(ctx context.Context, target string, timeout time.Duration, seen map[string]int) ([]models.Issue, error) {
	args := []string{
		"fs",
		"--format", "json",
		"--scanners", scanners,
		"--timeout", strconv.Itoa(int(timeout.Seconds())) + "s",
		target,
	}

	res, err := a.runner.Run(ctx, binary, args...)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	// Trivy exits non-zero in several still-useful modes (e.g. --exit-code
	// policies); findings on stdout take precedence over the exit status.
	if len(res.Stdout) == 0 {
		if err != nil {
			return nil, fmt.Errorf("trivy: %w", err)
		}
		return nil, nil
	}
	return parseOutput(res.Stdout, target, seen)
}

// report mirrors the fields of trivy's JSON report that matter here.
type report struct {
	Results []struct {
		Target          string           `json:"Target"`
		Vulnerabilities []vulnerability  `json:"Vulnerabilities"`
		Secrets         []secretFinding  `json:"Secrets"`
		Misconfigs      []misconfigIssue `json:"Misconfigurations"`
	} `json:"Results"`
}

type vulnerability struct {
	VulnerabilityID string `json:"VulnerabilityID"`
	PkgName         string `json:"PkgName"`
	Title           string `json:"Title"`
	Description     string `json:"Description"`
	Severity        string `json:"Severity"`
	FixedVersion    string `json:"FixedVersion"`
}

type secretFinding struct {
	RuleID    string `json:"RuleID"`
	Title     string `json:"Title"`
	Severity  string `json:"Severity"`
	StartLine int    `json:"StartLine"`
}

type misconfigIssue struct {
	ID            string `json:"ID"`
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Severity      string `json:"Severity"`
	CauseMetadata struct {
		StartLine int `json:"StartLine"`
	} `json:"CauseMetadata"`
}

func parseOutput(data []byte, scanPath string, seen map[string]int) ([]models.Issue, error) {
	var doc report
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse trivy output: %w", err)
	}

	var issues []models.Issue
	for _, result := range doc.Results {
		target := result.Target
		if target == "" {
			target = scanPath
		}
		for _, v := range result.Vulnerabilities {
			issues = append(issues, vulnIssue(v, target, seen))
		}
		for _, s := range result.Secrets {
			issues = append(issues, secretIssue(s, target, seen))
		}
		for _, m := range result.Misconfigs {
			issues = append(issues, misconfigToIssue(m, target, seen))
		}
	}
	return issues, nil
}

// uniqueID gives repeats of the same finding identity an ordinal suffix so
// issue ids stay unique across every target of one scan.
func uniqueID(id string, seen map[string]int) string {
	seen[id]++
	if n := seen[id]; n > 1 {
		return fmt.Sprintf("%s-%d", id, n)
	}
	return id
}

func vulnIssue(v vulnerability, target string, seen map[string]int) models.Issue {
	id := v.VulnerabilityID
	if id == "" {
		id = "unknown"
	}
	pkg := v.PkgName
	if pkg == "" {
		pkg = "unknown"
	}
	title := v.Title
	if title == "" {
		title = "Vulnerability in " + pkg
	}
	desc := v.Description
	if desc == "" {
		desc = "No description available"
	}

	issue := models.Issue{
		ID:          uniqueID(fmt.Sprintf("trivy-vuln-%s-%s", id, pkg), seen),
		Title:       "Vulnerability: " + title,
		Description: fmt.Sprintf("%s\nPackage: %s\nVulnerability ID: %s", desc, pkg, id),
		Severity:    mapSeverity(v.Severity, models.SeverityMedium),
		FilePath:    target,
		RuleID:      models.StringPtr(id),
		Status:      models.StatusDetected,
		SourceAgent: string(agent.KindTrivy),
	}
	if v.FixedVersion != "" {
		issue.FixSuggestion = models.StringPtr(
			fmt.Sprintf("Update %s to version %s", pkg, v.FixedVersion))
	}
	return issue
}

func secretIssue(s secretFinding, target string, seen map[string]int) models.Issue {
	rule := s.RuleID
	if rule == "" {
		rule = "unknown"
	}
	title := s.Title
	if title == "" {
		title = "Secret detected"
	}
	line := s.StartLine
	if line < 1 {
		line = 1
	}

	return models.Issue{
		ID:            uniqueID(fmt.Sprintf("trivy-secret-%s-%s-%d", rule, target, line), seen),
		Title:         "Secret: " + title,
		Description:   "Potential secret detected: " + title,
		Severity:      mapSeverity(s.Severity, models.SeverityHigh),
		FilePath:      target,
		LineNumber:    models.IntPtr(line),
		RuleID:        models.StringPtr(rule),
		FixSuggestion: models.StringPtr("Remove or encrypt the detected secret"),
		Status:        models.StatusDetected,
		SourceAgent:   string(agent.KindTrivy),
	}
}

func misconfigToIssue(m misconfigIssue, target string, seen map[string]int) models.Issue {
	rule := m.ID
	if rule == "" {
		rule = "unknown"
	}
	title := m.Title
	if title == "" {
		title = "Configuration issue"
	}
	desc := m.Description
	if desc == "" {
		desc = "No description available"
	}
	line := m.CauseMetadata.StartLine
	if line < 1 {
		line = 1
	}

	return models.Issue{
		ID:            uniqueID(fmt.Sprintf("trivy-config-%s-%s-%d", rule, target, line), seen),
		Title:         "Config: " + title,
		Description:   desc,
		Severity:      mapSeverity(m.Severity, models.SeverityMedium),
		FilePath:      target,
		LineNumber:    models.IntPtr(line),
		RuleID:        models.StringPtr(rule),
		FixSuggestion: models.StringPtr("Review and fix the configuration issue"),
		Status:        models.StatusDetected,
		SourceAgent:   string(agent.KindTrivy),
	}
}

// mapSeverity folds trivy severities into the shared scale. The fallback
// differs per finding kind (secrets default high, everything else medium).
func mapSeverity(s string, fallback models.Severity) models.Severity {
	switch s {
	case "CRITICAL":
		return models.SeverityCritical
	case "HIGH":
		return models.SeverityHigh
	case "MEDIUM":
		return models.SeverityMedium
	case "LOW", "UNKNOWN":
		return models.SeverityLow
	case "":
		return fallback
	default:
		return models.SeverityMedium
	}
}
