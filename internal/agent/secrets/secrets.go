// Package secrets scans file content for credentials with the Gitleaks SDK.
// It runs in-process, so it is always available, and it never copies the
// matched secret value into a finding.
package secrets

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/Eng-Elias/codetective/internal/agent"
	"github.com/Eng-Elias/codetective/internal/logging"
	"github.com/Eng-Elias/codetective/internal/models"
	"github.com/Eng-Elias/codetective/internal/supervisor"
)

const (
	// projectAllowlistName is looked up under the scan root when no explicit
	// allowlist path is configured.
	projectAllowlistName = ".gitleaks.toml"

	// defaultMaxFileSize skips files larger than this when the settings do
	// not say otherwise. Large files are rarely source and dominate runtime.
	defaultMaxFileSize = 10 * 1024 * 1024

	defaultTimeout = 120 * time.Second
)

// Agent detects hardcoded credentials.
type Agent struct {
	log *logging.Logger
}

var _ agent.ScanAgent = (*Agent)(nil)

// New creates the agent. A nil logger is silent.
func New(log *logging.Logger) *Agent {
	if log == nil {
		log = logging.NewNop()
	}
	return &Agent{log: log.Named("secrets")}
}

func (a *Agent) Name() string { return string(agent.KindSecrets) }

// Available always reports true; detection is SDK-based and needs no
// external tool.
func (a *Agent) Available(ctx context.Context) bool { return true }

// Execute scans each file's content. Unreadable and binary files are skipped,
// not errors. Findings never carry the secret text itself.
func (a *Agent) Execute(ctx context.Context, files []string, cfg agent.Settings) models.AgentResult {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	outcome := supervisor.Run(ctx, timeout, func(runCtx context.Context) ([]models.Issue, error) {
		return a.scan(runCtx, files, cfg)
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

func (a *Agent) scan(ctx context.Context, files []string, cfg agent.Settings) ([]models.Issue, error) {
	detector, err := a.newDetector(cfg)
	if err != nil {
		return nil, err
	}

	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}

	var issues []models.Issue
	seen := make(map[string]int)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() > maxSize {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			a.log.Warn(ctx, "skipping unreadable file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		if bytes.IndexByte(content, 0) >= 0 {
			continue
		}

		for _, finding := range detector.DetectString(string(content)) {
			issues = append(issues, buildIssue(finding.RuleID, finding.Description, path, finding.StartLine, seen))
		}
	}
	return issues, nil
}

// newDetector builds a Gitleaks detector with its default rule set plus the
// merged project and user allowlists.
func (a *Agent) newDetector(cfg agent.Settings) (*detect.Detector, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("create secrets detector: %w", err)
	}

	projectFile := cfg.AllowlistPath
	if projectFile == "" && cfg.ScanRoot != "" {
		projectFile = filepath.Join(cfg.ScanRoot, projectAllowlistName)
	}
	allowlist, err := LoadAllowlists(projectFile, cfg.UserAllowlistPath)
	if err != nil {
		return nil, err
	}
	if !allowlist.Empty() {
		applyAllowlist(&detector.Config, allowlist)
	}
	return detector, nil
}

// applyAllowlist appends the merged patterns as one global allowlist entry.
// Patterns are pre-validated at load time, so compilation cannot fail here.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	entry := &gitleaksConfig.Allowlist{
		Description: "codetective user/project allowlist",
	}
	for _, pattern := range allowlist.Paths {
		entry.Paths = append(entry.Paths, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	for _, pattern := range allowlist.Regexes {
		entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	entry.StopWords = append(entry.StopWords, allowlist.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, entry)
}

// buildIssue converts one finding without echoing the matched secret. Repeats
// of the same rule on the same line get an ordinal suffix so ids stay unique.
func buildIssue(rule, description, path string, line int, seen map[string]int) models.Issue {
	if rule == "" {
		rule = "unknown"
	}
	if line < 1 {
		line = 1
	}
	title := description
	if title == "" {
		title = rule
	}

	id := models.IssueID("secrets", rule, path, line)
	seen[id]++
	if n := seen[id]; n > 1 {
		id = fmt.Sprintf("%s-%d", id, n)
	}

	return models.Issue{
		ID:            id,
		Title:         "Secret: " + title,
		Description:   fmt.Sprintf("Potential hardcoded credential (%s) detected", rule),
		Severity:      models.SeverityHigh,
		FilePath:      path,
		LineNumber:    models.IntPtr(line),
		RuleID:        models.StringPtr(rule),
		FixSuggestion: models.StringPtr("Remove the credential from source and rotate it; load it from the environment or a secrets manager"),
		Status:        models.StatusDetected,
		SourceAgent:   string(agent.KindSecrets),
	}
}
