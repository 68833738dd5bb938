package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Eng-Elias/codetective/internal/agent"
	"github.com/Eng-Elias/codetective/internal/config"
	"github.com/Eng-Elias/codetective/internal/fsutil"
	"github.com/Eng-Elias/codetective/internal/logging"
	"github.com/Eng-Elias/codetective/internal/models"
	"github.com/Eng-Elias/codetective/internal/supervisor"
)

// Fix implements Service. It mutates result in place: selected issues move to
// a terminal status, everything else stays exactly as scanned.
func (s *service) Fix(ctx context.Context, result *models.ScanResult, agentName string, cfg *config.Config) (*models.FixResult, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: nil scan result", ErrMalformedResult)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if cfg == nil {
		var err error
		cfg, err = config.DefaultConfig()
		if err != nil {
			return nil, err
		}
	}
	kind, err := agent.ParseKind(agentName)
	if err != nil {
		return nil, fmt.Errorf("%w: output agent %q", ErrUnknownAgent, agentName)
	}
	out, err := s.registry.Output(kind)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	ctx = logging.WithRunID(ctx, runID)
	ctx, span := s.tracer.Start(ctx, "codetective.fix",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("agent.name", out.Name()),
			attribute.Bool("fix.dry_run", cfg.Fix.DryRun),
		))
	defer span.End()

	start := time.Now()
	fix := &models.FixResult{
		Applied:       []models.FixApplied{},
		ModifiedFiles: []string{},
	}

	selected := selectedSet(cfg.Fix.SelectedIssueIDs)
	byFile := make(map[string][]models.Issue)
	var fileOrder []string

	for _, issue := range result.AllIssues() {
		if selected != nil && !selected[issue.ID] {
			// Unselected issues are untouched; they stay detected.
			continue
		}
		delete(selected, issue.ID)
		if issue.Status != models.StatusDetected {
			// Already terminal; report it without touching the document.
			fix.Applied = append(fix.Applied, models.FixApplied{
				IssueID: issue.ID,
				Status:  models.StatusSkipped,
				Detail:  fmt.Sprintf("issue already %s", issue.Status),
			})
			s.metrics.RecordFix(string(models.StatusSkipped))
			continue
		}
		if issue.FilePath == "" {
			s.recordApplied(ctx, fix, result, issue.ID, models.StatusSkipped,
				"issue has no file path", cfg.Fix.DryRun)
			continue
		}
		if _, seen := byFile[issue.FilePath]; !seen {
			fileOrder = append(fileOrder, issue.FilePath)
		}
		byFile[issue.FilePath] = append(byFile[issue.FilePath], issue)
	}

	// Selected ids the document does not contain.
	for _, id := range missingIDs(selected) {
		fix.Applied = append(fix.Applied, models.FixApplied{
			IssueID: id,
			Status:  models.StatusFailed,
			Detail:  "issue not in result document",
		})
		s.metrics.RecordFix(string(models.StatusFailed))
	}

	sort.Strings(fileOrder)
	settings := agent.Settings{Timeout: cfg.Scan.TimeoutDuration()}
	backups := fsutil.NewBackupManager()

	for _, path := range fileOrder {
		modified := s.fixFile(ctx, out, path, byFile[path], settings, cfg, backups, fix, result)
		if modified {
			fix.ModifiedFiles = append(fix.ModifiedFiles, path)
		}
	}

	// Report backups made during this run, including any a failed write has
	// already consumed through Restore.
	fix.BackupCount = backups.Created()
	s.metrics.RecordBackups(fix.BackupCount)
	if err := backups.Cleanup(cfg.Fix.KeepBackup); err != nil {
		s.log.Warn(ctx, "backup cleanup failed", zap.Error(err))
	}

	fix.Duration = time.Since(start).Seconds()
	span.SetAttributes(
		attribute.Int("fix.fixed", fix.CountByStatus(models.StatusFixed)),
		attribute.Int("fix.failed", fix.CountByStatus(models.StatusFailed)),
	)
	s.log.Info(ctx, "fix finished",
		zap.String("agent", out.Name()),
		zap.Int("fixed", fix.CountByStatus(models.StatusFixed)),
		zap.Int("failed", fix.CountByStatus(models.StatusFailed)),
		zap.Int("skipped", fix.CountByStatus(models.StatusSkipped)),
		zap.Strings("modified_files", fix.ModifiedFiles))
	return fix, nil
}

// fixOutcome is one issue's provisional result while its file is still being
// processed in memory. Statuses only land in the document once the file write
// settles, so a failed write can downgrade every outcome to failed without
// reverting a terminal status.
type fixOutcome struct {
	issueID string
	status  models.IssueStatus
	detail  string
}

// fixFile applies the agent to one file's issues, strictly descending by
// line so earlier edits never shift later line numbers. Returns whether the
// file was rewritten on disk.
func (s *service) fixFile(ctx context.Context, out agent.OutputAgent, path string, issues []models.Issue, settings agent.Settings, cfg *config.Config, backups *fsutil.BackupManager, fix *models.FixResult, result *models.ScanResult) bool {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Line() > issues[j].Line()
	})

	raw, err := os.ReadFile(path)
	if err != nil {
		for _, issue := range issues {
			s.recordApplied(ctx, fix, result, issue.ID, models.StatusFailed,
				fmt.Sprintf("read file: %v", err), cfg.Fix.DryRun)
		}
		return false
	}
	content := string(raw)
	modified := false
	outcomes := make([]fixOutcome, 0, len(issues))

	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, fixOutcome{issue.ID, models.StatusFailed,
				fmt.Sprintf("fix cancelled: %v", err)})
			continue
		}
		issue = s.withHints(ctx, issue, cfg)

		res := supervisor.Run(ctx, settings.Timeout, func(runCtx context.Context) (agent.ApplyResult, error) {
			return out.Apply(runCtx, issue, content, settings)
		})
		if res.Err != nil {
			s.log.Warn(ctx, "fix attempt failed",
				zap.String("issue", issue.ID),
				zap.String("agent", out.Name()),
				zap.Error(res.Err))
			outcomes = append(outcomes, fixOutcome{issue.ID, models.StatusFailed, res.Reason()})
			continue
		}

		applied := res.Value
		switch applied.Status {
		case models.StatusFixed:
			content = applied.Content
			modified = true
			outcomes = append(outcomes, fixOutcome{issue.ID, models.StatusFixed, applied.Detail})
		case models.StatusSkipped:
			outcomes = append(outcomes, fixOutcome{issue.ID, models.StatusSkipped, applied.Detail})
		default:
			detail := applied.Detail
			if detail == "" {
				detail = "agent could not resolve the issue"
			}
			outcomes = append(outcomes, fixOutcome{issue.ID, models.StatusFailed, detail})
		}
	}

	if modified && !cfg.Fix.DryRun {
		if cfg.Fix.BackupFiles {
			if _, err := backups.Create(path); err != nil {
				// No backup means no safety net; leave the file alone.
				for i := range outcomes {
					if outcomes[i].status == models.StatusFixed {
						outcomes[i] = fixOutcome{outcomes[i].issueID, models.StatusFailed,
							fmt.Sprintf("backup failed: %v", err)}
					}
				}
				modified = false
			}
		}
		if modified {
			if err := fsutil.WriteFileAtomic(path, []byte(content)); err != nil {
				if restoreErr := backups.Restore(path); restoreErr != nil {
					s.log.Error(ctx, "backup restore failed",
						zap.String("file", path), zap.Error(restoreErr))
				}
				for i := range outcomes {
					if outcomes[i].status == models.StatusFixed {
						outcomes[i] = fixOutcome{outcomes[i].issueID, models.StatusFailed,
							fmt.Sprintf("write failed, backup restored: %v", err)}
					}
				}
				modified = false
			}
		}
	}

	for _, o := range outcomes {
		s.recordApplied(ctx, fix, result, o.issueID, o.status, o.detail, cfg.Fix.DryRun)
		if o.status == models.StatusFixed && !cfg.Fix.DryRun {
			if issue, ok := result.FindIssue(o.issueID); ok {
				s.knowledge.Record(ctx, *issue, fmt.Sprintf("fixed by %s agent", out.Name()))
			}
		}
	}
	return modified && !cfg.Fix.DryRun
}

// recordApplied appends one applied entry, transitions the issue in the
// document, and folds any agent detail into the issue description. Dry runs
// report would-be statuses without touching the document.
func (s *service) recordApplied(ctx context.Context, fix *models.FixResult, result *models.ScanResult, id string, status models.IssueStatus, detail string, dryRun bool) {
	fix.Applied = append(fix.Applied, models.FixApplied{
		IssueID: id,
		Status:  status,
		Detail:  detail,
	})
	s.metrics.RecordFix(string(status))
	if dryRun {
		return
	}
	if err := result.Transition(id, status); err != nil {
		s.log.Warn(ctx, "status transition rejected",
			zap.String("issue", id), zap.Error(err))
		return
	}
	if detail != "" && status == models.StatusFixed {
		if issue, ok := result.FindIssue(id); ok {
			issue.Description += "\n\nExplanation: " + detail
		}
	}
}

// withHints enriches an issue's fix suggestion with prior-fix history from
// the knowledge base. A nil or empty store leaves the issue untouched.
func (s *service) withHints(ctx context.Context, issue models.Issue, cfg *config.Config) models.Issue {
	if s.knowledge == nil {
		return issue
	}
	topK := cfg.Knowledge.TopK
	if topK <= 0 {
		topK = 3
	}
	hints, err := s.knowledge.Similar(ctx, issue, topK)
	if err != nil || len(hints) == 0 {
		return issue
	}
	text := "Previously resolved similar issues:"
	for _, h := range hints {
		text += fmt.Sprintf("\n- %s: %s", h.Title, h.Outcome)
	}
	if issue.FixSuggestion != nil && *issue.FixSuggestion != "" {
		text = *issue.FixSuggestion + "\n" + text
	}
	issue.FixSuggestion = models.StringPtr(text)
	return issue
}

func selectedSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// missingIDs returns the selected ids left unclaimed after the document
// walk, sorted for deterministic output.
func missingIDs(selected map[string]bool) []string {
	if len(selected) == 0 {
		return nil
	}
	ids := make([]string, 0, len(selected))
	for id := range selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
