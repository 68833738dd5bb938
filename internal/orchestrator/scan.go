package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Eng-Elias/codetective/internal/agent"
	"github.com/Eng-Elias/codetective/internal/config"
	"github.com/Eng-Elias/codetective/internal/discovery"
	"github.com/Eng-Elias/codetective/internal/logging"
	"github.com/Eng-Elias/codetective/internal/models"
)

// defaultWorkers bounds the parallel pool when the configuration does not.
const defaultWorkers = 4

// Scan implements Service.
func (s *service) Scan(ctx context.Context, paths []string, cfg *config.Config) (*models.ScanResult, error) {
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}
	if cfg == nil {
		var err error
		cfg, err = config.DefaultConfig()
		if err != nil {
			return nil, err
		}
	}
	if len(cfg.Scan.Agents) == 0 {
		return nil, ErrNoAgents
	}

	agents := make([]agent.ScanAgent, 0, len(cfg.Scan.Agents))
	for _, name := range cfg.Scan.Agents {
		kind, err := agent.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("%w: scan agent %q", ErrUnknownAgent, name)
		}
		a, err := s.registry.Scan(kind)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}

	// The run id rides the context so every log line below, agents included,
	// correlates to this run.
	runID := uuid.New().String()
	ctx = logging.WithRunID(ctx, runID)
	ctx, span := s.tracer.Start(ctx, "codetective.scan",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("scan.agents", len(agents)),
			attribute.String("scan.mode", cfg.Scan.ExecutionMode),
		))
	defer span.End()

	files, err := discovery.Discover(paths, discovery.Options{
		Include:          cfg.Scan.Include,
		Exclude:          cfg.Scan.Exclude,
		RespectGitignore: cfg.Scan.RespectGitignore,
		MaxFileSize:      cfg.Scan.MaxFileSize,
		MaxFiles:         0, // the per-agent cap applies downstream, not here
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoPaths, err)
	}

	root := scanRoot(paths[0])
	settings := agent.Settings{
		Timeout:           cfg.Scan.TimeoutDuration(),
		MaxFiles:          cfg.Scan.MaxFiles,
		MaxFileSize:       cfg.Scan.MaxFileSize,
		ScanRoot:          root,
		AllowlistPath:     cfg.Secrets.AllowlistPath,
		UserAllowlistPath: cfg.Secrets.UserAllowlistPath,
	}

	s.log.Info(ctx, "scan started",
		zap.Strings("paths", paths),
		zap.Int("files", len(files)),
		zap.String("mode", cfg.Scan.ExecutionMode))
	start := time.Now()

	outcomes := make([]models.AgentResult, len(agents))
	if cfg.Scan.ExecutionMode == config.ModeParallel {
		s.runParallel(ctx, agents, files, settings, workerCount(cfg), outcomes)
	} else {
		s.runSequential(ctx, agents, files, settings, outcomes)
	}

	result := models.NewScanResult(root)
	for i, a := range agents {
		res := outcomes[i]
		issues := res.Issues
		if issues == nil {
			issues = []models.Issue{}
		}
		result.Categories[a.Name()] = issues
		result.AgentResults = append(result.AgentResults, res)
		s.metrics.RecordAgentRun(a.Name(), outcomeLabel(res), countBySeverity(issues))
	}
	sort.Slice(result.AgentResults, func(i, j int) bool {
		return result.AgentResults[i].AgentName < result.AgentResults[j].AgentName
	})

	result.ScanDuration = time.Since(start).Seconds()
	result.RecomputeTotal()
	s.metrics.RecordScan(result.ScanDuration)
	span.SetAttributes(attribute.Int("scan.issues", result.TotalIssues))

	s.log.Info(ctx, "scan finished",
		zap.Int("issues", result.TotalIssues),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// runSequential runs agents one at a time in request order. A cancelled
// context marks the remaining agents failed instead of invoking them.
func (s *service) runSequential(ctx context.Context, agents []agent.ScanAgent, files []string, settings agent.Settings, outcomes []models.AgentResult) {
	for i, a := range agents {
		if err := ctx.Err(); err != nil {
			outcomes[i] = models.FailedResult(a.Name(), fmt.Sprintf("scan cancelled: %v", err), 0)
			continue
		}
		outcomes[i] = s.runAgent(ctx, a, files, settings)
	}
}

// runParallel fans agents out over a bounded worker pool. Each slot writes
// its own outcome index, so results assemble in request order regardless of
// completion order.
func (s *service) runParallel(ctx context.Context, agents []agent.ScanAgent, files []string, settings agent.Settings, workers int, outcomes []models.AgentResult) {
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, a := range agents {
		wg.Add(1)
		go func(i int, a agent.ScanAgent) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				outcomes[i] = models.FailedResult(a.Name(), fmt.Sprintf("scan cancelled: %v", err), 0)
				return
			}
			outcomes[i] = s.runAgent(ctx, a, files, settings)
		}(i, a)
	}
	wg.Wait()
}

// runAgent gates on availability and invokes one scan agent under its own
// span. Unavailability is recorded as a failed result, never as an error.
func (s *service) runAgent(ctx context.Context, a agent.ScanAgent, files []string, settings agent.Settings) models.AgentResult {
	ctx, span := s.tracer.Start(ctx, "codetective.agent",
		trace.WithAttributes(attribute.String("agent.name", a.Name())))
	defer span.End()

	if !a.Available(ctx) {
		s.log.Warn(ctx, "agent unavailable, skipping", zap.String("agent", a.Name()))
		return models.FailedResult(a.Name(), "agent not available", 0)
	}

	res := a.Execute(ctx, files, settings)
	if res.Success {
		s.log.Info(ctx, "agent finished",
			zap.String("agent", a.Name()),
			zap.Int("issues", len(res.Issues)))
	} else {
		s.log.Warn(ctx, "agent failed",
			zap.String("agent", a.Name()),
			zap.String("reason", res.ErrorMessage))
	}
	span.SetAttributes(attribute.Bool("agent.success", res.Success))
	return res
}

func workerCount(cfg *config.Config) int {
	if cfg.Workers.Max > 0 {
		return cfg.Workers.Max
	}
	return defaultWorkers
}

// scanRoot resolves the directory a scan is anchored at. A file path anchors
// at its parent so project-level configuration is still found.
func scanRoot(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		return filepath.Dir(abs)
	}
	return abs
}

func outcomeLabel(res models.AgentResult) string {
	if res.Success {
		return "success"
	}
	if res.ErrorMessage == "agent not available" {
		return "unavailable"
	}
	return "failure"
}

func countBySeverity(issues []models.Issue) map[string]int {
	if len(issues) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, issue := range issues {
		counts[string(issue.Severity)]++
	}
	return counts
}
