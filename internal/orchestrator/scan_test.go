package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eng-Elias/codetective/internal/agent"
	"github.com/Eng-Elias/codetective/internal/config"
	"github.com/Eng-Elias/codetective/internal/logging"
	"github.com/Eng-Elias/codetective/internal/models"
)

type fakeScan struct {
	name      string
	available bool
	result    models.AgentResult

	mu    sync.Mutex
	calls int
	files []string
	runID string
}

func (f *fakeScan) Name() string                   { return f.name }
func (f *fakeScan) Available(context.Context) bool { return f.available }

func (f *fakeScan) Execute(ctx context.Context, files []string, _ agent.Settings) models.AgentResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.files = files
	f.runID = logging.RunIDFromContext(ctx)
	return f.result
}

func detectedIssue(agentName, id, path string, line int) models.Issue {
	var ln *int
	if line > 0 {
		ln = models.IntPtr(line)
	}
	return models.Issue{
		ID:          id,
		Title:       id,
		Severity:    models.SeverityMedium,
		FilePath:    path,
		LineNumber:  ln,
		Status:      models.StatusDetected,
		SourceAgent: agentName,
	}
}

func successResult(agentName string, issues ...models.Issue) models.AgentResult {
	return models.AgentResult{
		AgentName: agentName,
		Success:   true,
		Issues:    issues,
		Duration:  0.1,
	}
}

func testConfig(t *testing.T, agents ...string) *config.Config {
	t.Helper()
	cfg, err := config.DefaultConfig()
	require.NoError(t, err)
	cfg.Scan.Agents = agents
	cfg.Scan.Timeout = 30
	return cfg
}

func scanDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("print('hi')\n"), 0644))
	return dir
}

func newTestService(t *testing.T, reg *agent.Registry) Service {
	t.Helper()
	svc, err := New(reg, nil, nil)
	require.NoError(t, err)
	return svc
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New(nil, nil, nil)
	require.Error(t, err)
}

func TestScanValidatesInput(t *testing.T) {
	reg := agent.NewRegistry()
	reg.RegisterScan(agent.KindSemgrep, &fakeScan{name: "semgrep", available: true})
	svc := newTestService(t, reg)

	t.Run("no paths", func(t *testing.T) {
		_, err := svc.Scan(context.Background(), nil, testConfig(t, "semgrep"))
		require.ErrorIs(t, err, ErrNoPaths)
		assert.True(t, IsInvalidInput(err))
	})

	t.Run("no agents", func(t *testing.T) {
		_, err := svc.Scan(context.Background(), []string{scanDir(t)}, testConfig(t))
		require.ErrorIs(t, err, ErrNoAgents)
		assert.True(t, IsInvalidInput(err))
	})

	t.Run("unknown agent", func(t *testing.T) {
		_, err := svc.Scan(context.Background(), []string{scanDir(t)}, testConfig(t, "bogus"))
		require.ErrorIs(t, err, ErrUnknownAgent)
		assert.True(t, IsInvalidInput(err))
	})

	t.Run("unreadable path", func(t *testing.T) {
		_, err := svc.Scan(context.Background(), []string{"/does/not/exist"}, testConfig(t, "semgrep"))
		require.ErrorIs(t, err, ErrNoPaths)
		assert.True(t, IsInvalidInput(err))
	})
}

func TestScanAggregatesAgentResults(t *testing.T) {
	dir := scanDir(t)
	file := filepath.Join(dir, "app.py")

	semgrep := &fakeScan{name: "semgrep", available: true,
		result: successResult("semgrep",
			detectedIssue("semgrep", "semgrep-rule-a", file, 10),
			detectedIssue("semgrep", "semgrep-rule-b", file, 2),
		)}
	trivy := &fakeScan{name: "trivy", available: true,
		result: successResult("trivy", detectedIssue("trivy", "trivy-vuln-x", file, 0))}

	reg := agent.NewRegistry()
	reg.RegisterScan(agent.KindSemgrep, semgrep)
	reg.RegisterScan(agent.KindTrivy, trivy)
	svc := newTestService(t, reg)

	result, err := svc.Scan(context.Background(), []string{dir}, testConfig(t, "semgrep", "trivy"))
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalIssues)
	assert.Equal(t, []string{"semgrep", "trivy"}, result.CategoryNames())
	// Agent-internal order survives aggregation.
	require.Len(t, result.Categories["semgrep"], 2)
	assert.Equal(t, "semgrep-rule-a", result.Categories["semgrep"][0].ID)
	assert.Equal(t, "semgrep-rule-b", result.Categories["semgrep"][1].ID)

	require.Len(t, result.AgentResults, 2)
	assert.Equal(t, "semgrep", result.AgentResults[0].AgentName)
	assert.Equal(t, "trivy", result.AgentResults[1].AgentName)

	// Both agents received the same discovered file list and the run id
	// rode the context all the way down.
	assert.Equal(t, []string{file}, semgrep.files)
	assert.Equal(t, []string{file}, trivy.files)
	assert.NotEmpty(t, semgrep.runID)
	assert.Equal(t, semgrep.runID, trivy.runID)
	assert.Equal(t, 1, semgrep.calls)

	require.NoError(t, result.Validate())
}

func TestScanUnavailableAgentRecordedNotFatal(t *testing.T) {
	dir := scanDir(t)
	file := filepath.Join(dir, "app.py")

	down := &fakeScan{name: "trivy", available: false}
	up := &fakeScan{name: "semgrep", available: true,
		result: successResult("semgrep", detectedIssue("semgrep", "semgrep-rule-a", file, 1))}

	reg := agent.NewRegistry()
	reg.RegisterScan(agent.KindSemgrep, up)
	reg.RegisterScan(agent.KindTrivy, down)
	svc := newTestService(t, reg)

	result, err := svc.Scan(context.Background(), []string{dir}, testConfig(t, "semgrep", "trivy"))
	require.NoError(t, err)

	assert.Equal(t, 0, down.calls, "unavailable agent must not be executed")
	assert.Equal(t, 1, result.TotalIssues)
	assert.Empty(t, result.Categories["trivy"])

	var trivyRes models.AgentResult
	for _, ar := range result.AgentResults {
		if ar.AgentName == "trivy" {
			trivyRes = ar
		}
	}
	assert.False(t, trivyRes.Success)
	assert.Equal(t, "agent not available", trivyRes.ErrorMessage)
}

func TestScanAgentFailureRecordedNotFatal(t *testing.T) {
	dir := scanDir(t)

	broken := &fakeScan{name: "semgrep", available: true,
		result: models.FailedResult("semgrep", "semgrep exploded", 0)}

	reg := agent.NewRegistry()
	reg.RegisterScan(agent.KindSemgrep, broken)
	svc := newTestService(t, reg)

	result, err := svc.Scan(context.Background(), []string{dir}, testConfig(t, "semgrep"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalIssues)
	require.Len(t, result.AgentResults, 1)
	assert.False(t, result.AgentResults[0].Success)
	assert.Equal(t, "semgrep exploded", result.AgentResults[0].ErrorMessage)
}

func TestScanParallelMatchesSequential(t *testing.T) {
	dir := scanDir(t)
	file := filepath.Join(dir, "app.py")

	newRegistry := func() *agent.Registry {
		reg := agent.NewRegistry()
		reg.RegisterScan(agent.KindSemgrep, &fakeScan{name: "semgrep", available: true,
			result: successResult("semgrep",
				detectedIssue("semgrep", "semgrep-a", file, 3),
				detectedIssue("semgrep", "semgrep-b", file, 7))})
		reg.RegisterScan(agent.KindTrivy, &fakeScan{name: "trivy", available: true,
			result: successResult("trivy", detectedIssue("trivy", "trivy-a", file, 0))})
		reg.RegisterScan(agent.KindSecrets, &fakeScan{name: "secrets", available: true,
			result: successResult("secrets", detectedIssue("secrets", "secrets-a", file, 12))})
		return reg
	}

	seqCfg := testConfig(t, "semgrep", "trivy", "secrets")
	seqCfg.Scan.ExecutionMode = config.ModeSequential
	seq, err := newTestService(t, newRegistry()).Scan(context.Background(), []string{dir}, seqCfg)
	require.NoError(t, err)

	parCfg := testConfig(t, "semgrep", "trivy", "secrets")
	parCfg.Scan.ExecutionMode = config.ModeParallel
	parCfg.Workers.Max = 2
	par, err := newTestService(t, newRegistry()).Scan(context.Background(), []string{dir}, parCfg)
	require.NoError(t, err)

	assert.Equal(t, seq.TotalIssues, par.TotalIssues)
	assert.Equal(t, seq.Categories, par.Categories)

	seqNames := make([]string, 0, len(seq.AgentResults))
	parNames := make([]string, 0, len(par.AgentResults))
	for i := range seq.AgentResults {
		seqNames = append(seqNames, seq.AgentResults[i].AgentName)
		parNames = append(parNames, par.AgentResults[i].AgentName)
	}
	assert.Equal(t, seqNames, parNames)
}

func TestScanCancelledContext(t *testing.T) {
	dir := scanDir(t)

	a := &fakeScan{name: "semgrep", available: true, result: successResult("semgrep")}
	reg := agent.NewRegistry()
	reg.RegisterScan(agent.KindSemgrep, a)
	svc := newTestService(t, reg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.Scan(ctx, []string{dir}, testConfig(t, "semgrep"))
	require.NoError(t, err)
	assert.Equal(t, 0, a.calls)
	require.Len(t, result.AgentResults, 1)
	assert.False(t, result.AgentResults[0].Success)
	assert.Contains(t, result.AgentResults[0].ErrorMessage, "scan cancelled")
}

func TestScanRootAnchorsAtParentForFiles(t *testing.T) {
	dir := scanDir(t)
	file := filepath.Join(dir, "app.py")

	a := &fakeScan{name: "semgrep", available: true, result: successResult("semgrep")}
	reg := agent.NewRegistry()
	reg.RegisterScan(agent.KindSemgrep, a)
	svc := newTestService(t, reg)

	result, err := svc.Scan(context.Background(), []string{file}, testConfig(t, "semgrep"))
	require.NoError(t, err)
	assert.Equal(t, dir, result.ScanPath)
	assert.Equal(t, []string{file}, a.files)
}
