package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eng-Elias/codetective/internal/config"
	"github.com/Eng-Elias/codetective/internal/execx"
	"github.com/Eng-Elias/codetective/internal/models"
	"github.com/Eng-Elias/codetective/internal/orchestrator"
	"github.com/Eng-Elias/codetective/internal/system"
)

type fakeService struct {
	scan func(ctx context.Context, paths []string, cfg *config.Config) (*models.ScanResult, error)
	fix  func(ctx context.Context, result *models.ScanResult, agent string, cfg *config.Config) (*models.FixResult, error)
}

func (f *fakeService) Scan(ctx context.Context, paths []string, cfg *config.Config) (*models.ScanResult, error) {
	return f.scan(ctx, paths, cfg)
}

func (f *fakeService) Fix(ctx context.Context, result *models.ScanResult, agent string, cfg *config.Config) (*models.FixResult, error) {
	return f.fix(ctx, result, agent, cfg)
}

func newServer(t *testing.T, svc orchestrator.Service) *Server {
	t.Helper()
	cfg, err := config.DefaultConfig()
	require.NoError(t, err)
	prober := system.NewProber(&execx.FakeRunner{}, nil)
	s, err := NewServer(svc, prober, cfg, nil)
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServerValidatesDeps(t *testing.T) {
	cfg, err := config.DefaultConfig()
	require.NoError(t, err)

	_, err = NewServer(nil, nil, cfg, nil)
	require.Error(t, err)

	_, err = NewServer(&fakeService{}, nil, nil, nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	s := newServer(t, &fakeService{})
	rec := do(s, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, &fakeService{})
	rec := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScanEndpoint(t *testing.T) {
	var gotPaths []string
	var gotCfg *config.Config
	svc := &fakeService{scan: func(_ context.Context, paths []string, cfg *config.Config) (*models.ScanResult, error) {
		gotPaths = paths
		gotCfg = cfg
		result := models.NewScanResult("/repo")
		result.Categories["semgrep"] = []models.Issue{{
			ID:          "semgrep-rule-app.py-3",
			Title:       "finding",
			Severity:    models.SeverityHigh,
			FilePath:    "app.py",
			LineNumber:  models.IntPtr(3),
			Status:      models.StatusDetected,
			SourceAgent: "semgrep",
		}}
		result.RecomputeTotal()
		return result, nil
	}}
	s := newServer(t, svc)

	rec := do(s, http.MethodPost, "/api/v1/scan",
		`{"paths":["/repo"],"agents":["semgrep"],"mode":"parallel"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"/repo"}, gotPaths)
	assert.Equal(t, []string{"semgrep"}, gotCfg.Scan.Agents)
	assert.Equal(t, config.ModeParallel, gotCfg.Scan.ExecutionMode)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Contains(t, doc, "semgrep_results")
	assert.Contains(t, doc, "total_issues")
}

func TestScanEndpointRejectsBadInput(t *testing.T) {
	s := newServer(t, &fakeService{scan: func(context.Context, []string, *config.Config) (*models.ScanResult, error) {
		return models.NewScanResult("/repo"), nil
	}})

	t.Run("missing paths", func(t *testing.T) {
		rec := do(s, http.MethodPost, "/api/v1/scan", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad mode", func(t *testing.T) {
		rec := do(s, http.MethodPost, "/api/v1/scan", `{"paths":["/repo"],"mode":"turbo"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := do(s, http.MethodPost, "/api/v1/scan", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestScanEndpointMapsOrchestratorErrors(t *testing.T) {
	t.Run("invalid input is 400", func(t *testing.T) {
		s := newServer(t, &fakeService{scan: func(context.Context, []string, *config.Config) (*models.ScanResult, error) {
			return nil, orchestrator.ErrNoAgents
		}})
		rec := do(s, http.MethodPost, "/api/v1/scan", `{"paths":["/repo"]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("internal failure is 500", func(t *testing.T) {
		s := newServer(t, &fakeService{scan: func(context.Context, []string, *config.Config) (*models.ScanResult, error) {
			return nil, errors.New("disk on fire")
		}})
		rec := do(s, http.MethodPost, "/api/v1/scan", `{"paths":["/repo"]}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "disk on fire")
	})
}

func TestFixEndpoint(t *testing.T) {
	var gotAgent string
	var gotCfg *config.Config
	svc := &fakeService{fix: func(_ context.Context, result *models.ScanResult, agent string, cfg *config.Config) (*models.FixResult, error) {
		gotAgent = agent
		gotCfg = cfg
		require.NoError(t, result.Transition("semgrep-x", models.StatusFixed))
		return &models.FixResult{
			Applied:       []models.FixApplied{{IssueID: "semgrep-x", Status: models.StatusFixed}},
			ModifiedFiles: []string{"app.py"},
		}, nil
	}}
	s := newServer(t, svc)

	body := `{
		"agent": "edit",
		"selected_issue_ids": ["semgrep-x"],
		"scan_result": {
			"timestamp": "2026-08-29T10:00:00Z",
			"scan_path": "/repo",
			"semgrep_results": [{
				"id": "semgrep-x", "title": "t", "description": "",
				"severity": "high", "file_path": "app.py", "line_number": 3,
				"rule_id": null, "fix_suggestion": null,
				"status": "detected", "source_agent": "semgrep"
			}]
		}
	}`
	rec := do(s, http.MethodPost, "/api/v1/fix", body)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "edit", gotAgent)
	assert.Equal(t, []string{"semgrep-x"}, gotCfg.Fix.SelectedIssueIDs)

	var resp struct {
		Fix    *models.FixResult  `json:"fix"`
		Result *models.ScanResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Fix)
	assert.Equal(t, []string{"app.py"}, resp.Fix.ModifiedFiles)

	// The echoed document carries the mutated status.
	issue, ok := resp.Result.FindIssue("semgrep-x")
	require.True(t, ok)
	assert.Equal(t, models.StatusFixed, issue.Status)
}

func TestFixEndpointRejectsBadInput(t *testing.T) {
	s := newServer(t, &fakeService{fix: func(context.Context, *models.ScanResult, string, *config.Config) (*models.FixResult, error) {
		return nil, orchestrator.ErrNotOutputAgent
	}})

	t.Run("missing scan_result", func(t *testing.T) {
		rec := do(s, http.MethodPost, "/api/v1/fix", `{"agent":"edit"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing agent", func(t *testing.T) {
		rec := do(s, http.MethodPost, "/api/v1/fix",
			`{"scan_result":{"timestamp":"2026-08-29T10:00:00Z","scan_path":"/repo"}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong agent role", func(t *testing.T) {
		rec := do(s, http.MethodPost, "/api/v1/fix",
			`{"agent":"semgrep","scan_result":{"timestamp":"2026-08-29T10:00:00Z","scan_path":"/repo"}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestInfoEndpoint(t *testing.T) {
	s := newServer(t, &fakeService{})
	rec := do(s, http.MethodGet, "/api/v1/info", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Version)
	require.Len(t, resp.Tools, 4)

	names := make([]string, len(resp.Tools))
	for i, tool := range resp.Tools {
		names[i] = tool.Name
	}
	assert.Equal(t, []string{"semgrep", "trivy", "ollama", "secrets"}, names)
}
