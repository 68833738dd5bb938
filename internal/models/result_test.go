package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIssue(agent, id string, line int) Issue {
	return Issue{
		ID:          id,
		Title:       "finding",
		Description: "something looks off",
		Severity:    SeverityMedium,
		FilePath:    "app/main.go",
		LineNumber:  IntPtr(line),
		Status:      StatusDetected,
		SourceAgent: agent,
	}
}

func sampleScanResult() *ScanResult {
	r := NewScanResult("/repo")
	r.Categories["semgrep"] = []Issue{
		sampleIssue("semgrep", "semgrep-r1-app/main.go-10", 10),
		sampleIssue("semgrep", "semgrep-r2-app/main.go-20", 20),
	}
	r.Categories["trivy"] = []Issue{
		sampleIssue("trivy", "trivy-vuln-CVE-2024-1-pkg", 1),
	}
	r.Categories["ai_review"] = []Issue{}
	r.RecomputeTotal()
	r.ScanDuration = 1.5
	return r
}

func TestRecomputeTotal(t *testing.T) {
	r := sampleScanResult()
	require.Equal(t, 3, r.TotalIssues)

	// A caller-supplied count never survives recomputation.
	r.TotalIssues = 99
	assert.Equal(t, 3, r.RecomputeTotal())
	assert.Equal(t, 3, r.TotalIssues)
}

func TestScanResultJSONShape(t *testing.T) {
	r := sampleScanResult()
	r.AgentResults = []AgentResult{
		{AgentName: "semgrep", Success: true, Duration: 0.9},
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))

	// Categories flatten to top-level *_results fields.
	assert.Contains(t, doc, "semgrep_results")
	assert.Contains(t, doc, "trivy_results")
	assert.Contains(t, doc, "ai_review_results")
	assert.Contains(t, doc, "timestamp")
	assert.Contains(t, doc, "scan_path")
	assert.Contains(t, doc, "total_issues")
	assert.Contains(t, doc, "scan_duration")
	assert.Contains(t, doc, "agent_results")

	// Nullable issue fields serialize as explicit null.
	var issues []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc["trivy_results"], &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, "null", string(issues[0]["rule_id"]))
	assert.Equal(t, "null", string(issues[0]["fix_suggestion"]))
}

func TestScanResultJSONRoundTrip(t *testing.T) {
	orig := sampleScanResult()
	orig.Timestamp = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var decoded ScanResult
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.True(t, orig.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, orig.ScanPath, decoded.ScanPath)
	assert.Equal(t, orig.TotalIssues, decoded.TotalIssues)
	assert.Equal(t, orig.ScanDuration, decoded.ScanDuration)
	assert.Equal(t, orig.Categories["semgrep"], decoded.Categories["semgrep"])
	assert.Equal(t, orig.Categories["trivy"], decoded.Categories["trivy"])
	assert.Empty(t, decoded.Categories["ai_review"])
}

func TestScanResultUnmarshalDistrustsTotal(t *testing.T) {
	doc := `{
		"timestamp": "2025-03-14T09:26:53Z",
		"scan_path": "/repo",
		"semgrep_results": [
			{"id": "a", "title": "t", "description": "", "severity": "low",
			 "file_path": "x.go", "line_number": 1, "rule_id": null,
			 "fix_suggestion": null, "status": "detected", "source_agent": "semgrep"}
		],
		"trivy_results": [],
		"total_issues": 42,
		"scan_duration": 0.4
	}`

	var r ScanResult
	require.NoError(t, json.Unmarshal([]byte(doc), &r))
	assert.Equal(t, 1, r.TotalIssues)
}

func TestScanResultDeterministicMarshal(t *testing.T) {
	r := sampleScanResult()
	first, err := json.Marshal(r)
	require.NoError(t, err)
	second, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestAllIssuesOrder(t *testing.T) {
	r := sampleScanResult()
	all := r.AllIssues()
	require.Len(t, all, 3)
	// Sorted category order: ai_review, semgrep, trivy.
	assert.Equal(t, "semgrep-r1-app/main.go-10", all[0].ID)
	assert.Equal(t, "semgrep-r2-app/main.go-20", all[1].ID)
	assert.Equal(t, "trivy-vuln-CVE-2024-1-pkg", all[2].ID)
}

func TestTransition(t *testing.T) {
	r := sampleScanResult()

	require.NoError(t, r.Transition("semgrep-r1-app/main.go-10", StatusFixed))
	issue, ok := r.FindIssue("semgrep-r1-app/main.go-10")
	require.True(t, ok)
	assert.Equal(t, StatusFixed, issue.Status)

	// Terminal states never revert.
	err := r.Transition("semgrep-r1-app/main.go-10", StatusDetected)
	require.Error(t, err)
	assert.Equal(t, StatusFixed, issue.Status)

	assert.Error(t, r.Transition("no-such-id", StatusFixed))
}

func TestScanResultValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, sampleScanResult().Validate())
	})

	t.Run("duplicate ids across categories", func(t *testing.T) {
		r := sampleScanResult()
		dup := sampleIssue("trivy", "semgrep-r1-app/main.go-10", 5)
		r.Categories["trivy"] = append(r.Categories["trivy"], dup)
		assert.Error(t, r.Validate())
	})

	t.Run("missing scan path", func(t *testing.T) {
		r := sampleScanResult()
		r.ScanPath = ""
		assert.Error(t, r.Validate())
	})

	t.Run("invalid issue", func(t *testing.T) {
		r := sampleScanResult()
		bad := r.Categories["semgrep"][0]
		bad.Severity = "nope"
		r.Categories["semgrep"][0] = bad
		assert.Error(t, r.Validate())
	})
}

func TestFixResultCountByStatus(t *testing.T) {
	f := FixResult{
		Applied: []FixApplied{
			{IssueID: "a", Status: StatusFixed},
			{IssueID: "b", Status: StatusFixed},
			{IssueID: "c", Status: StatusFailed},
			{IssueID: "d", Status: StatusSkipped},
		},
	}
	assert.Equal(t, 2, f.CountByStatus(StatusFixed))
	assert.Equal(t, 1, f.CountByStatus(StatusFailed))
	assert.Equal(t, 1, f.CountByStatus(StatusSkipped))
	assert.Equal(t, 0, f.CountByStatus(StatusDetected))
}

func TestFailedResult(t *testing.T) {
	r := FailedResult("trivy", "binary not found", 250*time.Millisecond)
	assert.Equal(t, "trivy", r.AgentName)
	assert.False(t, r.Success)
	assert.Empty(t, r.Issues)
	assert.Equal(t, "binary not found", r.ErrorMessage)
	assert.InDelta(t, 0.25, r.Duration, 0.001)
}
