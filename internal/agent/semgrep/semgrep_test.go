package semgrep

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eng-Elias/codetective/internal/agent"
	"github.com/Eng-Elias/codetective/internal/execx"
	"github.com/Eng-Elias/codetective/internal/models"
)

const sampleOutput = `{
  "results": [
    {
      "check_id": "python.lang.security.audit.eval-detected",
      "path": "app/main.py",
      "start": {"line": 42},
      "extra": {
        "message": "Detected use of eval().",
        "severity": "ERROR",
        "metadata": {
          "references": ["https://owasp.org/injection", "https://cwe.mitre.org/95"]
        }
      }
    },
    {
      "check_id": "go.lang.correctness.useless-assign",
      "path": "pkg/util.go",
      "start": {"line": 7},
      "extra": {
        "message": "Useless assignment.",
        "severity": "INFO",
        "metadata": {}
      }
    }
  ]
}`

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAvailable(t *testing.T) {
	runner := &execx.FakeRunner{Responses: map[string]execx.FakeResponse{
		"semgrep": {Stdout: "{}"},
	}}
	assert.True(t, New(runner, nil).Available(context.Background()))

	assert.False(t, New(&execx.FakeRunner{}, nil).Available(context.Background()))
}

func TestExecuteParsesFindings(t *testing.T) {
	runner := &execx.FakeRunner{Responses: map[string]execx.FakeResponse{
		"semgrep": {Stdout: sampleOutput},
	}}
	a := New(runner, nil)

	file := writeTempFile(t, "main.py", "eval(x)\n")
	res := a.Execute(context.Background(), []string{file}, agent.Settings{Timeout: 30 * time.Second})

	require.True(t, res.Success)
	require.Len(t, res.Issues, 2)

	first := res.Issues[0]
	assert.Equal(t, "semgrep-python.lang.security.audit.eval-detected-app/main.py-42", first.ID)
	assert.Equal(t, models.SeverityHigh, first.Severity)
	assert.Equal(t, "app/main.py", first.FilePath)
	require.NotNil(t, first.LineNumber)
	assert.Equal(t, 42, *first.LineNumber)
	require.NotNil(t, first.FixSuggestion)
	assert.Equal(t, "https://owasp.org/injection, https://cwe.mitre.org/95", *first.FixSuggestion)
	assert.Equal(t, models.StatusDetected, first.Status)
	assert.Equal(t, "semgrep", first.SourceAgent)

	second := res.Issues[1]
	assert.Equal(t, models.SeverityLow, second.Severity)
	assert.Nil(t, second.FixSuggestion)
}

func TestExecuteRepeatedFindingsGetUniqueIDs(t *testing.T) {
	// One rule firing twice on the same line (two matches in one statement)
	// must not produce duplicate ids.
	out := `{
	  "results": [
	    {
	      "check_id": "python.lang.security.audit.eval-detected",
	      "path": "app/main.py",
	      "start": {"line": 42},
	      "extra": {"message": "Detected use of eval().", "severity": "ERROR", "metadata": {}}
	    },
	    {
	      "check_id": "python.lang.security.audit.eval-detected",
	      "path": "app/main.py",
	      "start": {"line": 42},
	      "extra": {"message": "Detected use of eval().", "severity": "ERROR", "metadata": {}}
	    }
	  ]
	}`
	runner := &execx.FakeRunner{Responses: map[string]execx.FakeResponse{
		"semgrep": {Stdout: out},
	}}
	a := New(runner, nil)

	file := writeTempFile(t, "main.py", "eval(x); eval(y)\n")
	res := a.Execute(context.Background(), []string{file}, agent.Settings{})

	require.True(t, res.Success)
	require.Len(t, res.Issues, 2)
	assert.Equal(t, "semgrep-python.lang.security.audit.eval-detected-app/main.py-42", res.Issues[0].ID)
	assert.Equal(t, "semgrep-python.lang.security.audit.eval-detected-app/main.py-42-2", res.Issues[1].ID)

	doc := models.NewScanResult(".")
	doc.Categories[res.AgentName] = res.Issues
	doc.RecomputeTotal()
	require.NoError(t, doc.Validate())
}

func TestExecuteCommandShape(t *testing.T) {
	runner := &execx.FakeRunner{Responses: map[string]execx.FakeResponse{
		"semgrep": {Stdout: `{"results": []}`},
	}}
	a := New(runner, nil)

	file := writeTempFile(t, "x.go", "package x\n")
	res := a.Execute(context.Background(), []string{file}, agent.Settings{})

	require.True(t, res.Success)
	assert.True(t, runner.CalledWith("semgrep", "--config=r/all", "--json", "--metrics=off", "--timeout", "60", file))
}

func TestExecuteBatchesFilesScansDirsSeparately(t *testing.T) {
	runner := &execx.FakeRunner{Responses: map[string]execx.FakeResponse{
		"semgrep": {Stdout: `{"results": []}`},
	}}
	a := New(runner, nil)

	dir := t.TempDir()
	f1 := writeTempFile(t, "a.py", "pass\n")
	f2 := writeTempFile(t, "b.py", "pass\n")

	res := a.Execute(context.Background(), []string{f1, f2, dir}, agent.Settings{})
	require.True(t, res.Success)

	// One batch call with both files, one call for the directory.
	require.Len(t, runner.Calls, 2)
	assert.True(t, runner.CalledWith(f1, f2))
	assert.True(t, runner.CalledWith(dir))
}

func TestExecuteToolMissing(t *testing.T) {
	a := New(&execx.FakeRunner{}, nil)

	file := writeTempFile(t, "x.py", "pass\n")
	res := a.Execute(context.Background(), []string{file}, agent.Settings{})

	assert.False(t, res.Success)
	assert.Empty(t, res.Issues)
	assert.NotEmpty(t, res.ErrorMessage)
}

func TestExecuteTimeout(t *testing.T) {
	runner := &execx.FakeRunner{Responses: map[string]execx.FakeResponse{
		"semgrep": {Block: true},
	}}
	a := New(runner, nil)

	file := writeTempFile(t, "x.py", "pass\n")
	res := a.Execute(context.Background(), []string{file}, agent.Settings{Timeout: 50 * time.Millisecond})

	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "timed out")
}

func TestExecuteMalformedOutput(t *testing.T) {
	runner := &execx.FakeRunner{Responses: map[string]execx.FakeResponse{
		"semgrep": {Stdout: "not json"},
	}}
	a := New(runner, nil)

	file := writeTempFile(t, "x.py", "pass\n")
	res := a.Execute(context.Background(), []string{file}, agent.Settings{})

	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "parse semgrep output")
}

func TestExecuteSkipsMissingPaths(t *testing.T) {
	runner := &execx.FakeRunner{Responses: map[string]execx.FakeResponse{
		"semgrep": {Stdout: `{"results": []}`},
	}}
	a := New(runner, nil)

	res := a.Execute(context.Background(), []string{"/does/not/exist"}, agent.Settings{})

	// Nothing to scan is a success with no issues, not a failure.
	assert.True(t, res.Success)
	assert.Empty(t, res.Issues)
	assert.Empty(t, runner.Calls)
}

func TestMapSeverity(t *testing.T) {
	cases := map[string]models.Severity{
		"ERROR":      models.SeverityHigh,
		"WARNING":    models.SeverityMedium,
		"INFO":       models.SeverityLow,
		"EXPERIMENT": models.SeverityLow,
		"anything":   models.SeverityMedium,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapSeverity(in), in)
	}
}
