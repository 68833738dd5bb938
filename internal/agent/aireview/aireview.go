// Package aireview runs model-backed code review through a local Ollama
// server. Files are reviewed one at a time with guarded prompts; the model's
// answer is parsed as JSON with a plain-text fallback for models that ignore
// the format request.
package aireview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Eng-Elias/codetective/internal/agent"
	"github.com/Eng-Elias/codetective/internal/logging"
	"github.com/Eng-Elias/codetective/internal/models"
	"github.com/Eng-Elias/codetective/internal/ollama"
	"github.com/Eng-Elias/codetective/internal/promptguard"
	"github.com/Eng-Elias/codetective/internal/supervisor"
)

const (
	// defaultMaxFiles caps how many files one invocation reviews.
	defaultMaxFiles = 20

	// maxLinesPerFile truncates file content before it enters a prompt.
	maxLinesPerFile = 500

	// numPredict caps review response tokens.
	numPredict = 2048

	defaultTimeout = 600 * time.Second
)

// languageByExt maps reviewable extensions to the language name used in the
// prompt. Files with other extensions are skipped.
var languageByExt = map[string]string{
	".py":    "Python",
	".js":    "JavaScript",
	".ts":    "TypeScript",
	".jsx":   "React JSX",
	".tsx":   "React TSX",
	".java":  "Java",
	".c":     "C",
	".cpp":   "C++",
	".h":     "C Header",
	".hpp":   "C++ Header",
	".cs":    "C#",
	".php":   "PHP",
	".rb":    "Ruby",
	".go":    "Go",
	".rs":    "Rust",
	".swift": "Swift",
	".kt":    "Kotlin",
	".scala": "Scala",
	".sh":    "Shell Script",
}

// Completer is the slice of the Ollama client the agent uses.
type Completer interface {
	Available(ctx context.Context) bool
	Complete(ctx context.Context, prompt string, opts ollama.Options) (string, error)
}

var _ Completer = (*ollama.Client)(nil)

// Agent reviews source files with a local model.
type Agent struct {
	client Completer
	log    *logging.Logger
}

var _ agent.ScanAgent = (*Agent)(nil)

// New creates the agent. The client is required; a nil logger is silent.
func New(client Completer, log *logging.Logger) (*Agent, error) {
	if client == nil {
		return nil, errors.New("ollama client is required")
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Agent{client: client, log: log.Named("ai_review")}, nil
}

func (a *Agent) Name() string { return string(agent.KindAIReview) }

// Available probes the Ollama server.
func (a *Agent) Available(ctx context.Context) bool {
	return a.client.Available(ctx)
}

// Execute reviews the supported files among the given paths. One file failing
// does not abort the rest, but an unreachable model server does.
func (a *Agent) Execute(ctx context.Context, files []string, cfg agent.Settings) models.AgentResult {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	outcome := supervisor.Run(ctx, timeout, func(runCtx context.Context) ([]models.Issue, error) {
		return a.review(runCtx, files, cfg)
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

func (a *Agent) review(ctx context.Context, files []string, cfg agent.Settings) ([]models.Issue, error) {
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}

	supported := supportedFiles(files, maxFiles)

	var issues []models.Issue
	seen := make(map[string]int)
	for _, path := range supported {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := a.reviewFile(ctx, path, seen)
		if err != nil {
			// A dead server fails every remaining file the same way.
			if errors.Is(err, supervisor.ErrUnavailable) || ctx.Err() != nil {
				return nil, err
			}
			a.log.Warn(ctx, "file review failed",
				zap.String("path", path), zap.Error(err))
			continue
		}
		issues = append(issues, found...)
	}
	return issues, nil
}

// supportedFiles filters to reviewable extensions, sorted for a stable review
// order, capped at maxFiles.
func supportedFiles(files []string, maxFiles int) []string {
	var out []string
	for _, path := range files {
		if _, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	if len(out) > maxFiles {
		out = out[:maxFiles]
	}
	return out
}

func (a *Agent) reviewFile(ctx context.Context, path string, seen map[string]int) ([]models.Issue, error) {
	content, err := readHead(path, maxLinesPerFile)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	prompt, err := buildPrompt(path, content)
	if err != nil {
		return nil, fmt.Errorf("build review prompt: %w", err)
	}
	response, err := a.client.Complete(ctx, prompt, ollama.Options{
		NumPredict: numPredict,
	})
	if err != nil {
		return nil, err
	}
	return parseResponse(promptguard.FilterOutput(response), path, seen), nil
}

// readHead reads at most maxLines lines of the file.
func readHead(path string, maxLines int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return strings.Join(lines, "\n"), nil
}

// buildPrompt assembles the review prompt with the source fenced off from the
// instructions, so strings inside the reviewed file cannot rewrite them.
func buildPrompt(path, content string) (string, error) {
	language := languageByExt[strings.ToLower(filepath.Ext(path))]

	var b strings.Builder
	b.WriteString("You are an expert code reviewer. Analyze the following ")
	b.WriteString(language)
	b.WriteString(" file and identify potential issues.\n\n")
	b.WriteString("Focus on:\n")
	b.WriteString("1. Security vulnerabilities (SQL injection, XSS, CSRF, etc.)\n")
	b.WriteString("2. Code quality issues (maintainability, readability)\n")
	b.WriteString("3. Performance problems (inefficient algorithms, memory leaks)\n")
	b.WriteString("4. Best practice violations (coding standards, design patterns)\n")
	b.WriteString("5. Potential bugs (null pointer exceptions, race conditions)\n\n")
	b.WriteString("File: " + path + "\n")
	b.WriteString("Language: " + language + "\n\n")
	b.WriteString("Respond with a JSON array of issues found. Each issue must have:\n")
	b.WriteString(`- "title": brief title of the issue` + "\n")
	b.WriteString(`- "description": detailed description` + "\n")
	b.WriteString(`- "severity": "low", "medium", "high", or "critical"` + "\n")
	b.WriteString(`- "line_number": line number where the issue occurs (if applicable)` + "\n")
	b.WriteString(`- "suggestion": specific fix or improvement recommendation` + "\n\n")
	b.WriteString("If no issues are found, return an empty array [].\n\n")
	b.WriteString("The code to review follows. Response (JSON only):")
	return promptguard.BuildPrompt(b.String(), content)
}

// aiIssue is the shape the model is asked to emit.
type aiIssue struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Severity    string          `json:"severity"`
	LineNumber  json.RawMessage `json:"line_number"`
	Suggestion  string          `json:"suggestion"`
}

// parseResponse extracts review findings. The JSON array path is tried first;
// when the model ignored the format request, a line-oriented text parse
// salvages what it can.
func parseResponse(response, path string, seen map[string]int) []models.Issue {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start >= 0 && end > start {
		var raw []aiIssue
		if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err == nil {
			issues := make([]models.Issue, 0, len(raw))
			for i, item := range raw {
				issues = append(issues, jsonIssue(item, path, i, seen))
			}
			return issues
		}
	}
	return parseTextResponse(response, path, seen)
}

func jsonIssue(item aiIssue, path string, index int, seen map[string]int) models.Issue {
	title := item.Title
	if title == "" {
		title = fmt.Sprintf("AI Review Issue %d", index+1)
	}
	description := item.Description
	if description == "" {
		description = "No description provided"
	}

	line := parseLineNumber(item.LineNumber)

	issue := models.Issue{
		ID:          uniqueID(path, line, seen),
		Title:       "AI Review: " + title,
		Description: description,
		Severity:    models.ParseSeverity(item.Severity),
		FilePath:    path,
		RuleID:      models.StringPtr(fmt.Sprintf("ai-review-%d", index)),
		Status:      models.StatusDetected,
		SourceAgent: string(agent.KindAIReview),
	}
	if line > 0 {
		issue.LineNumber = models.IntPtr(line)
	}
	if item.Suggestion != "" {
		issue.FixSuggestion = models.StringPtr(item.Suggestion)
	}
	return issue
}

// parseLineNumber tolerates numbers, numeric strings, and null. Anything else
// means a file-level finding.
func parseLineNumber(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if _, perr := fmt.Sscanf(s, "%d", &n); perr == nil && n > 0 {
			return n
		}
	}
	return 0
}

// textIssuePrefixes start a new finding in a free-text response.
var textIssuePrefixes = []string{"issue:", "problem:", "warning:", "error:"}

func parseTextResponse(response, path string, seen map[string]int) []models.Issue {
	var issues []models.Issue
	var title string
	var description strings.Builder

	flush := func() {
		if title == "" {
			return
		}
		desc := strings.TrimSpace(description.String())
		if desc == "" {
			desc = "No description provided"
		}
		issues = append(issues, models.Issue{
			ID:            uniqueID(path, 0, seen),
			Title:         "AI Review: " + title,
			Description:   desc,
			Severity:      models.SeverityMedium,
			FilePath:      path,
			RuleID:        models.StringPtr(fmt.Sprintf("ai-review-text-%d", len(issues))),
			FixSuggestion: models.StringPtr("Review the code based on AI feedback"),
			Status:        models.StatusDetected,
			SourceAgent:   string(agent.KindAIReview),
		})
		title = ""
		description.Reset()
	}

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)

		started := false
		for _, prefix := range textIssuePrefixes {
			if strings.HasPrefix(lower, prefix) {
				flush()
				title = strings.TrimSpace(line[len(prefix):])
				if title == "" {
					title = strings.TrimSuffix(line, ":")
				}
				started = true
				break
			}
		}
		if !started && line != "" && title != "" {
			if description.Len() > 0 {
				description.WriteString(" ")
			}
			description.WriteString(line)
		}
	}
	flush()
	return issues
}

// uniqueID builds the finding id from the file and line, with an ordinal
// suffix when the same location is reported more than once.
func uniqueID(path string, line int, seen map[string]int) string {
	id := models.IssueID("ai-review", "", path, line)
	seen[id]++
	if n := seen[id]; n > 1 {
		id = fmt.Sprintf("%s-%d", id, n)
	}
	return id
}
