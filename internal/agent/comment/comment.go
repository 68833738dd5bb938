// Package comment annotates flagged lines instead of rewriting them: it asks
// a local model to explain the issue, then inserts the explanation as comment
// lines above the flagged line using the file's comment syntax. When the
// model is unreachable a severity-based explanation is used so the annotation
// still lands.
package comment

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Eng-Elias/codetective/internal/agent"
	"github.com/Eng-Elias/codetective/internal/logging"
	"github.com/Eng-Elias/codetective/internal/models"
	"github.com/Eng-Elias/codetective/internal/ollama"
	"github.com/Eng-Elias/codetective/internal/promptguard"
)

const (
	// contextRadius is how many lines around the flagged line enter the
	// prompt.
	contextRadius = 5

	// explainTemperature is higher than review temperature; explanations
	// read better with some variation.
	explainTemperature = 0.3

	numPredict = 1024

	// maxCommentLength caps the stored explanation.
	maxCommentLength = 1000

	// wrapColumn wraps inserted comment lines.
	wrapColumn = 96
)

// commentPrefixByExt maps file extensions to their line-comment syntax.
// Unknown extensions fall back to "#".
var commentPrefixByExt = map[string]string{
	".go":    "//",
	".js":    "//",
	".jsx":   "//",
	".ts":    "//",
	".tsx":   "//",
	".java":  "//",
	".c":     "//",
	".cpp":   "//",
	".h":     "//",
	".hpp":   "//",
	".cs":    "//",
	".php":   "//",
	".rs":    "//",
	".swift": "//",
	".kt":    "//",
	".scala": "//",
	".py":    "#",
	".rb":    "#",
	".sh":    "#",
}

// Completer is the slice of the Ollama client the agent uses.
type Completer interface {
	Available(ctx context.Context) bool
	Complete(ctx context.Context, prompt string, opts ollama.Options) (string, error)
}

var _ Completer = (*ollama.Client)(nil)

// Agent inserts explanatory comments at flagged lines.
type Agent struct {
	client Completer
	log    *logging.Logger
}

var _ agent.OutputAgent = (*Agent)(nil)

// New creates the agent. The client is required; a nil logger is silent.
func New(client Completer, log *logging.Logger) (*Agent, error) {
	if client == nil {
		return nil, errors.New("ollama client is required")
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Agent{client: client, log: log.Named("comment")}, nil
}

func (a *Agent) Name() string { return string(agent.KindComment) }

// Available probes the Ollama server. The agent still works without it via
// the fallback text, but a reachable model produces far better annotations.
func (a *Agent) Available(ctx context.Context) bool {
	return a.client.Available(ctx)
}

// Apply explains the issue and inserts the explanation as comment lines above
// the flagged line. File-level issues have no insertion point and are
// skipped.
func (a *Agent) Apply(ctx context.Context, issue models.Issue, fileContent string, cfg agent.Settings) (agent.ApplyResult, error) {
	if issue.LineNumber == nil {
		return agent.ApplyResult{Status: models.StatusSkipped, Content: fileContent}, nil
	}

	lines := strings.Split(fileContent, "\n")
	line := *issue.LineNumber
	if line > len(lines) {
		return agent.ApplyResult{Status: models.StatusFailed, Content: fileContent},
			fmt.Errorf("line %d beyond end of %s (%d lines)", line, issue.FilePath, len(lines))
	}

	explanation := a.explain(ctx, issue, contextWindow(lines, line))

	annotated := insertComment(lines, line, commentPrefix(issue.FilePath), issue, explanation)
	return agent.ApplyResult{
		Status:  models.StatusFixed,
		Content: annotated,
		Detail:  explanation,
	}, nil
}

// explain asks the model for an explanation, falling back to canned severity
// text when the call fails.
func (a *Agent) explain(ctx context.Context, issue models.Issue, window string) string {
	response, err := a.client.Complete(ctx, buildPrompt(issue, window), ollama.Options{
		Temperature: explainTemperature,
		NumPredict:  numPredict,
	})
	if err != nil {
		a.log.Warn(ctx, "explanation generation failed, using fallback",
			zap.String("issue", issue.ID), zap.Error(err))
		return fallbackExplanation(issue)
	}
	return cleanExplanation(promptguard.FilterOutput(response))
}

// contextWindow renders the lines around the flagged line with a marker.
func contextWindow(lines []string, line int) string {
	start := line - 1 - contextRadius
	if start < 0 {
		start = 0
	}
	end := line + contextRadius
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		marker := "     "
		if i+1 == line {
			marker = " >>> "
		}
		fmt.Fprintf(&b, "%4d%s%s\n", i+1, marker, strings.TrimRight(lines[i], " \t"))
	}
	return b.String()
}

func buildPrompt(issue models.Issue, window string) string {
	line := "N/A"
	if issue.LineNumber != nil {
		line = fmt.Sprintf("%d", *issue.LineNumber)
	}

	var b strings.Builder
	b.WriteString("You are a helpful code reviewer. Provide a clear, educational explanation for the following code issue.\n\n")
	b.WriteString("Issue Details:\n")
	b.WriteString("- Title: " + issue.Title + "\n")
	b.WriteString("- Description: " + issue.Description + "\n")
	b.WriteString("- Severity: " + string(issue.Severity) + "\n")
	b.WriteString("- File: " + issue.FilePath + "\n")
	b.WriteString("- Line: " + line + "\n\n")
	b.WriteString("Code Context:\n```\n")
	b.WriteString(promptguard.SanitizeCode(window))
	b.WriteString("\n```\n\n")
	b.WriteString("Explain what the issue is, why it is a problem, the consequences of leaving it, and how to avoid it. Keep the explanation short and educational.\n\n")
	b.WriteString("Response:\n")
	return b.String()
}

// cleanExplanation flattens the model output into plain text fit for a
// comment: markdown emphasis stripped, whitespace collapsed, length capped.
func cleanExplanation(response string) string {
	s := ollama.StripThinking(response)
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "*", "")
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxCommentLength {
		// Back off to a rune boundary so the cut never splits a multi-byte
		// character.
		cut := maxCommentLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

// severityExplanations is the canned text used when the model is down.
var severityExplanations = map[models.Severity]string{
	models.SeverityCritical: "This is a critical issue that requires immediate attention as it could lead to severe security vulnerabilities or system failures.",
	models.SeverityHigh:     "This is a high-priority issue that should be addressed soon as it may impact security or functionality.",
	models.SeverityMedium:   "This is a medium-priority issue that should be reviewed and addressed to improve code quality.",
	models.SeverityLow:      "This is a low-priority issue that can be addressed when convenient to improve code maintainability.",
}

func fallbackExplanation(issue models.Issue) string {
	source := "code analysis"
	if issue.RuleID != nil {
		source = *issue.RuleID
	}
	text := fmt.Sprintf("This issue was detected by %s. ", source)
	if s, ok := severityExplanations[issue.Severity]; ok {
		text += s
	} else {
		text += "This issue should be reviewed."
	}
	if issue.FixSuggestion != nil {
		text += " Suggested fix: " + *issue.FixSuggestion
	}
	return text
}

// insertComment places the annotation above the flagged line, indented to
// match it.
func insertComment(lines []string, line int, prefix string, issue models.Issue, explanation string) string {
	indent := leadingWhitespace(lines[line-1])

	header := fmt.Sprintf("%s%s codetective [%s] %s", indent, prefix, issue.Severity, issue.Title)
	comment := []string{header}
	for _, wrapped := range wrapText(explanation, wrapColumn) {
		comment = append(comment, fmt.Sprintf("%s%s %s", indent, prefix, wrapped))
	}

	annotated := make([]string, 0, len(lines)+len(comment))
	annotated = append(annotated, lines[:line-1]...)
	annotated = append(annotated, comment...)
	annotated = append(annotated, lines[line-1:]...)
	return strings.Join(annotated, "\n")
}

func commentPrefix(path string) string {
	if prefix, ok := commentPrefixByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return prefix
	}
	return "#"
}

func leadingWhitespace(line string) string {
	for i, r := range line {
		if r != ' ' && r != '\t' {
			return line[:i]
		}
	}
	return line
}

// wrapText breaks text into lines of at most width runes on word boundaries.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var out []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) > width {
			out = append(out, current)
			current = word
			continue
		}
		current += " " + word
	}
	return append(out, current)
}
