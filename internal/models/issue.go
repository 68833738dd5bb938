package models

import (
	"fmt"
	"strings"
)

// Severity classifies how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRank orders severities from least (info) to most (critical) severe.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordering weight of the severity. Higher is more severe.
// Unknown severities rank below info.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// ParseSeverity normalizes a free-form severity string. Unrecognized values
// map to medium, matching how upstream tool output is treated.
func ParseSeverity(raw string) Severity {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if s.Valid() {
		return s
	}
	return SeverityMedium
}

// IssueStatus tracks an issue through the fix lifecycle.
type IssueStatus string

const (
	StatusDetected IssueStatus = "detected"
	StatusFixed    IssueStatus = "fixed"
	StatusFailed   IssueStatus = "failed"
	StatusSkipped  IssueStatus = "skipped"
)

// Valid reports whether the status is one of the known states.
func (s IssueStatus) Valid() bool {
	switch s {
	case StatusDetected, StatusFixed, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Terminal reports whether the status ends the fix lifecycle for an issue.
func (s IssueStatus) Terminal() bool {
	return s == StatusFixed || s == StatusFailed || s == StatusSkipped
}

// CanTransition reports whether a fix run may move an issue from one status
// to another. Detected issues may move to any terminal state; terminal
// states never revert.
func CanTransition(from, to IssueStatus) bool {
	if from == to {
		return true
	}
	return from == StatusDetected && to.Terminal()
}

// Issue is one finding produced by a scan agent.
//
// LineNumber, RuleID and FixSuggestion are pointers because some findings are
// file-level or carry no rule identity; they serialize as explicit null so
// result documents distinguish "absent" from empty values.
type Issue struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Severity      Severity    `json:"severity"`
	FilePath      string      `json:"file_path"`
	LineNumber    *int        `json:"line_number"`
	RuleID        *string     `json:"rule_id"`
	FixSuggestion *string     `json:"fix_suggestion"`
	Status        IssueStatus `json:"status"`
	SourceAgent   string      `json:"source_agent"`
}

// Line returns the issue's line number, or 0 for file-level findings.
func (i Issue) Line() int {
	if i.LineNumber == nil {
		return 0
	}
	return *i.LineNumber
}

// Validate checks the fields every well-formed issue must carry.
func (i Issue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("issue missing id")
	}
	if !i.Severity.Valid() {
		return fmt.Errorf("issue %s: invalid severity %q", i.ID, i.Severity)
	}
	if !i.Status.Valid() {
		return fmt.Errorf("issue %s: invalid status %q", i.ID, i.Status)
	}
	if i.SourceAgent == "" {
		return fmt.Errorf("issue %s: missing source agent", i.ID)
	}
	if i.LineNumber != nil && *i.LineNumber < 1 {
		return fmt.Errorf("issue %s: line number %d out of range", i.ID, *i.LineNumber)
	}
	return nil
}

// IssueID builds the deterministic identifier for a finding from its
// provenance. Parts are joined with "-"; a zero line means the finding is
// file-level and contributes no line segment.
func IssueID(agent, rule, path string, line int) string {
	parts := []string{agent}
	if rule != "" {
		parts = append(parts, rule)
	}
	if path != "" {
		parts = append(parts, path)
	}
	if line > 0 {
		parts = append(parts, fmt.Sprintf("%d", line))
	}
	return strings.Join(parts, "-")
}

// IntPtr returns a pointer to v. Helper for the nullable issue fields.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v. Helper for the nullable issue fields.
func StringPtr(v string) *string { return &v }
