package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// AgentResult is the outcome of one agent invocation. Duration is in
// seconds. A failed invocation never carries issues.
type AgentResult struct {
	AgentName    string  `json:"agent_name"`
	Success      bool    `json:"success"`
	Issues       []Issue `json:"issues"`
	ErrorMessage string  `json:"error_message,omitempty"`
	Duration     float64 `json:"duration"`
}

// FailedResult builds the canonical result for an agent invocation that
// produced no usable output.
func FailedResult(agent, reason string, duration time.Duration) AgentResult {
	return AgentResult{
		AgentName:    agent,
		Success:      false,
		Issues:       nil,
		ErrorMessage: reason,
		Duration:     duration.Seconds(),
	}
}

// resultSuffix is appended to an agent name to form its category field in
// the persisted document, e.g. "semgrep" -> "semgrep_results".
const resultSuffix = "_results"

// agentResultsField holds per-agent execution metadata in the persisted
// document. It is reserved and never parsed as a category.
const agentResultsField = "agent_results"

// CategoryKey returns the persisted field name for an agent's issue list.
func CategoryKey(agent string) string {
	return agent + resultSuffix
}

// ScanResult is the document produced by one scan invocation and consumed by
// fix invocations. Categories maps agent name (not field name) to that
// agent's ordered issues. TotalIssues is derived; it is recomputed whenever
// the document is built or decoded and never trusted from input.
type ScanResult struct {
	Timestamp    time.Time
	ScanPath     string
	Categories   map[string][]Issue
	AgentResults []AgentResult
	TotalIssues  int
	ScanDuration float64
}

// NewScanResult creates an empty document for the given scan root.
func NewScanResult(scanPath string) *ScanResult {
	return &ScanResult{
		Timestamp:  time.Now().UTC(),
		ScanPath:   scanPath,
		Categories: make(map[string][]Issue),
	}
}

// CategoryNames returns the agent names present in the document, sorted.
func (r *ScanResult) CategoryNames() []string {
	names := make([]string, 0, len(r.Categories))
	for name := range r.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IssuesFor returns the issues recorded for the given agent.
func (r *ScanResult) IssuesFor(agent string) []Issue {
	return r.Categories[agent]
}

// AllIssues returns every issue in the document, category order sorted by
// agent name, per-category order preserved.
func (r *ScanResult) AllIssues() []Issue {
	var out []Issue
	for _, name := range r.CategoryNames() {
		out = append(out, r.Categories[name]...)
	}
	return out
}

// RecomputeTotal recalculates TotalIssues from the category lists and
// returns the new value.
func (r *ScanResult) RecomputeTotal() int {
	total := 0
	for _, issues := range r.Categories {
		total += len(issues)
	}
	r.TotalIssues = total
	return total
}

// FindIssue returns a pointer to the issue with the given id, or false when
// the document does not contain it.
func (r *ScanResult) FindIssue(id string) (*Issue, bool) {
	for name := range r.Categories {
		issues := r.Categories[name]
		for i := range issues {
			if issues[i].ID == id {
				return &issues[i], true
			}
		}
	}
	return nil, false
}

// Transition moves an issue to a new status, enforcing that terminal states
// never revert. Unknown ids and illegal transitions are errors.
func (r *ScanResult) Transition(id string, to IssueStatus) error {
	issue, ok := r.FindIssue(id)
	if !ok {
		return fmt.Errorf("issue %s not in result document", id)
	}
	if !CanTransition(issue.Status, to) {
		return fmt.Errorf("issue %s: cannot transition %s -> %s", id, issue.Status, to)
	}
	issue.Status = to
	return nil
}

// Validate checks that the document is structurally sound: a usable scan
// path, valid issues, and no duplicate issue ids.
func (r *ScanResult) Validate() error {
	if r.ScanPath == "" {
		return fmt.Errorf("missing scan_path")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	seen := make(map[string]string)
	for _, name := range r.CategoryNames() {
		for _, issue := range r.Categories[name] {
			if err := issue.Validate(); err != nil {
				return err
			}
			if prev, dup := seen[issue.ID]; dup {
				return fmt.Errorf("duplicate issue id %s in %s and %s", issue.ID, prev, name)
			}
			seen[issue.ID] = name
		}
	}
	return nil
}

// scanResultFixed are the non-category fields of the persisted document.
var scanResultFixed = map[string]bool{
	"timestamp":       true,
	"scan_path":       true,
	"total_issues":    true,
	"scan_duration":   true,
	agentResultsField: true,
}

// MarshalJSON flattens the category map into top-level "<agent>_results"
// fields so the persisted document keeps its documented shape. Object keys
// are emitted in sorted order, making the serialized form deterministic.
func (r ScanResult) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.Categories)+5)
	doc["timestamp"] = r.Timestamp
	doc["scan_path"] = r.ScanPath
	doc["total_issues"] = r.TotalIssues
	doc["scan_duration"] = r.ScanDuration
	if r.AgentResults != nil {
		doc[agentResultsField] = r.AgentResults
	}
	for name, issues := range r.Categories {
		if issues == nil {
			issues = []Issue{}
		}
		doc[CategoryKey(name)] = issues
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes the flattened document form. Any unreserved field
// ending in "_results" is read as an agent category. TotalIssues is
// recomputed from the decoded categories regardless of the stored value.
func (r *ScanResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = ScanResult{Categories: make(map[string][]Issue)}

	if v, ok := raw["timestamp"]; ok {
		if err := json.Unmarshal(v, &r.Timestamp); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
	}
	if v, ok := raw["scan_path"]; ok {
		if err := json.Unmarshal(v, &r.ScanPath); err != nil {
			return fmt.Errorf("scan_path: %w", err)
		}
	}
	if v, ok := raw["scan_duration"]; ok {
		if err := json.Unmarshal(v, &r.ScanDuration); err != nil {
			return fmt.Errorf("scan_duration: %w", err)
		}
	}
	if v, ok := raw[agentResultsField]; ok {
		if err := json.Unmarshal(v, &r.AgentResults); err != nil {
			return fmt.Errorf("%s: %w", agentResultsField, err)
		}
	}

	for key, v := range raw {
		if scanResultFixed[key] || !strings.HasSuffix(key, resultSuffix) {
			continue
		}
		name := strings.TrimSuffix(key, resultSuffix)
		if name == "" {
			continue
		}
		var issues []Issue
		if err := json.Unmarshal(v, &issues); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		r.Categories[name] = issues
	}

	r.RecomputeTotal()
	return nil
}

// FixApplied records the outcome of one issue in a fix run.
type FixApplied struct {
	IssueID string      `json:"issue_id"`
	Status  IssueStatus `json:"status"`
	Detail  string      `json:"detail,omitempty"`
}

// FixResult is the document produced by one fix invocation. Duration is in
// seconds. Applied preserves the order issues were processed in.
type FixResult struct {
	Applied       []FixApplied `json:"applied"`
	ModifiedFiles []string     `json:"modified_files"`
	BackupCount   int          `json:"backup_count"`
	Duration      float64      `json:"duration"`
}

// CountByStatus returns how many applied issues ended in the given status.
func (f *FixResult) CountByStatus(status IssueStatus) int {
	n := 0
	for _, a := range f.Applied {
		if a.Status == status {
			n++
		}
	}
	return n
}
