// Package agent defines the contract every scan and output agent satisfies
// and the registry the orchestrator resolves agents through. The orchestrator
// never touches concrete agent types; dispatch happens on registered kinds,
// not on strings scattered through the code.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/Eng-Elias/codetective/internal/models"
)

// Kind identifies one registered agent implementation.
type Kind string

const (
	KindSemgrep  Kind = "semgrep"
	KindTrivy    Kind = "trivy"
	KindAIReview Kind = "ai_review"
	KindSecrets  Kind = "secrets"
	KindEdit     Kind = "edit"
	KindComment  Kind = "comment"
)

// ParseKind validates a user-supplied agent name.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindSemgrep, KindTrivy, KindAIReview, KindSecrets, KindEdit, KindComment:
		return Kind(name), nil
	}
	return "", fmt.Errorf("unknown agent %q", name)
}

// Settings are the per-invocation knobs agents receive. The orchestrator
// builds them from its configuration; agents never read ambient config.
type Settings struct {
	// Timeout is the deadline the invocation runs under. Agents driving
	// subprocesses pass it through to the tool where the tool supports it.
	Timeout time.Duration
	// MaxFiles caps how many files an expensive agent reviews. Zero means
	// the agent's own default.
	MaxFiles int
	// MaxFileSize skips larger files where the agent reads content itself.
	MaxFileSize int64
	// ScanRoot is the directory the scan was anchored at. Used to locate
	// project-level configuration such as a secrets allowlist.
	ScanRoot string
	// AllowlistPath and UserAllowlistPath point the secrets agent at
	// gitleaks-style allowlist files.
	AllowlistPath     string
	UserAllowlistPath string
}

// ScanAgent produces issues from a set of files and never mutates them.
type ScanAgent interface {
	// Name is the stable agent name; it doubles as the result category.
	Name() string
	// Available is a cheap capability probe. It must not panic and should
	// return quickly even when the underlying tool is missing.
	Available(ctx context.Context) bool
	// Execute scans files and reports the outcome. Failures are carried in
	// the result, never raised.
	Execute(ctx context.Context, files []string, cfg Settings) models.AgentResult
}

// ApplyResult is the outcome of resolving one issue against one file.
type ApplyResult struct {
	Status models.IssueStatus
	// Content is the full file text after the attempt, unchanged when the
	// issue was skipped or failed.
	Content string
	// Detail, when set, is appended to the issue description and recorded
	// in the fix document.
	Detail string
}

// OutputAgent mutates or annotates code to resolve one issue at a time. The
// fix coordinator owns file grouping, ordering, backups and writes; Apply
// only transforms content.
type OutputAgent interface {
	Name() string
	Available(ctx context.Context) bool
	// Apply resolves one issue against the current file text. An error
	// marks the issue failed without aborting the file's batch.
	Apply(ctx context.Context, issue models.Issue, fileContent string, cfg Settings) (ApplyResult, error)
}
