// Package config provides configuration loading for codetective.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CODETECTIVE_SCAN_TIMEOUT, CODETECTIVE_OLLAMA_MODEL, ...)
//  2. YAML config file (.codetective.yaml, ~/.codetective/config.yaml, ~/.codetective.yaml)
//  3. Built-in defaults
//
// Durations are integer seconds, matching the persisted result documents and
// the CLI flags.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Agent names accepted by scan/fix configuration.
const (
	AgentSemgrep  = "semgrep"
	AgentTrivy    = "trivy"
	AgentAIReview = "ai_review"
	AgentSecrets  = "secrets"
	AgentEdit     = "edit"
	AgentComment  = "comment"
)

// Execution modes for the scan coordinator.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// Config is the full codetective configuration.
type Config struct {
	Scan      ScanConfig      `koanf:"scan"`
	Fix       FixConfig       `koanf:"fix"`
	Ollama    OllamaConfig    `koanf:"ollama"`
	Workers   WorkersConfig   `koanf:"workers"`
	Output    OutputConfig    `koanf:"output"`
	Serve     ServeConfig     `koanf:"serve"`
	Knowledge KnowledgeConfig `koanf:"knowledge"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ScanConfig controls the scan workflow.
type ScanConfig struct {
	// Agents to run, in request order.
	Agents []string `koanf:"agents"`
	// ExecutionMode is "sequential" or "parallel".
	ExecutionMode string `koanf:"execution_mode"`
	// Timeout per agent, in seconds.
	Timeout int `koanf:"timeout"`
	// MaxFiles caps discovered files; 0 means unbounded.
	MaxFiles int `koanf:"max_files"`
	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64 `koanf:"max_file_size"`
	// Include/Exclude are glob patterns applied during discovery.
	Include []string `koanf:"include"`
	Exclude []string `koanf:"exclude"`
	// RespectGitignore consults .gitignore chains during discovery.
	RespectGitignore bool `koanf:"respect_gitignore"`
}

// TimeoutDuration returns the per-agent timeout as a time.Duration.
func (c ScanConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// FixConfig controls the fix workflow.
type FixConfig struct {
	// BackupFiles creates a backup before mutating each file.
	BackupFiles bool `koanf:"backup_files"`
	// KeepBackup retains backups after a successful fix run.
	KeepBackup bool `koanf:"keep_backup"`
	// SelectedIssueIDs restricts the fix run; empty means all issues.
	SelectedIssueIDs []string `koanf:"selected_issue_ids"`
	// DryRun applies nothing and reports what would change.
	DryRun bool `koanf:"dry_run"`
}

// OllamaConfig points at the local Ollama server used by the AI agents.
type OllamaConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	// Timeout per request, in seconds.
	Timeout int `koanf:"timeout"`
	// RateLimit is requests per second; Burst is the limiter burst size.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// TimeoutDuration returns the request timeout as a time.Duration.
func (c OllamaConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// WorkersConfig bounds the coordinator worker pools.
type WorkersConfig struct {
	Max int `koanf:"max"`
}

// OutputConfig controls where scan documents are written.
type OutputConfig struct {
	File string `koanf:"file"`
}

// ServeConfig configures the HTTP API server.
type ServeConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// KnowledgeConfig configures the optional fix-history knowledge base.
type KnowledgeConfig struct {
	Enabled bool `koanf:"enabled"`
	// Path is the embedded store directory; "~" expands to the home dir.
	Path           string `koanf:"path"`
	EmbeddingModel string `koanf:"embedding_model"`
	// TopK is how many similar past fixes feed into fix prompts.
	TopK int `koanf:"top_k"`
}

// SecretsConfig configures the built-in secrets agent.
type SecretsConfig struct {
	// AllowlistPath is a directory containing .gitleaks.toml; empty uses the
	// scan root.
	AllowlistPath string `koanf:"allowlist_path"`
	// UserAllowlistPath is a full path to a user-level allowlist file.
	UserAllowlistPath string `koanf:"user_allowlist_path"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	// Protocol is "grpc" or "http".
	Protocol string `koanf:"protocol"`
	Insecure bool   `koanf:"insecure"`
}

// ScanAgentNames returns the set of known scan agent names.
func ScanAgentNames() []string {
	return []string{AgentSemgrep, AgentTrivy, AgentAIReview, AgentSecrets}
}

// OutputAgentNames returns the set of known output agent names.
func OutputAgentNames() []string {
	return []string{AgentEdit, AgentComment}
}

func knownScanAgent(name string) bool {
	for _, a := range ScanAgentNames() {
		if a == name {
			return true
		}
	}
	return false
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Scan.Agents) == 0 {
		return fmt.Errorf("scan.agents cannot be empty")
	}
	for _, a := range c.Scan.Agents {
		if !knownScanAgent(a) {
			return fmt.Errorf("unknown scan agent %q (known: %s)",
				a, strings.Join(ScanAgentNames(), ", "))
		}
	}
	if c.Scan.ExecutionMode != ModeSequential && c.Scan.ExecutionMode != ModeParallel {
		return fmt.Errorf("scan.execution_mode must be %q or %q, got %q",
			ModeSequential, ModeParallel, c.Scan.ExecutionMode)
	}
	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be > 0 seconds, got %d", c.Scan.Timeout)
	}
	if c.Scan.MaxFiles < 0 {
		return fmt.Errorf("scan.max_files cannot be negative")
	}
	if c.Scan.MaxFileSize <= 0 {
		return fmt.Errorf("scan.max_file_size must be > 0 bytes")
	}
	if c.Ollama.BaseURL == "" {
		return fmt.Errorf("ollama.base_url cannot be empty")
	}
	if c.Ollama.Model == "" {
		return fmt.Errorf("ollama.model cannot be empty")
	}
	if c.Ollama.Timeout <= 0 {
		return fmt.Errorf("ollama.timeout must be > 0 seconds")
	}
	if c.Ollama.RateLimit <= 0 {
		return fmt.Errorf("ollama.rate_limit must be > 0")
	}
	if c.Ollama.Burst < 1 {
		return fmt.Errorf("ollama.burst must be >= 1")
	}
	if c.Workers.Max < 1 {
		return fmt.Errorf("workers.max must be >= 1")
	}
	if c.Output.File == "" {
		return fmt.Errorf("output.file cannot be empty")
	}
	if c.Serve.Port < 1 || c.Serve.Port > 65535 {
		return fmt.Errorf("serve.port must be in 1..65535, got %d", c.Serve.Port)
	}
	if c.Knowledge.Enabled {
		if c.Knowledge.Path == "" {
			return fmt.Errorf("knowledge.path cannot be empty when knowledge is enabled")
		}
		if c.Knowledge.EmbeddingModel == "" {
			return fmt.Errorf("knowledge.embedding_model cannot be empty when knowledge is enabled")
		}
		if c.Knowledge.TopK < 1 {
			return fmt.Errorf("knowledge.top_k must be >= 1")
		}
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console', got %q", c.Log.Format)
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint cannot be empty when telemetry is enabled")
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http', got %q", c.Telemetry.Protocol)
		}
	}
	return nil
}
