package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix scopes environment overrides: CODETECTIVE_SCAN_TIMEOUT=600.
	envPrefix = "CODETECTIVE_"
)

// defaultYAML is the lowest-precedence configuration layer. Keeping it as a
// document means file and env layers override it field by field, including
// booleans that default to true.
var defaultYAML = []byte(`
scan:
  agents: [semgrep, trivy, ai_review, secrets]
  execution_mode: sequential
  timeout: 300
  max_files: 0
  max_file_size: 10485760
  respect_gitignore: true
fix:
  backup_files: true
  keep_backup: false
  dry_run: false
ollama:
  base_url: http://localhost:11434
  model: qwen3:8b
  timeout: 120
  rate_limit: 2
  burst: 4
workers:
  max: 4
output:
  file: codetective_scan_results.json
serve:
  host: localhost
  port: 8124
knowledge:
  enabled: false
  path: ~/.codetective/knowledge
  embedding_model: nomic-embed-text
  top_k: 3
log:
  level: info
  format: console
telemetry:
  enabled: false
  endpoint: localhost:4317
  protocol: grpc
  insecure: true
`)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaultYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}

// Load reads configuration with the full precedence chain. If configPath is
// empty, the first existing file among the default locations is used; no file
// at all is fine and leaves defaults plus environment in effect.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables.
	// CODETECTIVE_SCAN_TIMEOUT -> scan.timeout
	// CODETECTIVE_OLLAMA_BASE_URL -> ollama.base_url
	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalizeLists(&cfg)
	expandPaths(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envTransform maps an environment variable name to a koanf key.
// Strategy: strip the prefix, lowercase, split on the first underscore into
// section and field (field keeps its underscores).
//
//	CODETECTIVE_SCAN_MAX_FILES -> scan.max_files
//	CODETECTIVE_LOG_LEVEL      -> log.level
func envTransform(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// findConfigFile returns the first existing default config file, or "".
// Search order follows the project-local-first convention:
// .codetective.yaml, ~/.codetective/config.yaml, ~/.codetective.yaml.
func findConfigFile() string {
	candidates := []string{".codetective.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".codetective", "config.yaml"),
			filepath.Join(home, ".codetective.yaml"),
		)
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// readConfigFile opens, validates and reads a config file. The file is opened
// once and validated through its descriptor to avoid a TOCTOU race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// normalizeLists splits single comma-joined entries, so
// CODETECTIVE_SCAN_AGENTS=semgrep,trivy works like the YAML list form.
func normalizeLists(cfg *Config) {
	cfg.Scan.Agents = splitCommaEntry(cfg.Scan.Agents)
	cfg.Scan.Include = splitCommaEntry(cfg.Scan.Include)
	cfg.Scan.Exclude = splitCommaEntry(cfg.Scan.Exclude)
	cfg.Fix.SelectedIssueIDs = splitCommaEntry(cfg.Fix.SelectedIssueIDs)
}

func splitCommaEntry(list []string) []string {
	if len(list) != 1 || !strings.Contains(list[0], ",") {
		return list
	}
	parts := strings.Split(list[0], ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// expandPaths resolves "~" prefixes in path-valued fields.
func expandPaths(cfg *Config) {
	cfg.Knowledge.Path = expandHome(cfg.Knowledge.Path)
	cfg.Secrets.AllowlistPath = expandHome(cfg.Secrets.AllowlistPath)
	cfg.Secrets.UserAllowlistPath = expandHome(cfg.Secrets.UserAllowlistPath)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// EnsureConfigDir creates ~/.codetective if it doesn't exist. Created with
// 0700 permissions since it may hold the knowledge store.
func EnsureConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".codetective")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return dir, nil
}
