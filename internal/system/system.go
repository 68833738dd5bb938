// Package system probes which tools the agents depend on are present, and in
// what version. The scan coordinator gates agents on their own Available
// checks; this package exists for the info surfaces.
package system

import (
	"context"
	"strings"
	"time"

	"github.com/Eng-Elias/codetective/internal/execx"
	"github.com/Eng-Elias/codetective/internal/ollama"
)

// probeTimeout bounds each version subprocess.
const probeTimeout = 10 * time.Second

// ToolStatus is one probed tool.
type ToolStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	// InstallHint is set when the tool is missing.
	InstallHint string `json:"install_hint,omitempty"`
}

// Prober checks tool availability.
type Prober struct {
	runner execx.Runner
	ollama *ollama.Client
}

// NewProber creates a prober. A nil runner uses the host; a nil client marks
// ollama unavailable.
func NewProber(runner execx.Runner, client *ollama.Client) *Prober {
	if runner == nil {
		runner = execx.OSRunner{}
	}
	return &Prober{runner: runner, ollama: client}
}

// Probe reports the status of every tool the agents can use, in a fixed
// order: semgrep, trivy, ollama, secrets.
func (p *Prober) Probe(ctx context.Context) []ToolStatus {
	return []ToolStatus{
		p.probeBinary(ctx, "semgrep", "pip install semgrep"),
		p.probeBinary(ctx, "trivy", "https://trivy.dev/latest/getting-started/installation/"),
		p.probeOllama(ctx),
		{Name: "secrets", Available: true, Version: "built-in"},
	}
}

func (p *Prober) probeBinary(ctx context.Context, name, hint string) ToolStatus {
	if _, err := p.runner.LookPath(name); err != nil {
		return ToolStatus{Name: name, InstallHint: hint}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	res, err := p.runner.Run(ctx, name, "--version")
	if err != nil {
		// On PATH but not answering --version still counts as installed.
		return ToolStatus{Name: name, Available: true}
	}
	return ToolStatus{Name: name, Available: true, Version: parseVersion(res.Stdout)}
}

func (p *Prober) probeOllama(ctx context.Context) ToolStatus {
	hint := "https://ollama.com/download, then: ollama pull <model>"
	if p.ollama == nil {
		return ToolStatus{Name: "ollama", InstallHint: hint}
	}
	version, err := p.ollama.Version(ctx)
	if err != nil {
		return ToolStatus{Name: "ollama", InstallHint: hint}
	}
	return ToolStatus{Name: "ollama", Available: true, Version: version}
}

// parseVersion keeps the first line of a --version output, dropping a leading
// tool name ("Version: 1.2.3", "trivy version 0.50.0" and the like).
func parseVersion(out []byte) string {
	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	fields := strings.Fields(line)
	for _, f := range fields {
		if len(f) > 0 && f[0] >= '0' && f[0] <= '9' {
			return f
		}
	}
	return line
}
