package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Eng-Elias/codetective/internal/execx"
	"github.com/Eng-Elias/codetective/internal/ollama"
	"github.com/Eng-Elias/codetective/internal/system"
)

// infoTimeout bounds the whole probe pass.
const infoTimeout = 30 * time.Second

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show which scanner tools are installed",
	Long: `Probe the tools the agents depend on (semgrep, trivy, ollama and the
built-in secrets detector) and report their availability and versions,
with install hints for anything missing.`,
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), infoTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := ollama.New(ollama.Config{
		BaseURL:   cfg.Ollama.BaseURL,
		Model:     cfg.Ollama.Model,
		Timeout:   cfg.Ollama.TimeoutDuration(),
		RateLimit: cfg.Ollama.RateLimit,
		Burst:     cfg.Ollama.Burst,
	})
	if err != nil {
		return fmt.Errorf("configure ollama client: %w", err)
	}

	prober := system.NewProber(execx.OSRunner{}, client)
	fmt.Println(renderInfoTable(prober.Probe(ctx)))
	return nil
}
