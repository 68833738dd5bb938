// Package ollama is a typed client for a local Ollama server's generate API.
// All AI-backed agents share one client so the rate limiter spans the whole
// process.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Eng-Elias/codetective/internal/supervisor"
)

const (
	// probeTimeout bounds the availability check; it must stay cheap.
	probeTimeout = 3 * time.Second

	defaultTemperature = 0.1
	defaultTopP        = 0.9
)

// Config configures the client.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:11434.
	BaseURL string
	// Model is the model name passed to every request.
	Model string
	// Timeout bounds each generate request.
	Timeout time.Duration
	// RateLimit is requests per second; Burst the limiter burst size.
	RateLimit float64
	Burst     int
}

// Client talks to one Ollama server.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a client. The API key-free local protocol needs no credentials.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 2
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Options tune one generate call. Zero values fall back to the defaults the
// review prompts were written for.
type Options struct {
	// Temperature defaults to 0.1 for reproducible review output.
	Temperature float64
	// NumPredict caps response tokens; -1 means unlimited.
	NumPredict int
}

// generateRequest is the /api/generate wire form.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type versionResponse struct {
	Version string `json:"version"`
}

// Available probes GET /api/version with a short deadline. It never returns
// an error; an unreachable server is simply unavailable.
func (c *Client) Available(ctx context.Context) bool {
	_, err := c.Version(ctx)
	return err == nil
}

// Version returns the server version, or an error when unreachable.
func (c *Client) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return "", fmt.Errorf("build version request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: ollama not reachable at %s", supervisor.ErrUnavailable, c.baseURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: ollama version probe returned %d", supervisor.ErrUnavailable, resp.StatusCode)
	}
	var v versionResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("decode version response: %w", err)
	}
	return v.Version, nil
}

// Complete sends one non-streaming generate request and returns the cleaned
// response text. Errors carry actionable hints (server not running, model
// not pulled) and a supervisor class.
func (c *Client) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: temperature,
			TopP:        defaultTopP,
			NumPredict:  opts.NumPredict,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: cannot connect to ollama at %s (is the server running?)",
			supervisor.ErrUnavailable, c.baseURL)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read generate response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: model %q not found, pull it first: ollama pull %s",
			supervisor.ErrExecution, c.model, c.model)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: ollama returned %d: %s",
			supervisor.ErrExecution, resp.StatusCode, truncate(string(respBody), 200))
	}

	var gen generateResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return "", fmt.Errorf("%w: malformed generate response: %v", supervisor.ErrExecution, err)
	}
	return StripThinking(gen.Response), nil
}

// thinkTags matches reasoning blocks some models emit before their answer.
var thinkTags = regexp.MustCompile(`(?is)<think(?:ing)?>.*?</think(?:ing)?>`)

// StripThinking removes <think>/<thinking> blocks and tidies the remainder.
// When stripping would leave nothing, the original text is returned so a
// reasoning-only response is not silently discarded.
func StripThinking(response string) string {
	cleaned := strings.TrimSpace(thinkTags.ReplaceAllString(response, ""))
	cleaned = regexp.MustCompile(`\n\s*\n`).ReplaceAllString(cleaned, "\n\n")
	if cleaned == "" {
		return strings.TrimSpace(response)
	}
	return cleaned
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
