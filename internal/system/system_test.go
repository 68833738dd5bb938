package system

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eng-Elias/codetective/internal/execx"
	"github.com/Eng-Elias/codetective/internal/ollama"
)

func TestProbeAllPresent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/version", r.URL.Path)
		w.Write([]byte(`{"version": "0.6.1"}`))
	}))
	defer srv.Close()

	client, err := ollama.New(ollama.Config{BaseURL: srv.URL, Model: "qwen3:8b"})
	require.NoError(t, err)

	runner := &execx.FakeRunner{Responses: map[string]execx.FakeResponse{
		"semgrep": {Stdout: "1.84.0\n"},
		"trivy":   {Stdout: "Version: 0.50.0\n"},
	}}

	statuses := NewProber(runner, client).Probe(context.Background())
	require.Len(t, statuses, 4)

	assert.Equal(t, ToolStatus{Name: "semgrep", Available: true, Version: "1.84.0"}, statuses[0])
	assert.Equal(t, ToolStatus{Name: "trivy", Available: true, Version: "0.50.0"}, statuses[1])
	assert.Equal(t, ToolStatus{Name: "ollama", Available: true, Version: "0.6.1"}, statuses[2])
	assert.Equal(t, ToolStatus{Name: "secrets", Available: true, Version: "built-in"}, statuses[3])
}

func TestProbeEverythingMissing(t *testing.T) {
	statuses := NewProber(&execx.FakeRunner{}, nil).Probe(context.Background())
	require.Len(t, statuses, 4)

	assert.False(t, statuses[0].Available)
	assert.NotEmpty(t, statuses[0].InstallHint)
	assert.False(t, statuses[1].Available)
	assert.False(t, statuses[2].Available)
	assert.NotEmpty(t, statuses[2].InstallHint)

	// The in-process detector needs nothing installed.
	assert.True(t, statuses[3].Available)
}

func TestProbeBinaryVersionFailureStillAvailable(t *testing.T) {
	runner := &execx.FakeRunner{Responses: map[string]execx.FakeResponse{
		"semgrep": {Err: assert.AnError},
	}}
	statuses := NewProber(runner, nil).Probe(context.Background())

	assert.True(t, statuses[0].Available)
	assert.Empty(t, statuses[0].Version)
}

func TestParseVersion(t *testing.T) {
	cases := map[string]string{
		"1.84.0\n":                        "1.84.0",
		"Version: 0.50.0\nVcs: abc\n":     "0.50.0",
		"trivy version 0.50.0":            "0.50.0",
		"semgrep 1.84.0 (community)\n...": "1.84.0",
		"":                                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, parseVersion([]byte(in)), "%q", in)
	}
}
