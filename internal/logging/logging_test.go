// internal/logging/logging_test.go
package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"json format", func(c *Config) { c.Format = "json" }, false},
		{"bad format", func(c *Config) { c.Format = "xml" }, true},
		{"no outputs", func(c *Config) { c.Output = OutputConfig{} }, true},
		{"bad redaction pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, true},
		{"empty field key", func(c *Config) { c.Fields = map[string]string{"": "x"} }, true},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"x": ""} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, l)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	assert.NotNil(t, logger.Underlying())
}

func TestNewLoggerInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLoggerWithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Logger.With(zap.String("agent", "semgrep")).Named("scan")
	child.Info(context.Background(), "agent finished")

	entries := tl.FilterMessage("agent finished").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "scan", entries[0].LoggerName)
	require.Len(t, entries[0].Context, 1)
	assert.Equal(t, "agent", entries[0].Context[0].Key)
}

func TestContextFieldsCarryRunID(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), "run-123")
	tl.Logger.Info(ctx, "scan started")

	entries := tl.FilterMessage("scan started").All()
	require.Len(t, entries, 1)
	found := false
	for _, f := range entries[0].Context {
		if f.Key == "run.id" && f.String == "run-123" {
			found = true
		}
	}
	assert.True(t, found, "expected run.id field")
}

func TestRunIDFromContext(t *testing.T) {
	assert.Empty(t, RunIDFromContext(context.Background()))
	ctx := WithRunID(context.Background(), "abc")
	assert.Equal(t, "abc", RunIDFromContext(ctx))
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	// Missing logger yields a usable nop.
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info(context.Background(), "discarded")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "stored logger used")
	tl.AssertLogged(t, zapcore.InfoLevel, "stored logger used")
}
