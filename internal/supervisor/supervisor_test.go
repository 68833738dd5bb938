package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuccess(t *testing.T) {
	out := Run(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.True(t, out.Success())
	assert.Equal(t, 42, out.Value)
	assert.Empty(t, out.Reason())
	assert.Greater(t, out.Duration, time.Duration(0))
}

func TestRunTimeout(t *testing.T) {
	out := Run(context.Background(), 50*time.Millisecond, func(ctx context.Context) (string, error) {
		select {
		case <-ctx.Done():
			return "partial", ctx.Err()
		case <-time.After(10 * time.Second):
			return "done", nil
		}
	})
	require.False(t, out.Success())
	assert.ErrorIs(t, out.Err, ErrTimeout)
	assert.Empty(t, out.Value, "partial output is discarded")
}

func TestRunDiscardsValueReturnedAfterDeadline(t *testing.T) {
	// fn ignores the context and returns normally after the deadline.
	out := Run(context.Background(), 20*time.Millisecond, func(ctx context.Context) (string, error) {
		time.Sleep(100 * time.Millisecond)
		return "too late", nil
	})
	require.False(t, out.Success())
	assert.ErrorIs(t, out.Err, ErrTimeout)
	assert.Empty(t, out.Value)
}

func TestRunExecutionError(t *testing.T) {
	boom := errors.New("tool exploded")
	out := Run(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	require.False(t, out.Success())
	assert.ErrorIs(t, out.Err, ErrExecution)
	assert.Contains(t, out.Reason(), "tool exploded")
}

func TestRunUnavailablePassesThrough(t *testing.T) {
	out := Run(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 0, ErrUnavailable
	})
	assert.ErrorIs(t, out.Err, ErrUnavailable)
	assert.NotErrorIs(t, out.Err, ErrExecution)
}

func TestRunRecoversPanic(t *testing.T) {
	out := Run(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		panic("adapter bug")
	})
	require.False(t, out.Success())
	assert.ErrorIs(t, out.Err, ErrInternal)
	assert.Contains(t, out.Reason(), "adapter bug")
}

func TestRunZeroTimeoutUsesParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := Run(ctx, 0, func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, out.Err, ErrTimeout)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil stays nil", nil, nil},
		{"deadline becomes timeout", context.DeadlineExceeded, ErrTimeout},
		{"cancel becomes timeout", context.Canceled, ErrTimeout},
		{"unknown becomes execution", errors.New("weird"), ErrExecution},
		{"classified passes through", ErrUnavailable, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}
