// Package supervisor runs one unit of agent work under a deadline and
// normalizes every way it can end into a single Outcome. Callers never see a
// raw panic or deadline error; they see a classified failure they can record
// in a result document.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// Failure classes for one supervised invocation. Coordinators absorb these
// and record them; only the orchestrator's input validation errors ever reach
// callers.
var (
	// ErrUnavailable means the tool or service behind the agent is not
	// installed or unreachable. Reported, never retried.
	ErrUnavailable = errors.New("agent unavailable")

	// ErrTimeout means the invocation exceeded its deadline. The underlying
	// work is cancelled and any partial output discarded.
	ErrTimeout = errors.New("agent timed out")

	// ErrExecution means the tool ran but failed or produced unusable output.
	ErrExecution = errors.New("agent execution failed")

	// ErrInternal means the adapter code itself misbehaved (panicked).
	ErrInternal = errors.New("internal agent error")
)

// Outcome is the normalized result of one supervised invocation.
type Outcome[T any] struct {
	Value T
	// Err is nil on success, otherwise wraps exactly one of the failure
	// classes above.
	Err      error
	Duration time.Duration
}

// Success reports whether the invocation completed without a classified
// failure.
func (o Outcome[T]) Success() bool { return o.Err == nil }

// Reason returns the failure message, or "" on success.
func (o Outcome[T]) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Classify wraps err with the matching failure class. Context errors become
// ErrTimeout; errors already carrying a class pass through; everything else
// is ErrExecution.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrTimeout),
		errors.Is(err, ErrExecution), errors.Is(err, ErrInternal):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrExecution, err)
	}
}

// Run executes fn under a deadline. fn receives a context that expires after
// timeout (or when ctx ends) and must honor it; subprocess-backed work is
// killed through execx when the context fires. A zero timeout means no
// deadline beyond ctx. Panics in fn are recovered and reported as
// ErrInternal. No retry happens here; that is the caller's decision.
func Run[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) Outcome[T] {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	value, err := runProtected(runCtx, fn)
	elapsed := time.Since(start)

	if err == nil && runCtx.Err() != nil {
		// fn returned a value after the deadline fired; the contract says
		// partial output from a timed-out unit is discarded.
		err = runCtx.Err()
	}
	if err != nil {
		if runCtx.Err() != nil && !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrInternal) {
			err = fmt.Errorf("%w after %s: %v", ErrTimeout, elapsed.Round(time.Millisecond), err)
		} else {
			err = Classify(err)
		}
		var zero T
		return Outcome[T]{Value: zero, Err: err, Duration: elapsed}
	}
	return Outcome[T]{Value: value, Duration: elapsed}
}

func runProtected[T any](ctx context.Context, fn func(context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v\n%s", ErrInternal, r, debug.Stack())
		}
	}()
	return fn(ctx)
}
