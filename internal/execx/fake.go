package execx

import (
	"context"
	"strings"
	"sync"
)

// FakeRunner is an in-memory Runner for tests. Responses are keyed by
// command name; Calls records every invocation in order.
type FakeRunner struct {
	mu sync.Mutex

	// Responses maps command name to the canned result. Missing entries
	// behave like a binary that is not installed.
	Responses map[string]FakeResponse

	// Calls records the argv of every Run invocation.
	Calls [][]string
}

// FakeResponse is one canned subprocess outcome.
type FakeResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	// Block, when set, makes Run wait for ctx cancellation. Used by
	// timeout tests.
	Block bool
}

var _ Runner = (*FakeRunner)(nil)

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, append([]string{name}, args...))
	resp, ok := f.Responses[name]
	f.mu.Unlock()

	if !ok {
		return Result{}, ErrNotFound
	}
	if resp.Block {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	res := Result{
		Stdout:   []byte(resp.Stdout),
		Stderr:   []byte(resp.Stderr),
		ExitCode: resp.ExitCode,
	}
	return res, resp.Err
}

func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Responses[name]; !ok {
		return "", ErrNotFound
	}
	return "/usr/bin/" + name, nil
}

// CalledWith reports whether any recorded call contains every given token.
func (f *FakeRunner) CalledWith(tokens ...string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, call := range f.Calls {
		joined := strings.Join(call, " ")
		all := true
		for _, tok := range tokens {
			if !strings.Contains(joined, tok) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}
