// Package execx runs external tools as subprocesses.
//
// The Runner interface keeps agents testable without installing the tools
// they drive; OSRunner is the production implementation and FakeRunner the
// test double. Timeouts are handled through the context: when it expires the
// whole process group is killed so tool-spawned children never outlive the
// invocation.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// maxOutputBytes caps captured stdout/stderr per invocation. Tool output past
// the cap is truncated, not an error.
const maxOutputBytes = 32 * 1024 * 1024

// ErrNotFound reports that the requested binary is not on PATH.
var ErrNotFound = errors.New("executable not found")

// Result carries the outcome of one subprocess run. A non-zero exit still
// yields Stdout/Stderr; some tools (trivy) report findings on stdout while
// exiting non-zero.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes external commands.
type Runner interface {
	// Run executes name with args under ctx. A context deadline kills the
	// process group. The returned error is nil for exit code 0, an
	// *exec.ExitError-wrapping error for non-zero exits, and ctx.Err() when
	// the context ended the run.
	Run(ctx context.Context, name string, args ...string) (Result, error)

	// LookPath reports where name resolves on PATH, or ErrNotFound.
	LookPath(name string) (string, error)
}

// OSRunner runs commands on the host.
type OSRunner struct{}

var _ Runner = OSRunner{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	configureProcess(cmd)
	cmd.Cancel = func() error {
		terminateProcess(cmd)
		return nil
	}

	var stdout, stderr limitedBuffer
	stdout.limit = maxOutputBytes
	stderr.limit = maxOutputBytes
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, fmt.Errorf("%s exited with code %d: %w", name, res.ExitCode, err)
		}
		return res, fmt.Errorf("%s failed to start: %w", name, err)
	}
	return res, nil
}

func (OSRunner) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return path, nil
}

// limitedBuffer discards writes past its limit. It never returns an error so
// a chatty tool cannot fail the run by flooding output.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			p = p[:remaining]
		}
		b.buf.Write(p)
	}
	return n, nil
}

func (b *limitedBuffer) Bytes() []byte { return b.buf.Bytes() }
