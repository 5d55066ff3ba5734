// Package cmdrunner executes a single shell command with a wall-clock cap
// and bounded output capture. It is grounded on
// original_source/ispappd/src/ispappd.c and collect-client.c's popenTHREE,
// which wraps the command with the `timeout` utility when available and
// drains stdout/stderr through separate pipes.
package cmdrunner

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTimeout is the wall-clock cap .
	DefaultTimeout = 4 * time.Second

	// DefaultOutputCap mirrors the original client's PATH_MAX-sized output
	// buffer.
	DefaultOutputCap = 4096
)

// Request is a single command dispatched by the listener.
type Request struct {
	Cmd    string
	UUID   string
	WSID   string
}

// Result is the captured outcome, ready to be marshalled as a `cmd` reply.
type Result struct {
	UUID   string
	WSID   string
	Stdout string // base64
	Stderr string // base64
}

// ErrLaunchFailed indicates the stdout/stderr pipes for the subshell could
// not be set up. A subshell that fails to start (path not found, fork
// failure) is not reported this way: Run returns a Result carrying the
// start error in Stderr and a nil error. Either way the failure ends up in
// the cmd reply, not as a session-level error.
type ErrLaunchFailed struct {
	TraceID string
	Cause   error
}

func (e *ErrLaunchFailed) Error() string {
	return fmt.Sprintf("cmdrunner: launch failed (trace %s): %v", e.TraceID, e.Cause)
}
func (e *ErrLaunchFailed) Unwrap() error { return e.Cause }

// Runner executes commands with a configured timeout and output cap.
type Runner struct {
	Timeout   time.Duration
	OutputCap int

	once        sync.Once
	timeoutPath string
	hasTimeout  bool
}

// NewRunner constructs a Runner with spec defaults.
func NewRunner() *Runner {
	return &Runner{Timeout: DefaultTimeout, OutputCap: DefaultOutputCap}
}

// TimeoutAvailable probes `which timeout` (LookPath) exactly once and
// caches the result as a one-time startup capability probe.
func (r *Runner) TimeoutAvailable() bool {
	r.once.Do(func() {
		path, err := exec.LookPath("timeout")
		r.hasTimeout = err == nil
		r.timeoutPath = path
	})
	return r.hasTimeout
}

// Run launches req.Cmd in a subshell, waits up to r.Timeout, and returns
// the base64-encoded, size-capped stdout/stderr.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	outCap := r.OutputCap
	if outCap <= 0 {
		outCap = DefaultOutputCap
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if r.TimeoutAvailable() {
		// Parent-side context.WithTimeout still enforces the cap even if
		// the timeout utility itself misbehaves; this just gives the
		// child a chance to clean up gracefully first.
		secs := int(timeout / time.Second)
		if secs <= 0 {
			secs = 1
		}
		cmd = exec.CommandContext(runCtx, r.timeoutPath, fmt.Sprintf("%d", secs), "sh", "-c", req.Cmd)
	} else {
		cmd = exec.CommandContext(runCtx, "sh", "-c", req.Cmd)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, &ErrLaunchFailed{TraceID: uuid.NewString(), Cause: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, &ErrLaunchFailed{TraceID: uuid.NewString(), Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return Result{
			UUID:   req.UUID,
			WSID:   req.WSID,
			Stdout: "",
			Stderr: base64.StdEncoding.EncodeToString([]byte(err.Error())),
		}, nil
	}

	// Killing the direct child on timeout does not close the pipes if a
	// grandchild (e.g. the command under the timeout utility) still holds
	// them, so close the read ends once the deadline passes.
	go func() {
		<-runCtx.Done()
		stdoutPipe.Close()
		stderrPipe.Close()
	}()

	var stdoutBuf, stderrBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	// Both pipes are drained concurrently so a full pipe on one stream can
	// never deadlock the child waiting on the other.
	go func() {
		defer wg.Done()
		drainCapped(&stdoutBuf, stdoutPipe, outCap)
	}()
	go func() {
		defer wg.Done()
		drainCapped(&stderrBuf, stderrPipe, outCap)
	}()
	wg.Wait()

	_ = cmd.Wait()

	return Result{
		UUID:   req.UUID,
		WSID:   req.WSID,
		Stdout: base64.StdEncoding.EncodeToString(stdoutBuf.Bytes()),
		Stderr: base64.StdEncoding.EncodeToString(stderrBuf.Bytes()),
	}, nil
}

// drainCapped copies from r into buf until r is exhausted or buf has cap
// bytes, discarding anything past the cap so the reader never blocks the
// child on a pipe nobody is emptying.
func drainCapped(buf *bytes.Buffer, r interface{ Read([]byte) (int, error) }, outCap int) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			remaining := outCap - buf.Len()
			if remaining > 0 {
				if n > remaining {
					n = remaining
				}
				buf.Write(chunk[:n])
			}
		}
		if err != nil {
			return
		}
	}
}
