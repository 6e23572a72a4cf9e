package kdu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"
)

// State is a step in the life of one engine process.
type State int

const (
	StateIdle State = iota
	StateLaunching
	StateRunning
	StateDraining
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultWaitDelay bounds how long Run keeps reading the engine's pipes
// after the engine has been killed. A clean exit never cuts the stdout
// copy short, however slow the sink.
const DefaultWaitDelay = 5 * time.Second

// Execution is the record of one engine run.
type Execution struct {
	State    State
	ExitCode int
	Stderr   string
	Written  int64 // bytes copied from the engine's stdout to the sink
	Duration time.Duration
}

// Executor launches the engine for one job at a time per call. It holds
// no per-job state, so a single Executor serves concurrent jobs.
type Executor struct {
	platform  *Platform
	logger    *slog.Logger
	waitDelay time.Duration
}

// NewExecutor returns an Executor launching engines under platform.
func NewExecutor(platform *Platform, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{platform: platform, logger: logger, waitDelay: DefaultWaitDelay}
}

// Run launches cmd in the engine home with the platform environment and
// blocks until it exits. The engine's stdout is copied to stdout while the
// engine runs (discarded when stdout is nil) and its stderr is collected.
//
// Any stderr text fails the run even when the exit status is zero, since
// the engine reports some failures only that way. When ctx ends first the
// engine is killed and a KindInterrupted error is returned; bytes already
// copied to stdout stay there.
func (e *Executor) Run(ctx context.Context, cmd *Command, stdout io.Writer) (*Execution, error) {
	x := &Execution{State: StateIdle, ExitCode: -1}
	start := time.Now()
	defer func() { x.Duration = time.Since(start) }()

	if stdout == nil {
		stdout = io.Discard
	}
	sink := &countingWriter{w: stdout}
	var stderr bytes.Buffer

	argv := cmd.Argv()
	proc := exec.CommandContext(ctx, argv[0], argv[1:]...)
	proc.Dir = e.platform.Home
	proc.Env = e.platform.Environ()
	proc.Stderr = &stderr
	proc.WaitDelay = e.waitDelay
	pipe, err := proc.StdoutPipe()
	if err != nil {
		return e.fail(ctx, x, newError(KindLaunch, "pipe "+cmd.Path(), err))
	}

	e.transition(ctx, x, StateLaunching)
	e.logger.DebugContext(ctx, "compress command", "command", cmd.String())
	if err := proc.Start(); err != nil {
		if ctx.Err() != nil {
			return e.fail(ctx, x, newError(KindInterrupted, "start "+cmd.Path(), ctx.Err()))
		}
		return e.fail(ctx, x, newError(KindLaunch, "start "+cmd.Path(), err))
	}

	e.transition(ctx, x, StateRunning)
	copyErr := e.drain(ctx, pipe, sink)
	if copyErr != nil {
		// unblock an engine still writing to a sink that gave up
		pipe.Close()
	}
	waitErr := proc.Wait()

	e.transition(ctx, x, StateDraining)
	x.Written = sink.n.Load()
	x.Stderr = stderr.String()
	if proc.ProcessState != nil {
		x.ExitCode = proc.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		ce := newError(KindInterrupted, "wait "+cmd.Path(), ctxErr)
		ce.Diagnostic = strings.TrimSpace(x.Stderr)
		return e.fail(ctx, x, ce)
	}
	if copyErr != nil {
		return e.fail(ctx, x, newError(KindExecution, "run "+cmd.Path(), fmt.Errorf("copying output: %w", copyErr)))
	}
	if x.Stderr != "" {
		return e.fail(ctx, x, &CompressionError{
			Kind:       KindExecution,
			Op:         "run " + cmd.Path(),
			Diagnostic: x.Stderr,
			Err:        waitErr,
		})
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return e.fail(ctx, x, newError(KindExecution, "run "+cmd.Path(), exitErr))
		}
		return e.fail(ctx, x, newError(KindExecution, "run "+cmd.Path(), fmt.Errorf("reading diagnostics: %w", waitErr)))
	}

	e.transition(ctx, x, StateCompleted)
	return x, nil
}

// drain copies the engine's stdout to sink until the engine closes it.
// Once ctx ends the engine is being killed, and the copy gets waitDelay
// more to finish before the pipe is closed under it.
func (e *Executor) drain(ctx context.Context, pipe io.ReadCloser, sink io.Writer) error {
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(sink, pipe)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	timer := time.NewTimer(e.waitDelay)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		pipe.Close()
		<-done
		return exec.ErrWaitDelay
	}
}

func (e *Executor) transition(ctx context.Context, x *Execution, s State) {
	e.logger.DebugContext(ctx, "engine state", "from", x.State.String(), "to", s.String())
	x.State = s
}

func (e *Executor) fail(ctx context.Context, x *Execution, err *CompressionError) (*Execution, error) {
	e.transition(ctx, x, StateFailed)
	e.logger.ErrorContext(ctx, "engine failed", "kind", err.Kind.String(), "exit", x.ExitCode, "error", err)
	return x, err
}

// countingWriter counts the bytes that reached the wrapped writer.
type countingWriter struct {
	w io.Writer
	n atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}
