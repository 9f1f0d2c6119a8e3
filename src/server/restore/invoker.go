package restore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-cmd/cmd"
)

// maxOutputLines bounds the captured stdout/stderr tail of one invocation
const maxOutputLines = 50

var (
	// ErrTimeout is returned when the operation outlives its deadline
	ErrTimeout = errors.New("restore operation timed out")
	// ErrNoAction is returned when asked to invoke ActionNone
	ErrNoAction = errors.New("no restore action selected")
)

// Result is the outcome of one external invocation
type Result struct {
	Action     Action
	ExitCode   int
	Stdout     []string
	Stderr     []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Output joins the captured stdout and stderr tails
func (r Result) Output() string {
	lines := append(append([]string{}, r.Stdout...), r.Stderr...)
	return strings.Join(lines, "\n")
}

// ExternalOperationError reports a restore operation that could not start,
// exited non-zero or timed out.
type ExternalOperationError struct {
	Action   Action
	ExitCode int
	Stderr   []string
	Err      error
}

func (e *ExternalOperationError) Error() string {
	msg := fmt.Sprintf("restore %s failed: %v", e.Action, e.Err)
	if len(e.Stderr) > 0 {
		msg += ": " + e.Stderr[len(e.Stderr)-1]
	}
	return msg
}

func (e *ExternalOperationError) Unwrap() error {
	return e.Err
}

// Invoker runs the external restore operation for an action
type Invoker interface {
	Invoke(ctx context.Context, action Action) (Result, error)
}

// CommandInvoker runs the restore command with the argument set of the action.
// The command never reboots by itself.
type CommandInvoker struct {
	Command          string
	KeepIdentityArgs []string
	FullArgs         []string

	timeout atomic.Int64
}

// NewCommandInvoker creates an invoker with the given timeout
func NewCommandInvoker(command string, keepIdentityArgs, fullArgs []string, timeout time.Duration) *CommandInvoker {
	inv := &CommandInvoker{
		Command:          command,
		KeepIdentityArgs: keepIdentityArgs,
		FullArgs:         fullArgs,
	}
	inv.SetTimeout(timeout)
	return inv
}

// SetTimeout changes the timeout of later invocations. Safe for concurrent use.
func (inv *CommandInvoker) SetTimeout(d time.Duration) {
	inv.timeout.Store(int64(d))
}

// Timeout returns the current invocation timeout
func (inv *CommandInvoker) Timeout() time.Duration {
	return time.Duration(inv.timeout.Load())
}

// Args returns the command-line arguments for action
func (inv *CommandInvoker) Args(action Action) ([]string, error) {
	switch action {
	case ActionRestoreKeepingIdentity:
		return inv.KeepIdentityArgs, nil
	case ActionRestoreFull:
		return inv.FullArgs, nil
	default:
		return nil, ErrNoAction
	}
}

// Invoke runs the command once and waits for it, the timeout or ctx.
// It never retries.
func (inv *CommandInvoker) Invoke(ctx context.Context, action Action) (Result, error) {
	args, err := inv.Args(action)
	if err != nil {
		return Result{Action: action}, err
	}

	status, err := runCommand(ctx, inv.Timeout(), inv.Command, args...)
	res := Result{
		Action:     action,
		ExitCode:   status.Exit,
		Stdout:     tail(status.Stdout, maxOutputLines),
		Stderr:     tail(status.Stderr, maxOutputLines),
		StartedAt:  unixNano(status.StartTs),
		FinishedAt: unixNano(status.StopTs),
	}
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now()
	}

	if err == nil {
		switch {
		case status.Error != nil:
			err = status.Error
		case status.Exit != 0:
			err = fmt.Errorf("exit status %d", status.Exit)
		}
	}
	if err != nil {
		return res, &ExternalOperationError{
			Action:   action,
			ExitCode: status.Exit,
			Stderr:   res.Stderr,
			Err:      err,
		}
	}
	return res, nil
}

// runCommand starts name with args and waits for it to finish, for timeout
// to pass or for ctx to end. Stopping kills the whole process group.
func runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) (cmd.Status, error) {
	c := cmd.NewCmdOptions(cmd.Options{Buffered: true}, name, args...)
	statusChan := c.Start()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case status := <-statusChan:
		return status, nil
	case <-deadline:
		c.Stop()
		return <-statusChan, ErrTimeout
	case <-ctx.Done():
		c.Stop()
		status := <-statusChan
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return status, ErrTimeout
		}
		return status, ctx.Err()
	}
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func unixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
