package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long a killed command may hold its output pipes open.
const waitDelay = 2 * time.Second

// Runner abstracts command execution and file access for testability.
type Runner interface {
	LookPath(file string) (string, error)
	RunCommandContext(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
	ReadFile(path string) ([]byte, error)
	FileExists(path string) bool
}

// ExitError reports a command that ran to completion with a non-zero exit code.
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Name, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ExitCode returns the exit code carried by err, if err is an *ExitError.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

// RealRunner implements Runner using actual OS commands and files.
type RealRunner struct{}

// LookPath searches for an executable in PATH.
func (r *RealRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// RunCommandContext executes a command and returns its output.
// The command is killed when ctx is done.
func (r *RealRunner) RunCommandContext(ctx context.Context, name string, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()

	var exitErr *exec.ExitError
	if err != nil && ctx.Err() == nil && errors.As(err, &exitErr) {
		err = &ExitError{Name: name, Code: exitErr.ExitCode(), Stderr: errBuf.String()}
	}
	return outBuf.String(), errBuf.String(), err
}

// ReadFile reads a file from the filesystem.
func (r *RealRunner) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) //nolint:gosec // fixed system paths only
}

// FileExists reports whether path exists.
func (r *RealRunner) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// MockRunner is a test double for Runner. Unset funcs behave as if nothing is installed.
type MockRunner struct {
	LookPathFunc          func(file string) (string, error)
	RunCommandContextFunc func(ctx context.Context, name string, args ...string) (string, string, error)
	ReadFileFunc          func(path string) ([]byte, error)
	FileExistsFunc        func(path string) bool
}

// LookPath calls the mock function.
func (m *MockRunner) LookPath(file string) (string, error) {
	if m.LookPathFunc == nil {
		return "", exec.ErrNotFound
	}
	return m.LookPathFunc(file)
}

// RunCommandContext calls the mock function.
func (m *MockRunner) RunCommandContext(ctx context.Context, name string, args ...string) (stdout, stderr string, err error) {
	if m.RunCommandContextFunc == nil {
		return "", "", fmt.Errorf("exec: %q: %w", name, exec.ErrNotFound)
	}
	return m.RunCommandContextFunc(ctx, name, args...)
}

// ReadFile calls the mock function.
func (m *MockRunner) ReadFile(path string) ([]byte, error) {
	if m.ReadFileFunc == nil {
		return nil, os.ErrNotExist
	}
	return m.ReadFileFunc(path)
}

// FileExists calls the mock function.
func (m *MockRunner) FileExists(path string) bool {
	if m.FileExistsFunc == nil {
		return false
	}
	return m.FileExistsFunc(path)
}
