package beads

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// CommandRunner executes the bd binary.
// This interface allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes bd with the given args in workDir and returns the trimmed
	// stdout. If the command fails, the stderr/stdout is carried in the error.
	Run(ctx context.Context, workDir string, args ...string) (stdout string, err error)
}

// ExecRunner is the default CommandRunner using exec.CommandContext.
type ExecRunner struct {
	// Binary is the bd executable name or path. Defaults to "bd".
	Binary string
}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Binary: "bd"}
}

// Run executes the command using exec.CommandContext.
func (r *ExecRunner) Run(ctx context.Context, workDir string, args ...string) (string, error) {
	binary := r.Binary
	if binary == "" {
		binary = "bd"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = strings.TrimSpace(stdout.String())
		}
		if errMsg == "" {
			errMsg = err.Error()
		}
		return errMsg, &CommandError{
			Args:    args,
			WorkDir: workDir,
			Output:  errMsg,
			Err:     err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// CommandError represents a bd execution error.
type CommandError struct {
	Args    []string
	WorkDir string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return e.Output
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "bd command failed"
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
