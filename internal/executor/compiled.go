package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// compile runs a blocking build step with its own timeout. A nil, nil
// return means the build succeeded and the caller should proceed to the
// run phase. A non-nil *Result means the build itself is the terminal
// outcome (compiler ran and exited non-zero, or timed out). A non-nil
// error means the compiler could not be spawned at all.
func (e *Executor) compile(ctx context.Context, argv []string, dir string, timeout time.Duration) (*Result, error) {
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(buildCtx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Seconds()

	if err == nil {
		return nil, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Result{
			Success:    false,
			ExitCode:   -1,
			ElapsedSec: elapsed,
			Stderr:     sanitizeBuildLog(combined.String(), dir),
		}, nil
	}

	if buildCtx.Err() == context.DeadlineExceeded {
		return &Result{
			Success:    false,
			ExitCode:   -1,
			ElapsedSec: elapsed,
			Stderr:     "compilation timed out",
		}, nil
	}

	return nil, fmt.Errorf("spawn compiler: %w", err)
}

// sanitizeBuildLog strips the private work directory's filesystem path out
// of a compiler's diagnostics so the reported build log never leaks where
// the job actually ran on disk.
func sanitizeBuildLog(log, dir string) string {
	return strings.ReplaceAll(log, dir+"/", "")
}
