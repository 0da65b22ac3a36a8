// Package executor runs one job's source code to completion: it writes the
// source to a private temporary directory, optionally compiles it, and runs
// the resulting command inside a sandbox attached to a new pseudoterminal,
// streaming output back through a callback and accepting input through a
// channel. The temporary directory is removed on every exit path.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sandboxlabs/execcore/internal/cgroup"
	"github.com/sandboxlabs/execcore/internal/config"
	"github.com/sandboxlabs/execcore/internal/log"
)

// Request is one job's execution input: the validated source, its filename,
// and the I/O seam the caller uses to stream bytes in and out.
type Request struct {
	JobID    string
	Language string
	Filename string
	Source   []byte

	// OnOutput is invoked with each chunk of bytes read from the child's
	// PTY as it arrives. It must not block.
	OnOutput func(data []byte)
	// Input delivers bytes to write to the child's PTY, verbatim. Execute
	// drains it non-blockingly; the caller is responsible for closing it
	// once no more input will be sent.
	Input <-chan []byte
}

// Result is the outcome of one execution, matching the wire shape of the
// orchestrator's "complete" frame plus the captured output.
type Result struct {
	Success    bool
	ExitCode   int
	ElapsedSec float64
	Stdout     string
	Stderr     string
}

// Executor runs requests against the languages it knows how to build and
// run, with every command confined to the configured sandbox.
type Executor struct {
	cfg    config.Config
	cgroup *cgroup.Service
	logger log.Logger
}

// New creates an Executor. cgSvc is shared across jobs; each Execute call
// creates and tears down its own per-job cgroup.
func New(cfg config.Config, cgSvc *cgroup.Service) *Executor {
	return &Executor{
		cfg:    cfg,
		cgroup: cgSvc,
		logger: log.New("executor"),
	}
}

// Execute runs req to completion or until ctx is cancelled. A non-nil error
// means the executor itself failed (spawn, filesystem, sandbox setup) and
// carries no meaningful Result; a nil error with a populated Result covers
// every user-observable outcome, including non-zero exit, timeout, and
// compile failure.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	spec, ok := languages[req.Language]
	if !ok {
		return Result{}, fmt.Errorf("executor: unsupported language %q", req.Language)
	}

	logger := e.logger.WithJob(req.JobID, req.Language)

	dir, err := os.MkdirTemp("", "execcore-job-*")
	if err != nil {
		return Result{}, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warnf("remove work dir %s: %v", dir, err)
		}
	}()

	srcPath := filepath.Join(dir, req.Filename)
	if err := os.WriteFile(srcPath, req.Source, 0o644); err != nil {
		return Result{}, fmt.Errorf("write source: %w", err)
	}

	runArgv := spec.runArgv
	var argv []string
	if spec.compiled {
		binPath := filepath.Join(dir, "program")
		compileTimeout := time.Duration(e.cfg.Execution.CompilationTimeoutSec) * time.Second

		buildResult, err := e.compile(ctx, spec.compileArgv(srcPath, binPath), dir, compileTimeout)
		if err != nil {
			return Result{}, err
		}
		if buildResult != nil {
			logger.Infof("compilation failed")
			return *buildResult, nil
		}
		argv = spec.binArgv(binPath)
	} else {
		argv = runArgv(srcPath)
	}

	timeout := time.Duration(e.cfg.Execution.TimeoutSec) * time.Second

	logger.Infof("starting sandboxed run")
	result, err := e.runSandboxed(ctx, dir, argv, timeout, req.OnOutput, req.Input)
	if err != nil {
		return Result{}, fmt.Errorf("sandboxed run: %w", err)
	}

	logger.Infof("run finished; exit_code=%d elapsed=%.3fs", result.ExitCode, result.ElapsedSec)
	return result, nil
}
