package executor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"context"

	"github.com/creack/pty"
)

const (
	ptyRows = 24
	ptyCols = 80

	// killGrace is how long the process group gets after SIGTERM before
	// supervise escalates to SIGKILL.
	killGrace = 500 * time.Millisecond

	// maxInputDrainPerTick bounds how many queued input writes one poll
	// tick performs, so a client flooding input cannot starve output
	// reads or the timeout check.
	maxInputDrainPerTick = 64

	// drainDeadline is how long supervise keeps reading the master after
	// the child has already exited, to catch output still buffered in the
	// kernel tty layer.
	drainDeadline = 50 * time.Millisecond
)

// superviseParams carries everything the PTY loop needs to run one
// sandboxed command to completion.
type superviseParams struct {
	cmd          *exec.Cmd
	timeout      time.Duration
	chunkBytes   int
	pollInterval time.Duration
	onOutput     func([]byte)
	input        <-chan []byte

	// rlimits, if set, is applied to the calling process just before fork
	// and restored immediately after, so the forked child inherits it.
	rlimits *rlimits
	// onStart, if set, is invoked with the child's pid right after the PTY
	// starts it, before the supervision loop begins.
	onStart func(pid int)
}

// supervise is the hot path: it allocates a PTY, starts cmd attached to
// its slave side in its own session (so a group signal reaches the whole
// process tree), and loops reading output, draining queued input, and
// checking for a wall-clock or cancellation breach, until the child exits
// or is killed.
func supervise(ctx context.Context, p superviseParams) (Result, error) {
	start := time.Now()

	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	release := func() {}
	if p.rlimits != nil {
		r, err := applyTempRlimits(*p.rlimits)
		if err != nil {
			return Result{}, fmt.Errorf("apply rlimits: %w", err)
		}
		release = r
	}

	ptmx, err := pty.StartWithSize(p.cmd, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})
	release()
	if err != nil {
		return Result{}, fmt.Errorf("start pty: %w", err)
	}
	defer ptmx.Close()

	if p.onStart != nil && p.cmd.Process != nil {
		p.onStart(p.cmd.Process.Pid)
	}

	var stdout bytes.Buffer
	chunk := make([]byte, p.chunkBytes)

	exited := make(chan error, 1)
	go func() { exited <- p.cmd.Wait() }()

	var killed, killedByUs bool

	for {
		_ = ptmx.SetReadDeadline(time.Now().Add(p.pollInterval))
		n, _ := ptmx.Read(chunk)
		if n > 0 {
			b := make([]byte, n)
			copy(b, chunk[:n])
			stdout.Write(b)
			p.onOutput(b)
		}

		select {
		case waitErr := <-exited:
			drainRemaining(ptmx, p.chunkBytes, &stdout, p.onOutput)
			return buildResult(start, waitErr, killedByUs, &stdout), nil
		default:
		}

		drainInput(ptmx, p.input)

		if !killed && (ctx.Err() != nil || time.Since(start) > p.timeout) {
			killed = true
			killedByUs = true
			signalGroup(p.cmd, syscall.SIGTERM)
			killTimer := time.AfterFunc(killGrace, func() {
				signalGroup(p.cmd, syscall.SIGKILL)
			})
			defer killTimer.Stop()
		}
	}
}

// drainRemaining performs a short, deadline-bounded final read of the
// master after the child has exited, so output still sitting in the tty
// line discipline is not lost.
func drainRemaining(ptmx *os.File, chunkBytes int, stdout *bytes.Buffer, onOutput func([]byte)) {
	chunk := make([]byte, chunkBytes)
	deadline := time.Now().Add(drainDeadline)

	for time.Now().Before(deadline) {
		_ = ptmx.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		n, err := ptmx.Read(chunk)
		if n > 0 {
			b := make([]byte, n)
			copy(b, chunk[:n])
			stdout.Write(b)
			onOutput(b)
		}
		if err != nil {
			return
		}
	}
}

// drainInput writes queued input bytes to the master, verbatim, without
// blocking the poll tick on a slow or idle producer.
func drainInput(ptmx *os.File, input <-chan []byte) {
	for i := 0; i < maxInputDrainPerTick; i++ {
		select {
		case data, ok := <-input:
			if !ok {
				return
			}
			_, _ = ptmx.Write(data)
		default:
			return
		}
	}
}

// signalGroup delivers sig to the command's entire process group. Setsid
// in superviseParams.cmd.SysProcAttr makes the child its own session and
// process group leader, so -pid addresses the whole tree it may have
// forked.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, sig)
}

func buildResult(start time.Time, waitErr error, killedByUs bool, stdout *bytes.Buffer) Result {
	elapsed := time.Since(start).Seconds()

	if killedByUs {
		return Result{Success: false, ExitCode: -9, ElapsedSec: elapsed, Stdout: stdout.String()}
	}

	exitCode := 0
	var exitErr *exec.ExitError
	switch {
	case errors.As(waitErr, &exitErr):
		exitCode = exitErr.ExitCode()
	case waitErr != nil:
		exitCode = -1
	}

	return Result{
		Success:    exitCode == 0,
		ExitCode:   exitCode,
		ElapsedSec: elapsed,
		Stdout:     stdout.String(),
	}
}
