package executor

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sandboxlabs/execcore/internal/cgroup"
	"github.com/sandboxlabs/execcore/internal/config"
)

// buildSandboxCommand wraps argv in the external sandbox binary's fixed
// flag shape: the resource profile, the job's dedicated cgroup id, and the
// private work directory to chroot into, followed by the real command
// after a "--" separator.
func buildSandboxCommand(cfg config.Config, dir, cgroupID string, argv []string) *exec.Cmd {
	args := make([]string, 0, len(argv)+4)
	args = append(args,
		fmt.Sprintf("--profile=%s", cfg.Sandbox.Profile),
		fmt.Sprintf("--cgroup=%s", cgroupID),
		fmt.Sprintf("--chroot=%s", dir),
		"--",
	)
	args = append(args, argv...)

	cmd := exec.Command(cfg.Sandbox.Binary, args...)
	cmd.Dir = dir
	return cmd
}

// runSandboxed creates a dedicated cgroup for one job, wraps argv with the
// sandbox binary, and runs it under PTY supervision, guaranteeing the
// cgroup is removed on every exit path.
func (e *Executor) runSandboxed(ctx context.Context, dir string, argv []string, timeout time.Duration, onOutput func([]byte), input <-chan []byte) (Result, error) {
	cg, err := e.cgroup.CreateCgroup(
		cgroup.WithMemory(uint64(e.cfg.Execution.MaxMemoryMiB)*1024*1024),
		cgroup.WithCpus(1),
	)
	if err != nil {
		return Result{}, fmt.Errorf("create job cgroup: %w", err)
	}
	defer func() {
		if err := e.cgroup.RemoveCgroup(cg.ID); err != nil {
			e.logger.Warnf("remove job cgroup %s: %v", cg.ID, err)
		}
	}()

	cmd := buildSandboxCommand(e.cfg, dir, cg.ID.String(), argv)

	var sampler *resourceSampler
	result, err := supervise(ctx, superviseParams{
		cmd:          cmd,
		timeout:      timeout,
		chunkBytes:   e.cfg.PTY.ChunkBytes,
		pollInterval: time.Duration(e.cfg.PTY.PollIntervalMs) * time.Millisecond,
		onOutput:     onOutput,
		input:        input,
		rlimits: &rlimits{
			fileSizeBytes: uint64(e.cfg.Execution.MaxFileSizeMiB) * 1024 * 1024,
			openFiles:     uint64(e.cfg.Execution.MaxOpenFiles),
		},
		onStart: func(pid int) {
			if err := e.cgroup.PlaceInCgroup(*cg, pid); err != nil {
				e.logger.Warnf("place pid %d in cgroup %s: %v", pid, cg.ID, err)
			}
			sampler = startResourceSampler(pid)
		},
	})

	if sampler != nil {
		if snap := sampler.stopAndLast(); snap.ok {
			e.logger.Infof("sandboxed child exit telemetry: rss_bytes=%d cpu_percent=%.1f", snap.rssBytes, snap.cpuPercent)
		}
	}

	return result, err
}
