package executor

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/sandboxlabs/execcore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeBuildLog(t *testing.T) {
	log := "/tmp/execcore-job-abc123/main.c:3:1: error: expected ';'"
	got := sanitizeBuildLog(log, "/tmp/execcore-job-abc123")
	assert.Equal(t, "main.c:3:1: error: expected ';'", got)
	assert.NotContains(t, got, "/tmp/execcore-job-abc123")
}

func TestBuildSandboxCommand(t *testing.T) {
	cfg := testConfig()
	cmd := buildSandboxCommand(cfg, "/work/dir", "job-1", []string{"python3", "/work/dir/main.py"})

	assert.Equal(t, cfg.Sandbox.Binary, cmd.Path)
	joined := strings.Join(cmd.Args, " ")
	assert.Contains(t, joined, "--profile="+cfg.Sandbox.Profile)
	assert.Contains(t, joined, "--cgroup=job-1")
	assert.Contains(t, joined, "--chroot=/work/dir")
	assert.Contains(t, joined, "-- python3 /work/dir/main.py")
}

func TestLanguages_KnownSet(t *testing.T) {
	for _, lang := range []string{"python", "javascript", "c", "cpp", "rust"} {
		_, ok := languages[lang]
		assert.True(t, ok, "expected %s to be registered", lang)
	}
	_, ok := languages["cobol"]
	assert.False(t, ok)
}

// TestSupervise_CapturesOutputAndExitCode exercises the PTY loop directly
// against a plain, unsandboxed command, since the sandbox binary and
// cgroups v2 are not available in a test environment.
func TestSupervise_CapturesOutputAndExitCode(t *testing.T) {
	var out []byte
	result, err := supervise(context.Background(), superviseParams{
		cmd:          exec.Command("/bin/sh", "-c", "echo hi"),
		timeout:      2 * time.Second,
		chunkBytes:   4096,
		pollInterval: 10 * time.Millisecond,
		onOutput:     func(b []byte) { out = append(out, b...) },
		input:        make(chan []byte),
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, string(out), "hi")
	assert.Contains(t, result.Stdout, "hi")
}

func TestSupervise_NonZeroExit(t *testing.T) {
	result, err := supervise(context.Background(), superviseParams{
		cmd:          exec.Command("/bin/sh", "-c", "exit 3"),
		timeout:      2 * time.Second,
		chunkBytes:   4096,
		pollInterval: 10 * time.Millisecond,
		onOutput:     func([]byte) {},
		input:        make(chan []byte),
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.ExitCode)
}

func TestSupervise_TimeoutKillsProcessGroup(t *testing.T) {
	start := time.Now()
	result, err := supervise(context.Background(), superviseParams{
		cmd:          exec.Command("/bin/sh", "-c", "sleep 30"),
		timeout:      150 * time.Millisecond,
		chunkBytes:   4096,
		pollInterval: 10 * time.Millisecond,
		onOutput:     func([]byte) {},
		input:        make(chan []byte),
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, -9, result.ExitCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSupervise_FeedsInputToMaster(t *testing.T) {
	input := make(chan []byte, 1)
	input <- []byte("Alice\n")

	var out []byte
	result, err := supervise(context.Background(), superviseParams{
		cmd:          exec.Command("/bin/sh", "-c", "read name; echo hello $name"),
		timeout:      2 * time.Second,
		chunkBytes:   4096,
		pollInterval: 10 * time.Millisecond,
		onOutput:     func(b []byte) { out = append(out, b...) },
		input:        input,
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, string(out), "hello Alice")
}

func testConfig() config.Config {
	return config.Config{
		Sandbox: config.SandboxConfig{
			Binary:  "/usr/local/bin/execcore-sandbox",
			Profile: "/etc/execcore/sandbox.json",
		},
	}
}
