package executor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// rlimits describes the per-job file-size and open-descriptor ceilings
// cgroups v2 has no controller for.
type rlimits struct {
	fileSizeBytes uint64
	openFiles     uint64
}

// rlimitMu serializes the narrow window between lowering the process-wide
// rlimits and forking the sandboxed child, since RLIMIT_FSIZE/RLIMIT_NOFILE
// are inherited at fork time and Go's os/exec gives no hook to set them on
// the child alone between fork and exec.
var rlimitMu sync.Mutex

// applyTempRlimits lowers the calling process's RLIMIT_FSIZE and
// RLIMIT_NOFILE soft limits, returning a restore function that must be
// called once the fork has happened (successfully or not) to put the
// process's own limits back and release the lock.
func applyTempRlimits(r rlimits) (func(), error) {
	rlimitMu.Lock()

	var prevFsize, prevNofile unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_FSIZE, &prevFsize); err != nil {
		rlimitMu.Unlock()
		return nil, fmt.Errorf("get RLIMIT_FSIZE: %w", err)
	}
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &prevNofile); err != nil {
		rlimitMu.Unlock()
		return nil, fmt.Errorf("get RLIMIT_NOFILE: %w", err)
	}

	newFsize := unix.Rlimit{Cur: r.fileSizeBytes, Max: prevFsize.Max}
	if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &newFsize); err != nil {
		rlimitMu.Unlock()
		return nil, fmt.Errorf("set RLIMIT_FSIZE: %w", err)
	}

	newNofile := unix.Rlimit{Cur: r.openFiles, Max: prevNofile.Max}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &newNofile); err != nil {
		_ = unix.Setrlimit(unix.RLIMIT_FSIZE, &prevFsize)
		rlimitMu.Unlock()
		return nil, fmt.Errorf("set RLIMIT_NOFILE: %w", err)
	}

	return func() {
		_ = unix.Setrlimit(unix.RLIMIT_FSIZE, &prevFsize)
		_ = unix.Setrlimit(unix.RLIMIT_NOFILE, &prevNofile)
		rlimitMu.Unlock()
	}, nil
}
