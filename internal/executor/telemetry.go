package executor

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// resourceSampleInterval is how often a running sandboxed child's RSS and
// CPU usage are polled. A child is usually already reaped by the time its
// exit is observed, so it cannot be sampled then; the last reading taken
// while it was still alive stands in for an "at exit" figure.
const resourceSampleInterval = 250 * time.Millisecond

// resourceSample is one RSS/CPU reading.
type resourceSample struct {
	rssBytes   uint64
	cpuPercent float64
	ok         bool
}

// resourceSampler polls a pid on an interval and keeps the most recent
// successful reading. This augments, and never replaces, the cgroup and
// rlimit ceilings that actually enforce resource limits; a sampling failure
// (process already gone, permission denied) just means no telemetry for
// that run, not a correctness problem.
type resourceSampler struct {
	mu   sync.Mutex
	last resourceSample
	stop chan struct{}
	done chan struct{}
}

func startResourceSampler(pid int) *resourceSampler {
	s := &resourceSampler{stop: make(chan struct{}), done: make(chan struct{})}
	go s.run(pid)
	return s
}

func (s *resourceSampler) run(pid int) {
	defer close(s.done)

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}

	ticker := time.NewTicker(resourceSampleInterval)
	defer ticker.Stop()

	s.sample(proc)
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sample(proc)
		}
	}
}

func (s *resourceSampler) sample(proc *process.Process) {
	mem, err := proc.MemoryInfo()
	if err != nil {
		return
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return
	}

	s.mu.Lock()
	s.last = resourceSample{rssBytes: mem.RSS, cpuPercent: cpuPercent, ok: true}
	s.mu.Unlock()
}

// stopAndLast halts sampling and returns the last reading taken before the
// child exited.
func (s *resourceSampler) stopAndLast() resourceSample {
	close(s.stop)
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
