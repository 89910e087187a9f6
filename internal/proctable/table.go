// Package proctable lists and signals arbitrary OS processes. It knows
// nothing about managed sessions.
package proctable

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/sourcegraph/conc/iter"
	"golang.org/x/sys/unix"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrPermission      = errors.New("operation not permitted")
	ErrInvalidPID      = errors.New("invalid pid")
)

type Entry struct {
	PID           int     `json:"pid"`
	Name          string  `json:"name"`
	Command       string  `json:"command,omitempty"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float32 `json:"memory_percent"`
	RSS           uint64  `json:"rss_bytes"`
}

type ListOptions struct {
	// Filter keeps entries whose name or command contains it,
	// case-insensitively.
	Filter string
	// Limit caps the number of entries returned. 0 means no limit.
	Limit int
}

type sample struct {
	entry Entry
	ok    bool
}

// List enumerates the process table once and samples every process in
// parallel. Processes that vanish while being sampled are left out. Entries
// are sorted by pid.
func List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}

	mapper := iter.Mapper[*process.Process, sample]{MaxGoroutines: runtime.GOMAXPROCS(0) * 4}
	samples := mapper.Map(procs, func(p **process.Process) sample {
		return sampleProcess(ctx, *p)
	})

	filter := strings.ToLower(opts.Filter)
	entries := make([]Entry, 0, len(samples))
	for _, s := range samples {
		if !s.ok {
			continue
		}
		if filter != "" &&
			!strings.Contains(strings.ToLower(s.entry.Name), filter) &&
			!strings.Contains(strings.ToLower(s.entry.Command), filter) {
			continue
		}
		entries = append(entries, s.entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].PID < entries[j].PID })
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

func sampleProcess(ctx context.Context, p *process.Process) sample {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		// gone, or a kernel thread we cannot inspect
		return sample{}
	}
	e := Entry{PID: int(p.Pid), Name: name}

	// The remaining attributes are best effort; a process we may not read
	// still shows up with what is known.
	if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
		e.Command = cmdline
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		e.CPUPercent = cpu
	}
	if mem, err := p.MemoryPercentWithContext(ctx); err == nil {
		e.MemoryPercent = mem
	}
	if info, err := p.MemoryInfoWithContext(ctx); err == nil && info != nil {
		e.RSS = info.RSS
	}
	return sample{entry: e, ok: true}
}

// Kill sends SIGTERM, or SIGKILL when force is set, to a single process.
func Kill(pid int, force bool) error {
	if pid <= 0 || pid == os.Getpid() {
		return fmt.Errorf("pid %d: %w", pid, ErrInvalidPID)
	}
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	if err := unix.Kill(pid, sig); err != nil {
		switch {
		case errors.Is(err, unix.ESRCH):
			return fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
		case errors.Is(err, unix.EPERM):
			return fmt.Errorf("pid %d: %w", pid, ErrPermission)
		default:
			return fmt.Errorf("signal %s to pid %d: %w", sig, pid, err)
		}
	}
	return nil
}
