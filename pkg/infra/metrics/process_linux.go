//go:build linux

package metrics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/prometheus/procfs"
)

const defaultSampleWindow = 200 * time.Millisecond

type procInspector struct {
	fs     procfs.FS
	window time.Duration
}

// NewInspector returns an Inspector reading /proc. CPU usage is measured
// over a short window between two samples of the process's CPU time.
func NewInspector() (Inspector, error) {
	pfs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &procInspector{fs: pfs, window: defaultSampleWindow}, nil
}

func (c *procInspector) Inspect(ctx context.Context, pid int) (ProcessStats, error) {
	first, err := c.stat(pid)
	if err != nil {
		return ProcessStats{}, err
	}
	start := time.Now()

	select {
	case <-ctx.Done():
		return ProcessStats{}, ctx.Err()
	case <-time.After(c.window):
	}

	second, err := c.stat(pid)
	if err != nil {
		return ProcessStats{}, err
	}
	elapsed := time.Since(start).Seconds()

	var cpu float64
	if elapsed > 0 {
		cpu = (second.CPUTime() - first.CPUTime()) / elapsed * 100
	}
	if cpu < 0 {
		cpu = 0
	}

	return ProcessStats{
		PID:           pid,
		CPUPercent:    cpu,
		ResidentBytes: uint64(second.ResidentMemory()),
		Timestamp:     time.Now(),
	}, nil
}

func (c *procInspector) stat(pid int) (procfs.ProcStat, error) {
	proc, err := c.fs.Proc(pid)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return procfs.ProcStat{}, fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
		}
		return procfs.ProcStat{}, fmt.Errorf("open /proc/%d: %w", pid, err)
	}

	st, err := proc.Stat()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return procfs.ProcStat{}, fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
		}
		return procfs.ProcStat{}, fmt.Errorf("read /proc/%d/stat: %w", pid, err)
	}
	return st, nil
}
