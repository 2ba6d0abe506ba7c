package metrics

import (
	"context"
	"errors"
	"time"
)

var ErrProcessNotFound = errors.New("process not found")

// Inspector reports resource usage of a running process.
type Inspector interface {
	Inspect(ctx context.Context, pid int) (ProcessStats, error)
}

type ProcessStats struct {
	PID int
	// CPUPercent is the share of one CPU used over the sampling window.
	CPUPercent    float64
	ResidentBytes uint64
	Timestamp     time.Time
}

// ResidentMB returns resident memory in mebibytes.
func (s ProcessStats) ResidentMB() float64 {
	return float64(s.ResidentBytes) / 1024 / 1024
}
