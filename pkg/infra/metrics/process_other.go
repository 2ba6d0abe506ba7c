//go:build !linux

package metrics

import (
	"context"
	"errors"
)

type unsupportedInspector struct{}

// NewInspector reports process usage only on Linux. On other platforms the
// returned Inspector always fails.
func NewInspector() (Inspector, error) {
	return unsupportedInspector{}, nil
}

func (unsupportedInspector) Inspect(ctx context.Context, pid int) (ProcessStats, error) {
	return ProcessStats{}, errors.New("process inspection is only supported on linux")
}
