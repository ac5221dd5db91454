package watch

import (
	"fmt"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// memoryPercent samples resident memory of the tracked PID as a percentage of
// total system memory. The PID is queried directly; name-substring matching
// against the process table is deliberately not supported.
func memoryPercent(pid int) (float64, error) {
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0, fmt.Errorf("process handle for pid %d: %w", pid, err)
	}
	pct, err := p.MemoryPercent()
	if err != nil {
		return 0, fmt.Errorf("memory percent for pid %d: %w", pid, err)
	}
	return float64(pct), nil
}
