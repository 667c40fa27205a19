package server

import (
	"log/slog"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStatus is the resource usage of the scanner process.
type ProcessStatus struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
}

// processStatus samples the current process. It returns nil when the
// platform does not expose the counters.
func processStatus() *ProcessStatus {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Debug("server: process stats unavailable", "error", err)
		return nil
	}

	var st ProcessStatus
	if mem, err := p.MemoryInfo(); err == nil {
		st.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		st.Threads = n
	}
	return &st
}
