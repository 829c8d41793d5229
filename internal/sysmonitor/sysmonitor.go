// Package sysmonitor adapts the teacher corpus's gopsutil-based system
// metrics tracker (go-server/internal/metrics/system.go) into a lightweight
// snapshot used by the /health endpoint: this process's memory footprint
// and the host's overall CPU load, smoothed with the same exponential
// moving average the teacher uses to avoid single-sample spikes.
package sysmonitor

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time read of process and host resource usage.
type Snapshot struct {
	HeapAllocMB   float64
	SysMB         float64
	Goroutines    int
	CPUPercent    float64
	HostMemUsedPc float64
}

// Monitor tracks a smoothed CPU percentage across calls to Sample; gopsutil's
// cpu.Percent call blocks for its sampling window, so Sample is meant to be
// called from a periodic background tick, not per-request.
type Monitor struct {
	mu         sync.RWMutex
	cpuPercent float64
}

// New returns a Monitor with no samples yet; Sample populate it.
func New() *Monitor {
	return &Monitor{}
}

// Sample blocks for one second sampling host CPU usage, then records an
// exponentially-smoothed reading (teacher's alpha=0.3 convention). Intended
// to be run on a ticker goroutine started by the composition root, not
// inline with request handling.
func (m *Monitor) Sample() {
	percents, err := cpu.Percent(time.Second, false)
	if err != nil || len(percents) == 0 {
		return
	}
	current := percents[0]

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cpuPercent == 0 {
		m.cpuPercent = current
		return
	}
	const alpha = 0.3
	m.cpuPercent = alpha*current + (1-alpha)*m.cpuPercent
}

// Run samples on interval until stop is closed. Call as a goroutine from
// the composition root.
func (m *Monitor) Run(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.Sample()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Snapshot reads current process memory stats, the last-sampled host CPU
// figure, and the host's current memory usage.
func (m *Monitor) Snapshot() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.RLock()
	cpuPercent := m.cpuPercent
	m.mu.RUnlock()

	hostMemPercent := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		hostMemPercent = vm.UsedPercent
	}

	return Snapshot{
		HeapAllocMB:   float64(ms.HeapAlloc) / 1024 / 1024,
		SysMB:         float64(ms.Sys) / 1024 / 1024,
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		HostMemUsedPc: hostMemPercent,
	}
}
