package core

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceStats are the process and host figures the health supervisor weighs
type ResourceStats struct {
	ProcessRSSMB        float64 `json:"process_rss_mb"`
	ProcessCPUPercent   float64 `json:"process_cpu_percent"`
	HeapAllocMB         float64 `json:"heap_alloc_mb"`
	Goroutines          int     `json:"goroutines"`
	SystemMemoryPercent float64 `json:"system_memory_percent"`
	SystemMemoryMB      float64 `json:"system_memory_mb"`
	CPUCores            int     `json:"cpu_cores"`
}

// ProcessSampler samples the current process with gopsutil
type ProcessSampler struct {
	proc *process.Process

	mu      sync.Mutex
	totalMB float64
	cores   int
}

// NewProcessSampler creates a sampler for the running process
func NewProcessSampler() (*ProcessSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open own process: %w", err)
	}
	return &ProcessSampler{proc: p}, nil
}

// Sample collects one set of figures. Partial failures leave fields zero;
// only a failure to read anything is returned.
func (s *ProcessSampler) Sample(ctx context.Context) (ResourceStats, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats := ResourceStats{
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		Goroutines:  runtime.NumGoroutine(),
		CPUCores:    s.cpuCores(ctx),
	}

	var firstErr error
	if info, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
		stats.ProcessRSSMB = float64(info.RSS) / 1024 / 1024
	} else {
		firstErr = fmt.Errorf("failed to read process memory: %w", err)
	}
	if pct, err := s.proc.CPUPercentWithContext(ctx); err == nil {
		stats.ProcessCPUPercent = pct
	}
	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.SystemMemoryPercent = v.UsedPercent
		stats.SystemMemoryMB = s.systemMemoryMB(float64(v.Total) / 1024 / 1024)
	} else if firstErr != nil {
		return stats, fmt.Errorf("failed to read system memory: %w", err)
	}
	return stats, nil
}

func (s *ProcessSampler) systemMemoryMB(observed float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.totalMB == 0 {
		s.totalMB = observed
	}
	return s.totalMB
}

// cpuCores returns the logical core count (cached)
func (s *ProcessSampler) cpuCores(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cores > 0 {
		return s.cores
	}
	// Try gopsutil first (logical cores)
	if counts, err := cpu.CountsWithContext(ctx, true); err == nil && counts > 0 {
		s.cores = counts
		return s.cores
	}
	// Fallback to runtime.NumCPU
	s.cores = runtime.NumCPU()
	return s.cores
}
