// Package sysinfo periodically samples host CPU and memory usage for
// /health/status. It is read-only reporting: nothing in Pulse's
// admission or drain path gates on these numbers (spec §4.2's
// admission algorithm is capacity-and-rate only).
package sysinfo

import (
	"context"
	"sync"
	"time"

	"github.com/adred-codev/pulse/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sample is the most recent host resource reading.
type Sample struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Sampler polls host CPU/memory on an interval and caches the latest
// reading behind a read-write mutex for reads from HTTP handlers.
type Sampler struct {
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.RWMutex
	latest Sample
}

// New constructs a Sampler. Call Run in a goroutine to start polling.
func New(interval time.Duration, logger zerolog.Logger) *Sampler {
	return &Sampler{
		interval: interval,
		logger:   logger.With().Str("component", "sysinfo").Logger(),
	}
}

// Run polls until ctx is cancelled, taking one sample immediately.
func (s *Sampler) Run(ctx context.Context) {
	s.sample()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	cpuPercents, err := cpu.Percent(0, false)
	var cpuPct float64
	if err != nil {
		s.logger.Debug().Err(err).Msg("cpu sample failed")
	} else if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	var memPct float64
	if vm, err := mem.VirtualMemory(); err != nil {
		s.logger.Debug().Err(err).Msg("memory sample failed")
	} else {
		memPct = vm.UsedPercent
	}

	s.mu.Lock()
	s.latest = Sample{CPUPercent: cpuPct, MemoryPercent: memPct, SampledAt: time.Now()}
	s.mu.Unlock()

	metrics.HostCPUPercent.Set(cpuPct)
	metrics.HostMemoryPercent.Set(memPct)
}

// Latest returns the most recently taken sample.
func (s *Sampler) Latest() Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}
