// Package stats derives numbers for the dashboard: host resource
// samples for the sparkline history, and aggregates computed from Zeek
// analyzer logs.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/networktap/networktap/internal/logger"
)

const (
	// SampleInterval is the cadence of the background sampler.
	SampleInterval = 30 * time.Second

	// HistorySize is how many samples the ring keeps, half a
	// sparkline-hour at the default interval.
	HistorySize = 30
)

// Sample is one point of host resource usage.
type Sample struct {
	Time    time.Time `json:"time"`
	CPUPct  float64   `json:"cpu_pct"`
	MemPct  float64   `json:"mem_pct"`
	DiskPct float64   `json:"disk_pct"`
}

// SystemStatus is the full on-demand view for GET /system/status.
type SystemStatus struct {
	CPUPct        float64 `json:"cpu_pct"`
	MemTotal      uint64  `json:"mem_total"`
	MemUsed       uint64  `json:"mem_used"`
	MemPct        float64 `json:"mem_pct"`
	DiskTotal     uint64  `json:"disk_total"`
	DiskUsed      uint64  `json:"disk_used"`
	DiskPct       float64 `json:"disk_pct"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
}

// Sampler collects host samples on a timer and keeps a bounded history.
// diskPath points at the capture volume, read from the live config.
type Sampler struct {
	diskPath func() string

	mu      sync.Mutex
	history []Sample
}

// NewSampler creates a Sampler over the capture volume accessor.
func NewSampler(diskPath func() string) *Sampler {
	return &Sampler{diskPath: diskPath}
}

// Run samples until ctx is canceled. One sample is taken immediately so
// the history is never empty after startup.
func (s *Sampler) Run(ctx context.Context) error {
	s.sample(ctx)

	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	st, err := s.Current(ctx)
	if err != nil {
		logger.Debug("system sample failed", "error", err)
		return
	}
	s.push(Sample{
		Time:    time.Now().UTC(),
		CPUPct:  st.CPUPct,
		MemPct:  st.MemPct,
		DiskPct: st.DiskPct,
	})
}

func (s *Sampler) push(smp Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, smp)
	if len(s.history) > HistorySize {
		s.history = s.history[len(s.history)-HistorySize:]
	}
}

// History returns the retained samples, oldest first.
func (s *Sampler) History() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sample(nil), s.history...)
}

// Current reads a fresh resource snapshot.
func (s *Sampler) Current(ctx context.Context) (SystemStatus, error) {
	var st SystemStatus

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		st.CPUPct = pct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return st, err
	}
	st.MemTotal = vm.Total
	st.MemUsed = vm.Used
	st.MemPct = vm.UsedPercent

	if du, err := disk.UsageWithContext(ctx, s.diskPath()); err == nil {
		st.DiskTotal = du.Total
		st.DiskUsed = du.Used
		st.DiskPct = du.UsedPercent
	}

	if up, err := host.UptimeWithContext(ctx); err == nil {
		st.UptimeSeconds = up
	}
	return st, nil
}
