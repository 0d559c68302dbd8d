// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sources

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/momanyid/ids-v1/pkg/telemetry"
)

// LocalMetricsSource samples the local host via gopsutil instead of querying
// an upstream. It is constructed explicitly for colocated deployments; it is
// not in the init registry because local and upstream modes are mutually
// exclusive per kind.
type LocalMetricsSource struct {
	telemetry.BaseSource

	mu        sync.Mutex
	lastTimes *cpu.TimesStat
}

func NewLocalMetricsSource(logger logr.Logger, _ telemetry.SourceConfig) (telemetry.Source, error) {
	return &LocalMetricsSource{
		BaseSource: telemetry.NewBaseSource(telemetry.SourceMetrics, "local-metrics", logger),
	}, nil
}

// Fetch returns a single-sample series for the current instant. The CPU
// breakdown needs two readings; the first call after startup reports overall
// CPU only and leaves the breakdown zeroed.
func (s *LocalMetricsSource) Fetch(ctx context.Context, _ time.Duration) (any, error) {
	sample := telemetry.MetricSample{Timestamp: time.Now()}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, telemetry.NewFetchError(s.Kind(), telemetry.FetchBadResponse, "reading memory", err)
	}
	sample.MemoryPercent = vm.UsedPercent
	sample.MemoryUsedMB = float64(vm.Used) / (1024 * 1024)
	sample.MemoryTotalMB = float64(vm.Total) / (1024 * 1024)

	if sm, err := mem.SwapMemoryWithContext(ctx); err == nil {
		pct := sm.UsedPercent
		sample.SwapPercent = &pct
	}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, telemetry.NewFetchError(s.Kind(), telemetry.FetchBadResponse, "reading cpu", err)
	}
	if len(percents) > 0 {
		sample.CPUPercent = clampPercent(percents[0])
	}
	sample.CPUBreakdown = s.cpuBreakdown(ctx)

	if avg, err := load.AvgWithContext(ctx); err == nil {
		sample.Load = &telemetry.LoadAverages{
			Load1:  avg.Load1,
			Load5:  avg.Load5,
			Load15: avg.Load15,
		}
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		sample.DiskPercent = du.UsedPercent
	}

	if pids, err := process.PidsWithContext(ctx); err == nil {
		sample.ProcessCount = len(pids)
	}

	return []telemetry.MetricSample{sample}, nil
}

// cpuBreakdown computes per-mode percentages from the delta against the
// previous reading.
func (s *LocalMetricsSource) cpuBreakdown(ctx context.Context) telemetry.CPUBreakdown {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(times) == 0 {
		return telemetry.CPUBreakdown{}
	}
	cur := times[0]

	s.mu.Lock()
	prev := s.lastTimes
	s.lastTimes = &cur
	s.mu.Unlock()

	if prev == nil {
		return telemetry.CPUBreakdown{}
	}

	total := totalCPUTime(cur) - totalCPUTime(*prev)
	if total <= 0 {
		return telemetry.CPUBreakdown{}
	}
	pct := func(now, before float64) float64 {
		return clampPercent((now - before) / total * 100)
	}
	return telemetry.CPUBreakdown{
		User:    pct(cur.User, prev.User),
		System:  pct(cur.System, prev.System),
		Nice:    pct(cur.Nice, prev.Nice),
		IO:      pct(cur.Irq, prev.Irq),
		SoftIRQ: pct(cur.Softirq, prev.Softirq),
		IOWait:  pct(cur.Iowait, prev.Iowait),
	}
}

func totalCPUTime(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Nice + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// LocalStatusSource reports the local host's uptime in place of the upstream
// engine status.
type LocalStatusSource struct {
	telemetry.BaseSource
}

func NewLocalStatusSource(logger logr.Logger, _ telemetry.SourceConfig) (telemetry.Source, error) {
	return &LocalStatusSource{
		BaseSource: telemetry.NewBaseSource(telemetry.SourceStatus, "local-status", logger),
	}, nil
}

func (s *LocalStatusSource) Fetch(ctx context.Context, _ time.Duration) (any, error) {
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return nil, telemetry.NewFetchError(s.Kind(), telemetry.FetchBadResponse, "reading uptime", err)
	}
	return &telemetry.StatusInfo{
		Status:     "running",
		Uptime:     int64(uptime),
		LastUpdate: time.Now().UTC().Format(time.RFC3339),
	}, nil
}
