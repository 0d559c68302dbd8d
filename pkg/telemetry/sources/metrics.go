// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sources

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/momanyid/ids-v1/pkg/telemetry"
)

func init() {
	telemetry.RegisterSource(telemetry.SourceMetrics, NewMetricsSource)
}

// MetricsSource fetches the host telemetry series.
type MetricsSource struct {
	telemetry.BaseSource
	client client
}

func NewMetricsSource(logger logr.Logger, config telemetry.SourceConfig) (telemetry.Source, error) {
	return &MetricsSource{
		BaseSource: telemetry.NewBaseSource(telemetry.SourceMetrics, "upstream-metrics", logger),
		client:     newClient(config),
	}, nil
}

// metricWire mirrors MetricSample with the flexible wire timestamp. Load and
// swap stay pointers: absent is not the same as zero.
type metricWire struct {
	Timestamp     unixTime                `json:"timestamp"`
	CPUPercent    float64                 `json:"cpu_percent"`
	MemoryPercent float64                 `json:"memory_percent"`
	Load          *telemetry.LoadAverages `json:"load"`
	SwapPercent   *float64                `json:"swap_percent"`
	DiskPercent   float64                 `json:"disk_percent"`
	ProcessCount  int                     `json:"process_count"`
	MemoryUsedMB  float64                 `json:"memory_used_mb"`
	MemoryTotalMB float64                 `json:"memory_total_mb"`
	CPUBreakdown  telemetry.CPUBreakdown  `json:"cpu_breakdown"`
}

func (s *MetricsSource) Fetch(ctx context.Context, window time.Duration) (any, error) {
	var wire []metricWire
	if err := s.client.getJSON(ctx, s.Kind(), "/metrics", window, &wire); err != nil {
		return nil, err
	}

	samples := make([]telemetry.MetricSample, len(wire))
	for i, w := range wire {
		samples[i] = telemetry.MetricSample{
			Timestamp:     w.Timestamp.Time,
			CPUPercent:    w.CPUPercent,
			MemoryPercent: w.MemoryPercent,
			Load:          w.Load,
			SwapPercent:   w.SwapPercent,
			DiskPercent:   w.DiskPercent,
			ProcessCount:  w.ProcessCount,
			MemoryUsedMB:  w.MemoryUsedMB,
			MemoryTotalMB: w.MemoryTotalMB,
			CPUBreakdown:  w.CPUBreakdown,
		}
	}
	sortAscending(samples, func(m telemetry.MetricSample) time.Time { return m.Timestamp })
	return samples, nil
}
