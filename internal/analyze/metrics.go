// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package analyze

import (
	"fmt"
	"time"

	"github.com/momanyid/ids-v1/pkg/telemetry"
)

const (
	cpuThreshold    = 90.0
	memoryThreshold = 85.0
	// processJumpThreshold new processes between consecutive scans raise an
	// alert.
	processJumpThreshold = 10
)

// MetricsAnalyzer checks the latest host sample against resource thresholds
// and watches for sudden process spawns between scans.
type MetricsAnalyzer struct {
	previous *telemetry.MetricSample
}

func NewMetricsAnalyzer() *MetricsAnalyzer {
	return &MetricsAnalyzer{}
}

func (a *MetricsAnalyzer) Analyze(now time.Time, samples []telemetry.MetricSample) []telemetry.Alert {
	if len(samples) == 0 {
		return nil
	}
	latest := samples[len(samples)-1]

	// A sample already judged last scan stays judged: thresholds fire once
	// per new reading, not once per scan.
	if a.previous != nil && !latest.Timestamp.After(a.previous.Timestamp) {
		return nil
	}

	var alerts []telemetry.Alert
	if latest.CPUPercent > cpuThreshold {
		alerts = append(alerts, telemetry.Alert{
			Timestamp:   now,
			Type:        "High CPU Usage",
			Severity:    telemetry.SeverityHigh,
			Source:      "system_metrics",
			Description: fmt.Sprintf("CPU usage at %.1f%% exceeds threshold of %.0f%%", latest.CPUPercent, cpuThreshold),
		})
	}
	if latest.MemoryPercent > memoryThreshold {
		alerts = append(alerts, telemetry.Alert{
			Timestamp:   now,
			Type:        "High Memory Usage",
			Severity:    telemetry.SeverityHigh,
			Source:      "system_metrics",
			Description: fmt.Sprintf("Memory usage at %.1f%% exceeds threshold of %.0f%%", latest.MemoryPercent, memoryThreshold),
		})
	}

	if a.previous != nil {
		if jump := latest.ProcessCount - a.previous.ProcessCount; jump > processJumpThreshold {
			alerts = append(alerts, telemetry.Alert{
				Timestamp:   now,
				Type:        "Process Spawn Spike",
				Severity:    telemetry.SeverityMedium,
				Source:      "system_metrics",
				Description: fmt.Sprintf("Sudden increase of %d processes detected", jump),
			})
		}
	}

	a.previous = &latest
	return alerts
}
