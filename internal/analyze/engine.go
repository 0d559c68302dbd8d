// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package analyze

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/momanyid/ids-v1/pkg/telemetry"
)

const (
	// maxRetainedAlerts bounds the in-memory alert buffer; oldest entries are
	// dropped first.
	maxRetainedAlerts = 500

	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
	topN       = 5
)

// Engine runs every analyzer over a published snapshot and retains the raised
// alerts. Scans are serialized: the fetch windows overlap between refresh
// cycles, so the engine only feeds each analyzer the log records it has not
// seen yet.
type Engine struct {
	logger logr.Logger
	now    func() time.Time

	logs    *LogAnalyzer
	metrics *MetricsAnalyzer
	network *NetworkAnalyzer

	mu          sync.Mutex
	lastLogSeen time.Time
	alerts      []telemetry.Alert
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNowFunc replaces the wall clock, for tests.
func WithNowFunc(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(logger logr.Logger, opts ...EngineOption) (*Engine, error) {
	if logger.GetSink() == nil {
		return nil, fmt.Errorf("logger is required")
	}

	e := &Engine{
		logger:  logger.WithName("analyzer"),
		now:     time.Now,
		logs:    NewLogAnalyzer(),
		metrics: NewMetricsAnalyzer(),
		network: NewNetworkAnalyzer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Scan analyzes one snapshot and returns the alerts it raised, already
// appended to the retained buffer.
func (e *Engine) Scan(snap *telemetry.Snapshot) []telemetry.Alert {
	if snap == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var raised []telemetry.Alert

	if records := e.unseenLogs(snap.Logs()); len(records) > 0 {
		raised = append(raised, e.logs.Analyze(now, records)...)
	}
	raised = append(raised, e.metrics.Analyze(now, snap.Metrics())...)
	raised = append(raised, e.network.Analyze(now, snap.Network(), snap.Analytics())...)

	if len(raised) > 0 {
		e.alerts = append(e.alerts, raised...)
		if overflow := len(e.alerts) - maxRetainedAlerts; overflow > 0 {
			e.alerts = e.alerts[overflow:]
		}
		for _, alert := range raised {
			e.logger.V(1).Info("alert raised",
				"type", alert.Type, "severity", alert.Severity, "source", alert.Source)
		}
	}
	return raised
}

// unseenLogs returns the suffix of records newer than the last scanned
// timestamp. Batches are ascending, so a single cut point suffices.
func (e *Engine) unseenLogs(records []telemetry.LogRecord) []telemetry.LogRecord {
	idx := sort.Search(len(records), func(i int) bool {
		return records[i].Timestamp.After(e.lastLogSeen)
	})
	fresh := records[idx:]
	if len(fresh) > 0 {
		e.lastLogSeen = fresh[len(fresh)-1].Timestamp
	}
	return fresh
}

// Alerts returns a copy of the retained alert buffer, oldest first.
func (e *Engine) Alerts() []telemetry.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]telemetry.Alert, len(e.alerts))
	copy(out, e.alerts)
	return out
}

// ThreatSummary aggregates the retained alerts into recent-activity windows
// and a leaderboard of the most frequent alert types.
func (e *Engine) ThreatSummary() telemetry.ThreatSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	summary := telemetry.ThreatSummary{
		TotalAlerts:    len(e.alerts),
		SeverityCounts: make(map[string]int),
	}

	typeCounts := make(map[string]int)
	for _, alert := range e.alerts {
		summary.SeverityCounts[string(alert.Severity)]++
		typeCounts[alert.Type]++

		age := now.Sub(alert.Timestamp)
		if age <= hourWindow {
			summary.AlertsLastHour++
		}
		if age <= dayWindow {
			summary.AlertsLastDay++
		}
	}

	top := make([]telemetry.ThreatCount, 0, len(typeCounts))
	for t, n := range typeCounts {
		top = append(top, telemetry.ThreatCount{Type: t, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Type < top[j].Type
	})
	if len(top) > topN {
		top = top[:topN]
	}
	summary.TopThreats = top
	return summary
}
