// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package telemetry

import (
	"time"
)

// SourceKind identifies one upstream data source
type SourceKind string

const (
	SourceStatus    SourceKind = "status"
	SourceMetrics   SourceKind = "metrics"
	SourceNetwork   SourceKind = "network"
	SourceLogs      SourceKind = "logs"
	SourceAlerts    SourceKind = "alerts"
	SourceThreats   SourceKind = "threats"
	SourceAnalytics SourceKind = "analytics"
)

// AllSourceKinds lists every source the aggregator knows about, in the order
// the read surface reports them.
func AllSourceKinds() []SourceKind {
	return []SourceKind{
		SourceStatus,
		SourceMetrics,
		SourceNetwork,
		SourceLogs,
		SourceAlerts,
		SourceThreats,
		SourceAnalytics,
	}
}

// Severity is the normalized alert/log severity scale.
// An empty value means the record arrived without a severity and has not been
// through classification yet.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	// SeverityUnknown is only used as a bucket label for records that never
	// got a severity; the classifier never produces it.
	SeverityUnknown Severity = "unknown"
)

// LogType is the normalized log/alert category.
type LogType string

const (
	LogTypeIntrusion      LogType = "intrusion"
	LogTypeAuthentication LogType = "authentication"
	LogTypeFirewall       LogType = "firewall"
	LogTypeSystem         LogType = "system"
)

// LoadAverages holds the 1/5/15 minute load samples. A nil pointer on
// MetricSample means the upstream did not report load at all, which is
// different from a measured zero.
type LoadAverages struct {
	Load1  float64 `json:"1m"`
	Load5  float64 `json:"5m"`
	Load15 float64 `json:"15m"`
}

// CPUBreakdown is the per-mode CPU split reported with each metric sample.
type CPUBreakdown struct {
	User    float64 `json:"user"`
	System  float64 `json:"system"`
	Nice    float64 `json:"nice"`
	IO      float64 `json:"io"`
	SoftIRQ float64 `json:"softirq"`
	IOWait  float64 `json:"iowait"`
}

// MetricSample is one point of host telemetry. Timestamps are strictly
// increasing within a fetched batch.
type MetricSample struct {
	Timestamp     time.Time     `json:"timestamp"`
	CPUPercent    float64       `json:"cpu_percent"`
	MemoryPercent float64       `json:"memory_percent"`
	Load          *LoadAverages `json:"load,omitempty"`
	SwapPercent   *float64      `json:"swap_percent,omitempty"`
	DiskPercent   float64       `json:"disk_percent"`
	ProcessCount  int           `json:"process_count"`
	MemoryUsedMB  float64       `json:"memory_used_mb"`
	MemoryTotalMB float64       `json:"memory_total_mb"`
	CPUBreakdown  CPUBreakdown  `json:"cpu_breakdown"`
}

// NetworkSample is one point of the network rate series.
type NetworkSample struct {
	Timestamp       time.Time `json:"timestamp"`
	IncomingMbps    float64   `json:"incoming_mbps"`
	OutgoingKbps    float64   `json:"outgoing_kbps"`
	TotalIncomingGB float64   `json:"total_incoming_gb"`
	TotalOutgoingMB float64   `json:"total_outgoing_mb"`
	PacketLossMB    float64   `json:"packet_loss_mb"`
}

// LogRecord is a raw or classified log line. Severity and Type are optional
// on ingestion; the classifier fills them deterministically when absent.
type LogRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	Severity  Severity  `json:"severity,omitempty"`
	Type      LogType   `json:"type,omitempty"`
}

// Alert is a detection result, either fetched from the upstream or raised by
// the local analyzers.
type Alert struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	Severity    Severity  `json:"severity"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
}

// StatusInfo is the upstream's self-reported state.
type StatusInfo struct {
	Status     string `json:"status"`
	Uptime     int64  `json:"uptime"`
	LastUpdate string `json:"last_update"`
}

// AlertSummary counts alerts by type and severity.
type AlertSummary struct {
	TotalAlerts int            `json:"total_alerts"`
	ByType      map[string]int `json:"by_type"`
	BySeverity  map[string]int `json:"by_severity"`
}

// ThreatCount is one entry of a threat leaderboard.
type ThreatCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ThreatSummary aggregates recent alert activity. TopThreats is ordered
// descending by count.
type ThreatSummary struct {
	TotalAlerts    int            `json:"total_alerts"`
	AlertsLastHour int            `json:"alerts_last_hour"`
	AlertsLastDay  int            `json:"alerts_last_day"`
	SeverityCounts map[string]int `json:"severity_counts"`
	TopThreats     []ThreatCount  `json:"top_threats"`
}

// AnalyticsTimeSeries carries the pre-shaped chart series from the upstream.
type AnalyticsTimeSeries struct {
	Timestamps []string  `json:"timestamps"`
	CPU        []float64 `json:"cpu"`
	Memory     []float64 `json:"memory"`
}

// ProtocolCount is a protocol name with its packet count.
type ProtocolCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// PortCount is a destination port with its packet count.
type PortCount struct {
	Port  int `json:"port"`
	Count int `json:"count"`
}

// AnalyticsNetwork is the network half of the analytics bundle.
type AnalyticsNetwork struct {
	Protocols []ProtocolCount `json:"protocols"`
	TopPorts  []PortCount     `json:"top_ports"`
}

// AnalyticsBundle is the dashboard analytics payload.
type AnalyticsBundle struct {
	TimeSeries          AnalyticsTimeSeries `json:"time_series"`
	Network             AnalyticsNetwork    `json:"network"`
	AlertsCount         int                 `json:"alerts_count"`
	NetworkPacketsCount int                 `json:"network_packets_count"`
	TotalLogEntries     int                 `json:"total_log_entries"`
}

// Slot holds the latest known state for one source. Payload and FetchedAt are
// only written on a successful fetch; a failed fetch updates LastError and
// Failures and leaves the payload in place.
type Slot struct {
	Payload   any
	FetchedAt time.Time
	LastError error
	// Failures counts consecutive failed fetch attempts; reset on success.
	Failures int
}

// Populated reports whether this slot has ever seen a successful fetch.
// An unpopulated slot is different from a stale one: stale data is shown with
// its last good value, "no data yet" must not be mistaken for measured zero.
func (s Slot) Populated() bool {
	return !s.FetchedAt.IsZero()
}

// Stale reports whether the slot holds data from a prior success but the most
// recent attempt failed.
func (s Slot) Stale() bool {
	return s.Populated() && s.LastError != nil
}

// Snapshot is the latest merged state across all sources. Snapshots are
// immutable once published; the aggregator builds a new value and swaps it in
// rather than mutating in place.
type Snapshot struct {
	Taken time.Time
	Slots map[SourceKind]Slot
}

// NewSnapshot returns an empty snapshot with every slot unpopulated.
func NewSnapshot() *Snapshot {
	return &Snapshot{Slots: make(map[SourceKind]Slot, len(AllSourceKinds()))}
}

// Clone returns a shallow copy with its own slot map. Payloads are shared:
// they are treated as immutable after a fetch completes.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Taken: s.Taken,
		Slots: make(map[SourceKind]Slot, len(s.Slots)),
	}
	for kind, slot := range s.Slots {
		out.Slots[kind] = slot
	}
	return out
}

// Slot returns the slot for kind, zero-valued (unpopulated) if never fetched.
func (s *Snapshot) Slot(kind SourceKind) Slot {
	return s.Slots[kind]
}

// Status returns the status payload, or nil if the slot is unpopulated.
func (s *Snapshot) Status() *StatusInfo {
	v, _ := s.Slots[SourceStatus].Payload.(*StatusInfo)
	return v
}

// Metrics returns the metric series, or nil if the slot is unpopulated.
func (s *Snapshot) Metrics() []MetricSample {
	v, _ := s.Slots[SourceMetrics].Payload.([]MetricSample)
	return v
}

// Network returns the network series, or nil if the slot is unpopulated.
func (s *Snapshot) Network() []NetworkSample {
	v, _ := s.Slots[SourceNetwork].Payload.([]NetworkSample)
	return v
}

// Logs returns the classified log batch, or nil if the slot is unpopulated.
func (s *Snapshot) Logs() []LogRecord {
	v, _ := s.Slots[SourceLogs].Payload.([]LogRecord)
	return v
}

// Alerts returns the upstream alert summary, or nil if the slot is unpopulated.
func (s *Snapshot) Alerts() *AlertSummary {
	v, _ := s.Slots[SourceAlerts].Payload.(*AlertSummary)
	return v
}

// Threats returns the upstream threat summary, or nil if the slot is unpopulated.
func (s *Snapshot) Threats() *ThreatSummary {
	v, _ := s.Slots[SourceThreats].Payload.(*ThreatSummary)
	return v
}

// Analytics returns the analytics bundle, or nil if the slot is unpopulated.
func (s *Snapshot) Analytics() *AnalyticsBundle {
	v, _ := s.Slots[SourceAnalytics].Payload.(*AnalyticsBundle)
	return v
}
