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
	// trafficSpikeFactor flags incoming traffic jumping past this multiple of
	// the previous sample.
	trafficSpikeFactor = 3.0
	// trafficSpikeFloorMbps suppresses spike alerts on negligible baselines.
	trafficSpikeFloorMbps = 10.0
	// packetLossJumpMB flags packet loss growing by more than this between
	// consecutive samples.
	packetLossJumpMB = 1.0
)

// suspiciousPorts are common remote-access targets worth flagging whenever
// they show up in the analytics port leaderboard with new traffic.
var suspiciousPorts = map[int]string{
	22:   "SSH",
	3389: "RDP",
	445:  "SMB",
}

// NetworkAnalyzer watches the network rate series for spikes and the
// analytics port leaderboard for activity on remote-access ports. The series
// carries no per-packet addressing, so detection works on rate deltas rather
// than individual flows.
type NetworkAnalyzer struct {
	previous       *telemetry.NetworkSample
	lastPortCounts map[int]int
}

func NewNetworkAnalyzer() *NetworkAnalyzer {
	return &NetworkAnalyzer{
		lastPortCounts: make(map[int]int),
	}
}

func (a *NetworkAnalyzer) Analyze(now time.Time, samples []telemetry.NetworkSample, analytics *telemetry.AnalyticsBundle) []telemetry.Alert {
	var alerts []telemetry.Alert

	if len(samples) > 0 {
		latest := samples[len(samples)-1]
		if a.previous != nil && latest.Timestamp.After(a.previous.Timestamp) {
			alerts = append(alerts, a.compareSamples(now, *a.previous, latest)...)
		}
		if a.previous == nil || latest.Timestamp.After(a.previous.Timestamp) {
			a.previous = &latest
		}
	}

	if analytics != nil {
		alerts = append(alerts, a.checkPorts(now, analytics.Network.TopPorts)...)
	}
	return alerts
}

func (a *NetworkAnalyzer) compareSamples(now time.Time, prev, cur telemetry.NetworkSample) []telemetry.Alert {
	var alerts []telemetry.Alert

	if cur.IncomingMbps > trafficSpikeFloorMbps && cur.IncomingMbps > prev.IncomingMbps*trafficSpikeFactor {
		alerts = append(alerts, telemetry.Alert{
			Timestamp:   now,
			Type:        "Traffic Spike",
			Severity:    telemetry.SeverityMedium,
			Source:      "network_traffic",
			Description: fmt.Sprintf("Incoming traffic jumped from %.1f to %.1f Mbps", prev.IncomingMbps, cur.IncomingMbps),
		})
	}

	if loss := cur.PacketLossMB - prev.PacketLossMB; loss > packetLossJumpMB {
		alerts = append(alerts, telemetry.Alert{
			Timestamp:   now,
			Type:        "Packet Loss Spike",
			Severity:    telemetry.SeverityMedium,
			Source:      "network_traffic",
			Description: fmt.Sprintf("Packet loss grew by %.1f MB since the previous sample", loss),
		})
	}
	return alerts
}

// checkPorts alerts when a remote-access port gains traffic since the last
// scan. Counts are tracked so an unchanged leaderboard stays quiet.
func (a *NetworkAnalyzer) checkPorts(now time.Time, topPorts []telemetry.PortCount) []telemetry.Alert {
	var alerts []telemetry.Alert
	for _, pc := range topPorts {
		service, suspicious := suspiciousPorts[pc.Port]
		if !suspicious {
			continue
		}
		if pc.Count > a.lastPortCounts[pc.Port] {
			alerts = append(alerts, telemetry.Alert{
				Timestamp:   now,
				Type:        service + " Access Attempt",
				Severity:    telemetry.SeverityMedium,
				Source:      "network_traffic",
				Description: fmt.Sprintf("New traffic to %s port %d (%d packets observed)", service, pc.Port, pc.Count),
			})
		}
		a.lastPortCounts[pc.Port] = pc.Count
	}
	return alerts
}
