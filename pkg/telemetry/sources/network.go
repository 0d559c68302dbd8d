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
	telemetry.RegisterSource(telemetry.SourceNetwork, NewNetworkSource)
}

// NetworkSource fetches the network rate series.
type NetworkSource struct {
	telemetry.BaseSource
	client client
}

func NewNetworkSource(logger logr.Logger, config telemetry.SourceConfig) (telemetry.Source, error) {
	return &NetworkSource{
		BaseSource: telemetry.NewBaseSource(telemetry.SourceNetwork, "upstream-network", logger),
		client:     newClient(config),
	}, nil
}

type networkWire struct {
	Timestamp       unixTime `json:"timestamp"`
	IncomingMbps    float64  `json:"incoming_mbps"`
	OutgoingKbps    float64  `json:"outgoing_kbps"`
	TotalIncomingGB float64  `json:"total_incoming_gb"`
	TotalOutgoingMB float64  `json:"total_outgoing_mb"`
	PacketLossMB    float64  `json:"packet_loss_mb"`
}

func (s *NetworkSource) Fetch(ctx context.Context, window time.Duration) (any, error) {
	var wire []networkWire
	if err := s.client.getJSON(ctx, s.Kind(), "/network", window, &wire); err != nil {
		return nil, err
	}

	samples := make([]telemetry.NetworkSample, len(wire))
	for i, w := range wire {
		samples[i] = telemetry.NetworkSample{
			Timestamp:       w.Timestamp.Time,
			IncomingMbps:    w.IncomingMbps,
			OutgoingKbps:    w.OutgoingKbps,
			TotalIncomingGB: w.TotalIncomingGB,
			TotalOutgoingMB: w.TotalOutgoingMB,
			PacketLossMB:    w.PacketLossMB,
		}
	}
	sortAscending(samples, func(n telemetry.NetworkSample) time.Time { return n.Timestamp })
	return samples, nil
}
