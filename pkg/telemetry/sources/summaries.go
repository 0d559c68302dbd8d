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
	telemetry.RegisterSource(telemetry.SourceAlerts, NewAlertsSource)
	telemetry.RegisterSource(telemetry.SourceThreats, NewThreatsSource)
}

// AlertsSource fetches the upstream alert summary.
type AlertsSource struct {
	telemetry.BaseSource
	client client
}

func NewAlertsSource(logger logr.Logger, config telemetry.SourceConfig) (telemetry.Source, error) {
	return &AlertsSource{
		BaseSource: telemetry.NewBaseSource(telemetry.SourceAlerts, "upstream-alerts", logger),
		client:     newClient(config),
	}, nil
}

func (s *AlertsSource) Fetch(ctx context.Context, _ time.Duration) (any, error) {
	var summary telemetry.AlertSummary
	if err := s.client.getJSON(ctx, s.Kind(), "/alerts/summary", 0, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ThreatsSource fetches the upstream threat summary.
type ThreatsSource struct {
	telemetry.BaseSource
	client client
}

func NewThreatsSource(logger logr.Logger, config telemetry.SourceConfig) (telemetry.Source, error) {
	return &ThreatsSource{
		BaseSource: telemetry.NewBaseSource(telemetry.SourceThreats, "upstream-threats", logger),
		client:     newClient(config),
	}, nil
}

func (s *ThreatsSource) Fetch(ctx context.Context, _ time.Duration) (any, error) {
	var summary telemetry.ThreatSummary
	if err := s.client.getJSON(ctx, s.Kind(), "/threats/summary", 0, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
