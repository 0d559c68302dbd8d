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
	telemetry.RegisterSource(telemetry.SourceAnalytics, NewAnalyticsSource)
}

// AnalyticsSource fetches the pre-shaped dashboard analytics bundle.
type AnalyticsSource struct {
	telemetry.BaseSource
	client client
}

func NewAnalyticsSource(logger logr.Logger, config telemetry.SourceConfig) (telemetry.Source, error) {
	return &AnalyticsSource{
		BaseSource: telemetry.NewBaseSource(telemetry.SourceAnalytics, "upstream-analytics", logger),
		client:     newClient(config),
	}, nil
}

func (s *AnalyticsSource) Fetch(ctx context.Context, window time.Duration) (any, error) {
	var bundle telemetry.AnalyticsBundle
	if err := s.client.getJSON(ctx, s.Kind(), "/analytics", window, &bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}
