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
	telemetry.RegisterSource(telemetry.SourceStatus, NewStatusSource)
}

// StatusSource fetches the upstream engine's self-reported state.
type StatusSource struct {
	telemetry.BaseSource
	client client
}

func NewStatusSource(logger logr.Logger, config telemetry.SourceConfig) (telemetry.Source, error) {
	return &StatusSource{
		BaseSource: telemetry.NewBaseSource(telemetry.SourceStatus, "upstream-status", logger),
		client:     newClient(config),
	}, nil
}

// Fetch ignores window: status is latest-state only.
func (s *StatusSource) Fetch(ctx context.Context, _ time.Duration) (any, error) {
	var info telemetry.StatusInfo
	if err := s.client.getJSON(ctx, s.Kind(), "/status", 0, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
