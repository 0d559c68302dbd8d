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
	"github.com/momanyid/ids-v1/pkg/telemetry/classify"
)

func init() {
	telemetry.RegisterSource(telemetry.SourceLogs, NewLogsSource)
}

// LogsSource fetches the raw log batch and classifies it at the ingestion
// boundary, so everything past this point works on normalized records.
type LogsSource struct {
	telemetry.BaseSource
	client client
}

func NewLogsSource(logger logr.Logger, config telemetry.SourceConfig) (telemetry.Source, error) {
	return &LogsSource{
		BaseSource: telemetry.NewBaseSource(telemetry.SourceLogs, "upstream-logs", logger),
		client:     newClient(config),
	}, nil
}

type logWire struct {
	Timestamp unixTime           `json:"timestamp"`
	Source    string             `json:"source"`
	Content   string             `json:"content"`
	Severity  telemetry.Severity `json:"severity"`
	Type      telemetry.LogType  `json:"type"`
}

func (s *LogsSource) Fetch(ctx context.Context, window time.Duration) (any, error) {
	var wire []logWire
	if err := s.client.getJSON(ctx, s.Kind(), "/logs", window, &wire); err != nil {
		return nil, err
	}

	records := make([]telemetry.LogRecord, len(wire))
	for i, w := range wire {
		records[i] = telemetry.LogRecord{
			Timestamp: w.Timestamp.Time,
			Source:    w.Source,
			Content:   w.Content,
			Severity:  w.Severity,
			Type:      w.Type,
		}
	}
	sortAscending(records, func(r telemetry.LogRecord) time.Time { return r.Timestamp })
	return classify.Batch(records), nil
}
