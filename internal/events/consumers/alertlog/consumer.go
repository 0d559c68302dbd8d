// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package alertlog persists raised alerts as JSON lines in a size-rotated log
// file and keeps running totals for the alert summary endpoint.
package alertlog

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/momanyid/ids-v1/internal/events"
	"github.com/momanyid/ids-v1/pkg/telemetry"
)

const consumerName = "alertlog"

// Config controls where the alert log lives and how it rotates.
type Config struct {
	// Path of the alert log file.
	Path string
	// MaxSizeMB triggers rotation once the file exceeds this size.
	MaxSizeMB int
	// MaxBackups bounds how many rotated files are kept.
	MaxBackups int
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = "security_alerts.log"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 3
	}
}

// entry is the persisted shape of one alert line.
type entry struct {
	Timestamp   string `json:"timestamp"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Source      string `json:"source"`
	Description string `json:"description"`
}

// Consumer appends alert events to the rotating log and tallies them by type
// and severity.
type Consumer struct {
	logger logr.Logger
	out    *lumberjack.Logger

	healthy     atomic.Bool
	errorsCount atomic.Uint64
	lastError   atomic.Pointer[error]

	mu          sync.RWMutex
	totalAlerts int
	byType      map[string]int
	bySeverity  map[string]int
}

func NewConsumer(config Config, logger logr.Logger) *Consumer {
	config.applyDefaults()

	c := &Consumer{
		logger: logger.WithName("alertlog-consumer"),
		out: &lumberjack.Logger{
			Filename:   config.Path,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
		},
		byType:     make(map[string]int),
		bySeverity: make(map[string]int),
	}
	c.healthy.Store(true)
	return c
}

func (c *Consumer) Name() string {
	return consumerName
}

func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting alert log consumer", "path", c.out.Filename)
	go func() {
		<-ctx.Done()
		if err := c.out.Close(); err != nil {
			c.logger.Error(err, "closing alert log")
		}
	}()
	return nil
}

// HandleEvent ignores everything but raised alerts.
func (c *Consumer) HandleEvent(event events.Event) error {
	if event.Kind != events.KindAlertRaised || event.Alert == nil {
		return nil
	}
	alert := event.Alert

	line, err := json.Marshal(entry{
		Timestamp:   alert.Timestamp.UTC().Format(time.RFC3339),
		Type:        alert.Type,
		Severity:    string(alert.Severity),
		Source:      alert.Source,
		Description: alert.Description,
	})
	if err != nil {
		return c.fail(err)
	}
	if _, err := c.out.Write(append(line, '\n')); err != nil {
		return c.fail(err)
	}
	// A successful write clears an earlier failure, e.g. after rotation
	// recovers disk space.
	c.healthy.Store(true)

	c.mu.Lock()
	c.totalAlerts++
	c.byType[alert.Type]++
	c.bySeverity[string(alert.Severity)]++
	c.mu.Unlock()
	return nil
}

func (c *Consumer) fail(err error) error {
	c.healthy.Store(false)
	c.errorsCount.Add(1)
	c.lastError.Store(&err)
	return err
}

// Summary returns the running totals since startup.
func (c *Consumer) Summary() telemetry.AlertSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byType := make(map[string]int, len(c.byType))
	for k, v := range c.byType {
		byType[k] = v
	}
	bySeverity := make(map[string]int, len(c.bySeverity))
	for k, v := range c.bySeverity {
		bySeverity[k] = v
	}
	return telemetry.AlertSummary{
		TotalAlerts: c.totalAlerts,
		ByType:      byType,
		BySeverity:  bySeverity,
	}
}

func (c *Consumer) Health() events.ConsumerHealth {
	var lastErr error
	if errPtr := c.lastError.Load(); errPtr != nil {
		lastErr = *errPtr
	}

	c.mu.RLock()
	total := uint64(c.totalAlerts)
	c.mu.RUnlock()

	return events.ConsumerHealth{
		Healthy:     c.healthy.Load(),
		LastError:   lastErr,
		EventsCount: total,
		ErrorsCount: c.errorsCount.Load(),
	}
}

var _ events.Consumer = (*Consumer)(nil)
