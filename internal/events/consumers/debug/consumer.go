// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package debug logs every bus event at verbose level, for development runs.
package debug

import (
	"context"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/momanyid/ids-v1/internal/events"
)

const consumerName = "debug"

// Config filters which events get logged.
type Config struct {
	// Kinds limits logging to these event kinds; empty means everything.
	Kinds []events.Kind
}

func (c Config) shouldLog(kind events.Kind) bool {
	if len(c.Kinds) == 0 {
		return true
	}
	for _, k := range c.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Consumer logs bus traffic. It never fails an event.
type Consumer struct {
	config Config
	logger logr.Logger

	healthy         atomic.Bool
	eventsProcessed atomic.Uint64
}

func NewConsumer(config Config, logger logr.Logger) *Consumer {
	c := &Consumer{
		config: config,
		logger: logger.WithName("debug-consumer"),
	}
	c.healthy.Store(true)
	return c
}

func (c *Consumer) Name() string {
	return consumerName
}

func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting debug consumer", "kinds", c.config.Kinds)
	return nil
}

func (c *Consumer) HandleEvent(event events.Event) error {
	if !c.config.shouldLog(event.Kind) {
		return nil
	}
	c.eventsProcessed.Add(1)

	switch event.Kind {
	case events.KindSnapshotUpdated:
		populated := 0
		if event.Snapshot != nil {
			for _, slot := range event.Snapshot.Slots {
				if slot.Populated() {
					populated++
				}
			}
		}
		c.logger.Info("snapshot updated",
			"context", event.Context, "populated_slots", populated)
	case events.KindAlertRaised:
		if event.Alert != nil {
			c.logger.Info("alert raised",
				"type", event.Alert.Type,
				"severity", event.Alert.Severity,
				"source", event.Alert.Source,
				"description", event.Alert.Description)
		}
	default:
		c.logger.V(1).Info("event received", "kind", event.Kind, "source", event.Source)
	}
	return nil
}

func (c *Consumer) Health() events.ConsumerHealth {
	return events.ConsumerHealth{
		Healthy:     c.healthy.Load(),
		EventsCount: c.eventsProcessed.Load(),
	}
}

var _ events.Consumer = (*Consumer)(nil)
