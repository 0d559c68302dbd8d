// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momanyid/ids-v1/internal/events"
)

// recordingConsumer captures handled events and can be told to fail.
type recordingConsumer struct {
	name string
	fail error

	mu       sync.Mutex
	received []events.Event
	errs     uint64
}

func (c *recordingConsumer) Name() string                    { return c.name }
func (c *recordingConsumer) Start(ctx context.Context) error { return nil }

func (c *recordingConsumer) HandleEvent(event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		c.errs++
		return c.fail
	}
	c.received = append(c.received, event)
	return nil
}

func (c *recordingConsumer) Health() events.ConsumerHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return events.ConsumerHealth{
		Healthy:     c.fail == nil,
		LastError:   c.fail,
		EventsCount: uint64(len(c.received)),
		ErrorsCount: c.errs,
	}
}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func TestRouterPublishFansOut(t *testing.T) {
	router := events.NewRouter(testr.New(t))
	a := &recordingConsumer{name: "a"}
	b := &recordingConsumer{name: "b"}
	require.NoError(t, router.RegisterConsumer(a))
	require.NoError(t, router.RegisterConsumer(b))

	event := events.Event{Timestamp: time.Now(), Kind: events.KindAlertRaised, Source: "analyzer"}
	require.NoError(t, router.Publish(event))

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestRouterFailingConsumerDoesNotBlockOthers(t *testing.T) {
	router := events.NewRouter(testr.New(t))
	bad := &recordingConsumer{name: "bad", fail: errors.New("disk full")}
	good := &recordingConsumer{name: "good"}
	require.NoError(t, router.RegisterConsumer(bad))
	require.NoError(t, router.RegisterConsumer(good))

	err := router.Publish(events.Event{Kind: events.KindSnapshotUpdated})
	assert.Error(t, err, "publish surfaces the last consumer error")
	assert.Equal(t, 1, good.count(), "healthy consumer still receives the event")
}

func TestRouterDuplicateRegistration(t *testing.T) {
	router := events.NewRouter(testr.New(t))
	require.NoError(t, router.RegisterConsumer(&recordingConsumer{name: "a"}))
	assert.Error(t, router.RegisterConsumer(&recordingConsumer{name: "a"}))
}

func TestRouterUnregister(t *testing.T) {
	router := events.NewRouter(testr.New(t))
	c := &recordingConsumer{name: "a"}
	require.NoError(t, router.RegisterConsumer(c))
	require.NoError(t, router.UnregisterConsumer("a"))

	require.NoError(t, router.Publish(events.Event{Kind: events.KindSnapshotUpdated}))
	assert.Zero(t, c.count())

	assert.Error(t, router.UnregisterConsumer("a"))
}

func TestRouterPublishBatchPreservesOrder(t *testing.T) {
	router := events.NewRouter(testr.New(t))
	c := &recordingConsumer{name: "a"}
	require.NoError(t, router.RegisterConsumer(c))

	batch := []events.Event{
		{Kind: events.KindSnapshotUpdated, Context: "overview"},
		{Kind: events.KindAlertRaised, Context: "overview"},
	}
	require.NoError(t, router.PublishBatch(batch))

	require.Equal(t, 2, c.count())
	assert.Equal(t, events.KindSnapshotUpdated, c.received[0].Kind)
	assert.Equal(t, events.KindAlertRaised, c.received[1].Kind)
}

func TestRouterRefusesPublishAfterShutdown(t *testing.T) {
	router := events.NewRouter(testr.New(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- router.Start(ctx) }()

	cancel()
	require.NoError(t, <-done)

	err := router.Publish(events.Event{Kind: events.KindSnapshotUpdated})
	assert.ErrorIs(t, err, events.ErrRouterClosed)
}

func TestRouterGetStats(t *testing.T) {
	router := events.NewRouter(testr.New(t))
	c := &recordingConsumer{name: "a"}
	require.NoError(t, router.RegisterConsumer(c))
	require.NoError(t, router.Publish(events.Event{Kind: events.KindAlertRaised}))

	stats := router.GetStats()
	assert.Equal(t, 1, stats.ConsumerCount)
	require.Contains(t, stats.Consumers, "a")
	assert.EqualValues(t, 1, stats.Consumers["a"].EventsCount)
	assert.True(t, stats.Consumers["a"].Healthy)
}
