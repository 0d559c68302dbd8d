// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momanyid/ids-v1/pkg/telemetry"
)

// fakeSource returns whatever its fetch func says.
type fakeSource struct {
	kind  telemetry.SourceKind
	fetch func(ctx context.Context, window time.Duration) (any, error)
}

func (f *fakeSource) Kind() telemetry.SourceKind { return f.kind }
func (f *fakeSource) Name() string               { return "fake-" + string(f.kind) }
func (f *fakeSource) Fetch(ctx context.Context, window time.Duration) (any, error) {
	return f.fetch(ctx, window)
}

func succeedWith(kind telemetry.SourceKind, payload any) *fakeSource {
	return &fakeSource{
		kind:  kind,
		fetch: func(context.Context, time.Duration) (any, error) { return payload, nil },
	}
}

func failWith(kind telemetry.SourceKind, err error) *fakeSource {
	return &fakeSource{
		kind:  kind,
		fetch: func(context.Context, time.Duration) (any, error) { return nil, err },
	}
}

func newTestAggregator(t *testing.T, opts ...telemetry.AggregatorOption) *telemetry.Aggregator {
	t.Helper()
	agg, err := telemetry.NewAggregator(testr.New(t), opts...)
	require.NoError(t, err)
	return agg
}

func TestNewAggregatorRequiresLogger(t *testing.T) {
	_, err := telemetry.NewAggregator(logrDiscardNil())
	assert.Error(t, err)
}

// logrDiscardNil builds a logger with a nil sink, the invalid zero value.
func logrDiscardNil() (l logr.Logger) { return }

func TestRefreshMergesSuccessfulFetches(t *testing.T) {
	status := &telemetry.StatusInfo{Status: "running", Uptime: 42}
	metrics := []telemetry.MetricSample{{Timestamp: time.Now(), CPUPercent: 12.5}}

	agg := newTestAggregator(t,
		telemetry.WithSource(succeedWith(telemetry.SourceStatus, status)),
		telemetry.WithSource(succeedWith(telemetry.SourceMetrics, metrics)),
	)

	snap, results := agg.Refresh(context.Background(), nil)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.NoError(t, res.Err)
	}

	assert.Equal(t, status, snap.Status())
	assert.Equal(t, metrics, snap.Metrics())
	assert.True(t, snap.Slot(telemetry.SourceStatus).Populated())
	assert.False(t, snap.Slot(telemetry.SourceStatus).Stale())
	assert.False(t, snap.Taken.IsZero())
}

func TestRefreshStaleButValid(t *testing.T) {
	payload := &telemetry.StatusInfo{Status: "running"}
	calls := 0
	src := &fakeSource{
		kind: telemetry.SourceStatus,
		fetch: func(context.Context, time.Duration) (any, error) {
			calls++
			if calls == 1 {
				return payload, nil
			}
			return nil, telemetry.NewFetchError(telemetry.SourceStatus, telemetry.FetchUnreachable, "down", nil)
		},
	}
	agg := newTestAggregator(t, telemetry.WithSource(src))

	// First cycle succeeds.
	snap, _ := agg.Refresh(context.Background(), nil)
	firstFetch := snap.Slot(telemetry.SourceStatus).FetchedAt
	require.Equal(t, payload, snap.Status())

	// Second and third cycles fail: the payload stays, only the error
	// annotation moves.
	snap, _ = agg.Refresh(context.Background(), nil)
	snap, _ = agg.Refresh(context.Background(), nil)

	slot := snap.Slot(telemetry.SourceStatus)
	assert.Equal(t, payload, snap.Status(), "failed fetch must not clear last good payload")
	assert.Equal(t, firstFetch, slot.FetchedAt, "FetchedAt only moves on success")
	assert.True(t, slot.Stale())
	assert.Error(t, slot.LastError)
	assert.Equal(t, 2, slot.Failures)
}

func TestRefreshFailureCounterResetsOnSuccess(t *testing.T) {
	calls := 0
	src := &fakeSource{
		kind: telemetry.SourceStatus,
		fetch: func(context.Context, time.Duration) (any, error) {
			calls++
			if calls <= 2 {
				return nil, telemetry.NewFetchError(telemetry.SourceStatus, telemetry.FetchTimeout, "slow", nil)
			}
			return &telemetry.StatusInfo{Status: "running"}, nil
		},
	}
	agg := newTestAggregator(t, telemetry.WithSource(src))

	agg.Refresh(context.Background(), nil)
	snap, _ := agg.Refresh(context.Background(), nil)
	assert.Equal(t, 2, snap.Slot(telemetry.SourceStatus).Failures)

	snap, _ = agg.Refresh(context.Background(), nil)
	slot := snap.Slot(telemetry.SourceStatus)
	assert.Equal(t, 0, slot.Failures)
	assert.NoError(t, slot.LastError)
	assert.False(t, slot.Stale())
}

func TestRefreshUnpopulatedIsNotStale(t *testing.T) {
	agg := newTestAggregator(t, telemetry.WithSource(
		failWith(telemetry.SourceLogs,
			telemetry.NewFetchError(telemetry.SourceLogs, telemetry.FetchUnreachable, "down", nil))))

	snap, _ := agg.Refresh(context.Background(), nil)
	slot := snap.Slot(telemetry.SourceLogs)

	assert.False(t, slot.Populated(), "never-succeeded slot must not read as populated")
	assert.False(t, slot.Stale(), "stale means populated with a failing source")
	assert.Error(t, slot.LastError)
	assert.Nil(t, snap.Logs())
}

func TestRefreshPanicIsolation(t *testing.T) {
	healthy := &telemetry.StatusInfo{Status: "running"}
	agg := newTestAggregator(t,
		telemetry.WithSource(succeedWith(telemetry.SourceStatus, healthy)),
		telemetry.WithSource(&fakeSource{
			kind: telemetry.SourceMetrics,
			fetch: func(context.Context, time.Duration) (any, error) {
				panic("malformed payload")
			},
		}),
	)

	snap, results := agg.Refresh(context.Background(), nil)
	require.Len(t, results, 2)

	assert.Equal(t, healthy, snap.Status(), "panicking sibling must not affect healthy source")

	slot := snap.Slot(telemetry.SourceMetrics)
	assert.Error(t, slot.LastError)
	assert.Equal(t, telemetry.FetchBadResponse, telemetry.FetchKind(slot.LastError))
}

func TestRefreshSlowSourceBoundedByTimeout(t *testing.T) {
	agg := newTestAggregator(t,
		telemetry.WithSourceTimeout(50*time.Millisecond),
		telemetry.WithSource(succeedWith(telemetry.SourceStatus, &telemetry.StatusInfo{})),
		telemetry.WithSource(&fakeSource{
			kind: telemetry.SourceMetrics,
			fetch: func(ctx context.Context, _ time.Duration) (any, error) {
				// Hangs until its deadline fires.
				<-ctx.Done()
				return nil, telemetry.NewFetchError(telemetry.SourceMetrics, telemetry.FetchTimeout,
					"deadline exceeded", ctx.Err())
			},
		}),
	)

	start := time.Now()
	snap, _ := agg.Refresh(context.Background(), nil)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second, "cycle must be bounded by the per-source timeout")
	assert.True(t, snap.Slot(telemetry.SourceStatus).Populated())
	assert.Equal(t, telemetry.FetchTimeout,
		telemetry.FetchKind(snap.Slot(telemetry.SourceMetrics).LastError))
}

func TestRefreshPublishedSnapshotIsImmutable(t *testing.T) {
	calls := 0
	src := &fakeSource{
		kind: telemetry.SourceStatus,
		fetch: func(context.Context, time.Duration) (any, error) {
			calls++
			return &telemetry.StatusInfo{Uptime: int64(calls)}, nil
		},
	}
	agg := newTestAggregator(t, telemetry.WithSource(src))

	first, _ := agg.Refresh(context.Background(), nil)
	require.EqualValues(t, 1, first.Status().Uptime)

	second, _ := agg.Refresh(context.Background(), nil)
	assert.EqualValues(t, 2, second.Status().Uptime)
	assert.EqualValues(t, 1, first.Status().Uptime, "earlier snapshot must not change under later refreshes")
}

func TestRefreshDiscardsResultsAfterCancellation(t *testing.T) {
	agg := newTestAggregator(t, telemetry.WithSource(
		succeedWith(telemetry.SourceStatus, &telemetry.StatusInfo{Status: "running"})))

	before := agg.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	returned, _ := agg.Refresh(ctx, nil)

	assert.Same(t, before, returned, "cancelled cycle returns the previous snapshot")
	assert.Same(t, before, agg.Snapshot(), "cancelled cycle must not publish")
}

func TestRefreshSubsetOfKinds(t *testing.T) {
	statusCalls, metricsCalls := 0, 0
	agg := newTestAggregator(t,
		telemetry.WithSource(&fakeSource{
			kind: telemetry.SourceStatus,
			fetch: func(context.Context, time.Duration) (any, error) {
				statusCalls++
				return &telemetry.StatusInfo{}, nil
			},
		}),
		telemetry.WithSource(&fakeSource{
			kind: telemetry.SourceMetrics,
			fetch: func(context.Context, time.Duration) (any, error) {
				metricsCalls++
				return []telemetry.MetricSample{}, nil
			},
		}),
	)

	_, results := agg.Refresh(context.Background(), []telemetry.SourceKind{telemetry.SourceStatus})
	assert.Len(t, results, 1)
	assert.Equal(t, 1, statusCalls)
	assert.Zero(t, metricsCalls, "kinds outside the cycle must not be fetched")
}

func TestRefreshPassesConfiguredWindow(t *testing.T) {
	var gotWindow time.Duration
	agg := newTestAggregator(t,
		telemetry.WithWindow(telemetry.SourceLogs, time.Hour),
		telemetry.WithSource(&fakeSource{
			kind: telemetry.SourceLogs,
			fetch: func(_ context.Context, window time.Duration) (any, error) {
				gotWindow = window
				return []telemetry.LogRecord{}, nil
			},
		}),
	)

	agg.Refresh(context.Background(), nil)
	assert.Equal(t, time.Hour, gotWindow)
}
