// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

const defaultSourceTimeout = 5 * time.Second

// SourceResult records the outcome of one source call within a refresh cycle,
// successful or not.
type SourceResult struct {
	Kind     SourceKind
	Duration time.Duration
	Err      error
}

// Aggregator owns the set of sources and merges their results into the
// current snapshot. A refresh cycle fans out one bounded call per source;
// sources that fail leave their slot payload untouched (stale-but-valid) and
// only update the slot's error annotation. The aggregator itself never fails:
// a cycle where every source fails still publishes a valid, fully stale
// snapshot.
type Aggregator struct {
	logger  logr.Logger
	clock   Clock
	timeout time.Duration
	sources map[SourceKind]Source
	windows map[SourceKind]time.Duration

	mu      sync.RWMutex
	current *Snapshot
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithSource adds a source. Later registrations for the same kind replace
// earlier ones.
func WithSource(src Source) AggregatorOption {
	return func(a *Aggregator) {
		a.sources[src.Kind()] = src
	}
}

// WithWindow sets the query window used when fetching kind. Kinds without a
// window fetch latest-state only.
func WithWindow(kind SourceKind, window time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		a.windows[kind] = window
	}
}

// WithSourceTimeout bounds each individual source call within a cycle.
func WithSourceTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		a.timeout = d
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) AggregatorOption {
	return func(a *Aggregator) {
		a.clock = c
	}
}

func NewAggregator(logger logr.Logger, opts ...AggregatorOption) (*Aggregator, error) {
	if logger.GetSink() == nil {
		return nil, fmt.Errorf("logger is required")
	}

	a := &Aggregator{
		logger:  logger.WithName("aggregator"),
		clock:   RealClock{},
		timeout: defaultSourceTimeout,
		sources: make(map[SourceKind]Source),
		windows: make(map[SourceKind]time.Duration),
		current: NewSnapshot(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Snapshot returns the most recently published snapshot. The returned value
// is immutable; readers never observe a cycle mid-merge.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Kinds returns the source kinds this aggregator owns.
func (a *Aggregator) Kinds() []SourceKind {
	kinds := make([]SourceKind, 0, len(a.sources))
	for _, k := range AllSourceKinds() {
		if _, ok := a.sources[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

type fetchOutcome struct {
	kind     SourceKind
	payload  any
	err      error
	duration time.Duration
}

// Refresh runs one cycle over the given kinds. Every source call runs in its
// own goroutine with its own deadline, so one slow or failing source cannot
// delay or corrupt the others. The merged snapshot is built as a new value
// and swapped in atomically; if ctx was cancelled before the merge (the view
// context was torn down), results are discarded and the previous snapshot is
// returned.
func (a *Aggregator) Refresh(ctx context.Context, kinds []SourceKind) (*Snapshot, []SourceResult) {
	if len(kinds) == 0 {
		kinds = a.Kinds()
	}

	outcomes := make(chan fetchOutcome, len(kinds))
	var wg sync.WaitGroup
	started := 0
	for _, kind := range kinds {
		src, ok := a.sources[kind]
		if !ok {
			a.logger.V(1).Info("no source configured, skipping", "kind", kind)
			continue
		}
		started++
		wg.Add(1)
		go func(kind SourceKind, src Source) {
			defer wg.Done()
			start := a.clock.Now()

			fctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			payload, err := a.fetchOne(fctx, src)
			outcomes <- fetchOutcome{
				kind:     kind,
				payload:  payload,
				err:      err,
				duration: a.clock.Now().Sub(start),
			}
		}(kind, src)
	}
	wg.Wait()
	close(outcomes)

	results := make([]SourceResult, 0, started)
	now := a.clock.Now()

	a.mu.Lock()
	next := a.current.Clone()
	for o := range outcomes {
		results = append(results, SourceResult{Kind: o.kind, Duration: o.duration, Err: o.err})

		slot := next.Slots[o.kind]
		if o.err != nil {
			slot.LastError = o.err
			slot.Failures++
			a.logger.V(1).Info("source fetch failed",
				"kind", o.kind, "error", o.err.Error(), "consecutive_failures", slot.Failures)
		} else {
			slot.Payload = o.payload
			slot.FetchedAt = now
			slot.LastError = nil
			slot.Failures = 0
		}
		next.Slots[o.kind] = slot
	}
	next.Taken = now

	// Torn-down contexts keep their in-flight results out of the snapshot.
	if ctx.Err() != nil {
		prev := a.current
		a.mu.Unlock()
		return prev, results
	}

	a.current = next
	a.mu.Unlock()
	return next, results
}

// fetchOne calls a single source, converting panics into errors so one
// misbehaving source cannot abort its siblings' results.
func (a *Aggregator) fetchOne(ctx context.Context, src Source) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = NewFetchError(src.Kind(), FetchBadResponse,
				fmt.Sprintf("source panicked: %v", r), nil)
		}
	}()
	return src.Fetch(ctx, a.windows[src.Kind()])
}
