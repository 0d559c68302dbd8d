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
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// CycleFunc runs one refresh cycle for a view context. The context is
// cancelled when the view context is torn down.
type CycleFunc func(ctx context.Context)

// ViewContext describes one independently scheduled refresh loop.
type ViewContext struct {
	Name     string
	Interval time.Duration
	Run      CycleFunc
}

// Scheduler drives each view context on its own timer with its own
// cancellation scope. Ticks that fire while the previous cycle for the same
// context is still in flight are skipped, never queued, so slow sources can
// not pile up concurrent fan-outs.
type Scheduler struct {
	logger logr.Logger
	clock  Clock

	mu      sync.Mutex
	runners map[string]*contextRunner
}

type contextRunner struct {
	name     string
	interval time.Duration
	run      CycleFunc

	cancel   context.CancelFunc
	done     chan struct{}
	kick     chan struct{}
	inFlight atomic.Bool
	skipped  atomic.Uint64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock replaces the wall clock, for tests.
func WithSchedulerClock(c Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = c
	}
}

func NewScheduler(logger logr.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if logger.GetSink() == nil {
		return nil, fmt.Errorf("logger is required")
	}

	s := &Scheduler{
		logger:  logger.WithName("scheduler"),
		clock:   RealClock{},
		runners: make(map[string]*contextRunner),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the refresh loop for vc. The loop runs one immediate cycle,
// then ticks on vc.Interval until the parent context is cancelled or the view
// context is stopped.
func (s *Scheduler) Start(ctx context.Context, vc ViewContext) error {
	if vc.Name == "" {
		return fmt.Errorf("view context name is required")
	}
	if vc.Interval <= 0 {
		return fmt.Errorf("view context %s: interval must be positive", vc.Name)
	}
	if vc.Run == nil {
		return fmt.Errorf("view context %s: cycle func is required", vc.Name)
	}

	s.mu.Lock()
	if _, exists := s.runners[vc.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("view context %s already started", vc.Name)
	}

	cctx, cancel := context.WithCancel(ctx)
	r := &contextRunner{
		name:     vc.Name,
		interval: vc.Interval,
		run:      vc.Run,
		cancel:   cancel,
		done:     make(chan struct{}),
		kick:     make(chan struct{}, 1),
	}
	s.runners[vc.Name] = r
	s.mu.Unlock()

	go s.loop(cctx, r)

	s.logger.Info("view context started", "context", vc.Name, "interval", vc.Interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, r *contextRunner) {
	defer close(r.done)

	ticker := s.clock.NewTicker(r.interval)
	defer ticker.Stop()

	s.tryRun(ctx, r)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tryRun(ctx, r)
		case <-r.kick:
			s.tryRun(ctx, r)
		}
	}
}

// tryRun starts a cycle unless one is already in flight for this context, in
// which case the tick is dropped.
func (s *Scheduler) tryRun(ctx context.Context, r *contextRunner) {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		s.logger.V(1).Info("previous cycle still in flight, skipping tick",
			"context", r.name, "skipped_total", r.skipped.Load())
		return
	}
	go func() {
		defer r.inFlight.Store(false)
		r.run(ctx)
	}()
}

// Kick requests an immediate cycle for the named context (on-demand refresh).
// If a cycle is already pending or in flight the kick is coalesced.
func (s *Scheduler) Kick(name string) error {
	s.mu.Lock()
	r, exists := s.runners[name]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("view context %s not started", name)
	}

	select {
	case r.kick <- struct{}{}:
	default:
	}
	return nil
}

// Skipped returns how many ticks have been dropped for the named context
// because a previous cycle was still running.
func (s *Scheduler) Skipped(name string) uint64 {
	s.mu.Lock()
	r, exists := s.runners[name]
	s.mu.Unlock()
	if !exists {
		return 0
	}
	return r.skipped.Load()
}

// Stop tears down one view context: its timer is cancelled immediately and
// in-flight fetches are left to finish on their own, their results discarded.
// Stop does not wait for an in-flight cycle.
func (s *Scheduler) Stop(name string) error {
	s.mu.Lock()
	r, exists := s.runners[name]
	if exists {
		delete(s.runners, name)
	}
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("view context %s not started", name)
	}

	r.cancel()
	<-r.done
	s.logger.Info("view context stopped", "context", name)
	return nil
}

// StopAll tears down every view context.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	runners := make([]*contextRunner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.runners = make(map[string]*contextRunner)
	s.mu.Unlock()

	for _, r := range runners {
		r.cancel()
		<-r.done
	}
}
