// Package scheduler drives the check cycle: drain the retry queue, build a
// snapshot, gate it against the last delivered one, and report it. Cycles
// run on a fixed interval and on demand, never more than one at a time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/vertti/healthwatch/pkg/gate"
	"github.com/vertti/healthwatch/pkg/retryqueue"
	"github.com/vertti/healthwatch/pkg/snapshot"
	"github.com/vertti/healthwatch/pkg/state"
)

// CycleState is the scheduler's position within a check cycle.
type CycleState int32

const (
	Idle CycleState = iota
	Retrying
	Checking
	Gating
	Reporting
)

func (s CycleState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Retrying:
		return "retrying"
	case Checking:
		return "checking"
	case Gating:
		return "gating"
	case Reporting:
		return "reporting"
	default:
		return fmt.Sprintf("CycleState(%d)", int32(s))
	}
}

// Builder produces a snapshot of the local machine.
type Builder interface {
	Build(ctx context.Context, machineID string) (snapshot.Snapshot, error)
}

// Dispatcher delivers snapshots. Send enqueues on failure; Deliver is a
// single attempt used when draining the retry queue.
type Dispatcher interface {
	retryqueue.Deliverer
	Send(ctx context.Context, snap snapshot.Snapshot) bool
}

// Queue is the retry queue drained before each cycle.
type Queue interface {
	Drain(ctx context.Context, d retryqueue.Deliverer) (succeeded, stillFailed int)
}

// Observer is called with each snapshot the collector accepted.
type Observer func(snapshot.Snapshot)

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Builder    Builder
	Dispatcher Dispatcher
	Queue      Queue
	State      *state.State
}

// Scheduler serializes check cycles.
type Scheduler struct {
	deps      Deps
	logger    logr.Logger
	now       func() time.Time
	leasePoll time.Duration

	sem   chan struct{}
	state atomic.Int32
	wg    sync.WaitGroup

	mu        sync.Mutex
	interval  time.Duration
	reset     chan time.Duration
	observers map[int]Observer
	nextID    int
}

const (
	// DefaultInterval is used when New is given a non-positive interval.
	DefaultInterval = 30 * time.Minute

	defaultLeasePoll = time.Second
)

// New returns a Scheduler that runs a cycle every interval once started.
func New(deps Deps, interval time.Duration, logger logr.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		deps:      deps,
		logger:    logger.WithName("scheduler"),
		now:       time.Now,
		leasePoll: defaultLeasePoll,
		sem:       make(chan struct{}, 1),
		interval:  interval,
		reset:     make(chan time.Duration, 1),
		observers: make(map[int]Observer),
	}
}

// State reports the current position in the cycle.
func (s *Scheduler) State() CycleState {
	return CycleState(s.state.Load())
}

func (s *Scheduler) setState(cs CycleState) {
	s.state.Store(int32(cs))
}

// Interval returns the current timer period.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval changes the timer period. A running timer is re-armed.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = d
	select {
	case <-s.reset:
	default:
	}
	s.reset <- d
}

// Subscribe registers fn for delivered snapshots and returns a function that
// removes it.
func (s *Scheduler) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// Run performs one cycle immediately and then one per interval until ctx is
// done. A tick that fires while a cycle is in flight, here or in another
// process, is skipped. Cycles are
// not cancelled when ctx ends; use Wait to let an in-flight cycle finish.
func (s *Scheduler) Run(ctx context.Context) error {
	select {
	case <-s.reset:
	default:
	}
	interval := s.Interval()
	s.logger.Info("scheduler started", "interval", interval.String())

	cycleCtx := context.WithoutCancel(ctx)
	s.startCycle(cycleCtx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case d := <-s.reset:
			ticker.Reset(d)
			s.logger.Info("interval changed", "interval", d.String())
		case <-ticker.C:
			s.startCycle(cycleCtx)
		}
	}
}

// Wait blocks until cycles started by Run have finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) startCycle(ctx context.Context) {
	select {
	case s.sem <- struct{}{}:
	default:
		s.logger.V(1).Info("cycle already in progress, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()

		release, ok, err := s.deps.State.Acquire(ctx)
		if err != nil {
			s.logger.Error(err, "failed to acquire cycle lease, skipping tick")
			return
		}
		if !ok {
			s.logger.Info("another process is running a cycle, skipping tick")
			return
		}
		defer s.release(release)
		_, _ = s.cycle(ctx)
	}()
}

// RunNow waits for any in-flight cycle, here or in another process, then runs
// a full cycle and returns the snapshot it built.
func (s *Scheduler) RunNow(ctx context.Context) (snapshot.Snapshot, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return snapshot.Snapshot{}, ctx.Err()
	}
	defer func() { <-s.sem }()

	release, err := s.waitLease(ctx)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	defer s.release(release)

	return s.cycle(ctx)
}

// waitLease polls for the cycle lease until it is granted or ctx ends.
func (s *Scheduler) waitLease(ctx context.Context) (func() error, error) {
	logged := false
	for {
		release, ok, err := s.deps.State.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire cycle lease: %w", err)
		}
		if ok {
			return release, nil
		}
		if !logged {
			s.logger.Info("waiting for another process to finish its cycle")
			logged = true
		}

		t := time.NewTimer(s.leasePoll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Scheduler) release(fn func() error) {
	if err := fn(); err != nil {
		s.logger.Error(err, "failed to release cycle lease")
	}
}

// cycle must be called holding sem and the cycle lease.
func (s *Scheduler) cycle(ctx context.Context) (snap snapshot.Snapshot, err error) {
	defer s.setState(Idle)
	start := s.now()

	s.setState(Retrying)
	if ok, failed := s.deps.Queue.Drain(ctx, s.deps.Dispatcher); ok+failed > 0 {
		s.logger.Info("retried queued reports", "succeeded", ok, "stillFailed", failed)
	}

	s.setState(Checking)
	snap, err = s.deps.Builder.Build(ctx, s.deps.State.MachineID())
	if err != nil {
		s.logger.Error(err, "check cycle aborted")
		return snapshot.Snapshot{}, fmt.Errorf("build snapshot: %w", err)
	}

	s.setState(Gating)
	if !gate.ShouldReport(snap, s.deps.State.LastSnapshot()) {
		s.logger.V(1).Info("no change since last report", "took", s.now().Sub(start).String())
		return snap, nil
	}

	s.setState(Reporting)
	if !s.deps.Dispatcher.Send(ctx, snap) {
		return snap, nil
	}
	if err := s.deps.State.RecordDelivery(context.WithoutCancel(ctx), snap, s.now()); err != nil {
		s.logger.Error(err, "failed to persist last report")
	}
	s.logger.Info("report delivered", "issues", snap.Checks.HasIssues(), "took", s.now().Sub(start).String())

	s.notify(snap)
	return snap, nil
}

func (s *Scheduler) notify(snap snapshot.Snapshot) {
	s.mu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error(fmt.Errorf("%v", r), "observer panicked")
				}
			}()
			fn(snap)
		}()
	}
}
