package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vertti/healthwatch/pkg/snapshot"
)

// LeaseTTL bounds how long a cycle lease stays valid. A process that dies
// mid-cycle blocks other processes sharing the store for at most this long.
const LeaseTTL = 15 * time.Minute

// State is the agent's single owned state object. The machine id is fixed at
// load time; the last report changes through RecordDelivery or when Acquire
// picks up a delivery made by another process sharing the store.
type State struct {
	machineID string
	store     Store
	owner     string
	now       func() time.Time

	mu   sync.RWMutex
	last *Report
}

// Load reads persisted state from store.
func Load(ctx context.Context, store Store, machineID string) (*State, error) {
	if machineID == "" {
		return nil, snapshot.ErrEmptyMachineID
	}

	s := &State{machineID: machineID, store: store, owner: uuid.NewString(), now: time.Now}
	r, ok, err := store.LoadReport(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		s.last = &r
	}
	return s, nil
}

// MachineID returns the id every snapshot is stamped with.
func (s *State) MachineID() string { return s.machineID }

// Acquire takes the cycle lease shared by every process using the store and
// reloads the last report under it. ok is false when another process holds
// the lease. The returned release must be called once the cycle ends.
func (s *State) Acquire(ctx context.Context) (release func() error, ok bool, err error) {
	ok, err = s.store.AcquireLease(ctx, s.owner, s.now(), LeaseTTL)
	if err != nil || !ok {
		return nil, false, err
	}

	release = func() error {
		return s.store.ReleaseLease(context.WithoutCancel(ctx), s.owner)
	}
	if err := s.refresh(ctx); err != nil {
		return nil, false, errors.Join(err, release())
	}
	return release, true, nil
}

func (s *State) refresh(ctx context.Context) error {
	r, ok, err := s.store.LoadReport(ctx)
	if err != nil {
		return fmt.Errorf("reload last report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.last = &r
	} else {
		s.last = nil
	}
	return nil
}

// LastSnapshot returns a copy of the last delivered snapshot, or nil before
// the first successful delivery.
func (s *State) LastSnapshot() *snapshot.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	snap := s.last.Snapshot
	return &snap
}

// LastReportTime returns when the last snapshot was delivered; zero if never.
func (s *State) LastReportTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return time.Time{}
	}
	return s.last.ReportedAt
}

// RecordDelivery persists snap as the last known snapshot. The in-memory
// value changes only if the write succeeds.
func (s *State) RecordDelivery(ctx context.Context, snap snapshot.Snapshot, at time.Time) error {
	r := Report{Snapshot: snap, ReportedAt: at.UTC()}
	if err := s.store.SaveReport(ctx, r); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}

	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()
	return nil
}
