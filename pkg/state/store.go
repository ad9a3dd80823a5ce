// Package state holds the agent's mutable process state and the stores that
// persist it across restarts.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/vertti/healthwatch/pkg/retryqueue"
	"github.com/vertti/healthwatch/pkg/snapshot"
)

// Report is the most recently delivered snapshot and when it was delivered.
type Report struct {
	Snapshot   snapshot.Snapshot `json:"snapshot"`
	ReportedAt time.Time         `json:"reportedAt"`
}

// Store persists the last delivered report and the retry queue.
type Store interface {
	retryqueue.Persister

	// LoadReport returns the last delivered report; ok is false when nothing
	// has been delivered yet.
	LoadReport(ctx context.Context) (r Report, ok bool, err error)
	SaveReport(ctx context.Context, r Report) error

	// AcquireLease takes the cycle lease for owner until now+ttl. It returns
	// false when a different owner holds a lease that has not expired.
	AcquireLease(ctx context.Context, owner string, now time.Time, ttl time.Duration) (bool, error)
	// ReleaseLease drops the lease if owner holds it.
	ReleaseLease(ctx context.Context, owner string) error

	Close() error
}

// MemoryStore is a Store that keeps everything in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	report *Report
	queue  []retryqueue.Entry

	leaseOwner   string
	leaseExpires time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadReport returns the stored report, if any.
func (m *MemoryStore) LoadReport(context.Context) (Report, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.report == nil {
		return Report{}, false, nil
	}
	return *m.report, true, nil
}

// SaveReport replaces the stored report.
func (m *MemoryStore) SaveReport(_ context.Context, r Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.report = &r
	return nil
}

// LoadQueue returns a copy of the stored queue.
func (m *MemoryStore) LoadQueue(context.Context) ([]retryqueue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]retryqueue.Entry(nil), m.queue...), nil
}

// SaveQueue replaces the stored queue with a copy of entries.
func (m *MemoryStore) SaveQueue(_ context.Context, entries []retryqueue.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append([]retryqueue.Entry(nil), entries...)
	return nil
}

// AcquireLease takes the lease unless another owner holds an unexpired one.
func (m *MemoryStore) AcquireLease(_ context.Context, owner string, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaseOwner != "" && m.leaseOwner != owner && now.Before(m.leaseExpires) {
		return false, nil
	}
	m.leaseOwner = owner
	m.leaseExpires = now.Add(ttl)
	return true, nil
}

// ReleaseLease drops the lease if owner holds it.
func (m *MemoryStore) ReleaseLease(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaseOwner == owner {
		m.leaseOwner = ""
		m.leaseExpires = time.Time{}
	}
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
