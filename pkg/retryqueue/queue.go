// Package retryqueue keeps snapshots whose delivery failed, bounded and
// persisted, so they can be replayed once the collector is reachable again.
package retryqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/vertti/healthwatch/pkg/snapshot"
)

// DefaultCapacity is the number of failed snapshots retained. When full, the
// oldest entry is evicted to make room.
const DefaultCapacity = 10

// Entry is one undelivered snapshot.
type Entry struct {
	Snapshot   snapshot.Snapshot `json:"snapshot"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

// Persister stores the queue contents durably. SaveQueue replaces the stored
// queue with entries as a whole.
type Persister interface {
	LoadQueue(ctx context.Context) ([]Entry, error)
	SaveQueue(ctx context.Context, entries []Entry) error
}

// Deliverer makes a single delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, snap snapshot.Snapshot) error
}

// Queue is a capacity-bounded FIFO of undelivered snapshots. Every mutation
// starts from the persisted entries and is written through to the Persister
// before the call returns, so processes sharing a store see each other's
// writes. Callers serialize mutations across processes.
type Queue struct {
	mu        sync.Mutex
	entries   []Entry
	capacity  int
	persister Persister
	logger    logr.Logger
	now       func() time.Time
}

// Open loads previously persisted entries and returns the queue.
func Open(ctx context.Context, p Persister, logger logr.Logger) (*Queue, error) {
	entries, err := p.LoadQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("load retry queue: %w", err)
	}

	q := &Queue{
		capacity:  DefaultCapacity,
		persister: p,
		logger:    logger.WithName("retryqueue"),
		now:       time.Now,
	}
	q.entries = q.trim(entries)
	return q, nil
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the queued entries, oldest first.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

// Enqueue appends snap, evicting the oldest entry if the queue is full, and
// persists the result.
func (q *Queue) Enqueue(ctx context.Context, snap snapshot.Snapshot) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.reload(ctx)
	entries := append(append([]Entry(nil), q.entries...), Entry{Snapshot: snap, EnqueuedAt: q.now().UTC()})
	q.entries = q.trim(entries)

	if err := q.persister.SaveQueue(ctx, q.entries); err != nil {
		return fmt.Errorf("persist retry queue: %w", err)
	}
	q.logger.V(1).Info("snapshot queued for retry", "machineId", snap.MachineID, "depth", len(q.entries))
	return nil
}

// reload replaces the in-memory entries with the persisted ones. On failure
// the in-memory copy is kept.
func (q *Queue) reload(ctx context.Context) {
	entries, err := q.persister.LoadQueue(ctx)
	if err != nil {
		q.logger.Error(err, "failed to reload retry queue, using cached entries")
		return
	}
	q.entries = q.trim(entries)
}

// trim drops the oldest entries beyond capacity.
func (q *Queue) trim(entries []Entry) []Entry {
	if over := len(entries) - q.capacity; over > 0 {
		q.logger.V(1).Info("retry queue full, dropping oldest entries", "dropped", over)
		return entries[over:]
	}
	return entries
}

// Drain attempts delivery of every queued entry in FIFO order. Entries that
// fail, including those skipped because ctx ended, replace the queue as a
// whole at the end of the pass.
func (q *Queue) Drain(ctx context.Context, d Deliverer) (succeeded, stillFailed int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.reload(ctx)
	if len(q.entries) == 0 {
		return 0, 0
	}

	var failed []Entry
	for _, e := range q.entries {
		if ctx.Err() != nil {
			failed = append(failed, e)
			continue
		}
		if err := deliver(ctx, d, e.Snapshot); err != nil {
			q.logger.V(1).Info("retry delivery failed", "enqueuedAt", e.EnqueuedAt, "error", err.Error())
			failed = append(failed, e)
			continue
		}
		succeeded++
	}

	q.entries = failed
	if err := q.persister.SaveQueue(context.WithoutCancel(ctx), failed); err != nil {
		q.logger.Error(err, "failed to persist retry queue after drain")
	}
	q.logger.Info("retry drain complete", "succeeded", succeeded, "stillFailed", len(failed))
	return succeeded, len(failed)
}

func deliver(ctx context.Context, d Deliverer, snap snapshot.Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panicked: %v", r)
		}
	}()
	return d.Deliver(ctx, snap)
}
