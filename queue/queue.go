package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deemkeen/translatebot/domain"
)

var (
	ErrQueueClosed = errors.New("queue closed")
	ErrQueueFull   = errors.New("queue full")
)

// OverflowPolicy decides what Push does when the queue stays full for
// longer than the push wait.
type OverflowPolicy int

const (
	// DropOldest evicts the head of the queue to admit the new job.
	DropOldest OverflowPolicy = iota
	// RejectNewest refuses the new job with ErrQueueFull.
	RejectNewest
)

func (p OverflowPolicy) String() string {
	if p == RejectNewest {
		return "rejectNewest"
	}
	return "dropOldest"
}

// ParseOverflowPolicy accepts "dropOldest" or "rejectNewest" (case-insensitive).
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dropoldest", "drop-oldest", "drop_oldest":
		return DropOldest, nil
	case "rejectnewest", "reject-newest", "reject_newest":
		return RejectNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Stats is a point-in-time snapshot of the queue counters
type Stats struct {
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Pushed   uint64 `json:"pushed"`
	Dropped  uint64 `json:"dropped"`
	Rejected uint64 `json:"rejected"`
}

// Queue is a bounded FIFO hand-off between the admission path and the
// translation workers. Producers never wait longer than the push wait.
type Queue struct {
	jobs     chan domain.TranslationJob
	policy   OverflowPolicy
	pushWait time.Duration

	// Producers hold mu for reading while they send, Close takes it for
	// writing so jobs is never closed under a sender. Consumers only
	// receive from jobs.
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	// evict pairs a drop-oldest eviction with its insert.
	evict sync.Mutex

	pushed   atomic.Uint64
	dropped  atomic.Uint64
	rejected atomic.Uint64
}

// New creates a queue holding at most capacity jobs.
func New(capacity int, policy OverflowPolicy, pushWait time.Duration) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		jobs:     make(chan domain.TranslationJob, capacity),
		policy:   policy,
		pushWait: pushWait,
		done:     make(chan struct{}),
	}
}

// Push enqueues a job. It returns ErrQueueClosed after Close and
// ErrQueueFull when the policy is RejectNewest and no space freed up in time.
func (q *Queue) Push(job domain.TranslationJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		q.pushed.Add(1)
		return nil
	default:
	}

	if q.pushWait > 0 {
		timer := time.NewTimer(q.pushWait)
		defer timer.Stop()
		select {
		case q.jobs <- job:
			q.pushed.Add(1)
			return nil
		case <-timer.C:
		}
	}

	if q.policy == RejectNewest {
		q.rejected.Add(1)
		return ErrQueueFull
	}

	q.evict.Lock()
	defer q.evict.Unlock()
	for {
		select {
		case q.jobs <- job:
			q.pushed.Add(1)
			return nil
		default:
		}
		// Another producer may take the freed slot, so evict again.
		select {
		case <-q.jobs:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop blocks until a job is available. It returns ErrQueueClosed once the
// queue is closed and drained, or the context error if ctx ends first.
func (q *Queue) Pop(ctx context.Context) (domain.TranslationJob, error) {
	if err := ctx.Err(); err != nil {
		return domain.TranslationJob{}, err
	}
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return domain.TranslationJob{}, ErrQueueClosed
		}
		return job, nil
	case <-ctx.Done():
		return domain.TranslationJob{}, ctx.Err()
	}
}

// Close stops accepting jobs. Jobs already queued can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
	close(q.done)
}

// Done is closed when the queue stops accepting jobs.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) Len() int {
	return len(q.jobs)
}

func (q *Queue) Stats() Stats {
	return Stats{
		Depth:    len(q.jobs),
		Capacity: cap(q.jobs),
		Pushed:   q.pushed.Load(),
		Dropped:  q.dropped.Load(),
		Rejected: q.rejected.Load(),
	}
}
