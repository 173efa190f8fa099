package queue

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RecentSet remembers activity ids for a bounded time and count. It is the
// duplicate filter in front of the queue.
type RecentSet struct {
	mu  sync.Mutex
	ids *expirable.LRU[string, struct{}]
}

// NewRecentSet keeps at most capacity ids, each for at most ttl.
func NewRecentSet(capacity int, ttl time.Duration) *RecentSet {
	if capacity < 1 {
		capacity = 1
	}
	return &RecentSet{ids: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

// MarkSeen records id and reports whether it was new.
func (s *RecentSet) MarkSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids.Get(id); ok {
		return false
	}
	s.ids.Add(id, struct{}{})
	return true
}

// Forget drops id so a later delivery of it is processed again.
func (s *RecentSet) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids.Remove(id)
}

func (s *RecentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids.Len()
}
