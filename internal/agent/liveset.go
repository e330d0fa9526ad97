package agent

import "sync"

// liveSet tracks in-flight command ids and enforces the concurrency
// ceiling. All access goes through one mutex.
type liveSet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	limit int
}

func newLiveSet(limit int) *liveSet {
	return &liveSet{
		ids:   make(map[string]struct{}),
		limit: limit,
	}
}

// tryAdd admits id unless it is already present or the set is at the
// ceiling. The second return reports whether the set is full.
func (s *liveSet) tryAdd(id string) (added, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[id]; exists {
		return false, false
	}
	if len(s.ids) >= s.limit {
		return false, true
	}
	s.ids[id] = struct{}{}
	return true, false
}

func (s *liveSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *liveSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *liveSet) atCapacity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids) >= s.limit
}
