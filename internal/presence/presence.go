// Package presence tracks which identities are currently online, fed by
// user_online/user_offline events. It sits outside the conversation and
// message model proper.
package presence

import (
	"sort"
	"sync"
)

// Set is the online-identity set.
type Set struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

// New creates an empty set.
func New() *Set {
	return &Set{online: make(map[string]struct{})}
}

// Add marks an identity online. Reports whether the set changed.
func (s *Set) Add(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.online[userID]; ok {
		return false
	}
	s.online[userID] = struct{}{}
	return true
}

// Remove marks an identity offline. Reports whether the set changed.
func (s *Set) Remove(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.online[userID]; !ok {
		return false
	}
	delete(s.online, userID)
	return true
}

// Online reports whether an identity is currently online.
func (s *Set) Online(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok
}

// Snapshot returns the online ids, sorted for stable output.
func (s *Set) Snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
