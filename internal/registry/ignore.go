package registry

import (
	"sort"
	"sync"

	"patchbay/internal/domain"
)

// IgnoreSet records addresses that must never be modeled, such as the
// driver's own announce port. It is safe for concurrent use.
type IgnoreSet struct {
	mu    sync.RWMutex
	addrs map[domain.Address]struct{}
}

// NewIgnoreSet creates an empty set
func NewIgnoreSet() *IgnoreSet {
	return &IgnoreSet{addrs: make(map[domain.Address]struct{})}
}

// Ignore adds an address. It reports whether the address was newly added.
func (s *IgnoreSet) Ignore(addr domain.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.addrs[addr]; ok {
		return false
	}
	s.addrs[addr] = struct{}{}
	return true
}

// Unignore removes an address
func (s *IgnoreSet) Unignore(addr domain.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.addrs, addr)
}

// UnignoreClient removes every address of a client
func (s *IgnoreSet) UnignoreClient(client uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for a := range s.addrs {
		if a.Client == client {
			delete(s.addrs, a)
		}
	}
}

// Contains reports whether an address is ignored
func (s *IgnoreSet) Contains(addr domain.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.addrs[addr]
	return ok
}

// Reset empties the set
func (s *IgnoreSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addrs = make(map[domain.Address]struct{})
}

// List returns the ignored addresses in order
func (s *IgnoreSet) List() []domain.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]domain.Address, 0, len(s.addrs))
	for a := range s.addrs {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Less(list[j]) })
	return list
}
