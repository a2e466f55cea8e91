package seq

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Opener)
)

// Register makes a backend available by name. It panics if the name is
// already taken or open is nil.
func Register(name string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if open == nil {
		panic("seq: Register opener is nil")
	}
	if _, exists := backends[name]; exists {
		panic(fmt.Sprintf("seq: backend %s already registered", name))
	}
	backends[name] = open
}

// Lookup returns the opener of a registered backend
func Lookup(name string) (Opener, bool) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	open, ok := backends[name]
	return open, ok
}

// Backends lists registered backend names
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens a sequencer through a registered backend
func Open(ctx context.Context, name string, opts Options) (Sequencer, error) {
	open, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q (have %v)", ErrUnavailable, name, Backends())
	}
	return open(ctx, opts)
}
