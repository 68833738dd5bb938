package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry errors.
var (
	ErrUnknownAgent   = errors.New("agent not registered")
	ErrNotOutputAgent = errors.New("agent is not an output agent")
)

// Registry maps kinds to concrete agents. Registration happens at startup;
// lookups are concurrency-safe.
type Registry struct {
	mu     sync.RWMutex
	scan   map[Kind]ScanAgent
	output map[Kind]OutputAgent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		scan:   make(map[Kind]ScanAgent),
		output: make(map[Kind]OutputAgent),
	}
}

// RegisterScan adds a scan agent. Re-registering a kind replaces it.
func (r *Registry) RegisterScan(kind Kind, a ScanAgent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scan[kind] = a
}

// RegisterOutput adds an output agent.
func (r *Registry) RegisterOutput(kind Kind, a OutputAgent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[kind] = a
}

// Scan resolves a scan agent by kind.
func (r *Registry) Scan(kind Kind) (ScanAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.scan[kind]
	if !ok {
		return nil, fmt.Errorf("%w: scan agent %q", ErrUnknownAgent, kind)
	}
	return a, nil
}

// Output resolves an output agent by kind. A kind registered only for
// scanning yields ErrNotOutputAgent so callers can distinguish "typo" from
// "wrong role".
func (r *Registry) Output(kind Kind) (OutputAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.output[kind]; ok {
		return a, nil
	}
	if _, ok := r.scan[kind]; ok {
		return nil, fmt.Errorf("%w: %q", ErrNotOutputAgent, kind)
	}
	return nil, fmt.Errorf("%w: output agent %q", ErrUnknownAgent, kind)
}

// ScanKinds returns the registered scan kinds, sorted.
func (r *Registry) ScanKinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.scan))
	for k := range r.scan {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// OutputKinds returns the registered output kinds, sorted.
func (r *Registry) OutputKinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.output))
	for k := range r.output {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
