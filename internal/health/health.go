// Package health aggregates per-subsystem health probes.
package health

import (
	"context"
	"sync"
)

// Status is one subsystem's probe result.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// OK reports a healthy subsystem.
func OK(name string) Status {
	return Status{Name: name, Healthy: true}
}

// Unhealthy reports a failing subsystem with a human-readable detail.
func Unhealthy(name, detail string) Status {
	return Status{Name: name, Healthy: false, Detail: detail}
}

// Checker probes one subsystem.
type Checker func(ctx context.Context) Status

type entry struct {
	name string
	fn   Checker
}

// Registry runs registered checkers on demand, in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named checker. Safe for concurrent use.
func (r *Registry) Register(name string, fn Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{name: name, fn: fn})
}

// CheckAll probes every subsystem. The aggregate is healthy only when
// every individual probe is.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	entries := append([]entry(nil), r.entries...)
	r.mu.RUnlock()

	allOK := true
	statuses := make([]Status, 0, len(entries))
	for _, e := range entries {
		st := e.fn(ctx)
		if !st.Healthy {
			allOK = false
		}
		statuses = append(statuses, st)
	}
	return allOK, statuses
}
