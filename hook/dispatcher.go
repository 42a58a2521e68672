// Package hook provides a named filter-chain dispatcher. Plugins attach
// filters to a hook point during registration; callers later run a payload
// through the chain. Each application context owns its own dispatcher.
package hook

import (
	"fmt"
	"sync"
)

// HandleFunc processes a payload at the end of a chain or hands it to the
// next filter.
type HandleFunc func(payload any) error

// Filter intercepts a payload on its way through a hook point. A filter may
// transform the payload, short-circuit by not calling next, or fail the
// chain by returning an error.
type Filter func(payload any, next HandleFunc) error

// Chain is an ordered filter pipeline, processed recursively: each filter
// receives a closure running the remainder of the chain.
type Chain []Filter

// Handle runs the payload through the chain, calling final after the last
// filter. An empty chain calls final directly.
func (c Chain) Handle(payload any, final HandleFunc) error {
	if len(c) == 0 {
		return final(payload)
	}
	return c[0](payload, func(p any) error {
		return c[1:].Handle(p, final)
	})
}

// Dispatcher owns the hook points of one application context.
type Dispatcher struct {
	mu     sync.RWMutex
	chains map[string]Chain
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{chains: make(map[string]Chain)}
}

// Add appends a filter to the named hook point, creating it if needed.
// Filters run in the order they were added.
func (d *Dispatcher) Add(name string, f Filter) error {
	if f == nil {
		return fmt.Errorf("hook %s: filter cannot be nil", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chains[name] = append(d.chains[name], f)
	return nil
}

// Do runs the payload through the named hook point's chain and then final.
// A hook point with no filters calls final directly.
func (d *Dispatcher) Do(name string, payload any, final HandleFunc) error {
	d.mu.RLock()
	chain := d.chains[name]
	d.mu.RUnlock()
	return chain.Handle(payload, final)
}

// Has reports whether any filter is attached to the named hook point.
func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.chains[name]) > 0
}

// Reset removes all filters from the named hook point.
func (d *Dispatcher) Reset(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.chains, name)
}
