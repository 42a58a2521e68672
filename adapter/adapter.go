// Package adapter provides the backend adapter registry: a per-context
// collection of named adapters, each contributing repository factories keyed
// by capability type. Repositories are constructed lazily, at most once per
// capability for the lifetime of the registry.
package adapter

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Adapter is a named, versioned unit that provides concrete repository
// implementations for one backend. Implementations embed Base, which supplies
// the factory storage the registry collects at registration time.
//
// Lifecycle: constructed by a Factory, then Initialize is called exactly once
// (by the registry when auto-initialize is requested, otherwise by the
// caller), then the adapter's factories are merged into the registry.
type Adapter interface {
	Name() string
	Version() string

	// Initialize consumes the adapter's configuration section. The registry
	// never calls it twice.
	Initialize(ctx context.Context, cfg map[string]any) error

	factories() []factoryEntry
}

// Factory produces an Adapter. The context permits factories that perform
// I/O during construction.
type Factory func(ctx context.Context) (Adapter, error)

type factoryEntry struct {
	key     reflect.Type
	syncFn  func() (any, error)
	asyncFn func(context.Context) (any, error)
}

// Base supplies repository factory storage for adapter implementations.
// Embed it in every adapter:
//
//	type restAdapter struct {
//		adapter.Base
//	}
type Base struct {
	mu      sync.Mutex
	entries []factoryEntry
}

func (b *Base) factories() []factoryEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]factoryEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

func (b *Base) add(e factoryEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Same-key registration within one adapter overwrites.
	for i := range b.entries {
		if b.entries[i].key == e.key {
			b.entries[i] = e
			return
		}
	}
	b.entries = append(b.entries, e)
}

// RegisterFactory records a synchronous constructor for capability T on the
// adapter. The constructor runs at most once, on first resolution.
func RegisterFactory[T any](b *Base, fn func() (T, error)) {
	b.add(factoryEntry{
		key: capabilityOf[T](),
		syncFn: func() (any, error) {
			return fn()
		},
	})
}

// RegisterAsyncFactory records a context-aware constructor for capability T.
// Capabilities registered only this way must be resolved with ResolveContext.
func RegisterAsyncFactory[T any](b *Base, fn func(context.Context) (T, error)) {
	b.add(factoryEntry{
		key: capabilityOf[T](),
		asyncFn: func(ctx context.Context) (any, error) {
			return fn(ctx)
		},
	})
}

// capabilityOf returns the runtime key for capability T. Interface types are
// the expected use; the pointer dance keeps them from collapsing to their
// dynamic type.
func capabilityOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// MissingConfigError reports an auto-initialize request for an adapter whose
// configuration section does not exist. An adapter needing no options still
// requires an explicit empty section.
type MissingConfigError struct {
	Adapter string
	Err     error
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("adapter %s: auto-initialize requires a config section: %v", e.Adapter, e.Err)
}

func (e *MissingConfigError) Unwrap() error { return e.Err }

// NotRegisteredError reports a resolution attempt for a capability no adapter
// has claimed.
type NotRegisteredError struct {
	Capability string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("adapter: no repository factory registered for %s", e.Capability)
}
