// Package config provides per-instance configuration management for a keel
// application context. Every Manager owns its own configuration tree; there is
// no package-level default instance, so two contexts never observe each other's
// configuration.
package config

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned when a tree-dependent operation runs before
// Initialize or LoadFile has populated the manager.
var ErrNotInitialized = errors.New("config: manager not initialized")

// MissingSectionError reports a lookup of a configuration section that does
// not exist in the tree. Absence is distinct from an explicitly empty section:
// an empty map under the path is a valid section, not an error.
type MissingSectionError struct {
	Path string
}

func (e *MissingSectionError) Error() string {
	return fmt.Sprintf("config: section %q not found", e.Path)
}

// ChangeListener vets tree replacements. It receives the old and new trees
// before the new tree takes effect; listeners run sequentially under the
// manager's control, and a listener error aborts the reload so the previous
// tree stays in effect.
type ChangeListener interface {
	OnConfigChanged(oldTree, newTree map[string]any) error
}

// ChangeListenerFunc adapts a function to the ChangeListener interface.
type ChangeListenerFunc func(oldTree, newTree map[string]any) error

func (f ChangeListenerFunc) OnConfigChanged(oldTree, newTree map[string]any) error {
	return f(oldTree, newTree)
}
