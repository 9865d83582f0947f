package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrPluginExists   = errors.New("plugin already registered")
	ErrPluginNil      = errors.New("plugin is nil")
	ErrPluginNotFound = errors.New("plugin not found")
)

// Registry maps test names to entry points, split into remote-capable and
// local-only sets. Lookups prefer the remote set.
type Registry struct {
	mu    sync.RWMutex
	items map[Kind]map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{items: map[Kind]map[string]Plugin{
		Remote: {},
		Local:  {},
	}}
}

// Register adds p to the capability set for kind.
func (r *Registry) Register(kind Kind, p Plugin) error {
	if p == nil {
		return ErrPluginNil
	}
	name := strings.TrimSpace(p.Name())
	if name == "" {
		return fmt.Errorf("register %s plugin: empty name", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.items[kind]
	if !ok {
		return fmt.Errorf("register %s: unknown plugin kind %d", name, kind)
	}
	if _, exists := set[name]; exists {
		return fmt.Errorf("%w: %s (%s)", ErrPluginExists, name, kind)
	}
	set[name] = p
	return nil
}

// MustRegister is Register for static wiring at startup.
func (r *Registry) MustRegister(kind Kind, p Plugin) {
	if err := r.Register(kind, p); err != nil {
		panic(err)
	}
}

// Lookup resolves name, remote set first.
func (r *Registry) Lookup(name string) (Plugin, Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.items[Remote][name]; ok {
		return p, Remote, true
	}
	if p, ok := r.items[Local][name]; ok {
		return p, Local, true
	}
	return nil, Local, false
}

// Names returns the sorted names registered under kind.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items[kind]))
	for name := range r.items[kind] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
