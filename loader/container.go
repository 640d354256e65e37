// Package loader implements the in-process module loading layer: a
// container that dispenses loaders by key and caches loaded modules,
// a typed service registry, and the source-project loader that
// compiles manifest projects on demand.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoMatch is returned by a loader that does not handle the
// requested module name; the container moves on to the next loader.
var ErrNoMatch = errors.New("loader does not match")

// Loader produces a loaded module for an assembly name.
type Loader interface {
	Load(ctx context.Context, name string) (*Module, error)
}

// Container dispenses loaders by key and holds the module cache. At
// most one module is loaded per assembly name for the container's
// lifetime; recompilation requires a new container.
type Container struct {
	mu      sync.Mutex
	keys    []string
	loaders map[string]Loader
	modules map[string]*Module

	services *ServiceRegistry
}

// NewContainer builds an empty container.
func NewContainer() *Container {
	return &Container{
		loaders:  map[string]Loader{},
		modules:  map[string]*Module{},
		services: NewServiceRegistry(),
	}
}

// RegisterLoader adds a loader under a key, e.g. "source-project".
// Keys are unique; loaders are consulted in registration order.
func (c *Container) RegisterLoader(key string, l Loader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.loaders[key]; exists {
		return fmt.Errorf("loader already registered: %s", key)
	}
	c.keys = append(c.keys, key)
	c.loaders[key] = l
	return nil
}

// Loader returns the loader registered under key.
func (c *Container) Loader(key string) (Loader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.loaders[key]
	return l, ok
}

// Keys lists registered loader keys in registration order.
func (c *Container) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...)
}

// Services exposes the container's service registry.
func (c *Container) Services() *ServiceRegistry {
	return c.services
}

// Load returns the module for an assembly name, consulting loaders in
// registration order. The first successful load is cached; subsequent
// calls return the cached module without consulting any loader.
func (c *Container) Load(ctx context.Context, name string) (*Module, error) {
	c.mu.Lock()
	if m, ok := c.modules[name]; ok {
		c.mu.Unlock()
		return m, nil
	}
	keys := append([]string(nil), c.keys...)
	c.mu.Unlock()

	for _, key := range keys {
		l, ok := c.Loader(key)
		if !ok {
			continue
		}
		m, err := l.Load(ctx, name)
		if errors.Is(err, ErrNoMatch) {
			continue
		}
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		// A concurrent load may have won; the first cached module stands.
		if cached, ok := c.modules[name]; ok {
			c.mu.Unlock()
			return cached, nil
		}
		c.modules[name] = m
		c.mu.Unlock()
		return m, nil
	}
	return nil, fmt.Errorf("no loader matched module %q: %w", name, ErrNoMatch)
}

// Loaded lists the names of cached modules, sorted.
func (c *Container) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
