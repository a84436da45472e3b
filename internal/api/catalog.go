package api

import (
	"fmt"
	"sort"
	"sync"

	"github.com/taskmill/taskmill/internal/task"
)

// Catalog maps function names exposed over HTTP to their callables. The
// engine itself accepts any callable; the catalog is the API layer's
// allowlist of what clients may invoke by name.
type Catalog struct {
	mu    sync.RWMutex
	funcs map[string]task.Callable
}

// NewCatalog creates an empty function catalog.
func NewCatalog() *Catalog {
	return &Catalog{funcs: make(map[string]task.Callable)}
}

// Register adds a callable under the given name. Registering the same name
// twice is a startup programming error and returns an error rather than
// silently replacing the earlier function.
func (c *Catalog) Register(name string, fn task.Callable) error {
	if name == "" {
		return fmt.Errorf("function name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("function %q must not be nil", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.funcs[name]; ok {
		return fmt.Errorf("function %q already registered", name)
	}
	c.funcs[name] = fn
	return nil
}

// Lookup resolves a function by name.
func (c *Catalog) Lookup(name string) (task.Callable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.funcs[name]
	return fn, ok
}

// Names returns the registered function names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.funcs))
	for name := range c.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
