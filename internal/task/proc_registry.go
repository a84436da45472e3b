package task

import (
	"context"
	"fmt"
	"sync"
)

// procFunc is a callable registered under a stable name. It runs in-process
// like any other callable, and its name lets the process and broker
// executors re-resolve the function on the far side of the boundary.
type procFunc struct {
	name string
	fn   Func
}

func (p procFunc) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return p.fn(ctx, args, kwargs)
}

func (p procFunc) TaskName() string { return p.name }

var (
	procMu    sync.RWMutex
	procFuncs = make(map[string]procFunc)
)

// RegisterProc registers fn under name for out-of-process dispatch and
// returns the Named callable to submit. Registration must happen at init
// time in every binary that submits or executes the function (a worker
// subprocess re-executes the same binary, so a single init covers both
// sides). Registering the same name twice panics: it is a programming
// error, caught at startup.
func RegisterProc(name string, fn Func) Named {
	procMu.Lock()
	defer procMu.Unlock()
	if _, ok := procFuncs[name]; ok {
		panic(fmt.Sprintf("task: proc %q registered twice", name))
	}
	p := procFunc{name: name, fn: fn}
	procFuncs[name] = p
	return p
}

// LookupProc resolves a registered callable by name.
func LookupProc(name string) (Named, bool) {
	procMu.RLock()
	defer procMu.RUnlock()
	p, ok := procFuncs[name]
	return p, ok
}
