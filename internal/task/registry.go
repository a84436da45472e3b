package task

import (
	"log/slog"
	"sync"
	"time"

	"github.com/taskmill/taskmill/internal/events"
)

// GroupConfig supplies the pieces a Registry needs to construct a Manager
// for a task group. Zero-value fields fall back to an in-memory store and a
// goroutine pool executor.
type GroupConfig struct {
	// Store backs the group's task records. Nil means a fresh
	// MemoryStore scoped to this group.
	Store Store

	// Executor runs the group's callables. Nil means a PoolExecutor
	// built from WorkerCount and QueueSize.
	Executor Executor

	// ResultTTL is how long the default in-memory store keeps completed
	// records. Ignored when Store is supplied.
	ResultTTL time.Duration

	// WorkerCount and QueueSize size the default pool executor.
	// Ignored when Executor is supplied.
	WorkerCount int
	QueueSize   int

	// PollInterval tunes waiting result queries for this group.
	PollInterval time.Duration

	// DispatchMode is the dispatch policy the front end applies to this
	// group. Empty means query-flag.
	DispatchMode Mode

	// Metrics receives the group's counters. Nil disables metrics.
	Metrics *Metrics

	// Events receives the group's lifecycle events. Nil disables
	// emission.
	Events events.EventEmitter
}

// Registry maps logical task groups to lazily constructed managers, so
// unrelated groups do not share a store or executor unless explicitly
// configured to. It is an explicit object rather than a process-wide
// singleton: callers needing isolation construct separate registries.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*Manager
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		managers: make(map[string]*Manager),
		logger:   logger,
	}
}

// GetOrCreate returns the manager for groupName, constructing one from
// config on first use. Config is only consulted at creation: later calls
// with a different config for the same group return the existing manager
// unchanged. That is a documented quirk, not a bug: re-configuring a live
// task group mid-flight is unsafe.
func (r *Registry) GetOrCreate(groupName string, config GroupConfig) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[groupName]; ok {
		return m
	}

	store := config.Store
	if store == nil {
		store = NewMemoryStore(config.ResultTTL)
	}
	executor := config.Executor
	if executor == nil {
		poolCfg := DefaultPoolConfig()
		if config.WorkerCount > 0 {
			poolCfg.WorkerCount = config.WorkerCount
		}
		if config.QueueSize > 0 {
			poolCfg.QueueSize = config.QueueSize
		}
		executor = NewPoolExecutor(poolCfg, r.logger)
	}

	m := NewManager(groupName, store, executor, ManagerConfig{
		PollInterval: config.PollInterval,
		DispatchMode: config.DispatchMode,
		Events:       config.Events,
	}, r.logger, config.Metrics)
	r.managers[groupName] = m

	r.logger.Debug("task group created", "group", groupName)
	return m
}

// Get returns the manager for groupName if one exists.
func (r *Registry) Get(groupName string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[groupName]
	return m, ok
}

// Shutdown stops every registered manager, draining in-flight work.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	for _, m := range managers {
		m.Shutdown()
	}
}
