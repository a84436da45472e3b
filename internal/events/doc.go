// Package events provides lifecycle event types and handler interfaces for
// the task engine.
//
// The engine emits an event at each transition in a task's life (submitted,
// completed, failed, cancelled). Handlers subscribe without the engine
// knowing who is listening, which keeps audit logging, notifications, and
// similar concerns out of the manager itself.
package events
