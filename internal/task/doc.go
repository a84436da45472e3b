// Package task implements the asynchronous task execution engine: submitting
// a unit of work returns a task ID immediately, and callers later poll for
// status or block (with a timeout) until a result is available. Records live
// in a pluggable Store, work runs on a pluggable Executor, and a Manager per
// task group coordinates the two.
package task
